package consumption

import (
	"sort"

	"github.com/xraph/stockledger/id"
)

// ListOpts filters record listings. A nil JobID lists every job.
type ListOpts struct {
	JobID      id.JobID
	OriginalID id.RollID
	Limit      int
	Offset     int
}

// Keep reports whether r passes the filter part of opts.
func (o ListOpts) Keep(r *Record) bool {
	if !o.JobID.IsNil() && !r.JobID.Equal(o.JobID) {
		return false
	}
	if !o.OriginalID.IsNil() && !r.Snapshot.OriginalID.Equal(o.OriginalID) {
		return false
	}
	return true
}

// SortNewestFirst orders records by consumption date, newest first,
// breaking ties by ID so listings are stable.
func SortNewestFirst(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.ConsumedAt.Equal(b.ConsumedAt) {
			return a.ConsumedAt.After(b.ConsumedAt)
		}
		return a.ID.Compare(b.ID) < 0
	})
}

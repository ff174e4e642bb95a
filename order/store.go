package order

import "github.com/xraph/stockledger/id"

// ListOpts filters order listings.
type ListOpts struct {
	Status Status
	JobID  id.JobID
	Limit  int
	Offset int
}

// Keep reports whether o passes the filter part of opts.
func (l ListOpts) Keep(o *Order) bool {
	if l.Status != "" && o.Status != l.Status {
		return false
	}
	if !l.JobID.IsNil() && !o.JobID.Equal(l.JobID) {
		return false
	}
	return true
}

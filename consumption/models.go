// Package consumption models the audit trail of rolls consumed by jobs.
package consumption

import (
	"time"

	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/types"
)

// Snapshot is the full state of a FilmRoll at the moment it was consumed.
// Reverting a consumption rebuilds the roll from this and nothing else.
type Snapshot struct {
	OriginalID    id.RollID    `json:"original_id"`
	FilmType      string       `json:"film_type"`
	NetWeight     types.Weight `json:"net_weight"`
	Supplier      string       `json:"supplier"`
	PurchaseDate  time.Time    `json:"purchase_date"`
	RollCreatedAt time.Time    `json:"roll_created_at"`
}

// SnapshotOf captures r.
func SnapshotOf(r *roll.FilmRoll) Snapshot {
	return Snapshot{
		OriginalID:    r.ID,
		FilmType:      r.FilmType,
		NetWeight:     r.NetWeight,
		Supplier:      r.Supplier,
		PurchaseDate:  r.PurchaseDate,
		RollCreatedAt: r.CreatedAt,
	}
}

// Restore rebuilds the roll the snapshot was taken from, fully re-stocked.
func (s Snapshot) Restore(now time.Time) *roll.FilmRoll {
	return &roll.FilmRoll{
		Entity: types.Entity{
			CreatedAt: s.RollCreatedAt,
			UpdatedAt: now.UTC(),
		},
		ID:            s.OriginalID,
		FilmType:      s.FilmType,
		NetWeight:     s.NetWeight,
		CurrentWeight: s.NetWeight,
		Supplier:      s.Supplier,
		PurchaseDate:  s.PurchaseDate,
	}
}

// Equal compares two snapshots field by field.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.OriginalID.Equal(o.OriginalID) &&
		s.FilmType == o.FilmType &&
		s.NetWeight.Equal(o.NetWeight) &&
		s.Supplier == o.Supplier &&
		s.PurchaseDate.Equal(o.PurchaseDate) &&
		s.RollCreatedAt.Equal(o.RollCreatedAt)
}

// Key addresses a record inside its owning job's partition.
type Key struct {
	JobID id.JobID         `json:"job_id"`
	ID    id.ConsumptionID `json:"id"`
}

// String renders the key as "job/record".
func (k Key) String() string {
	return k.JobID.String() + "/" + k.ID.String()
}

// Record is the audit entry written when a roll is consumed by a job.
// It belongs to exactly one job at a time.
type Record struct {
	types.Entity
	ID         id.ConsumptionID `json:"id"`
	JobID      id.JobID         `json:"job_id"`
	JobName    string           `json:"job_name"`
	Snapshot   Snapshot         `json:"snapshot"`
	ConsumedAt time.Time        `json:"consumed_at"`
	ConsumedBy string           `json:"consumed_by"`
}

// Key returns the record's composite key.
func (r *Record) Key() Key {
	return Key{JobID: r.JobID, ID: r.ID}
}

// Clone returns a copy of r.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// MovedTo returns the equivalent record owned by another job. Only the
// owning job and consumption date change.
func (r *Record) MovedTo(jobID id.JobID, jobName string, consumedAt, now time.Time) *Record {
	c := r.Clone()
	c.JobID = jobID
	c.JobName = jobName
	c.ConsumedAt = consumedAt
	c.UpdatedAt = now.UTC()
	return c
}

// Package job models the work templates that consume film rolls.
//
// Jobs are owned by the surrounding tracker. The ledger only reads a job's
// identity, name and material list.
package job

import (
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/types"
)

// Job is a work template.
type Job struct {
	types.Entity
	ID   id.JobID `json:"id"`
	Name string   `json:"job_name" validate:"required"`
	// Materials lists required film types in order. Entries may repeat.
	Materials []string `json:"materials"`
}

// Clone returns a copy of j with its own material slice.
func (j *Job) Clone() *Job {
	c := *j
	c.Materials = append([]string(nil), j.Materials...)
	return &c
}

package store

import (
	"context"

	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
)

// Jobs narrows s to the job sub-interface. The result is also a
// job.Directory, so a store can serve as the ledger's job source.
func Jobs(s Store) job.Store { return jobView{s} }

type jobView struct{ s Store }

func (v jobView) Lookup(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return v.s.GetJob(ctx, jobID)
}

func (v jobView) Create(ctx context.Context, j *job.Job) error {
	return v.s.CreateJob(ctx, j)
}

func (v jobView) List(ctx context.Context) ([]*job.Job, error) {
	return v.s.ListJobs(ctx)
}

var _ job.Store = jobView{}

package stockledger

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/types"
)

// ──────────────────────────────────────────────────
// Inventory intake
// ──────────────────────────────────────────────────

// AddRoll takes a new roll into stock. The roll starts untouched:
// CurrentWeight is set to NetWeight.
func (l *Ledger) AddRoll(ctx context.Context, r *roll.FilmRoll) error {
	ctx, done := l.span(ctx, "AddRoll", attribute.String("film_type", r.FilmType))

	if err := l.validate(r); err != nil {
		return done(err)
	}
	if !r.NetWeight.IsPositive() {
		return done(ValidationError{Field: "NetWeight", Message: "must be positive"})
	}
	if r.ID.IsNil() {
		r.ID = id.NewRollID()
	} else if r.ID.Prefix() != id.PrefixRoll {
		return done(ValidationError{Field: "ID", Message: "not a roll ID"})
	}
	r.CurrentWeight = r.NetWeight
	r.Entity = types.EntityAt(l.clock())
	if r.PurchaseDate.IsZero() {
		r.PurchaseDate = r.CreatedAt
	}
	r.PurchaseDate = r.PurchaseDate.UTC()

	if err := l.plugins.ValidateRoll(ctx, r); err != nil {
		return done(errors.Join(ErrInvalidInput, err))
	}
	if err := l.store.CreateRoll(ctx, r); err != nil {
		return done(err)
	}

	l.plugins.EmitRollAdded(ctx, r)
	return done(nil)
}

// GetRoll returns a roll in stock.
func (l *Ledger) GetRoll(ctx context.Context, rollID id.RollID) (*roll.FilmRoll, error) {
	return l.store.GetRoll(ctx, rollID)
}

// ListRolls returns rolls matching opts, oldest intake first.
func (l *Ledger) ListRolls(ctx context.Context, opts roll.ListOpts) ([]*roll.FilmRoll, error) {
	return l.store.ListRolls(ctx, opts)
}

// DeleteRoll removes a roll that was entered by mistake. Consumed rolls
// are already gone; use RevertToStock to bring one back.
func (l *Ledger) DeleteRoll(ctx context.Context, rollID id.RollID) error {
	ctx, done := l.span(ctx, "DeleteRoll", attribute.String("roll.id", rollID.String()))
	return done(l.store.DeleteRoll(ctx, rollID))
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

// RegisterJob stores a job in the ledger's own store, for deployments that
// resolve jobs from it.
func (l *Ledger) RegisterJob(ctx context.Context, j *job.Job) error {
	ctx, done := l.span(ctx, "RegisterJob")

	if err := l.validate(j); err != nil {
		return done(err)
	}
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	} else if j.ID.Prefix() != id.PrefixJob {
		return done(ValidationError{Field: "ID", Message: "not a job ID"})
	}
	j.Entity = types.EntityAt(l.clock())
	if err := l.store.CreateJob(ctx, j); err != nil {
		return done(err)
	}
	if l.cache != nil {
		l.cache.Invalidate(j.ID)
	}
	return done(nil)
}

// LookupJob resolves a job through the configured job set.
func (l *Ledger) LookupJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return l.resolveJob(ctx, jobID)
}

// InvalidateJob drops a cached job so the next lookup sees its current
// materials.
func (l *Ledger) InvalidateJob(jobID id.JobID) {
	if l.cache != nil {
		l.cache.Invalidate(jobID)
	}
}

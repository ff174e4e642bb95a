package stockledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/types"
)

// ──────────────────────────────────────────────────
// Consumption Ledger
// ──────────────────────────────────────────────────

// ConsumeRoll moves a roll out of stock and into jobID's consumption
// records. The roll's full state is copied into the record and the roll is
// deleted in one atomic step. If the roll is already gone when the step
// commits, nothing is written and the error matches ErrConflict.
//
// actor may be empty, in which case the context's actor or the configured
// default is recorded.
func (l *Ledger) ConsumeRoll(ctx context.Context, rollID id.RollID, jobID id.JobID, actor string) (*consumption.Record, error) {
	ctx, done := l.span(ctx, "ConsumeRoll",
		attribute.String("roll.id", rollID.String()),
		attribute.String("job.id", jobID.String()),
	)

	if err := checkRef("roll", rollID, id.PrefixRoll, ErrRollNotFound); err != nil {
		return nil, done(err)
	}
	j, err := l.resolveJob(ctx, jobID)
	if err != nil {
		return nil, done(err)
	}
	by := l.actor(ctx, actor)
	if by == "" {
		return nil, done(ValidationError{Field: "actor", Message: "no actor given and no default configured"})
	}

	now := l.clock()
	rec := &consumption.Record{
		Entity:     types.EntityAt(now),
		ID:         id.NewConsumptionID(),
		JobID:      j.ID,
		JobName:    j.Name,
		ConsumedAt: now,
		ConsumedBy: by,
	}
	if err := l.store.ConsumeRoll(ctx, rollID, rec); err != nil {
		return nil, done(err)
	}

	l.plugins.EmitRollConsumed(ctx, rec)
	l.logger.Debug("roll consumed",
		"roll_id", rollID.String(),
		"job_id", j.ID.String(),
		"record_id", rec.ID.String(),
	)
	return rec, done(nil)
}

// RevertToStock re-creates the consumed roll from the record's snapshot,
// fully re-stocked, and deletes the record in one atomic step. It fails
// with ErrConflict if a roll already exists at the original ID and with
// ErrNotFound if the record is gone.
func (l *Ledger) RevertToStock(ctx context.Context, key consumption.Key) (*roll.FilmRoll, error) {
	ctx, done := l.span(ctx, "RevertToStock",
		attribute.String("record.key", key.String()),
	)

	if err := checkRecordKey(key); err != nil {
		return nil, done(err)
	}
	r, err := l.store.RevertRecord(ctx, key, l.clock())
	if err != nil {
		return nil, done(err)
	}

	l.plugins.EmitRollReverted(ctx, r, key)
	l.logger.Debug("consumption reverted",
		"roll_id", r.ID.String(),
		"record", key.String(),
	)
	return r, done(nil)
}

// ReassignOrReschedule corrects a consumption record. When newJobID is the
// record's current job only ConsumedAt changes. Otherwise the record moves
// to newJobID with every other field preserved, atomically, so it is never
// visible under zero or two jobs. A nil newJobID keeps the current job.
//
// newJobID is resolved before anything is written; an unknown job fails
// with ErrInvalidReference.
func (l *Ledger) ReassignOrReschedule(ctx context.Context, key consumption.Key, newConsumedAt time.Time, newJobID id.JobID) (*consumption.Record, error) {
	ctx, done := l.span(ctx, "ReassignOrReschedule",
		attribute.String("record.key", key.String()),
		attribute.String("job.id", newJobID.String()),
	)

	if err := checkRecordKey(key); err != nil {
		return nil, done(err)
	}
	if newConsumedAt.IsZero() {
		return nil, done(ValidationError{Field: "consumed_at", Message: "must be set"})
	}
	newConsumedAt = newConsumedAt.UTC()
	now := l.clock()

	if newJobID.IsNil() || newJobID.Equal(key.JobID) {
		prev, err := l.store.GetRecord(ctx, key)
		if IsNotFound(err) {
			return nil, done(NotFound(err))
		}
		if err != nil {
			return nil, done(err)
		}
		rec, err := l.store.RescheduleRecord(ctx, key, newConsumedAt, now)
		if err != nil {
			return nil, done(err)
		}
		l.plugins.EmitRecordRescheduled(ctx, rec, prev.ConsumedAt)
		return rec, done(nil)
	}

	j, err := l.resolveJob(ctx, newJobID)
	if err != nil {
		return nil, done(err)
	}
	rec, err := l.store.MoveRecord(ctx, key, j.ID, j.Name, newConsumedAt, now)
	if err != nil {
		return nil, done(err)
	}

	l.plugins.EmitRecordReassigned(ctx, rec, key)
	l.logger.Debug("consumption reassigned",
		"record_id", rec.ID.String(),
		"from_job_id", key.JobID.String(),
		"to_job_id", rec.JobID.String(),
	)
	return rec, done(nil)
}

// GetRecord returns the record at key.
func (l *Ledger) GetRecord(ctx context.Context, key consumption.Key) (*consumption.Record, error) {
	if err := checkRecordKey(key); err != nil {
		return nil, err
	}
	return l.store.GetRecord(ctx, key)
}

// ListRecords returns records newest first. Set opts.JobID to list one
// job's records.
func (l *Ledger) ListRecords(ctx context.Context, opts consumption.ListOpts) ([]*consumption.Record, error) {
	return l.store.ListRecords(ctx, opts)
}

func checkRecordKey(key consumption.Key) error {
	if err := checkRef("job", key.JobID, id.PrefixJob, ErrRecordNotFound); err != nil {
		return err
	}
	return checkRef("record", key.ID, id.PrefixConsumption, ErrRecordNotFound)
}

package stockledger

import (
	"context"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/readiness"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/store"
	"github.com/xraph/stockledger/store/feed"
)

// ──────────────────────────────────────────────────
// Readiness
// ──────────────────────────────────────────────────

// Readiness evaluates jobID's material list against the rolls in stock now.
func (l *Ledger) Readiness(ctx context.Context, jobID id.JobID) (readiness.Report, error) {
	j, err := l.resolveJob(ctx, jobID)
	if err != nil {
		return readiness.Report{}, err
	}
	rolls, err := l.store.ListRolls(ctx, roll.ListOpts{InStockOnly: true})
	if err != nil {
		return readiness.Report{}, err
	}
	return readiness.Evaluate(j, rolls), nil
}

// WatchReadiness re-evaluates jobID every time the roll set changes. The
// job is looked up again on each change so edits to its materials are
// picked up.
func (l *Ledger) WatchReadiness(ctx context.Context, jobID id.JobID) (<-chan readiness.Report, error) {
	j, err := l.resolveJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rolls, err := l.WatchRolls(ctx, roll.ListOpts{InStockOnly: true})
	if err != nil {
		return nil, err
	}

	out := make(chan readiness.Report, 1)
	go func() {
		defer close(out)
		for snap := range rolls {
			if fresh, lerr := l.resolveJob(ctx, jobID); lerr == nil {
				j = fresh
			} else if ctx.Err() == nil {
				l.logger.Warn("readiness: job lookup failed; using last known materials",
					"job_id", jobID.String(), "error", lerr)
			}
			feed.Offer(out, readiness.Evaluate(j, snap))
		}
	}()
	return out, nil
}

// ──────────────────────────────────────────────────
// Live views
// ──────────────────────────────────────────────────

func (l *Ledger) watcher() (store.Watcher, error) {
	w, ok := l.store.(store.Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return w, nil
}

// WatchRolls streams snapshots of the rolls matching opts.
func (l *Ledger) WatchRolls(ctx context.Context, opts roll.ListOpts) (<-chan []*roll.FilmRoll, error) {
	w, err := l.watcher()
	if err != nil {
		return nil, err
	}
	return w.WatchRolls(ctx, opts)
}

// WatchRecords streams snapshots of consumption records, for one job when
// opts.JobID is set or for all jobs otherwise.
func (l *Ledger) WatchRecords(ctx context.Context, opts consumption.ListOpts) (<-chan []*consumption.Record, error) {
	w, err := l.watcher()
	if err != nil {
		return nil, err
	}
	return w.WatchRecords(ctx, opts)
}

// WatchActiveOrders streams the queue in planning order.
func (l *Ledger) WatchActiveOrders(ctx context.Context) (<-chan []*order.Order, error) {
	w, err := l.watcher()
	if err != nil {
		return nil, err
	}
	return w.WatchOrders(ctx, order.ListOpts{Status: order.StatusActive})
}

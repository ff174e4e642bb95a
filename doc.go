// Package stockledger tracks film rolls from stock to the jobs that consume
// them, and keeps the production queue of active orders in sequence.
//
// Stockledger is designed as a library, not a service. Import it directly
// into your Go application. It provides:
//
//   - Atomic roll consumption with a full audit snapshot per roll
//   - Revert-to-stock that restores exactly the consumed roll
//   - Record correction: reschedule, or move to another job atomically
//   - Stock readiness per job, live or on demand
//   - An order queue with lazy backfill and O(1) adjacent reordering
//   - Live snapshot streams of rolls, records and the queue
//   - Lifecycle plugins for audit trails and metrics
//
// # Quick Start
//
// Create a ledger with your preferred store:
//
//	import (
//	    "github.com/xraph/stockledger"
//	    "github.com/xraph/stockledger/store/postgres"
//	)
//
//	s := postgres.New(db)
//	l := stockledger.New(s, stockledger.WithDefaultActor("intake"))
//
//	// Start the ledger (migrates and begins the backfill worker)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Rolls enter stock through intake and leave it only by consumption:
//
//	r := &roll.FilmRoll{FilmType: "PET", NetWeight: stockledger.Kg(52.4)}
//	err := l.AddRoll(ctx, r)
//
//	rec, err := l.ConsumeRoll(ctx, r.ID, jobID, "operator-7")
//	if stockledger.IsConflict(err) {
//	    // someone else consumed it first
//	}
//
// A consumption can be reversed or corrected:
//
//	restored, err := l.RevertToStock(ctx, rec.Key())
//	moved, err := l.ReassignOrReschedule(ctx, rec.Key(), day, otherJobID)
//
// Orders form a queue ordered by planning index:
//
//	err := l.CreateOrder(ctx, &order.Order{JobID: jobID}, true)
//	err = l.Reorder(ctx, o.ID, order.Up)
//	done, err := l.CompleteOrder(ctx, o.ID, order.Completion{At: time.Now()})
//
// # Errors
//
// Commands fail with errors matching ErrConflict (another transaction won
// a race; re-read and retry), ErrInvalidReference (an ID did not resolve
// when the command started) or ErrNotFound (the target is gone). Commands
// never apply partially.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	roll_01h2xcejqtf2nbrexx3vqjhp41  // FilmRoll ID
//	crec_01h2xcejqtf2nbrexx3vqjhp41  // ConsumptionRecord ID
//	job_01h455vb4pex5vsknk084sn02q   // Job ID
//	ord_01h455vb4pex5vsknk084sn02q   // Order ID
package stockledger

// Package store defines the persistence contract of the stock ledger.
//
// Every method that changes more than one document is a single atomic unit
// in the backend: either all of its writes land or none do. Backends report
// lost races with errors matching stockledger.ErrConflict and missing
// targets with the entity-specific not-found sentinels.
package store

import (
	"context"
	"time"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
)

// Store is the unified storage interface for all ledger entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Roll methods
	CreateRoll(ctx context.Context, r *roll.FilmRoll) error
	GetRoll(ctx context.Context, rollID id.RollID) (*roll.FilmRoll, error)
	ListRolls(ctx context.Context, opts roll.ListOpts) ([]*roll.FilmRoll, error)
	DeleteRoll(ctx context.Context, rollID id.RollID) error

	// Consumption methods

	// ConsumeRoll reads the roll, fills rec.Snapshot from it, inserts rec
	// under rec.JobID and deletes the roll.
	ConsumeRoll(ctx context.Context, rollID id.RollID, rec *consumption.Record) error
	// RevertRecord re-creates the roll from the record's snapshot and
	// deletes the record. It fails with a conflict when a roll already
	// exists at the snapshot's original ID.
	RevertRecord(ctx context.Context, key consumption.Key, now time.Time) (*roll.FilmRoll, error)
	// RescheduleRecord changes only ConsumedAt.
	RescheduleRecord(ctx context.Context, key consumption.Key, consumedAt, now time.Time) (*consumption.Record, error)
	// MoveRecord deletes the record at key and inserts the equivalent
	// record under newJobID.
	MoveRecord(ctx context.Context, key consumption.Key, newJobID id.JobID, newJobName string, consumedAt, now time.Time) (*consumption.Record, error)
	GetRecord(ctx context.Context, key consumption.Key) (*consumption.Record, error)
	ListRecords(ctx context.Context, opts consumption.ListOpts) ([]*consumption.Record, error)

	// Job methods
	CreateJob(ctx context.Context, j *job.Job) error
	GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)

	// Order methods

	// CreateOrder inserts o. With enqueue it also assigns
	// max(active planning index)+1 in the same atomic unit and writes the
	// result back to o.PlanningIndex.
	CreateOrder(ctx context.Context, o *order.Order, enqueue bool) error
	GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error)
	ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error)
	// AssignPlanningIndexes applies every assignment or none. Each target
	// must still be active and unindexed, and no target index may be held.
	AssignPlanningIndexes(ctx context.Context, assignments []order.Assignment, now time.Time) error
	// SwapPlanningIndexes exchanges the indices of s.A and s.B provided
	// both still hold the indices recorded in s.
	SwapPlanningIndexes(ctx context.Context, s order.Swap, now time.Time) error
	CompleteOrder(ctx context.Context, orderID id.OrderID, c order.Completion) (*order.Order, error)
	DeleteOrder(ctx context.Context, orderID id.OrderID) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Watcher is implemented by stores that can push the state of a queried
// document set. Each channel first carries the current snapshot and then a
// fresh snapshot after every committed change. Channels conflate: a slow
// reader sees the latest state, not every intermediate one. They close when
// ctx ends.
type Watcher interface {
	WatchRolls(ctx context.Context, opts roll.ListOpts) (<-chan []*roll.FilmRoll, error)
	WatchRecords(ctx context.Context, opts consumption.ListOpts) (<-chan []*consumption.Record, error)
	WatchOrders(ctx context.Context, opts order.ListOpts) (<-chan []*order.Order, error)
}

// Package plugin provides an extensible plugin system for the stock ledger.
// Plugins can hook into ledger lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Stock hooks
// ──────────────────────────────────────────────────

// OnRollAdded is called after a roll enters stock through intake.
type OnRollAdded interface {
	Plugin
	OnRollAdded(ctx context.Context, r *roll.FilmRoll) error
}

// OnRollConsumed is called after a roll is consumed by a job.
type OnRollConsumed interface {
	Plugin
	OnRollConsumed(ctx context.Context, rec *consumption.Record) error
}

// OnRollReverted is called after a consumption is reverted to stock.
type OnRollReverted interface {
	Plugin
	OnRollReverted(ctx context.Context, r *roll.FilmRoll, from consumption.Key) error
}

// OnRecordRescheduled is called after a record's consumption date changes.
type OnRecordRescheduled interface {
	Plugin
	OnRecordRescheduled(ctx context.Context, rec *consumption.Record, previous time.Time) error
}

// OnRecordReassigned is called after a record moves to another job.
type OnRecordReassigned interface {
	Plugin
	OnRecordReassigned(ctx context.Context, rec *consumption.Record, from consumption.Key) error
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

// OnOrderCreated is called after an order is created.
type OnOrderCreated interface {
	Plugin
	OnOrderCreated(ctx context.Context, o *order.Order) error
}

// OnOrdersBackfilled is called after a backfill pass assigned indices.
type OnOrdersBackfilled interface {
	Plugin
	OnOrdersBackfilled(ctx context.Context, assignments []order.Assignment, elapsed time.Duration) error
}

// OnOrderReordered is called after two adjacent orders swapped places.
type OnOrderReordered interface {
	Plugin
	OnOrderReordered(ctx context.Context, swap order.Swap) error
}

// OnOrderCompleted is called after an order leaves the queue.
type OnOrderCompleted interface {
	Plugin
	OnOrderCompleted(ctx context.Context, o *order.Order) error
}

// OnOrderDeleted is called after an order is deleted.
type OnOrderDeleted interface {
	Plugin
	OnOrderDeleted(ctx context.Context, orderID id.OrderID) error
}

// ──────────────────────────────────────────────────
// Failure hooks
// ──────────────────────────────────────────────────

// OnConflict is called when a command loses a race to another transaction.
type OnConflict interface {
	Plugin
	OnConflict(ctx context.Context, op string, err error) error
}

// ──────────────────────────────────────────────────
// Intake validators
// ──────────────────────────────────────────────────

// RollValidator vets rolls before they enter stock. A non-nil error
// rejects the intake.
type RollValidator interface {
	Plugin
	ValidateRoll(ctx context.Context, r *roll.FilmRoll) error
}

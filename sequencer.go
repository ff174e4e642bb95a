package stockledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/types"
)

// ──────────────────────────────────────────────────
// Order Sequencer
// ──────────────────────────────────────────────────

// CreateOrder inserts o as an active order. With enqueue the order is
// placed at the end of the queue, max(active index)+1, in the same atomic
// step; otherwise it waits for the next backfill pass. A lost index
// collision is retried up to the configured number of times.
func (l *Ledger) CreateOrder(ctx context.Context, o *order.Order, enqueue bool) error {
	ctx, done := l.span(ctx, "CreateOrder",
		attribute.String("job.id", o.JobID.String()),
		attribute.Bool("enqueue", enqueue),
	)

	if _, err := l.resolveJob(ctx, o.JobID); err != nil {
		return done(err)
	}
	if o.ID.IsNil() {
		o.ID = id.NewOrderID()
	} else if err := checkRef("order", o.ID, id.PrefixOrder, ErrOrderNotFound); err != nil {
		return done(err)
	}
	if o.WeightMade.IsNegative() || o.MetersMade.IsNegative() {
		return done(ValidationError{Field: "weight_made", Message: "production totals cannot be negative"})
	}
	o.Entity = types.EntityAt(l.clock())
	o.Status = order.StatusActive
	o.PlanningIndex = nil
	o.CompletedAt = nil

	create := func() error {
		var err error
		for attempt := 0; attempt <= l.createRetries; attempt++ {
			err = l.store.CreateOrder(ctx, o, enqueue)
			if !IsConflict(err) {
				return err
			}
			l.logger.Debug("order index collision; retrying", "order_id", o.ID.String(), "attempt", attempt+1)
		}
		return err
	}

	var err error
	if enqueue {
		err = l.withOrderLock(ctx, create)
	} else {
		err = create()
	}
	if err != nil {
		return done(err)
	}

	l.plugins.EmitOrderCreated(ctx, o)
	return done(nil)
}

// BackfillPlanningIndexes gives every active order that has no planning
// index one, numbering them by creation time after the current maximum.
// All assignments found in one pass are written atomically. It returns the
// number of orders assigned; a second pass right after assigns none.
func (l *Ledger) BackfillPlanningIndexes(ctx context.Context) (int, error) {
	ctx, done := l.span(ctx, "BackfillPlanningIndexes")

	var plan []order.Assignment
	start := time.Now()
	err := l.withOrderLock(ctx, func() error {
		active, err := l.store.ListOrders(ctx, order.ListOpts{Status: order.StatusActive})
		if err != nil {
			return err
		}
		plan = order.PlanBackfill(active)
		if len(plan) == 0 {
			return nil
		}
		return l.store.AssignPlanningIndexes(ctx, plan, l.clock())
	})
	if err != nil {
		return 0, done(err)
	}
	if len(plan) > 0 {
		l.plugins.EmitOrdersBackfilled(ctx, plan, time.Since(start))
	}
	return len(plan), done(nil)
}

// Reorder swaps the order with its neighbour in direction dir. Moving the
// first order up or the last order down does nothing. The swap only lands
// if both orders still hold the indices read at the start; otherwise the
// error matches ErrConflict.
func (l *Ledger) Reorder(ctx context.Context, orderID id.OrderID, dir order.Direction) error {
	ctx, done := l.span(ctx, "Reorder",
		attribute.String("order.id", orderID.String()),
		attribute.String("direction", string(dir)),
	)

	if _, err := order.ParseDirection(string(dir)); err != nil {
		return done(ValidationError{Field: "direction", Message: err.Error()})
	}
	target, err := l.store.GetOrder(ctx, orderID)
	if IsNotFound(err) {
		return done(NotFound(err))
	}
	if err != nil {
		return done(err)
	}
	if !target.Active() {
		return done(Conflict(ErrOrderCompleted))
	}

	active, err := l.store.ListOrders(ctx, order.ListOpts{Status: order.StatusActive})
	if err != nil {
		return done(err)
	}
	swap, ok, err := order.PlanSwap(active, orderID, dir)
	if errors.Is(err, order.ErrNotQueued) {
		return done(Conflict(fmt.Errorf("%w: %w", ErrOrderNotQueued, err)))
	}
	if err != nil {
		return done(err)
	}
	if !ok {
		return done(nil)
	}

	if err := l.store.SwapPlanningIndexes(ctx, swap, l.clock()); err != nil {
		return done(err)
	}
	l.plugins.EmitOrderReordered(ctx, swap)
	return done(nil)
}

// CompleteOrder takes the order out of the queue for good, recording its
// production totals. Completing a completed order fails with ErrConflict.
func (l *Ledger) CompleteOrder(ctx context.Context, orderID id.OrderID, c order.Completion) (*order.Order, error) {
	ctx, done := l.span(ctx, "CompleteOrder",
		attribute.String("order.id", orderID.String()),
	)

	if err := checkRef("order", orderID, id.PrefixOrder, ErrOrderNotFound); err != nil {
		return nil, done(err)
	}
	if c.At.IsZero() {
		c.At = l.clock()
	}
	if c.WeightMade.IsNegative() || c.MetersMade.IsNegative() {
		return nil, done(ValidationError{Field: "completion", Message: "production totals cannot be negative"})
	}

	o, err := l.store.CompleteOrder(ctx, orderID, c)
	if err != nil {
		return nil, done(err)
	}
	l.plugins.EmitOrderCompleted(ctx, o)
	return o, done(nil)
}

// DeleteOrder removes an order at any status. The gap it leaves in the
// queue is kept.
func (l *Ledger) DeleteOrder(ctx context.Context, orderID id.OrderID) error {
	ctx, done := l.span(ctx, "DeleteOrder", attribute.String("order.id", orderID.String()))

	if err := l.store.DeleteOrder(ctx, orderID); err != nil {
		return done(err)
	}
	l.plugins.EmitOrderDeleted(ctx, orderID)
	return done(nil)
}

// GetOrder returns an order by ID.
func (l *Ledger) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return l.store.GetOrder(ctx, orderID)
}

// ListActiveOrders returns the queue: sequenced orders by index, then
// orders still waiting for one.
func (l *Ledger) ListActiveOrders(ctx context.Context) ([]*order.Order, error) {
	return l.store.ListOrders(ctx, order.ListOpts{Status: order.StatusActive})
}

// ListOrders returns orders matching opts.
func (l *Ledger) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	return l.store.ListOrders(ctx, opts)
}

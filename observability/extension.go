// Package observability provides a metrics extension for the stock ledger
// that records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/plugin"
	"github.com/xraph/stockledger/roll"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin              = (*MetricsExtension)(nil)
	_ plugin.OnRollAdded         = (*MetricsExtension)(nil)
	_ plugin.OnRollConsumed      = (*MetricsExtension)(nil)
	_ plugin.OnRollReverted      = (*MetricsExtension)(nil)
	_ plugin.OnRecordRescheduled = (*MetricsExtension)(nil)
	_ plugin.OnRecordReassigned  = (*MetricsExtension)(nil)
	_ plugin.OnOrderCreated      = (*MetricsExtension)(nil)
	_ plugin.OnOrdersBackfilled  = (*MetricsExtension)(nil)
	_ plugin.OnOrderReordered    = (*MetricsExtension)(nil)
	_ plugin.OnOrderCompleted    = (*MetricsExtension)(nil)
	_ plugin.OnOrderDeleted      = (*MetricsExtension)(nil)
	_ plugin.OnConflict          = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records ledger lifecycle metrics.
// Register it as a ledger plugin to track stock and planning activity.
type MetricsExtension struct {
	// Stock metrics
	RollsAdded      Counter
	RollsConsumed   Counter
	RollsReverted   Counter
	WeightConsumed  Histogram
	WeightRestocked Histogram

	// Record metrics
	RecordsRescheduled Counter
	RecordsReassigned  Counter

	// Order metrics
	OrdersCreated    Counter
	OrdersBackfilled Counter
	BackfillLatency  Histogram
	OrdersReordered  Counter
	OrdersCompleted  Counter
	OrdersDeleted    Counter

	// Error metrics
	Conflicts Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		RollsAdded:      factory.Counter("stockledger.roll.added"),
		RollsConsumed:   factory.Counter("stockledger.roll.consumed"),
		RollsReverted:   factory.Counter("stockledger.roll.reverted"),
		WeightConsumed:  factory.Histogram("stockledger.roll.consumed.net_weight"),
		WeightRestocked: factory.Histogram("stockledger.roll.reverted.net_weight"),

		RecordsRescheduled: factory.Counter("stockledger.record.rescheduled"),
		RecordsReassigned:  factory.Counter("stockledger.record.reassigned"),

		OrdersCreated:    factory.Counter("stockledger.order.created"),
		OrdersBackfilled: factory.Counter("stockledger.order.backfilled"),
		BackfillLatency:  factory.Histogram("stockledger.order.backfill.latency_ms"),
		OrdersReordered:  factory.Counter("stockledger.order.reordered"),
		OrdersCompleted:  factory.Counter("stockledger.order.completed"),
		OrdersDeleted:    factory.Counter("stockledger.order.deleted"),

		Conflicts: factory.Counter("stockledger.command.conflicts"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Stock hooks
// ──────────────────────────────────────────────────

// OnRollAdded implements plugin.OnRollAdded.
func (m *MetricsExtension) OnRollAdded(_ context.Context, _ *roll.FilmRoll) error {
	m.RollsAdded.Inc()
	return nil
}

// OnRollConsumed implements plugin.OnRollConsumed.
func (m *MetricsExtension) OnRollConsumed(_ context.Context, rec *consumption.Record) error {
	m.RollsConsumed.Inc()
	m.WeightConsumed.Observe(rec.Snapshot.NetWeight.InexactFloat64())
	return nil
}

// OnRollReverted implements plugin.OnRollReverted.
func (m *MetricsExtension) OnRollReverted(_ context.Context, r *roll.FilmRoll, _ consumption.Key) error {
	m.RollsReverted.Inc()
	m.WeightRestocked.Observe(r.NetWeight.InexactFloat64())
	return nil
}

// OnRecordRescheduled implements plugin.OnRecordRescheduled.
func (m *MetricsExtension) OnRecordRescheduled(_ context.Context, _ *consumption.Record, _ time.Time) error {
	m.RecordsRescheduled.Inc()
	return nil
}

// OnRecordReassigned implements plugin.OnRecordReassigned.
func (m *MetricsExtension) OnRecordReassigned(_ context.Context, _ *consumption.Record, _ consumption.Key) error {
	m.RecordsReassigned.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

// OnOrderCreated implements plugin.OnOrderCreated.
func (m *MetricsExtension) OnOrderCreated(_ context.Context, _ *order.Order) error {
	m.OrdersCreated.Inc()
	return nil
}

// OnOrdersBackfilled implements plugin.OnOrdersBackfilled.
func (m *MetricsExtension) OnOrdersBackfilled(_ context.Context, assignments []order.Assignment, elapsed time.Duration) error {
	m.OrdersBackfilled.Add(float64(len(assignments)))
	m.BackfillLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnOrderReordered implements plugin.OnOrderReordered.
func (m *MetricsExtension) OnOrderReordered(_ context.Context, _ order.Swap) error {
	m.OrdersReordered.Inc()
	return nil
}

// OnOrderCompleted implements plugin.OnOrderCompleted.
func (m *MetricsExtension) OnOrderCompleted(_ context.Context, _ *order.Order) error {
	m.OrdersCompleted.Inc()
	return nil
}

// OnOrderDeleted implements plugin.OnOrderDeleted.
func (m *MetricsExtension) OnOrderDeleted(_ context.Context, _ id.OrderID) error {
	m.OrdersDeleted.Inc()
	return nil
}

// OnConflict implements plugin.OnConflict.
func (m *MetricsExtension) OnConflict(_ context.Context, _ string, _ error) error {
	m.Conflicts.Inc()
	return nil
}

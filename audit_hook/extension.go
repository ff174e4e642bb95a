// Package audithook bridges stock ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/plugin"
	"github.com/xraph/stockledger/roll"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Extension)(nil)
	_ plugin.OnRollAdded         = (*Extension)(nil)
	_ plugin.OnRollConsumed      = (*Extension)(nil)
	_ plugin.OnRollReverted      = (*Extension)(nil)
	_ plugin.OnRecordRescheduled = (*Extension)(nil)
	_ plugin.OnRecordReassigned  = (*Extension)(nil)
	_ plugin.OnOrderCreated      = (*Extension)(nil)
	_ plugin.OnOrdersBackfilled  = (*Extension)(nil)
	_ plugin.OnOrderReordered    = (*Extension)(nil)
	_ plugin.OnOrderCompleted    = (*Extension)(nil)
	_ plugin.OnOrderDeleted      = (*Extension)(nil)
	_ plugin.OnConflict          = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Stock hooks
// ──────────────────────────────────────────────────

// OnRollAdded implements plugin.OnRollAdded.
func (e *Extension) OnRollAdded(ctx context.Context, r *roll.FilmRoll) error {
	return e.record(ctx, ActionRollAdded, SeverityInfo, OutcomeSuccess,
		ResourceRoll, r.ID.String(), CategoryStock, nil,
		"film_type", r.FilmType,
		"net_weight", r.NetWeight.String(),
		"supplier", r.Supplier,
	)
}

// OnRollConsumed implements plugin.OnRollConsumed.
func (e *Extension) OnRollConsumed(ctx context.Context, rec *consumption.Record) error {
	return e.record(ctx, ActionRollConsumed, SeverityInfo, OutcomeSuccess,
		ResourceRoll, rec.Snapshot.OriginalID.String(), CategoryStock, nil,
		"record_id", rec.ID.String(),
		"job_id", rec.JobID.String(),
		"job_name", rec.JobName,
		"consumed_by", rec.ConsumedBy,
	)
}

// OnRollReverted implements plugin.OnRollReverted.
func (e *Extension) OnRollReverted(ctx context.Context, r *roll.FilmRoll, from consumption.Key) error {
	return e.record(ctx, ActionRollReverted, SeverityWarning, OutcomeSuccess,
		ResourceRoll, r.ID.String(), CategoryStock, nil,
		"record_id", from.ID.String(),
		"job_id", from.JobID.String(),
	)
}

// ──────────────────────────────────────────────────
// Record hooks
// ──────────────────────────────────────────────────

// OnRecordRescheduled implements plugin.OnRecordRescheduled.
func (e *Extension) OnRecordRescheduled(ctx context.Context, rec *consumption.Record, previous time.Time) error {
	return e.record(ctx, ActionRecordRescheduled, SeverityInfo, OutcomeSuccess,
		ResourceRecord, rec.Key().String(), CategoryAudit, nil,
		"previous_consumed_at", previous,
		"consumed_at", rec.ConsumedAt,
	)
}

// OnRecordReassigned implements plugin.OnRecordReassigned.
func (e *Extension) OnRecordReassigned(ctx context.Context, rec *consumption.Record, from consumption.Key) error {
	return e.record(ctx, ActionRecordReassigned, SeverityWarning, OutcomeSuccess,
		ResourceRecord, rec.Key().String(), CategoryAudit, nil,
		"from_job_id", from.JobID.String(),
		"to_job_id", rec.JobID.String(),
		"consumed_at", rec.ConsumedAt,
	)
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

// OnOrderCreated implements plugin.OnOrderCreated.
func (e *Extension) OnOrderCreated(ctx context.Context, o *order.Order) error {
	kv := []any{"job_id", o.JobID.String()}
	if i, ok := o.Index(); ok {
		kv = append(kv, "planning_index", i)
	}
	return e.record(ctx, ActionOrderCreated, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryPlanning, nil, kv...)
}

// OnOrdersBackfilled implements plugin.OnOrdersBackfilled.
func (e *Extension) OnOrdersBackfilled(ctx context.Context, assignments []order.Assignment, elapsed time.Duration) error {
	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = fmt.Sprintf("%s=%d", a.OrderID, a.Index)
	}
	return e.record(ctx, ActionOrdersBackfill, SeverityInfo, OutcomeSuccess,
		ResourceOrder, "", CategoryPlanning, nil,
		"assignments", ids,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnOrderReordered implements plugin.OnOrderReordered.
func (e *Extension) OnOrderReordered(ctx context.Context, s order.Swap) error {
	return e.record(ctx, ActionOrderReordered, SeverityInfo, OutcomeSuccess,
		ResourceOrder, s.A.String(), CategoryPlanning, nil,
		"from_index", s.IndexA,
		"to_index", s.IndexB,
		"neighbor_id", s.B.String(),
	)
}

// OnOrderCompleted implements plugin.OnOrderCompleted.
func (e *Extension) OnOrderCompleted(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderCompleted, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryPlanning, nil,
		"weight_made", o.WeightMade.String(),
		"meters_made", o.MetersMade.String(),
	)
}

// OnOrderDeleted implements plugin.OnOrderDeleted.
func (e *Extension) OnOrderDeleted(ctx context.Context, orderID id.OrderID) error {
	return e.record(ctx, ActionOrderDeleted, SeverityWarning, OutcomeSuccess,
		ResourceOrder, orderID.String(), CategoryPlanning, nil)
}

// OnConflict implements plugin.OnConflict.
func (e *Extension) OnConflict(ctx context.Context, op string, err error) error {
	return e.record(ctx, ActionCommandConflict, SeverityWarning, OutcomeFailure,
		ResourceCommand, op, CategoryAudit, err)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

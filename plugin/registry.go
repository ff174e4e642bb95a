package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
)

// DefaultTimeout bounds every hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit              []OnInit
	onShutdown          []OnShutdown
	onRollAdded         []OnRollAdded
	onRollConsumed      []OnRollConsumed
	onRollReverted      []OnRollReverted
	onRecordRescheduled []OnRecordRescheduled
	onRecordReassigned  []OnRecordReassigned
	onOrderCreated      []OnOrderCreated
	onOrdersBackfilled  []OnOrdersBackfilled
	onOrderReordered    []OnOrderReordered
	onOrderCompleted    []OnOrderCompleted
	onOrderDeleted      []OnOrderDeleted
	onConflict          []OnConflict
	rollValidators      []RollValidator
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnRollAdded); ok {
		r.onRollAdded = append(r.onRollAdded, v)
	}
	if v, ok := p.(OnRollConsumed); ok {
		r.onRollConsumed = append(r.onRollConsumed, v)
	}
	if v, ok := p.(OnRollReverted); ok {
		r.onRollReverted = append(r.onRollReverted, v)
	}
	if v, ok := p.(OnRecordRescheduled); ok {
		r.onRecordRescheduled = append(r.onRecordRescheduled, v)
	}
	if v, ok := p.(OnRecordReassigned); ok {
		r.onRecordReassigned = append(r.onRecordReassigned, v)
	}
	if v, ok := p.(OnOrderCreated); ok {
		r.onOrderCreated = append(r.onOrderCreated, v)
	}
	if v, ok := p.(OnOrdersBackfilled); ok {
		r.onOrdersBackfilled = append(r.onOrdersBackfilled, v)
	}
	if v, ok := p.(OnOrderReordered); ok {
		r.onOrderReordered = append(r.onOrderReordered, v)
	}
	if v, ok := p.(OnOrderCompleted); ok {
		r.onOrderCompleted = append(r.onOrderCompleted, v)
	}
	if v, ok := p.(OnOrderDeleted); ok {
		r.onOrderDeleted = append(r.onOrderDeleted, v)
	}
	if v, ok := p.(OnConflict); ok {
		r.onConflict = append(r.onConflict, v)
	}
	if v, ok := p.(RollValidator); ok {
		r.rollValidators = append(r.rollValidators, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)
	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnRollAdded", reflect.TypeFor[OnRollAdded]()},
	{"OnRollConsumed", reflect.TypeFor[OnRollConsumed]()},
	{"OnRollReverted", reflect.TypeFor[OnRollReverted]()},
	{"OnRecordRescheduled", reflect.TypeFor[OnRecordRescheduled]()},
	{"OnRecordReassigned", reflect.TypeFor[OnRecordReassigned]()},
	{"OnOrderCreated", reflect.TypeFor[OnOrderCreated]()},
	{"OnOrdersBackfilled", reflect.TypeFor[OnOrdersBackfilled]()},
	{"OnOrderReordered", reflect.TypeFor[OnOrderReordered]()},
	{"OnOrderCompleted", reflect.TypeFor[OnOrderCompleted]()},
	{"OnOrderDeleted", reflect.TypeFor[OnOrderDeleted]()},
	{"OnConflict", reflect.TypeFor[OnConflict]()},
	{"RollValidator", reflect.TypeFor[RollValidator]()},
}

// implementedInterfaces lists the hook interfaces p satisfies.
func implementedInterfaces(p Plugin) []string {
	var out []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			out = append(out, h.name)
		}
	}
	return out
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in hooks. Failures are logged and never
// propagate to the command that triggered the event.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, pick func(*Registry) []T, fn func(T) error) {
	r.mu.RLock()
	plugins := pick(r)
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l any) {
	emit(ctx, r, "OnInit", func(r *Registry) []OnInit { return r.onInit }, func(p OnInit) error { return p.OnInit(ctx, l) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", func(r *Registry) []OnShutdown { return r.onShutdown }, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitRollAdded emits a roll added event.
func (r *Registry) EmitRollAdded(ctx context.Context, fr *roll.FilmRoll) {
	emit(ctx, r, "OnRollAdded", func(r *Registry) []OnRollAdded { return r.onRollAdded }, func(p OnRollAdded) error {
		return p.OnRollAdded(ctx, fr)
	})
}

// EmitRollConsumed emits a roll consumed event.
func (r *Registry) EmitRollConsumed(ctx context.Context, rec *consumption.Record) {
	emit(ctx, r, "OnRollConsumed", func(r *Registry) []OnRollConsumed { return r.onRollConsumed }, func(p OnRollConsumed) error {
		return p.OnRollConsumed(ctx, rec)
	})
}

// EmitRollReverted emits a roll reverted event.
func (r *Registry) EmitRollReverted(ctx context.Context, fr *roll.FilmRoll, from consumption.Key) {
	emit(ctx, r, "OnRollReverted", func(r *Registry) []OnRollReverted { return r.onRollReverted }, func(p OnRollReverted) error {
		return p.OnRollReverted(ctx, fr, from)
	})
}

// EmitRecordRescheduled emits a record rescheduled event.
func (r *Registry) EmitRecordRescheduled(ctx context.Context, rec *consumption.Record, previous time.Time) {
	emit(ctx, r, "OnRecordRescheduled", func(r *Registry) []OnRecordRescheduled { return r.onRecordRescheduled }, func(p OnRecordRescheduled) error {
		return p.OnRecordRescheduled(ctx, rec, previous)
	})
}

// EmitRecordReassigned emits a record reassigned event.
func (r *Registry) EmitRecordReassigned(ctx context.Context, rec *consumption.Record, from consumption.Key) {
	emit(ctx, r, "OnRecordReassigned", func(r *Registry) []OnRecordReassigned { return r.onRecordReassigned }, func(p OnRecordReassigned) error {
		return p.OnRecordReassigned(ctx, rec, from)
	})
}

// EmitOrderCreated emits an order created event.
func (r *Registry) EmitOrderCreated(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnOrderCreated", func(r *Registry) []OnOrderCreated { return r.onOrderCreated }, func(p OnOrderCreated) error {
		return p.OnOrderCreated(ctx, o)
	})
}

// EmitOrdersBackfilled emits a backfill event.
func (r *Registry) EmitOrdersBackfilled(ctx context.Context, assignments []order.Assignment, elapsed time.Duration) {
	emit(ctx, r, "OnOrdersBackfilled", func(r *Registry) []OnOrdersBackfilled { return r.onOrdersBackfilled }, func(p OnOrdersBackfilled) error {
		return p.OnOrdersBackfilled(ctx, assignments, elapsed)
	})
}

// EmitOrderReordered emits a reorder event.
func (r *Registry) EmitOrderReordered(ctx context.Context, swap order.Swap) {
	emit(ctx, r, "OnOrderReordered", func(r *Registry) []OnOrderReordered { return r.onOrderReordered }, func(p OnOrderReordered) error {
		return p.OnOrderReordered(ctx, swap)
	})
}

// EmitOrderCompleted emits an order completed event.
func (r *Registry) EmitOrderCompleted(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnOrderCompleted", func(r *Registry) []OnOrderCompleted { return r.onOrderCompleted }, func(p OnOrderCompleted) error {
		return p.OnOrderCompleted(ctx, o)
	})
}

// EmitOrderDeleted emits an order deleted event.
func (r *Registry) EmitOrderDeleted(ctx context.Context, orderID id.OrderID) {
	emit(ctx, r, "OnOrderDeleted", func(r *Registry) []OnOrderDeleted { return r.onOrderDeleted }, func(p OnOrderDeleted) error {
		return p.OnOrderDeleted(ctx, orderID)
	})
}

// EmitConflict emits a conflict event.
func (r *Registry) EmitConflict(ctx context.Context, op string, err error) {
	emit(ctx, r, "OnConflict", func(r *Registry) []OnConflict { return r.onConflict }, func(p OnConflict) error {
		return p.OnConflict(ctx, op, err)
	})
}

// ValidateRoll runs every RollValidator and returns the first rejection.
// Unlike event hooks, validator errors reach the caller.
func (r *Registry) ValidateRoll(ctx context.Context, fr *roll.FilmRoll) error {
	r.mu.RLock()
	validators := r.rollValidators
	r.mu.RUnlock()

	for _, v := range validators {
		if err := r.callWithTimeout(ctx, v.Name(), func() error {
			return v.ValidateRoll(ctx, fr)
		}); err != nil {
			return fmt.Errorf("plugin %s: %w", v.Name(), err)
		}
	}
	return nil
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger's commands.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

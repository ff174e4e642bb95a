// Package memory is an in-process store.Store. Multi-document transitions
// run against a cloned state that replaces the live state only when the
// whole transition succeeds.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/stockledger"
	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/store"
	"github.com/xraph/stockledger/store/feed"
)

// Compile-time interface checks.
var (
	_ store.Store   = (*Store)(nil)
	_ store.Watcher = (*Store)(nil)
)

type state struct {
	rolls map[string]*roll.FilmRoll
	// records are partitioned by owning job, then keyed by record ID.
	records map[string]map[string]*consumption.Record
	jobs    map[string]*job.Job
	orders  map[string]*order.Order
}

func newState() state {
	return state{
		rolls:   make(map[string]*roll.FilmRoll),
		records: make(map[string]map[string]*consumption.Record),
		jobs:    make(map[string]*job.Job),
		orders:  make(map[string]*order.Order),
	}
}

func (st state) clone() state {
	c := newState()
	for k, v := range st.rolls {
		c.rolls[k] = v.Clone()
	}
	for jobID, part := range st.records {
		cp := make(map[string]*consumption.Record, len(part))
		for k, v := range part {
			cp[k] = v.Clone()
		}
		c.records[jobID] = cp
	}
	for k, v := range st.jobs {
		c.jobs[k] = v.Clone()
	}
	for k, v := range st.orders {
		c.orders[k] = v.Clone()
	}
	return c
}

func (st state) record(key consumption.Key) (*consumption.Record, bool) {
	rec, ok := st.records[key.JobID.String()][key.ID.String()]
	return rec, ok
}

func (st state) putRecord(rec *consumption.Record) {
	part := st.records[rec.JobID.String()]
	if part == nil {
		part = make(map[string]*consumption.Record)
		st.records[rec.JobID.String()] = part
	}
	part[rec.ID.String()] = rec
}

func (st state) deleteRecord(key consumption.Key) {
	part := st.records[key.JobID.String()]
	delete(part, key.ID.String())
	if len(part) == 0 {
		delete(st.records, key.JobID.String())
	}
}

func (st state) orderList() []*order.Order {
	out := make([]*order.Order, 0, len(st.orders))
	for _, o := range st.orders {
		out = append(out, o)
	}
	return out
}

// Store is a thread-safe in-memory ledger store.
type Store struct {
	mu     sync.RWMutex
	state  state
	closed bool

	hub    *feed.Hub
	logger *slog.Logger
}

// Option configures a memory store.
type Option func(*Store)

// WithLogger sets the logger used for change-feed diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		state:  newState(),
		hub:    feed.NewHub(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// update runs fn on a private copy of the state and commits it only when
// fn succeeds. Subscribers of topics are notified after the commit.
func (s *Store) update(fn func(st state) error, topics ...feed.Topic) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return stockledger.ErrStoreClosed
	}
	tx := s.state.clone()
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = tx
	s.mu.Unlock()

	s.hub.Publish(topics...)
	return nil
}

func (s *Store) view(fn func(st state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return stockledger.ErrStoreClosed
	}
	return fn(s.state)
}

// ──────────────────────────────────────────────────
// Roll Store
// ──────────────────────────────────────────────────

func (s *Store) CreateRoll(_ context.Context, r *roll.FilmRoll) error {
	return s.update(func(st state) error {
		if _, exists := st.rolls[r.ID.String()]; exists {
			return stockledger.ErrRollExists
		}
		st.rolls[r.ID.String()] = r.Clone()
		return nil
	}, feed.Rolls)
}

func (s *Store) GetRoll(_ context.Context, rollID id.RollID) (*roll.FilmRoll, error) {
	var out *roll.FilmRoll
	err := s.view(func(st state) error {
		r, ok := st.rolls[rollID.String()]
		if !ok {
			return stockledger.ErrRollNotFound
		}
		out = r.Clone()
		return nil
	})
	return out, err
}

func (s *Store) ListRolls(_ context.Context, opts roll.ListOpts) ([]*roll.FilmRoll, error) {
	var out []*roll.FilmRoll
	err := s.view(func(st state) error {
		out = make([]*roll.FilmRoll, 0, len(st.rolls))
		for _, r := range st.rolls {
			if opts.Keep(r) {
				out = append(out, r.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.Compare(out[j].ID) < 0
	})
	return page(out, opts.Limit, opts.Offset), nil
}

func (s *Store) DeleteRoll(_ context.Context, rollID id.RollID) error {
	return s.update(func(st state) error {
		if _, ok := st.rolls[rollID.String()]; !ok {
			return stockledger.ErrRollNotFound
		}
		delete(st.rolls, rollID.String())
		return nil
	}, feed.Rolls)
}

// ──────────────────────────────────────────────────
// Consumption transitions
// ──────────────────────────────────────────────────

func (s *Store) ConsumeRoll(_ context.Context, rollID id.RollID, rec *consumption.Record) error {
	var snap consumption.Snapshot
	err := s.update(func(st state) error {
		r, ok := st.rolls[rollID.String()]
		if !ok {
			return stockledger.Conflict(stockledger.ErrRollNotFound)
		}
		if _, exists := st.record(rec.Key()); exists {
			return stockledger.Conflict(stockledger.ErrRecordExists)
		}
		snap = consumption.SnapshotOf(r)
		stored := rec.Clone()
		stored.Snapshot = snap
		st.putRecord(stored)
		delete(st.rolls, rollID.String())
		return nil
	}, feed.Rolls, feed.Records)
	if err != nil {
		return err
	}
	rec.Snapshot = snap
	return nil
}

func (s *Store) RevertRecord(_ context.Context, key consumption.Key, now time.Time) (*roll.FilmRoll, error) {
	var restored *roll.FilmRoll
	err := s.update(func(st state) error {
		rec, ok := st.record(key)
		if !ok {
			return stockledger.NotFound(stockledger.ErrRecordNotFound)
		}
		if _, exists := st.rolls[rec.Snapshot.OriginalID.String()]; exists {
			return stockledger.Conflict(stockledger.ErrRollExists)
		}
		restored = rec.Snapshot.Restore(now)
		st.rolls[restored.ID.String()] = restored.Clone()
		st.deleteRecord(key)
		return nil
	}, feed.Rolls, feed.Records)
	if err != nil {
		return nil, err
	}
	return restored, nil
}

func (s *Store) RescheduleRecord(_ context.Context, key consumption.Key, consumedAt, now time.Time) (*consumption.Record, error) {
	var out *consumption.Record
	err := s.update(func(st state) error {
		rec, ok := st.record(key)
		if !ok {
			return stockledger.NotFound(stockledger.ErrRecordNotFound)
		}
		rec.ConsumedAt = consumedAt
		rec.Touch(now)
		out = rec.Clone()
		return nil
	}, feed.Records)
	return out, err
}

func (s *Store) MoveRecord(_ context.Context, key consumption.Key, newJobID id.JobID, newJobName string, consumedAt, now time.Time) (*consumption.Record, error) {
	var out *consumption.Record
	err := s.update(func(st state) error {
		rec, ok := st.record(key)
		if !ok {
			return stockledger.NotFound(stockledger.ErrRecordNotFound)
		}
		moved := rec.MovedTo(newJobID, newJobName, consumedAt, now)
		if _, exists := st.record(moved.Key()); exists {
			return stockledger.Conflict(stockledger.ErrRecordExists)
		}
		st.deleteRecord(key)
		st.putRecord(moved)
		out = moved.Clone()
		return nil
	}, feed.Records)
	return out, err
}

func (s *Store) GetRecord(_ context.Context, key consumption.Key) (*consumption.Record, error) {
	var out *consumption.Record
	err := s.view(func(st state) error {
		rec, ok := st.record(key)
		if !ok {
			return stockledger.ErrRecordNotFound
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (s *Store) ListRecords(_ context.Context, opts consumption.ListOpts) ([]*consumption.Record, error) {
	var out []*consumption.Record
	err := s.view(func(st state) error {
		for jobID, part := range st.records {
			if !opts.JobID.IsNil() && jobID != opts.JobID.String() {
				continue
			}
			for _, rec := range part {
				if opts.Keep(rec) {
					out = append(out, rec.Clone())
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	consumption.SortNewestFirst(out)
	return page(out, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	return s.update(func(st state) error {
		if _, exists := st.jobs[j.ID.String()]; exists {
			return stockledger.ErrJobExists
		}
		st.jobs[j.ID.String()] = j.Clone()
		return nil
	})
}

func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	var out *job.Job
	err := s.view(func(st state) error {
		j, ok := st.jobs[jobID.String()]
		if !ok {
			return stockledger.ErrJobNotFound
		}
		out = j.Clone()
		return nil
	})
	return out, err
}

func (s *Store) ListJobs(_ context.Context) ([]*job.Job, error) {
	var out []*job.Job
	err := s.view(func(st state) error {
		out = make([]*job.Job, 0, len(st.jobs))
		for _, j := range st.jobs {
			out = append(out, j.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, err
}

// ──────────────────────────────────────────────────
// Order Store
// ──────────────────────────────────────────────────

func (s *Store) CreateOrder(_ context.Context, o *order.Order, enqueue bool) error {
	var assigned *int
	err := s.update(func(st state) error {
		if _, exists := st.orders[o.ID.String()]; exists {
			return stockledger.ErrOrderExists
		}
		stored := o.Clone()
		if enqueue {
			stored.PlanningIndex = order.IndexPtr(order.NextIndex(st.orderList()))
			assigned = order.IndexPtr(*stored.PlanningIndex)
		}
		st.orders[o.ID.String()] = stored
		if err := order.CheckUnique(st.orderList()); err != nil {
			return stockledger.Conflict(err)
		}
		return nil
	}, feed.Orders)
	if err != nil {
		return err
	}
	if enqueue {
		o.PlanningIndex = assigned
	}
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	var out *order.Order
	err := s.view(func(st state) error {
		o, ok := st.orders[orderID.String()]
		if !ok {
			return stockledger.ErrOrderNotFound
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (s *Store) ListOrders(_ context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var out []*order.Order
	err := s.view(func(st state) error {
		for _, o := range st.orders {
			if opts.Keep(o) {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	order.Sort(out)
	return page(out, opts.Limit, opts.Offset), nil
}

func (s *Store) AssignPlanningIndexes(_ context.Context, assignments []order.Assignment, now time.Time) error {
	if len(assignments) == 0 {
		return nil
	}
	return s.update(func(st state) error {
		for _, a := range assignments {
			o, ok := st.orders[a.OrderID.String()]
			if !ok {
				return stockledger.Conflict(stockledger.ErrOrderNotFound)
			}
			if !o.Active() || o.Sequenced() {
				return stockledger.Conflict(stockledger.ErrIndexMoved)
			}
			o.PlanningIndex = order.IndexPtr(a.Index)
			o.Touch(now)
		}
		if err := order.CheckUnique(st.orderList()); err != nil {
			return stockledger.Conflict(err)
		}
		return nil
	}, feed.Orders)
}

func (s *Store) SwapPlanningIndexes(_ context.Context, sw order.Swap, now time.Time) error {
	return s.update(func(st state) error {
		if !sw.Apply(st.orderList()) {
			return stockledger.Conflict(stockledger.ErrIndexMoved)
		}
		st.orders[sw.A.String()].Touch(now)
		st.orders[sw.B.String()].Touch(now)
		return nil
	}, feed.Orders)
}

func (s *Store) CompleteOrder(_ context.Context, orderID id.OrderID, c order.Completion) (*order.Order, error) {
	var out *order.Order
	err := s.update(func(st state) error {
		o, ok := st.orders[orderID.String()]
		if !ok {
			return stockledger.NotFound(stockledger.ErrOrderNotFound)
		}
		if !o.Active() {
			return stockledger.Conflict(stockledger.ErrOrderCompleted)
		}
		at := c.At.UTC()
		o.Status = order.StatusCompleted
		o.CompletedAt = &at
		o.PlanningIndex = order.IndexPtr(order.CompletedIndex)
		o.WeightMade = c.WeightMade
		o.MetersMade = c.MetersMade
		o.Touch(at)
		out = o.Clone()
		return nil
	}, feed.Orders)
	return out, err
}

func (s *Store) DeleteOrder(_ context.Context, orderID id.OrderID) error {
	return s.update(func(st state) error {
		if _, ok := st.orders[orderID.String()]; !ok {
			return stockledger.ErrOrderNotFound
		}
		delete(st.orders, orderID.String())
		return nil
	}, feed.Orders)
}

// ──────────────────────────────────────────────────
// Watcher
// ──────────────────────────────────────────────────

func (s *Store) WatchRolls(ctx context.Context, opts roll.ListOpts) (<-chan []*roll.FilmRoll, error) {
	return feed.Watch(ctx, s.hub, feed.Rolls, s.logger, func(ctx context.Context) ([]*roll.FilmRoll, error) {
		return s.ListRolls(ctx, opts)
	})
}

func (s *Store) WatchRecords(ctx context.Context, opts consumption.ListOpts) (<-chan []*consumption.Record, error) {
	return feed.Watch(ctx, s.hub, feed.Records, s.logger, func(ctx context.Context) ([]*consumption.Record, error) {
		return s.ListRecords(ctx, opts)
	})
}

func (s *Store) WatchOrders(ctx context.Context, opts order.ListOpts) (<-chan []*order.Order, error) {
	return feed.Watch(ctx, s.hub, feed.Orders, s.logger, func(ctx context.Context) ([]*order.Order, error) {
		return s.ListOrders(ctx, opts)
	})
}

// ──────────────────────────────────────────────────
// Store management
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return stockledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory: %w", stockledger.ErrStoreClosed)
	}
	s.closed = true
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	start := max(0, offset)
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

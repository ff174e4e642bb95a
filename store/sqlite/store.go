package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the migration executor
	"github.com/xraph/grove/migrate"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/stockledger"
	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
	ledgerstore "github.com/xraph/stockledger/store"
	"github.com/xraph/stockledger/store/feed"
)

// compile-time interface checks
var (
	_ ledgerstore.Store   = (*Store)(nil)
	_ ledgerstore.Watcher = (*Store)(nil)
)

// Store implements store.Store using SQLite via Grove ORM.
//
// SQLite admits one writer at a time. Each transition is one statement;
// the triggers installed by Migrations carry the second half of consume
// and revert and apply batched index writes.
//
// Live views are fed by this Store value's own commits. SQLite has no
// cross-connection change notification, so readers in other processes
// sharing the file are not woken; share one Store per database.
type Store struct {
	db     *grove.DB
	sdb    *sqlitedriver.SqliteDB
	hub    *feed.Hub
	logger *slog.Logger
}

// Option configures a SQLite store.
type Option func(*Store)

// WithLogger sets the logger used for change-feed diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		sdb:    sqlitedriver.Unwrap(db),
		hub:    feed.NewHub(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables, indexes and triggers using the
// grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("stockledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("stockledger/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Roll Store ====================

func (s *Store) CreateRoll(ctx context.Context, r *roll.FilmRoll) error {
	_, err := s.sdb.NewInsert(toRollModel(r)).Exec(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", stockledger.ErrRollExists, err)
	}
	if err != nil {
		return err
	}
	s.hub.Publish(feed.Rolls)
	return nil
}

func (s *Store) GetRoll(ctx context.Context, rollID id.RollID) (*roll.FilmRoll, error) {
	m := new(rollModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", rollID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stockledger.ErrRollNotFound
		}
		return nil, err
	}
	return fromRollModel(m)
}

func (s *Store) ListRolls(ctx context.Context, opts roll.ListOpts) ([]*roll.FilmRoll, error) {
	var models []rollModel
	q := s.sdb.NewSelect(&models)

	if opts.FilmType != "" {
		q = q.Where("film_type_key = ?", roll.FilmTypeKey(opts.FilmType))
	}
	if opts.InStockOnly {
		q = q.Where("CAST(current_weight AS REAL) > 0")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*roll.FilmRoll, len(models))
	for i := range models {
		r, err := fromRollModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) DeleteRoll(ctx context.Context, rollID id.RollID) error {
	res, err := s.sdb.NewDelete((*rollModel)(nil)).
		Where("id = ?", rollID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return stockledger.ErrRollNotFound
	}
	s.hub.Publish(feed.Rolls)
	return nil
}

// ==================== Consumption transitions ====================

// ConsumeRoll copies the roll into a record; trg_stock_records_consume
// deletes the roll in the same statement. A missing roll selects nothing.
func (s *Store) ConsumeRoll(ctx context.Context, rollID id.RollID, rec *consumption.Record) error {
	m := new(recordModel)
	err := s.sdb.NewRaw(`
		INSERT INTO stock_consumption_records (
		    job_id, id, job_name, original_id, film_type, film_type_key, net_weight, supplier,
		    purchase_date, roll_created_at, consumed_at, consumed_by, created_at, updated_at
		)
		SELECT ?, ?, ?, id, film_type, film_type_key, net_weight, supplier,
		       purchase_date, created_at, ?, ?, ?, ?
		FROM stock_film_rolls WHERE id = ?
		RETURNING *
	`, rec.JobID.String(), rec.ID.String(), rec.JobName,
		ts(rec.ConsumedAt), rec.ConsumedBy, ts(rec.CreatedAt), ts(rec.UpdatedAt),
		rollID.String(),
	).Scan(ctx, m)
	switch {
	case isNoRows(err):
		return stockledger.Conflict(stockledger.ErrRollNotFound)
	case isUniqueViolation(err):
		return stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrRecordExists, err))
	case isBusy(err):
		return stockledger.Conflict(err)
	case err != nil:
		return err
	}

	stored, err := fromRecordModel(m)
	if err != nil {
		return err
	}
	rec.Snapshot = stored.Snapshot
	s.hub.Publish(feed.Rolls, feed.Records)
	return nil
}

// RevertRecord deletes the record; trg_stock_records_revert re-creates the
// roll in the same statement and aborts it when the ID is taken.
func (s *Store) RevertRecord(ctx context.Context, key consumption.Key, now time.Time) (*roll.FilmRoll, error) {
	m := new(recordModel)
	err := s.sdb.NewRaw(`
		DELETE FROM stock_consumption_records WHERE job_id = ? AND id = ?
		RETURNING *
	`, key.JobID.String(), key.ID.String()).Scan(ctx, m)
	switch {
	case isNoRows(err):
		return nil, stockledger.NotFound(stockledger.ErrRecordNotFound)
	case isUniqueViolation(err):
		return nil, stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrRollExists, err))
	case isBusy(err):
		return nil, stockledger.Conflict(err)
	case err != nil:
		return nil, err
	}
	s.hub.Publish(feed.Rolls, feed.Records)

	rec, err := fromRecordModel(m)
	if err != nil {
		return nil, err
	}
	restored, err := s.GetRoll(ctx, rec.Snapshot.OriginalID)
	if errors.Is(err, stockledger.ErrRollNotFound) {
		// Consumed again before we could read it back.
		return rec.Snapshot.Restore(now), nil
	}
	return restored, err
}

func (s *Store) RescheduleRecord(ctx context.Context, key consumption.Key, consumedAt, now time.Time) (*consumption.Record, error) {
	m := new(recordModel)
	err := s.sdb.NewRaw(`
		UPDATE stock_consumption_records SET consumed_at = ?, updated_at = ?
		WHERE job_id = ? AND id = ?
		RETURNING *
	`, ts(consumedAt), ts(now), key.JobID.String(), key.ID.String()).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, stockledger.NotFound(stockledger.ErrRecordNotFound)
		}
		return nil, err
	}

	s.hub.Publish(feed.Records)
	return fromRecordModel(m)
}

// MoveRecord re-keys the record with a single UPDATE of its primary key,
// which fires neither the consume nor the revert trigger.
func (s *Store) MoveRecord(ctx context.Context, key consumption.Key, newJobID id.JobID, newJobName string, consumedAt, now time.Time) (*consumption.Record, error) {
	m := new(recordModel)
	err := s.sdb.NewRaw(`
		UPDATE stock_consumption_records
		SET job_id = ?, job_name = ?, consumed_at = ?, updated_at = ?
		WHERE job_id = ? AND id = ?
		RETURNING *
	`, newJobID.String(), newJobName, ts(consumedAt), ts(now),
		key.JobID.String(), key.ID.String(),
	).Scan(ctx, m)
	switch {
	case isNoRows(err):
		return nil, stockledger.NotFound(stockledger.ErrRecordNotFound)
	case isUniqueViolation(err):
		return nil, stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrRecordExists, err))
	case err != nil:
		return nil, err
	}

	s.hub.Publish(feed.Records)
	return fromRecordModel(m)
}

func (s *Store) GetRecord(ctx context.Context, key consumption.Key) (*consumption.Record, error) {
	m := new(recordModel)
	err := s.sdb.NewSelect(m).
		Where("job_id = ?", key.JobID.String()).
		Where("id = ?", key.ID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stockledger.ErrRecordNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) ListRecords(ctx context.Context, opts consumption.ListOpts) ([]*consumption.Record, error) {
	var models []recordModel
	q := s.sdb.NewSelect(&models)

	if !opts.JobID.IsNil() {
		q = q.Where("job_id = ?", opts.JobID.String())
	}
	if !opts.OriginalID.IsNil() {
		q = q.Where("original_id = ?", opts.OriginalID.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("consumed_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*consumption.Record, len(models))
	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

// ==================== Job Store ====================

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.sdb.NewInsert(toJobModel(j)).Exec(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", stockledger.ErrJobExists, err)
	}
	return err
}

func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", jobID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stockledger.ErrJobNotFound
		}
		return nil, err
	}
	return fromJobModel(m)
}

func (s *Store) ListJobs(ctx context.Context) ([]*job.Job, error) {
	var models []jobModel
	if err := s.sdb.NewSelect(&models).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*job.Job, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = j
	}
	return result, nil
}

// ==================== Order Store ====================

func (s *Store) CreateOrder(ctx context.Context, o *order.Order, enqueue bool) error {
	if !enqueue {
		_, err := s.sdb.NewInsert(toOrderModel(o)).Exec(ctx)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", stockledger.ErrOrderExists, err)
		}
		if err != nil {
			return err
		}
		s.hub.Publish(feed.Orders)
		return nil
	}

	var idx int
	err := s.sdb.NewRaw(`
		INSERT INTO stock_orders (
		    id, job_id, status, planning_index, weight_made, meters_made, created_at, updated_at
		)
		SELECT ?, ?, 'active',
		       COALESCE((SELECT MAX(planning_index) FROM stock_orders
		                 WHERE status = 'active' AND planning_index >= 0), -1) + 1,
		       ?, ?, ?, ?
		RETURNING planning_index
	`, o.ID.String(), o.JobID.String(), o.WeightMade, o.MetersMade, ts(o.CreatedAt), ts(o.UpdatedAt)).Scan(ctx, &idx)
	switch {
	case isUniqueViolation(err) && strings.Contains(err.Error(), "planning_index"):
		return stockledger.Conflict(fmt.Errorf("%w: %w", order.ErrDuplicateIndex, err))
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %w", stockledger.ErrOrderExists, err)
	case isBusy(err):
		return stockledger.Conflict(err)
	case err != nil:
		return err
	}

	o.PlanningIndex = order.IndexPtr(idx)
	s.hub.Publish(feed.Orders)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	m := new(orderModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", orderID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stockledger.ErrOrderNotFound
		}
		return nil, err
	}
	return fromOrderModel(m)
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.JobID.IsNil() {
		q = q.Where("job_id = ?", opts.JobID.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr(`CASE
		WHEN status = 'active' AND planning_index >= 0 THEN 0
		WHEN status = 'active' THEN 1
		ELSE 2 END ASC, planning_index ASC, created_at ASC, id ASC`)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*order.Order, len(models))
	for i := range models {
		o, err := fromOrderModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = o
	}
	return result, nil
}

// AssignPlanningIndexes writes the whole batch as one multi-row INSERT into
// stock_order_assignments; its trigger applies each row or aborts them all.
func (s *Store) AssignPlanningIndexes(ctx context.Context, assignments []order.Assignment, now time.Time) error {
	if len(assignments) == 0 {
		return nil
	}

	rows := make([]string, len(assignments))
	args := make([]any, 0, 3*len(assignments))
	for i, a := range assignments {
		rows[i] = "(?, ?, ?)"
		args = append(args, a.OrderID.String(), a.Index, ts(now))
	}

	var n int
	err := s.sdb.NewRaw(
		"INSERT INTO stock_order_assignments (order_id, planning_index, updated_at) VALUES "+
			strings.Join(rows, ", ")+" RETURNING 1",
		args...,
	).Scan(ctx, &n)
	if err := classifyIndexWrite(err); err != nil {
		return err
	}

	s.hub.Publish(feed.Orders)
	return nil
}

// SwapPlanningIndexes inserts a swap request; its trigger checks both
// expected indices and exchanges them.
func (s *Store) SwapPlanningIndexes(ctx context.Context, sw order.Swap, now time.Time) error {
	var n int
	err := s.sdb.NewRaw(`
		INSERT INTO stock_order_swaps (a, index_a, b, index_b, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING 1
	`, sw.A.String(), sw.IndexA, sw.B.String(), sw.IndexB, ts(now)).Scan(ctx, &n)
	if err := classifyIndexWrite(err); err != nil {
		return err
	}

	s.hub.Publish(feed.Orders)
	return nil
}

func (s *Store) CompleteOrder(ctx context.Context, orderID id.OrderID, c order.Completion) (*order.Order, error) {
	at := ts(c.At)
	m := new(orderModel)
	err := s.sdb.NewRaw(`
		UPDATE stock_orders
		SET status = 'completed', planning_index = ?, completed_at = ?,
		    weight_made = ?, meters_made = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
		RETURNING *
	`, order.CompletedIndex, at, c.WeightMade, c.MetersMade, at, orderID.String()).Scan(ctx, m)
	if isNoRows(err) {
		if _, gerr := s.GetOrder(ctx, orderID); gerr != nil {
			if errors.Is(gerr, stockledger.ErrOrderNotFound) {
				return nil, stockledger.NotFound(gerr)
			}
			return nil, gerr
		}
		return nil, stockledger.Conflict(stockledger.ErrOrderCompleted)
	}
	if err != nil {
		return nil, err
	}

	s.hub.Publish(feed.Orders)
	return fromOrderModel(m)
}

func (s *Store) DeleteOrder(ctx context.Context, orderID id.OrderID) error {
	res, err := s.sdb.NewDelete((*orderModel)(nil)).
		Where("id = ?", orderID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return stockledger.ErrOrderNotFound
	}
	s.hub.Publish(feed.Orders)
	return nil
}

// ==================== Watcher ====================

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

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	switch sqliteCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func isBusy(err error) bool {
	return err != nil && sqliteCode(err)&0xff == sqlite3.SQLITE_BUSY
}

// classifyIndexWrite maps failures of the order request triggers onto the
// ledger's conflict taxonomy.
func classifyIndexWrite(err error) error {
	switch {
	case err == nil, isNoRows(err):
		return nil
	case strings.Contains(err.Error(), msgIndexMoved), strings.Contains(err.Error(), msgNotPending):
		return stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrIndexMoved, err))
	case isUniqueViolation(err):
		return stockledger.Conflict(fmt.Errorf("%w: %w", order.ErrDuplicateIndex, err))
	case isBusy(err):
		return stockledger.Conflict(err)
	}
	return err
}

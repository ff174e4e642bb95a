package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the migration executor
	"github.com/xraph/grove/migrate"

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

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Every transition is a single statement, so PostgreSQL's statement
// atomicity is the transaction boundary. Live views wake on this Store
// value's own commits and, with WithChangeListener, on NOTIFY messages the
// table triggers send for commits from every other client.
type Store struct {
	db     *grove.DB
	pg     *pgdriver.PgDB
	hub    *feed.Hub
	logger *slog.Logger
	notify *listener
}

// Option configures a PostgreSQL store.
type Option func(*Store)

// WithLogger sets the logger used for change-feed diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithChangeListener makes live views follow commits from other clients.
// dsn opens the dedicated connection that LISTENs for change
// notifications; it is normally the DSN the grove database was opened with.
func WithChangeListener(dsn string) Option {
	return func(s *Store) { s.notify = &listener{dsn: dsn} }
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		pg:     pgdriver.Unwrap(db),
		hub:    feed.NewHub(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notify != nil {
		s.notify.hub = s.hub
		s.notify.logger = s.logger
	}
	return s
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("stockledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("stockledger/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close stops the change listener and closes the database connection.
func (s *Store) Close() error {
	if s.notify != nil {
		s.notify.stop()
	}
	return s.db.Close()
}

// ==================== Roll Store ====================

func (s *Store) CreateRoll(ctx context.Context, r *roll.FilmRoll) error {
	_, err := s.pg.NewInsert(toRollModel(r)).Exec(ctx)
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
	err := s.pg.NewSelect(m).
		Where("id = $1", rollID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.FilmType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("LOWER(film_type) = LOWER($%d)", argIdx), opts.FilmType)
	}
	if opts.InStockOnly {
		q = q.Where("current_weight > 0")
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
	res, err := s.pg.NewDelete((*rollModel)(nil)).
		Where("id = $1", rollID.String()).
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

// consumeSQL deletes the roll and writes its snapshot in one statement.
// When the roll is already gone the DELETE returns nothing, nothing is
// inserted and the statement yields no row.
const consumeSQL = `
WITH gone AS (
    DELETE FROM stock_film_rolls WHERE id = $1
    RETURNING id, film_type, net_weight, supplier, purchase_date, created_at
)
INSERT INTO stock_consumption_records (
    job_id, id, job_name, original_id, film_type, net_weight, supplier,
    purchase_date, roll_created_at, consumed_at, consumed_by, created_at, updated_at
)
SELECT $2, $3, $4, gone.id, gone.film_type, gone.net_weight, gone.supplier,
       gone.purchase_date, gone.created_at, $5, $6, $7, $7
FROM gone
RETURNING *`

func (s *Store) ConsumeRoll(ctx context.Context, rollID id.RollID, rec *consumption.Record) error {
	m := new(recordModel)
	err := s.pg.NewRaw(consumeSQL,
		rollID.String(), rec.JobID.String(), rec.ID.String(), rec.JobName,
		rec.ConsumedAt, rec.ConsumedBy, rec.CreatedAt,
	).Scan(ctx, m)
	switch {
	case isNoRows(err):
		return stockledger.Conflict(stockledger.ErrRollNotFound)
	case isUniqueViolation(err):
		return stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrRecordExists, err))
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

// revertSQL deletes the record and re-creates its roll in one statement.
// A roll already at the original ID fails the INSERT and with it the
// DELETE.
const revertSQL = `
WITH rec AS (
    DELETE FROM stock_consumption_records WHERE job_id = $1 AND id = $2
    RETURNING original_id, film_type, net_weight, supplier, purchase_date, roll_created_at
)
INSERT INTO stock_film_rolls (
    id, film_type, net_weight, current_weight, supplier, purchase_date, created_at, updated_at
)
SELECT rec.original_id, rec.film_type, rec.net_weight, rec.net_weight, rec.supplier,
       rec.purchase_date, rec.roll_created_at, $3
FROM rec
RETURNING *`

func (s *Store) RevertRecord(ctx context.Context, key consumption.Key, now time.Time) (*roll.FilmRoll, error) {
	m := new(rollModel)
	err := s.pg.NewRaw(revertSQL, key.JobID.String(), key.ID.String(), now.UTC()).Scan(ctx, m)
	switch {
	case isNoRows(err):
		return nil, stockledger.NotFound(stockledger.ErrRecordNotFound)
	case isUniqueViolation(err):
		return nil, stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrRollExists, err))
	case err != nil:
		return nil, err
	}

	s.hub.Publish(feed.Rolls, feed.Records)
	return fromRollModel(m)
}

func (s *Store) RescheduleRecord(ctx context.Context, key consumption.Key, consumedAt, now time.Time) (*consumption.Record, error) {
	m := new(recordModel)
	err := s.pg.NewRaw(`
		UPDATE stock_consumption_records SET consumed_at = $1, updated_at = $2
		WHERE job_id = $3 AND id = $4
		RETURNING *
	`, consumedAt.UTC(), now.UTC(), key.JobID.String(), key.ID.String()).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, stockledger.NotFound(stockledger.ErrRecordNotFound)
		}
		return nil, err
	}

	s.hub.Publish(feed.Records)
	return fromRecordModel(m)
}

// moveSQL re-keys a record under another job. DELETE and INSERT share one
// snapshot, so no reader sees the record under zero or two jobs.
const moveSQL = `
WITH old AS (
    DELETE FROM stock_consumption_records WHERE job_id = $1 AND id = $2
    RETURNING *
)
INSERT INTO stock_consumption_records (
    job_id, id, job_name, original_id, film_type, net_weight, supplier,
    purchase_date, roll_created_at, consumed_at, consumed_by, created_at, updated_at
)
SELECT $3, old.id, $4, old.original_id, old.film_type, old.net_weight, old.supplier,
       old.purchase_date, old.roll_created_at, $5, old.consumed_by, old.created_at, $6
FROM old
RETURNING *`

func (s *Store) MoveRecord(ctx context.Context, key consumption.Key, newJobID id.JobID, newJobName string, consumedAt, now time.Time) (*consumption.Record, error) {
	m := new(recordModel)
	err := s.pg.NewRaw(moveSQL,
		key.JobID.String(), key.ID.String(), newJobID.String(), newJobName,
		consumedAt.UTC(), now.UTC(),
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
	err := s.pg.NewSelect(m).
		Where("job_id = $1", key.JobID.String()).
		Where("id = $2", key.ID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.JobID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("job_id = $%d", argIdx), opts.JobID.String())
	}
	if !opts.OriginalID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("original_id = $%d", argIdx), opts.OriginalID.String())
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
	_, err := s.pg.NewInsert(toJobModel(j)).Exec(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", stockledger.ErrJobExists, err)
	}
	return err
}

func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", jobID.String()).
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
	if err := s.pg.NewSelect(&models).OrderExpr("name ASC").Scan(ctx); err != nil {
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

// enqueueSQL appends an order to the queue. Two concurrent appends can read
// the same maximum; the exclusion constraint rejects the second at commit.
const enqueueSQL = `
INSERT INTO stock_orders (
    id, job_id, status, planning_index, weight_made, meters_made, created_at, updated_at
)
SELECT $1, $2, 'active',
       COALESCE((SELECT MAX(planning_index) FROM stock_orders
                 WHERE status = 'active' AND planning_index >= 0), -1) + 1,
       $3, $4, $5, $5
RETURNING planning_index`

func (s *Store) CreateOrder(ctx context.Context, o *order.Order, enqueue bool) error {
	if !enqueue {
		_, err := s.pg.NewInsert(toOrderModel(o)).Exec(ctx)
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
	err := s.pg.NewRaw(enqueueSQL,
		o.ID.String(), o.JobID.String(), o.WeightMade, o.MetersMade, o.CreatedAt,
	).Scan(ctx, &idx)
	switch {
	case isExclusionViolation(err):
		return stockledger.Conflict(fmt.Errorf("%w: %w", order.ErrDuplicateIndex, err))
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %w", stockledger.ErrOrderExists, err)
	case err != nil:
		return err
	}

	o.PlanningIndex = order.IndexPtr(idx)
	s.hub.Publish(feed.Orders)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	m := new(orderModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", orderID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stockledger.ErrOrderNotFound
		}
		return nil, err
	}
	return fromOrderModel(m)
}

// queueOrder ranks sequenced orders by index, then pending, then completed.
const queueOrder = `CASE
    WHEN status = 'active' AND planning_index >= 0 THEN 0
    WHEN status = 'active' THEN 1
    ELSE 2 END ASC, planning_index ASC, created_at ASC, id ASC`

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if !opts.JobID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("job_id = $%d", argIdx), opts.JobID.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr(queueOrder)

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

// assignSQL locks every target row and writes the batch only when all of
// them are still active and unsequenced.
const assignSQL = `
WITH batch AS (
    SELECT * FROM unnest($1::text[], $2::int[]) AS b(id, idx)
), locked AS (
    SELECT o.id FROM stock_orders o JOIN batch ON batch.id = o.id
    WHERE o.status = 'active' AND o.planning_index IS NULL
    FOR UPDATE OF o
), ok AS (
    SELECT COUNT(*) = $3 AS ok FROM locked
), upd AS (
    UPDATE stock_orders o SET planning_index = batch.idx, updated_at = $4
    FROM batch, ok
    WHERE ok.ok AND o.id = batch.id
    RETURNING o.id
)
SELECT COUNT(*) FROM upd`

func (s *Store) AssignPlanningIndexes(ctx context.Context, assignments []order.Assignment, now time.Time) error {
	if len(assignments) == 0 {
		return nil
	}
	ids := make([]string, len(assignments))
	idxs := make([]int, len(assignments))
	for i, a := range assignments {
		ids[i] = a.OrderID.String()
		idxs[i] = a.Index
	}

	var updated int
	err := s.pg.NewRaw(assignSQL, ids, idxs, len(assignments), now.UTC()).Scan(ctx, &updated)
	switch {
	case isExclusionViolation(err):
		return stockledger.Conflict(fmt.Errorf("%w: %w", order.ErrDuplicateIndex, err))
	case err != nil:
		return err
	case updated != len(assignments):
		return stockledger.Conflict(stockledger.ErrIndexMoved)
	}

	s.hub.Publish(feed.Orders)
	return nil
}

// swapSQL exchanges two indices only if both orders still hold the
// indices the caller read.
const swapSQL = `
WITH locked AS (
    SELECT id FROM stock_orders
    WHERE status = 'active'
      AND ((id = $1 AND planning_index = $2) OR (id = $3 AND planning_index = $4))
    FOR UPDATE
), ok AS (
    SELECT COUNT(*) = 2 AS ok FROM locked
), upd AS (
    UPDATE stock_orders o
    SET planning_index = CASE WHEN o.id = $1 THEN $4::int ELSE $2::int END, updated_at = $5
    FROM ok
    WHERE ok.ok AND o.id IN ($1, $3)
    RETURNING o.id
)
SELECT COUNT(*) FROM upd`

func (s *Store) SwapPlanningIndexes(ctx context.Context, sw order.Swap, now time.Time) error {
	var updated int
	err := s.pg.NewRaw(swapSQL,
		sw.A.String(), sw.IndexA, sw.B.String(), sw.IndexB, now.UTC(),
	).Scan(ctx, &updated)
	switch {
	case isExclusionViolation(err):
		return stockledger.Conflict(fmt.Errorf("%w: %w", order.ErrDuplicateIndex, err))
	case err != nil:
		return err
	case updated != 2:
		return stockledger.Conflict(stockledger.ErrIndexMoved)
	}

	s.hub.Publish(feed.Orders)
	return nil
}

func (s *Store) CompleteOrder(ctx context.Context, orderID id.OrderID, c order.Completion) (*order.Order, error) {
	at := c.At.UTC()
	m := new(orderModel)
	err := s.pg.NewRaw(`
		UPDATE stock_orders
		SET status = 'completed', planning_index = $1, completed_at = $2,
		    weight_made = $3, meters_made = $4, updated_at = $2
		WHERE id = $5 AND status = 'active'
		RETURNING *
	`, order.CompletedIndex, at, c.WeightMade, c.MetersMade, orderID.String()).Scan(ctx, m)
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
	res, err := s.pg.NewDelete((*orderModel)(nil)).
		Where("id = $1", orderID.String()).
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

// follow starts relaying other clients' commits the first time a live view
// is opened.
func (s *Store) follow() {
	if s.notify != nil {
		s.notify.start()
	}
}

func (s *Store) WatchRolls(ctx context.Context, opts roll.ListOpts) (<-chan []*roll.FilmRoll, error) {
	s.follow()
	return feed.Watch(ctx, s.hub, feed.Rolls, s.logger, func(ctx context.Context) ([]*roll.FilmRoll, error) {
		return s.ListRolls(ctx, opts)
	})
}

func (s *Store) WatchRecords(ctx context.Context, opts consumption.ListOpts) (<-chan []*consumption.Record, error) {
	s.follow()
	return feed.Watch(ctx, s.hub, feed.Records, s.logger, func(ctx context.Context) ([]*consumption.Record, error) {
		return s.ListRecords(ctx, opts)
	})
}

func (s *Store) WatchOrders(ctx context.Context, opts order.ListOpts) (<-chan []*order.Order, error) {
	s.follow()
	return feed.Watch(ctx, s.hub, feed.Orders, s.logger, func(ctx context.Context) ([]*order.Order, error) {
		return s.ListOrders(ctx, opts)
	})
}

// ==================== Helpers ====================

// PostgreSQL error classes the ledger maps to its own taxonomy.
const (
	codeUniqueViolation    = "23505"
	codeExclusionViolation = "23P01"
)

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return err != nil && pgCode(err) == codeUniqueViolation
}

func isExclusionViolation(err error) bool {
	return err != nil && pgCode(err) == codeExclusionViolation
}

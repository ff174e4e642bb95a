package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/stockledger"
	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
	ledgerstore "github.com/xraph/stockledger/store"
	"github.com/xraph/stockledger/store/feed"
	"github.com/xraph/stockledger/types"
)

// Collection name constants.
const (
	colRolls   = "stock_film_rolls"
	colRecords = "stock_consumption_records"
	colJobs    = "stock_jobs"
	colOrders  = "stock_orders"
)

// idxActivePlanningIndex is the unique partial index that keeps active
// planning indices distinct.
const idxActivePlanningIndex = "uniq_active_planning_index"

// compile-time interface checks
var (
	_ ledgerstore.Store   = (*Store)(nil)
	_ ledgerstore.Watcher = (*Store)(nil)
)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Transitions that touch more than one document run inside a session
// transaction, so the deployment must be a replica set or sharded cluster.
// Live views use native change streams and see writes from every client.
type Store struct {
	db     *grove.DB
	mdb    *mongodriver.MongoDB
	logger *slog.Logger
}

// Option configures a MongoDB store.
type Option func(*Store)

// WithLogger sets the logger used for change-stream diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		mdb:    mongodriver.Unwrap(db),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("stockledger/mongo: migrate %s indexes: %w", col, err)
		}
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

// inTransaction runs fn in a session transaction. The driver retries fn on
// transient errors, which is how lost write races are re-evaluated.
func (s *Store) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	client := s.mdb.Collection(colRolls).Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("stockledger/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// ==================== Roll Store ====================

func (s *Store) CreateRoll(ctx context.Context, r *roll.FilmRoll) error {
	_, err := s.mdb.NewInsert(toRollModel(r)).Exec(ctx)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", stockledger.ErrRollExists, err)
	}
	if err != nil {
		return fmt.Errorf("stockledger/mongo: create roll: %w", err)
	}
	return nil
}

func (s *Store) GetRoll(ctx context.Context, rollID id.RollID) (*roll.FilmRoll, error) {
	var m rollModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": rollID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, stockledger.ErrRollNotFound
		}
		return nil, fmt.Errorf("stockledger/mongo: get roll: %w", err)
	}
	return fromRollModel(&m)
}

func (s *Store) ListRolls(ctx context.Context, opts roll.ListOpts) ([]*roll.FilmRoll, error) {
	var models []rollModel

	filter := bson.M{}
	if opts.FilmType != "" {
		filter["film_type_key"] = filmTypeKey(opts.FilmType)
	}
	if opts.InStockOnly {
		filter["current_weight"] = bson.M{"$gt": toDecimal128(types.ZeroWeight)}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stockledger/mongo: list rolls: %w", err)
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
	res, err := s.mdb.NewDelete((*rollModel)(nil)).
		Filter(bson.M{"_id": rollID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockledger/mongo: delete roll: %w", err)
	}
	if res.DeletedCount() == 0 {
		return stockledger.ErrRollNotFound
	}
	return nil
}

// ==================== Consumption transitions ====================

func (s *Store) ConsumeRoll(ctx context.Context, rollID id.RollID, rec *consumption.Record) error {
	return s.inTransaction(ctx, func(ctx context.Context) error {
		var rm rollModel
		err := s.mdb.Collection(colRolls).
			FindOneAndDelete(ctx, bson.M{"_id": rollID.String()}).
			Decode(&rm)
		if isNoDocuments(err) {
			return stockledger.Conflict(stockledger.ErrRollNotFound)
		}
		if err != nil {
			return err
		}

		r, err := fromRollModel(&rm)
		if err != nil {
			return err
		}
		rec.Snapshot = consumption.SnapshotOf(r)

		_, err = s.mdb.NewInsert(toRecordModel(rec)).Exec(ctx)
		if mongo.IsDuplicateKeyError(err) {
			return stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrRecordExists, err))
		}
		return err
	})
}

func (s *Store) RevertRecord(ctx context.Context, key consumption.Key, now time.Time) (*roll.FilmRoll, error) {
	var restored *roll.FilmRoll
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		var m recordModel
		err := s.mdb.Collection(colRecords).
			FindOneAndDelete(ctx, bson.M{"_id": recordKey(key)}).
			Decode(&m)
		if isNoDocuments(err) {
			return stockledger.NotFound(stockledger.ErrRecordNotFound)
		}
		if err != nil {
			return err
		}

		rec, err := fromRecordModel(&m)
		if err != nil {
			return err
		}
		restored = rec.Snapshot.Restore(now)

		_, err = s.mdb.NewInsert(toRollModel(restored)).Exec(ctx)
		if mongo.IsDuplicateKeyError(err) {
			return stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrRollExists, err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

func (s *Store) RescheduleRecord(ctx context.Context, key consumption.Key, consumedAt, now time.Time) (*consumption.Record, error) {
	var m recordModel
	err := s.mdb.Collection(colRecords).
		FindOneAndUpdate(ctx,
			bson.M{"_id": recordKey(key)},
			bson.M{"$set": bson.M{"consumed_at": consumedAt.UTC(), "updated_at": now.UTC()}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, stockledger.NotFound(stockledger.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("stockledger/mongo: reschedule record: %w", err)
	}
	return fromRecordModel(&m)
}

// MoveRecord deletes the record and inserts it under the new job in one
// transaction; the job is part of the record's _id.
func (s *Store) MoveRecord(ctx context.Context, key consumption.Key, newJobID id.JobID, newJobName string, consumedAt, now time.Time) (*consumption.Record, error) {
	var moved *consumption.Record
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		var m recordModel
		err := s.mdb.Collection(colRecords).
			FindOneAndDelete(ctx, bson.M{"_id": recordKey(key)}).
			Decode(&m)
		if isNoDocuments(err) {
			return stockledger.NotFound(stockledger.ErrRecordNotFound)
		}
		if err != nil {
			return err
		}

		rec, err := fromRecordModel(&m)
		if err != nil {
			return err
		}
		moved = rec.MovedTo(newJobID, newJobName, consumedAt.UTC(), now)

		_, err = s.mdb.NewInsert(toRecordModel(moved)).Exec(ctx)
		if mongo.IsDuplicateKeyError(err) {
			return stockledger.Conflict(fmt.Errorf("%w: %w", stockledger.ErrRecordExists, err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *Store) GetRecord(ctx context.Context, key consumption.Key) (*consumption.Record, error) {
	var m recordModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": recordKey(key)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, stockledger.ErrRecordNotFound
		}
		return nil, fmt.Errorf("stockledger/mongo: get record: %w", err)
	}
	return fromRecordModel(&m)
}

func (s *Store) ListRecords(ctx context.Context, opts consumption.ListOpts) ([]*consumption.Record, error) {
	var models []recordModel

	filter := bson.M{}
	if !opts.JobID.IsNil() {
		filter["_id.job_id"] = opts.JobID.String()
	}
	if !opts.OriginalID.IsNil() {
		filter["snapshot.original_id"] = opts.OriginalID.String()
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "consumed_at", Value: -1}, {Key: "_id.id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stockledger/mongo: list records: %w", err)
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
	_, err := s.mdb.NewInsert(toJobModel(j)).Exec(ctx)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", stockledger.ErrJobExists, err)
	}
	if err != nil {
		return fmt.Errorf("stockledger/mongo: create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": jobID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, stockledger.ErrJobNotFound
		}
		return nil, fmt.Errorf("stockledger/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

func (s *Store) ListJobs(ctx context.Context) ([]*job.Job, error) {
	var models []jobModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "name", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("stockledger/mongo: list jobs: %w", err)
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
		_, err := s.mdb.NewInsert(toOrderModel(o)).Exec(ctx)
		if err != nil {
			return classifyOrderInsert(err)
		}
		return nil
	}

	var idx int
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		var last orderModel
		err := s.mdb.Collection(colOrders).
			FindOne(ctx,
				bson.M{"status": string(order.StatusActive), "planning_index": bson.M{"$gte": 0}},
				options.FindOne().SetSort(bson.D{{Key: "planning_index", Value: -1}}),
			).
			Decode(&last)
		switch {
		case isNoDocuments(err):
			idx = 0
		case err != nil:
			return err
		default:
			idx = *last.PlanningIndex + 1
		}

		m := toOrderModel(o)
		m.PlanningIndex = order.IndexPtr(idx)
		m.Rank = rankSequenced
		_, err = s.mdb.NewInsert(m).Exec(ctx)
		if err != nil {
			return classifyOrderInsert(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.PlanningIndex = order.IndexPtr(idx)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	var m orderModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": orderID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, stockledger.ErrOrderNotFound
		}
		return nil, fmt.Errorf("stockledger/mongo: get order: %w", err)
	}
	return fromOrderModel(&m)
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.JobID.IsNil() {
		filter["job_id"] = opts.JobID.String()
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{
			{Key: "rank", Value: 1},
			{Key: "planning_index", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stockledger/mongo: list orders: %w", err)
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

func (s *Store) AssignPlanningIndexes(ctx context.Context, assignments []order.Assignment, now time.Time) error {
	if len(assignments) == 0 {
		return nil
	}

	return s.inTransaction(ctx, func(ctx context.Context) error {
		orders := s.mdb.Collection(colOrders)
		for _, a := range assignments {
			res, err := orders.UpdateOne(ctx,
				bson.M{
					"_id":            a.OrderID.String(),
					"status":         string(order.StatusActive),
					"planning_index": nil,
				},
				bson.M{"$set": bson.M{
					"planning_index": a.Index,
					"rank":           rankSequenced,
					"updated_at":     now.UTC(),
				}},
			)
			if err := classifyIndexWrite(err); err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return stockledger.Conflict(stockledger.ErrIndexMoved)
			}
		}
		return nil
	})
}

// SwapPlanningIndexes parks A on a null index first; the unique index is
// checked per write, so the two orders cannot trade places directly.
func (s *Store) SwapPlanningIndexes(ctx context.Context, sw order.Swap, now time.Time) error {
	return s.inTransaction(ctx, func(ctx context.Context) error {
		orders := s.mdb.Collection(colOrders)
		steps := []struct {
			filter bson.M
			set    bson.M
		}{
			{
				filter: bson.M{"_id": sw.A.String(), "status": string(order.StatusActive), "planning_index": sw.IndexA},
				set:    bson.M{"planning_index": nil},
			},
			{
				filter: bson.M{"_id": sw.B.String(), "status": string(order.StatusActive), "planning_index": sw.IndexB},
				set:    bson.M{"planning_index": sw.IndexA, "updated_at": now.UTC()},
			},
			{
				filter: bson.M{"_id": sw.A.String()},
				set:    bson.M{"planning_index": sw.IndexB, "updated_at": now.UTC()},
			},
		}
		for _, st := range steps {
			res, err := orders.UpdateOne(ctx, st.filter, bson.M{"$set": st.set})
			if err := classifyIndexWrite(err); err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return stockledger.Conflict(stockledger.ErrIndexMoved)
			}
		}
		return nil
	})
}

func (s *Store) CompleteOrder(ctx context.Context, orderID id.OrderID, c order.Completion) (*order.Order, error) {
	at := c.At.UTC()
	var m orderModel
	err := s.mdb.Collection(colOrders).
		FindOneAndUpdate(ctx,
			bson.M{"_id": orderID.String(), "status": string(order.StatusActive)},
			bson.M{"$set": bson.M{
				"status":         string(order.StatusCompleted),
				"planning_index": order.CompletedIndex,
				"rank":           rankCompleted,
				"completed_at":   at,
				"weight_made":    toDecimal128(c.WeightMade),
				"meters_made":    toDecimal128(c.MetersMade),
				"updated_at":     at,
			}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).
		Decode(&m)
	if isNoDocuments(err) {
		if _, gerr := s.GetOrder(ctx, orderID); gerr != nil {
			if errors.Is(gerr, stockledger.ErrOrderNotFound) {
				return nil, stockledger.NotFound(gerr)
			}
			return nil, gerr
		}
		return nil, stockledger.Conflict(stockledger.ErrOrderCompleted)
	}
	if err != nil {
		return nil, fmt.Errorf("stockledger/mongo: complete order: %w", err)
	}
	return fromOrderModel(&m)
}

func (s *Store) DeleteOrder(ctx context.Context, orderID id.OrderID) error {
	res, err := s.mdb.NewDelete((*orderModel)(nil)).
		Filter(bson.M{"_id": orderID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockledger/mongo: delete order: %w", err)
	}
	if res.DeletedCount() == 0 {
		return stockledger.ErrOrderNotFound
	}
	return nil
}

// ==================== Watcher ====================

func (s *Store) WatchRolls(ctx context.Context, opts roll.ListOpts) (<-chan []*roll.FilmRoll, error) {
	return watch(ctx, s, colRolls, func(ctx context.Context) ([]*roll.FilmRoll, error) {
		return s.ListRolls(ctx, opts)
	})
}

func (s *Store) WatchRecords(ctx context.Context, opts consumption.ListOpts) (<-chan []*consumption.Record, error) {
	return watch(ctx, s, colRecords, func(ctx context.Context) ([]*consumption.Record, error) {
		return s.ListRecords(ctx, opts)
	})
}

func (s *Store) WatchOrders(ctx context.Context, opts order.ListOpts) (<-chan []*order.Order, error) {
	return watch(ctx, s, colOrders, func(ctx context.Context) ([]*order.Order, error) {
		return s.ListOrders(ctx, opts)
	})
}

// watch opens a change stream on col and re-runs query after every event.
// The stream is opened before the first query so no commit falls between
// the initial snapshot and the first event.
func watch[T any](ctx context.Context, s *Store, col string, query func(context.Context) ([]T, error)) (<-chan []T, error) {
	cs, err := s.mdb.Collection(col).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("stockledger/mongo: watch %s: %w", col, err)
	}

	first, err := query(ctx)
	if err != nil {
		_ = cs.Close(context.WithoutCancel(ctx)) //nolint:errcheck // best-effort cleanup
		return nil, err
	}

	out := make(chan []T, 1)
	out <- first

	go func() {
		defer close(out)
		defer cs.Close(context.WithoutCancel(ctx)) //nolint:errcheck // best-effort cleanup

		for cs.Next(ctx) {
			snap, qerr := query(ctx)
			if qerr != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("mongo: re-query after change failed", "collection", col, "error", qerr)
				continue
			}
			feed.Offer(out, snap)
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			s.logger.Error("mongo: change stream ended", "collection", col, "error", err)
		}
	}()
	return out, nil
}

// ==================== Helpers ====================

// filmTypeKey is the case-folded film type stored for filtering.
func filmTypeKey(filmType string) string {
	return roll.FilmTypeKey(filmType)
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func isIndexViolation(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), idxActivePlanningIndex)
}

func classifyOrderInsert(err error) error {
	switch {
	case isIndexViolation(err):
		return stockledger.Conflict(fmt.Errorf("%w: %w", order.ErrDuplicateIndex, err))
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", stockledger.ErrOrderExists, err)
	}
	return err
}

func classifyIndexWrite(err error) error {
	switch {
	case err == nil:
		return nil
	case isIndexViolation(err):
		return stockledger.Conflict(fmt.Errorf("%w: %w", order.ErrDuplicateIndex, err))
	}
	return err
}

// migrationIndexes returns the index definitions for all ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colRolls: {
			{Keys: bson.D{{Key: "film_type_key", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colRecords: {
			{Keys: bson.D{{Key: "_id.job_id", Value: 1}, {Key: "consumed_at", Value: -1}}},
			{Keys: bson.D{{Key: "snapshot.original_id", Value: 1}}},
			{Keys: bson.D{{Key: "consumed_at", Value: -1}, {Key: "_id.id", Value: -1}}},
		},
		colJobs: {
			{Keys: bson.D{{Key: "name", Value: 1}}},
		},
		colOrders: {
			{
				Keys: bson.D{{Key: "planning_index", Value: 1}},
				Options: options.Index().
					SetName(idxActivePlanningIndex).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{
						"status":         string(order.StatusActive),
						"planning_index": bson.M{"$gte": 0},
					}),
			},
			{Keys: bson.D{{Key: "rank", Value: 1}, {Key: "planning_index", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
		},
	}
}

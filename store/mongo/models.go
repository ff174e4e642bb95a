package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/types"
)

// ==================== Weight conversion ====================

func toDecimal128(w types.Weight) bson.Decimal128 {
	d, err := bson.ParseDecimal128(w.String())
	if err != nil {
		// decimal.Decimal.String never produces an unparsable value.
		panic(fmt.Sprintf("stockledger/mongo: weight %s: %v", w, err))
	}
	return d
}

func fromDecimal128(d bson.Decimal128) (types.Weight, error) {
	return types.ParseWeight(d.String())
}

// ==================== Roll models ====================

type rollModel struct {
	grove.BaseModel `grove:"table:stock_film_rolls"`

	ID            string          `grove:"id,pk"          bson:"_id"`
	FilmType      string          `grove:"film_type"      bson:"film_type"`
	FilmTypeKey   string          `grove:"film_type_key"  bson:"film_type_key"`
	NetWeight     bson.Decimal128 `grove:"net_weight"     bson:"net_weight"`
	CurrentWeight bson.Decimal128 `grove:"current_weight" bson:"current_weight"`
	Supplier      string          `grove:"supplier"       bson:"supplier"`
	PurchaseDate  time.Time       `grove:"purchase_date"  bson:"purchase_date"`
	CreatedAt     time.Time       `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time       `grove:"updated_at"     bson:"updated_at"`
}

func toRollModel(r *roll.FilmRoll) *rollModel {
	return &rollModel{
		ID:            r.ID.String(),
		FilmType:      r.FilmType,
		FilmTypeKey:   filmTypeKey(r.FilmType),
		NetWeight:     toDecimal128(r.NetWeight),
		CurrentWeight: toDecimal128(r.CurrentWeight),
		Supplier:      r.Supplier,
		PurchaseDate:  r.PurchaseDate,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromRollModel(m *rollModel) (*roll.FilmRoll, error) {
	rollID, err := id.ParseRollID(m.ID)
	if err != nil {
		return nil, err
	}
	net, err := fromDecimal128(m.NetWeight)
	if err != nil {
		return nil, err
	}
	current, err := fromDecimal128(m.CurrentWeight)
	if err != nil {
		return nil, err
	}
	return &roll.FilmRoll{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            rollID,
		FilmType:      m.FilmType,
		NetWeight:     net,
		CurrentWeight: current,
		Supplier:      m.Supplier,
		PurchaseDate:  m.PurchaseDate,
	}, nil
}

// ==================== Consumption record models ====================

// recordKeyModel is the composite _id of a record. Field order is part of
// the key's identity in BSON; keep job_id first.
type recordKeyModel struct {
	JobID string `bson:"job_id"`
	ID    string `bson:"id"`
}

func recordKey(k consumption.Key) recordKeyModel {
	return recordKeyModel{JobID: k.JobID.String(), ID: k.ID.String()}
}

type snapshotModel struct {
	OriginalID    string          `bson:"original_id"`
	FilmType      string          `bson:"film_type"`
	NetWeight     bson.Decimal128 `bson:"net_weight"`
	Supplier      string          `bson:"supplier"`
	PurchaseDate  time.Time       `bson:"purchase_date"`
	RollCreatedAt time.Time       `bson:"roll_created_at"`
}

type recordModel struct {
	grove.BaseModel `grove:"table:stock_consumption_records"`

	Key        recordKeyModel `grove:"id,pk"       bson:"_id"`
	JobName    string         `grove:"job_name"    bson:"job_name"`
	Snapshot   snapshotModel  `grove:"snapshot"    bson:"snapshot"`
	ConsumedAt time.Time      `grove:"consumed_at" bson:"consumed_at"`
	ConsumedBy string         `grove:"consumed_by" bson:"consumed_by"`
	CreatedAt  time.Time      `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time      `grove:"updated_at"  bson:"updated_at"`
}

func toRecordModel(rec *consumption.Record) *recordModel {
	return &recordModel{
		Key:     recordKey(rec.Key()),
		JobName: rec.JobName,
		Snapshot: snapshotModel{
			OriginalID:    rec.Snapshot.OriginalID.String(),
			FilmType:      rec.Snapshot.FilmType,
			NetWeight:     toDecimal128(rec.Snapshot.NetWeight),
			Supplier:      rec.Snapshot.Supplier,
			PurchaseDate:  rec.Snapshot.PurchaseDate,
			RollCreatedAt: rec.Snapshot.RollCreatedAt,
		},
		ConsumedAt: rec.ConsumedAt,
		ConsumedBy: rec.ConsumedBy,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func fromRecordModel(m *recordModel) (*consumption.Record, error) {
	recID, err := id.ParseConsumptionID(m.Key.ID)
	if err != nil {
		return nil, err
	}
	jobID, err := id.ParseJobID(m.Key.JobID)
	if err != nil {
		return nil, err
	}
	origID, err := id.ParseRollID(m.Snapshot.OriginalID)
	if err != nil {
		return nil, err
	}
	net, err := fromDecimal128(m.Snapshot.NetWeight)
	if err != nil {
		return nil, err
	}
	return &consumption.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:      recID,
		JobID:   jobID,
		JobName: m.JobName,
		Snapshot: consumption.Snapshot{
			OriginalID:    origID,
			FilmType:      m.Snapshot.FilmType,
			NetWeight:     net,
			Supplier:      m.Snapshot.Supplier,
			PurchaseDate:  m.Snapshot.PurchaseDate,
			RollCreatedAt: m.Snapshot.RollCreatedAt,
		},
		ConsumedAt: m.ConsumedAt,
		ConsumedBy: m.ConsumedBy,
	}, nil
}

// ==================== Job models ====================

type jobModel struct {
	grove.BaseModel `grove:"table:stock_jobs"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	Name      string    `grove:"name"       bson:"name"`
	Materials []string  `grove:"materials"  bson:"materials"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:        j.ID.String(),
		Name:      j.Name,
		Materials: j.Materials,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, err
	}
	return &job.Job{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        jobID,
		Name:      m.Name,
		Materials: m.Materials,
	}, nil
}

// ==================== Order models ====================

type orderModel struct {
	grove.BaseModel `grove:"table:stock_orders"`

	ID            string          `grove:"id,pk"          bson:"_id"`
	JobID         string          `grove:"job_id"         bson:"job_id"`
	Status        string          `grove:"status"         bson:"status"`
	Rank          int             `grove:"rank"           bson:"rank"`
	PlanningIndex *int            `grove:"planning_index" bson:"planning_index"`
	WeightMade    bson.Decimal128 `grove:"weight_made"    bson:"weight_made"`
	MetersMade    bson.Decimal128 `grove:"meters_made"    bson:"meters_made"`
	CompletedAt   *time.Time      `grove:"completed_at"   bson:"completed_at,omitempty"`
	CreatedAt     time.Time       `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time       `grove:"updated_at"     bson:"updated_at"`
}

// Queue ranks stored alongside each order so that listings sort with a
// plain index: sequenced, then pending, then completed.
const (
	rankSequenced = 0
	rankPending   = 1
	rankCompleted = 2
)

func orderRank(o *order.Order) int {
	switch {
	case o.Sequenced():
		return rankSequenced
	case o.Active():
		return rankPending
	default:
		return rankCompleted
	}
}

func toOrderModel(o *order.Order) *orderModel {
	return &orderModel{
		ID:            o.ID.String(),
		JobID:         o.JobID.String(),
		Status:        string(o.Status),
		Rank:          orderRank(o),
		PlanningIndex: o.PlanningIndex,
		WeightMade:    toDecimal128(o.WeightMade),
		MetersMade:    toDecimal128(o.MetersMade),
		CompletedAt:   o.CompletedAt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	orderID, err := id.ParseOrderID(m.ID)
	if err != nil {
		return nil, err
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, err
	}
	weight, err := fromDecimal128(m.WeightMade)
	if err != nil {
		return nil, err
	}
	meters, err := fromDecimal128(m.MetersMade)
	if err != nil {
		return nil, err
	}
	return &order.Order{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            orderID,
		JobID:         jobID,
		Status:        order.Status(m.Status),
		PlanningIndex: m.PlanningIndex,
		WeightMade:    weight,
		MetersMade:    meters,
		CompletedAt:   m.CompletedAt,
	}, nil
}

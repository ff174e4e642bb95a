package postgres

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/types"
)

// ==================== Roll models ====================

type rollModel struct {
	grove.BaseModel `grove:"table:stock_film_rolls"`

	ID            string       `grove:"id,pk"`
	FilmType      string       `grove:"film_type"`
	NetWeight     types.Weight `grove:"net_weight,type:numeric"`
	CurrentWeight types.Weight `grove:"current_weight,type:numeric"`
	Supplier      string       `grove:"supplier"`
	PurchaseDate  time.Time    `grove:"purchase_date"`
	CreatedAt     time.Time    `grove:"created_at"`
	UpdatedAt     time.Time    `grove:"updated_at"`
}

func toRollModel(r *roll.FilmRoll) *rollModel {
	return &rollModel{
		ID:            r.ID.String(),
		FilmType:      r.FilmType,
		NetWeight:     r.NetWeight,
		CurrentWeight: r.CurrentWeight,
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
	return &roll.FilmRoll{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            rollID,
		FilmType:      m.FilmType,
		NetWeight:     m.NetWeight,
		CurrentWeight: m.CurrentWeight,
		Supplier:      m.Supplier,
		PurchaseDate:  m.PurchaseDate,
	}, nil
}

// ==================== Consumption record models ====================

// recordModel flattens the roll snapshot into columns so that the consume
// and revert statements can move it between tables without decoding.
type recordModel struct {
	grove.BaseModel `grove:"table:stock_consumption_records"`

	JobID         string       `grove:"job_id,pk"`
	ID            string       `grove:"id,pk"`
	JobName       string       `grove:"job_name"`
	OriginalID    string       `grove:"original_id"`
	FilmType      string       `grove:"film_type"`
	NetWeight     types.Weight `grove:"net_weight,type:numeric"`
	Supplier      string       `grove:"supplier"`
	PurchaseDate  time.Time    `grove:"purchase_date"`
	RollCreatedAt time.Time    `grove:"roll_created_at"`
	ConsumedAt    time.Time    `grove:"consumed_at"`
	ConsumedBy    string       `grove:"consumed_by"`
	CreatedAt     time.Time    `grove:"created_at"`
	UpdatedAt     time.Time    `grove:"updated_at"`
}

func fromRecordModel(m *recordModel) (*consumption.Record, error) {
	recID, err := id.ParseConsumptionID(m.ID)
	if err != nil {
		return nil, err
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, err
	}
	origID, err := id.ParseRollID(m.OriginalID)
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
			FilmType:      m.FilmType,
			NetWeight:     m.NetWeight,
			Supplier:      m.Supplier,
			PurchaseDate:  m.PurchaseDate,
			RollCreatedAt: m.RollCreatedAt,
		},
		ConsumedAt: m.ConsumedAt,
		ConsumedBy: m.ConsumedBy,
	}, nil
}

// ==================== Job models ====================

type jobModel struct {
	grove.BaseModel `grove:"table:stock_jobs"`

	ID        string          `grove:"id,pk"`
	Name      string          `grove:"name"`
	Materials json.RawMessage `grove:"materials,type:jsonb"`
	CreatedAt time.Time       `grove:"created_at"`
	UpdatedAt time.Time       `grove:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	materials, _ := json.Marshal(j.Materials) //nolint:errcheck // []string always marshals
	return &jobModel{
		ID:        j.ID.String(),
		Name:      j.Name,
		Materials: materials,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, err
	}
	var materials []string
	if len(m.Materials) > 0 {
		if err := json.Unmarshal(m.Materials, &materials); err != nil {
			return nil, err
		}
	}
	return &job.Job{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        jobID,
		Name:      m.Name,
		Materials: materials,
	}, nil
}

// ==================== Order models ====================

type orderModel struct {
	grove.BaseModel `grove:"table:stock_orders"`

	ID            string       `grove:"id,pk"`
	JobID         string       `grove:"job_id"`
	Status        string       `grove:"status"`
	PlanningIndex *int         `grove:"planning_index"`
	WeightMade    types.Weight `grove:"weight_made,type:numeric"`
	MetersMade    types.Weight `grove:"meters_made,type:numeric"`
	CompletedAt   *time.Time   `grove:"completed_at"`
	CreatedAt     time.Time    `grove:"created_at"`
	UpdatedAt     time.Time    `grove:"updated_at"`
}

func toOrderModel(o *order.Order) *orderModel {
	return &orderModel{
		ID:            o.ID.String(),
		JobID:         o.JobID.String(),
		Status:        string(o.Status),
		PlanningIndex: o.PlanningIndex,
		WeightMade:    o.WeightMade,
		MetersMade:    o.MetersMade,
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
	return &order.Order{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            orderID,
		JobID:         jobID,
		Status:        order.Status(m.Status),
		PlanningIndex: m.PlanningIndex,
		WeightMade:    m.WeightMade,
		MetersMade:    m.MetersMade,
		CompletedAt:   m.CompletedAt,
	}, nil
}

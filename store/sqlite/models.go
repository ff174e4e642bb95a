package sqlite

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/types"
)

// Weights are stored as decimal text so sums stay exact.

// timestampLayout is fixed-width so that text order is time order.
const timestampLayout = "2006-01-02 15:04:05.000000000"

// timestampParseLayouts also accepts text from SQLite's date functions and
// from time.Time.String.
var timestampParseLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
}

// timestamp is a time stored as UTC text in a DATETIME column. It scans
// both the text and the time.Time the driver yields for declared DATETIME
// columns.
type timestamp time.Time

func ts(t time.Time) timestamp { return timestamp(t) }

func (t timestamp) Time() time.Time { return time.Time(t) }

// Value implements driver.Valuer.
func (t timestamp) Value() (driver.Value, error) {
	return time.Time(t).UTC().Format(timestampLayout), nil
}

// Scan implements sql.Scanner.
func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = timestamp(v.UTC())
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		*t = timestamp(time.Time{})
		return nil
	}
	return fmt.Errorf("stockledger/sqlite: cannot scan %T into a timestamp", src)
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampParseLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = timestamp(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("stockledger/sqlite: unrecognised timestamp %q", s)
}

// tsPtr converts an optional time.
func tsPtr(t *time.Time) *timestamp {
	if t == nil {
		return nil
	}
	v := ts(*t)
	return &v
}

func timePtr(t *timestamp) *time.Time {
	if t == nil {
		return nil
	}
	v := t.Time()
	return &v
}

type rollModel struct {
	grove.BaseModel `grove:"table:stock_film_rolls"`

	ID            string       `grove:"id,pk"`
	FilmType      string       `grove:"film_type"`
	FilmTypeKey   string       `grove:"film_type_key"`
	NetWeight     types.Weight `grove:"net_weight"`
	CurrentWeight types.Weight `grove:"current_weight"`
	Supplier      string       `grove:"supplier"`
	PurchaseDate  timestamp    `grove:"purchase_date"`
	CreatedAt     timestamp    `grove:"created_at"`
	UpdatedAt     timestamp    `grove:"updated_at"`
}

func toRollModel(r *roll.FilmRoll) *rollModel {
	return &rollModel{
		ID:            r.ID.String(),
		FilmType:      r.FilmType,
		FilmTypeKey:   roll.FilmTypeKey(r.FilmType),
		NetWeight:     r.NetWeight,
		CurrentWeight: r.CurrentWeight,
		Supplier:      r.Supplier,
		PurchaseDate:  ts(r.PurchaseDate),
		CreatedAt:     ts(r.CreatedAt),
		UpdatedAt:     ts(r.UpdatedAt),
	}
}

func fromRollModel(m *rollModel) (*roll.FilmRoll, error) {
	rollID, err := id.ParseRollID(m.ID)
	if err != nil {
		return nil, err
	}
	return &roll.FilmRoll{
		Entity:        types.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
		ID:            rollID,
		FilmType:      m.FilmType,
		NetWeight:     m.NetWeight,
		CurrentWeight: m.CurrentWeight,
		Supplier:      m.Supplier,
		PurchaseDate:  m.PurchaseDate.Time(),
	}, nil
}

type recordModel struct {
	grove.BaseModel `grove:"table:stock_consumption_records"`

	JobID         string       `grove:"job_id,pk"`
	ID            string       `grove:"id,pk"`
	JobName       string       `grove:"job_name"`
	OriginalID    string       `grove:"original_id"`
	FilmType      string       `grove:"film_type"`
	FilmTypeKey   string       `grove:"film_type_key"`
	NetWeight     types.Weight `grove:"net_weight"`
	Supplier      string       `grove:"supplier"`
	PurchaseDate  timestamp    `grove:"purchase_date"`
	RollCreatedAt timestamp    `grove:"roll_created_at"`
	ConsumedAt    timestamp    `grove:"consumed_at"`
	ConsumedBy    string       `grove:"consumed_by"`
	CreatedAt     timestamp    `grove:"created_at"`
	UpdatedAt     timestamp    `grove:"updated_at"`
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
		Entity:  types.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
		ID:      recID,
		JobID:   jobID,
		JobName: m.JobName,
		Snapshot: consumption.Snapshot{
			OriginalID:    origID,
			FilmType:      m.FilmType,
			NetWeight:     m.NetWeight,
			Supplier:      m.Supplier,
			PurchaseDate:  m.PurchaseDate.Time(),
			RollCreatedAt: m.RollCreatedAt.Time(),
		},
		ConsumedAt: m.ConsumedAt.Time(),
		ConsumedBy: m.ConsumedBy,
	}, nil
}

type jobModel struct {
	grove.BaseModel `grove:"table:stock_jobs"`

	ID        string    `grove:"id,pk"`
	Name      string    `grove:"name"`
	Materials string    `grove:"materials"`
	CreatedAt timestamp `grove:"created_at"`
	UpdatedAt timestamp `grove:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	materials, _ := json.Marshal(j.Materials) //nolint:errcheck // []string always marshals
	return &jobModel{
		ID:        j.ID.String(),
		Name:      j.Name,
		Materials: string(materials),
		CreatedAt: ts(j.CreatedAt),
		UpdatedAt: ts(j.UpdatedAt),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, err
	}
	var materials []string
	if m.Materials != "" {
		if err := json.Unmarshal([]byte(m.Materials), &materials); err != nil {
			return nil, err
		}
	}
	return &job.Job{
		Entity:    types.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
		ID:        jobID,
		Name:      m.Name,
		Materials: materials,
	}, nil
}

type orderModel struct {
	grove.BaseModel `grove:"table:stock_orders"`

	ID            string       `grove:"id,pk"`
	JobID         string       `grove:"job_id"`
	Status        string       `grove:"status"`
	PlanningIndex *int         `grove:"planning_index"`
	WeightMade    types.Weight `grove:"weight_made"`
	MetersMade    types.Weight `grove:"meters_made"`
	CompletedAt   *timestamp   `grove:"completed_at"`
	CreatedAt     timestamp    `grove:"created_at"`
	UpdatedAt     timestamp    `grove:"updated_at"`
}

func toOrderModel(o *order.Order) *orderModel {
	return &orderModel{
		ID:            o.ID.String(),
		JobID:         o.JobID.String(),
		Status:        string(o.Status),
		PlanningIndex: o.PlanningIndex,
		WeightMade:    o.WeightMade,
		MetersMade:    o.MetersMade,
		CompletedAt:   tsPtr(o.CompletedAt),
		CreatedAt:     ts(o.CreatedAt),
		UpdatedAt:     ts(o.UpdatedAt),
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
		Entity:        types.Entity{CreatedAt: m.CreatedAt.Time(), UpdatedAt: m.UpdatedAt.Time()},
		ID:            orderID,
		JobID:         jobID,
		Status:        order.Status(m.Status),
		PlanningIndex: m.PlanningIndex,
		WeightMade:    m.WeightMade,
		MetersMade:    m.MetersMade,
		CompletedAt:   timePtr(m.CompletedAt),
	}, nil
}

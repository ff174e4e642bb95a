// Package order models work items and their position in the production
// queue.
package order

import (
	"fmt"
	"time"

	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/types"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// CompletedIndex is the planning index every completed order carries.
const CompletedIndex = -1

// Order is a work item referencing a job.
type Order struct {
	types.Entity
	ID     id.OrderID `json:"id"`
	JobID  id.JobID   `json:"job_id"`
	Status Status     `json:"status"`
	// PlanningIndex is nil while the order waits for an index, and
	// CompletedIndex once the order leaves the queue.
	PlanningIndex *int         `json:"planning_index,omitempty"`
	WeightMade    types.Weight `json:"weight_made"`
	MetersMade    types.Weight `json:"meters_made"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// Active reports whether the order is still in the queue.
func (o *Order) Active() bool { return o.Status == StatusActive }

// Sequenced reports whether the order is active and holds an index.
func (o *Order) Sequenced() bool {
	return o.Active() && o.PlanningIndex != nil && *o.PlanningIndex >= 0
}

// Index returns the planning index, or ok=false when none is defined.
func (o *Order) Index() (int, bool) {
	if o.PlanningIndex == nil {
		return 0, false
	}
	return *o.PlanningIndex, true
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	c := *o
	if o.PlanningIndex != nil {
		c.PlanningIndex = IndexPtr(*o.PlanningIndex)
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// IndexPtr returns a pointer to a copy of i.
func IndexPtr(i int) *int { return &i }

// Direction is the way an order moves in the queue.
type Direction string

const (
	// Up moves an order towards the front of the queue (lower index).
	Up Direction = "up"
	// Down moves an order towards the back of the queue (higher index).
	Down Direction = "down"
)

// ParseDirection parses "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Up, Down:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("order: invalid direction %q", s)
	}
}

// Completion carries the production results recorded when an order
// completes.
type Completion struct {
	At         time.Time
	WeightMade types.Weight
	MetersMade types.Weight
}

// Assignment gives one pending order its planning index.
type Assignment struct {
	OrderID id.OrderID
	Index   int
}

// Swap exchanges the indices of two adjacent active orders. Each side
// carries the index it is expected to hold when the swap is applied.
type Swap struct {
	A      id.OrderID
	IndexA int
	B      id.OrderID
	IndexB int
}

package order

import (
	"errors"
	"fmt"
	"slices"

	"github.com/xraph/stockledger/id"
)

var (
	// ErrNotQueued is returned when a reorder targets an order that is not
	// active or has no planning index yet.
	ErrNotQueued = errors.New("order: order is not sequenced")
	// ErrDuplicateIndex reports two active orders sharing an index.
	ErrDuplicateIndex = errors.New("order: duplicate planning index")
)

// Sort orders the queue: sequenced orders by ascending index, then pending
// orders by creation time (ties broken by ID), then completed orders.
func Sort(orders []*Order) {
	slices.SortStableFunc(orders, compare)
}

func rank(o *Order) int {
	switch {
	case o.Sequenced():
		return 0
	case o.Active():
		return 1
	default:
		return 2
	}
}

func compare(a, b *Order) int {
	if ra, rb := rank(a), rank(b); ra != rb {
		return ra - rb
	}
	if a.Sequenced() {
		return *a.PlanningIndex - *b.PlanningIndex
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return a.ID.Compare(b.ID)
}

// MaxIndex returns the highest planning index among active orders, or -1
// when no active order holds one.
func MaxIndex(orders []*Order) int {
	highest := -1
	for _, o := range orders {
		if o.Sequenced() && *o.PlanningIndex > highest {
			highest = *o.PlanningIndex
		}
	}
	return highest
}

// NextIndex is the index a newly enqueued order receives.
func NextIndex(orders []*Order) int {
	return MaxIndex(orders) + 1
}

// PlanBackfill assigns consecutive indices, continuing after the current
// maximum, to every active order that lacks one. Orders are numbered by
// creation time.
func PlanBackfill(orders []*Order) []Assignment {
	var pending []*Order
	for _, o := range orders {
		if o.Active() && !o.Sequenced() {
			pending = append(pending, o)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	Sort(pending)

	next := NextIndex(orders)
	out := make([]Assignment, len(pending))
	for i, o := range pending {
		out[i] = Assignment{OrderID: o.ID, Index: next + i}
	}
	return out
}

// PlanSwap finds the order adjacent to orderID in dir. ok is false when the
// order already sits at that end of the queue.
func PlanSwap(orders []*Order, orderID id.OrderID, dir Direction) (swap Swap, ok bool, err error) {
	queue := make([]*Order, 0, len(orders))
	pos := -1
	for _, o := range orders {
		if !o.Sequenced() {
			continue
		}
		queue = append(queue, o)
	}
	Sort(queue)
	for i, o := range queue {
		if o.ID.Equal(orderID) {
			pos = i
			break
		}
	}
	if pos < 0 {
		return Swap{}, false, fmt.Errorf("%w: %s", ErrNotQueued, orderID)
	}

	other := pos - 1
	if dir == Down {
		other = pos + 1
	}
	if other < 0 || other >= len(queue) {
		return Swap{}, false, nil
	}

	a, b := queue[pos], queue[other]
	return Swap{A: a.ID, IndexA: *a.PlanningIndex, B: b.ID, IndexB: *b.PlanningIndex}, true, nil
}

// Apply rewrites the indices of orders in place according to s. It
// reports whether both sides were found holding their expected index.
func (s Swap) Apply(orders []*Order) bool {
	var a, b *Order
	for _, o := range orders {
		switch {
		case o.ID.Equal(s.A):
			a = o
		case o.ID.Equal(s.B):
			b = o
		}
	}
	if a == nil || b == nil || !a.Sequenced() || !b.Sequenced() ||
		*a.PlanningIndex != s.IndexA || *b.PlanningIndex != s.IndexB {
		return false
	}
	a.PlanningIndex = IndexPtr(s.IndexB)
	b.PlanningIndex = IndexPtr(s.IndexA)
	return true
}

// CheckUnique verifies that no two active orders share a planning index.
func CheckUnique(orders []*Order) error {
	seen := make(map[int]id.OrderID, len(orders))
	for _, o := range orders {
		if !o.Sequenced() {
			continue
		}
		if prev, dup := seen[*o.PlanningIndex]; dup {
			return fmt.Errorf("%w: %d held by %s and %s", ErrDuplicateIndex, *o.PlanningIndex, prev, o.ID)
		}
		seen[*o.PlanningIndex] = o.ID
	}
	return nil
}

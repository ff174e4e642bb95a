package stockledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/stockledger"
	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/readiness"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/store/memory"
)

// stepClock advances one second on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newLedger(t *testing.T, opts ...stockledger.Option) *stockledger.Ledger {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)}
	base := []stockledger.Option{
		stockledger.WithClock(clock.Now),
		stockledger.WithBackfillInterval(0),
		stockledger.WithDefaultActor("test"),
	}
	l := stockledger.New(memory.New(), append(base, opts...)...)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func mustJob(t *testing.T, l *stockledger.Ledger, name string, materials ...string) *job.Job {
	t.Helper()
	j := &job.Job{Name: name, Materials: materials}
	if err := l.RegisterJob(context.Background(), j); err != nil {
		t.Fatalf("RegisterJob(%s): %v", name, err)
	}
	return j
}

func mustRoll(t *testing.T, l *stockledger.Ledger, filmType string, kg float64) *roll.FilmRoll {
	t.Helper()
	r := &roll.FilmRoll{
		FilmType:     filmType,
		NetWeight:    stockledger.Kg(kg),
		Supplier:     "Polifilm",
		PurchaseDate: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := l.AddRoll(context.Background(), r); err != nil {
		t.Fatalf("AddRoll(%s): %v", filmType, err)
	}
	return r
}

func mustOrder(t *testing.T, l *stockledger.Ledger, jobID id.JobID, enqueue bool) *order.Order {
	t.Helper()
	o := &order.Order{JobID: jobID}
	if err := l.CreateOrder(context.Background(), o, enqueue); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

// ──────────────────────────────────────────────────
// Inventory
// ──────────────────────────────────────────────────

func TestAddRoll(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	r := mustRoll(t, l, "PET", 52.4)
	if r.ID.Prefix() != id.PrefixRoll {
		t.Errorf("ID prefix = %q, want %q", r.ID.Prefix(), id.PrefixRoll)
	}
	if !r.CurrentWeight.Equal(r.NetWeight) {
		t.Errorf("CurrentWeight = %s, want NetWeight %s", r.CurrentWeight, r.NetWeight)
	}

	got, err := l.GetRoll(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRoll: %v", err)
	}
	if got.FilmType != "PET" || !got.NetWeight.Equal(stockledger.Kg(52.4)) {
		t.Errorf("stored roll = %+v", got)
	}
}

func TestAddRollRejectsInvalidInput(t *testing.T) {
	l := newLedger(t)

	tests := []struct {
		name string
		roll *roll.FilmRoll
	}{
		{"missing film type", &roll.FilmRoll{NetWeight: stockledger.Kg(10)}},
		{"zero weight", &roll.FilmRoll{FilmType: "PET"}},
		{"negative weight", &roll.FilmRoll{FilmType: "PET", NetWeight: stockledger.Kg(-1)}},
		{"foreign ID", &roll.FilmRoll{ID: id.NewJobID(), FilmType: "PET", NetWeight: stockledger.Kg(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.AddRoll(context.Background(), tt.roll)
			if !errors.Is(err, stockledger.ErrInvalidInput) {
				t.Errorf("AddRoll() = %v, want ErrInvalidInput", err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Consumption
// ──────────────────────────────────────────────────

func TestConsumeRoll(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run", "PET")
	r := mustRoll(t, l, "PET", 52.4)

	rec, err := l.ConsumeRoll(ctx, r.ID, j.ID, "operator-7")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}

	if _, err := l.GetRoll(ctx, r.ID); !errors.Is(err, stockledger.ErrRollNotFound) {
		t.Errorf("GetRoll after consume = %v, want ErrRollNotFound", err)
	}
	if !rec.Snapshot.Equal(consumption.SnapshotOf(r)) {
		t.Errorf("snapshot = %+v, want %+v", rec.Snapshot, consumption.SnapshotOf(r))
	}
	if rec.JobName != "Bag run" || rec.ConsumedBy != "operator-7" {
		t.Errorf("record = %+v", rec)
	}

	stored, err := l.GetRecord(ctx, rec.Key())
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !stored.Snapshot.Equal(rec.Snapshot) {
		t.Error("stored snapshot differs from returned snapshot")
	}
}

func TestConsumeRollIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run", "PET")
	r := mustRoll(t, l, "PET", 40)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ConsumeRoll(ctx, r.ID, j.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case stockledger.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != workers-1 {
		t.Errorf("wins=%d conflicts=%d, want 1 and %d", wins, conflicts, workers-1)
	}
	recs, err := l.ListRecords(ctx, consumption.ListOpts{JobID: j.ID})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestConsumeRollInvalidReferences(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")
	r := mustRoll(t, l, "PET", 10)

	if _, err := l.ConsumeRoll(ctx, r.ID, id.NewJobID(), ""); !stockledger.IsInvalidReference(err) {
		t.Errorf("unknown job: got %v, want ErrInvalidReference", err)
	}
	if _, err := l.ConsumeRoll(ctx, id.NewOrderID(), j.ID, ""); !stockledger.IsInvalidReference(err) {
		t.Errorf("foreign roll ID: got %v, want ErrInvalidReference", err)
	}
	if _, err := l.GetRoll(ctx, r.ID); err != nil {
		t.Errorf("roll should still be in stock: %v", err)
	}
}

func TestConsumeRollActor(t *testing.T) {
	ctx := context.Background()

	t.Run("context actor", func(t *testing.T) {
		l := newLedger(t)
		j := mustJob(t, l, "Bag run")
		r := mustRoll(t, l, "PET", 10)

		rec, err := l.ConsumeRoll(stockledger.WithActor(ctx, "night-shift"), r.ID, j.ID, "")
		if err != nil {
			t.Fatalf("ConsumeRoll: %v", err)
		}
		if rec.ConsumedBy != "night-shift" {
			t.Errorf("ConsumedBy = %q, want night-shift", rec.ConsumedBy)
		}
	})

	t.Run("no actor", func(t *testing.T) {
		l := newLedger(t, stockledger.WithDefaultActor(""))
		j := mustJob(t, l, "Bag run")
		r := mustRoll(t, l, "PET", 10)

		_, err := l.ConsumeRoll(ctx, r.ID, j.ID, "")
		var verr stockledger.ValidationError
		if !errors.As(err, &verr) || verr.Field != "actor" {
			t.Errorf("got %v, want actor ValidationError", err)
		}
	})
}

func TestRevertToStockRestoresRoll(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")
	r := mustRoll(t, l, "BOPP", 33.25)

	rec, err := l.ConsumeRoll(ctx, r.ID, j.ID, "")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	restored, err := l.RevertToStock(ctx, rec.Key())
	if err != nil {
		t.Fatalf("RevertToStock: %v", err)
	}

	if !consumption.SnapshotOf(restored).Equal(consumption.SnapshotOf(r)) {
		t.Errorf("restored = %+v, want %+v", restored, r)
	}
	if !restored.CurrentWeight.Equal(r.NetWeight) {
		t.Errorf("CurrentWeight = %s, want %s", restored.CurrentWeight, r.NetWeight)
	}
	if _, err := l.GetRoll(ctx, r.ID); err != nil {
		t.Errorf("GetRoll after revert: %v", err)
	}
	if _, err := l.GetRecord(ctx, rec.Key()); !errors.Is(err, stockledger.ErrRecordNotFound) {
		t.Errorf("GetRecord after revert = %v, want ErrRecordNotFound", err)
	}

	if _, err := l.RevertToStock(ctx, rec.Key()); !stockledger.IsNotFound(err) {
		t.Errorf("second revert = %v, want not found", err)
	}
}

func TestRevertThenConsumeAgain(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Pouch run", "PET")
	r := mustRoll(t, l, "PET", 48.2)

	first, err := l.ConsumeRoll(ctx, r.ID, j.ID, "anna")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	restored, err := l.RevertToStock(ctx, first.Key())
	if err != nil {
		t.Fatalf("RevertToStock: %v", err)
	}

	if !restored.ID.Equal(r.ID) ||
		restored.FilmType != r.FilmType ||
		!restored.NetWeight.Equal(r.NetWeight) ||
		restored.Supplier != r.Supplier ||
		!restored.PurchaseDate.Equal(r.PurchaseDate) ||
		!restored.CreatedAt.Equal(r.CreatedAt) {
		t.Fatalf("restored = %+v, want the fields of %+v", restored, r)
	}
	if !restored.InStock() || !restored.CurrentWeight.Equal(r.NetWeight) {
		t.Fatalf("restored roll not back in stock: current weight %s", restored.CurrentWeight)
	}
	inStock, err := l.ListRolls(ctx, roll.ListOpts{InStockOnly: true})
	if err != nil {
		t.Fatalf("ListRolls: %v", err)
	}
	if len(inStock) != 1 || !inStock[0].ID.Equal(r.ID) {
		t.Fatalf("in-stock rolls = %v, want only %s", inStock, r.ID)
	}

	second, err := l.ConsumeRoll(ctx, r.ID, j.ID, "anna")
	if err != nil {
		t.Fatalf("second ConsumeRoll: %v", err)
	}
	if !second.Snapshot.Equal(first.Snapshot) {
		t.Errorf("second snapshot = %+v, want %+v", second.Snapshot, first.Snapshot)
	}
	want := consumption.Snapshot{
		OriginalID:    r.ID,
		FilmType:      r.FilmType,
		NetWeight:     r.NetWeight,
		Supplier:      r.Supplier,
		PurchaseDate:  r.PurchaseDate,
		RollCreatedAt: r.CreatedAt,
	}
	if !second.Snapshot.Equal(want) {
		t.Errorf("second snapshot = %+v, want roll fields %+v", second.Snapshot, want)
	}
	if !second.JobID.Equal(j.ID) || second.ConsumedBy != "anna" {
		t.Errorf("second record = %+v", second)
	}
	if _, err := l.GetRoll(ctx, r.ID); !errors.Is(err, stockledger.ErrRollNotFound) {
		t.Errorf("GetRoll after second consume = %v, want ErrRollNotFound", err)
	}
}

func TestRevertToStockConflictsWithExistingRoll(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")
	r := mustRoll(t, l, "PET", 12)

	rec, err := l.ConsumeRoll(ctx, r.ID, j.ID, "")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	// The ID is taken again before the revert lands.
	if err := l.Store().CreateRoll(ctx, r); err != nil {
		t.Fatalf("CreateRoll: %v", err)
	}

	if _, err := l.RevertToStock(ctx, rec.Key()); !stockledger.IsConflict(err) {
		t.Fatalf("RevertToStock = %v, want conflict", err)
	}
	if _, err := l.GetRecord(ctx, rec.Key()); err != nil {
		t.Errorf("record must survive a failed revert: %v", err)
	}
}

func TestReassignOrReschedule(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	from := mustJob(t, l, "Bag run")
	to := mustJob(t, l, "Label run")
	r := mustRoll(t, l, "PET", 20)

	rec, err := l.ConsumeRoll(ctx, r.ID, from.ID, "")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	day := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

	t.Run("reschedule", func(t *testing.T) {
		got, err := l.ReassignOrReschedule(ctx, rec.Key(), day, from.ID)
		if err != nil {
			t.Fatalf("ReassignOrReschedule: %v", err)
		}
		if !got.ConsumedAt.Equal(day) || !got.JobID.Equal(from.ID) {
			t.Errorf("got %+v", got)
		}
		if !got.Snapshot.Equal(rec.Snapshot) || got.ConsumedBy != rec.ConsumedBy {
			t.Error("reschedule changed more than ConsumedAt")
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := l.ReassignOrReschedule(ctx, rec.Key(), day, id.NewJobID())
		if !stockledger.IsInvalidReference(err) {
			t.Fatalf("got %v, want ErrInvalidReference", err)
		}
		if _, err := l.GetRecord(ctx, rec.Key()); err != nil {
			t.Errorf("record must stay with its job: %v", err)
		}
	})

	t.Run("reassign", func(t *testing.T) {
		moved, err := l.ReassignOrReschedule(ctx, rec.Key(), day.Add(24*time.Hour), to.ID)
		if err != nil {
			t.Fatalf("ReassignOrReschedule: %v", err)
		}
		if !moved.JobID.Equal(to.ID) || moved.JobName != "Label run" || !moved.ID.Equal(rec.ID) {
			t.Errorf("moved = %+v", moved)
		}
		if !moved.Snapshot.Equal(rec.Snapshot) {
			t.Error("snapshot changed on reassign")
		}

		if _, err := l.GetRecord(ctx, rec.Key()); !errors.Is(err, stockledger.ErrRecordNotFound) {
			t.Errorf("old key = %v, want ErrRecordNotFound", err)
		}
		fromRecs, _ := l.ListRecords(ctx, consumption.ListOpts{JobID: from.ID})
		toRecs, _ := l.ListRecords(ctx, consumption.ListOpts{JobID: to.ID})
		if len(fromRecs) != 0 || len(toRecs) != 1 {
			t.Errorf("from=%d to=%d records, want 0 and 1", len(fromRecs), len(toRecs))
		}
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := l.ReassignOrReschedule(ctx, rec.Key(), day, from.ID)
		if !stockledger.IsNotFound(err) {
			t.Errorf("got %v, want not found", err)
		}
	})
}

// ──────────────────────────────────────────────────
// Order sequencing
// ──────────────────────────────────────────────────

func indexes(t *testing.T, l *stockledger.Ledger, orders ...*order.Order) []int {
	t.Helper()
	out := make([]int, len(orders))
	for i, o := range orders {
		got, err := l.GetOrder(context.Background(), o.ID)
		if err != nil {
			t.Fatalf("GetOrder: %v", err)
		}
		idx, ok := got.Index()
		if !ok {
			idx = -99
		}
		out[i] = idx
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateOrderEnqueue(t *testing.T) {
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")

	a := mustOrder(t, l, j.ID, true)
	b := mustOrder(t, l, j.ID, true)
	pending := mustOrder(t, l, j.ID, false)
	c := mustOrder(t, l, j.ID, true)

	if got := indexes(t, l, a, b, c); !equalInts(got, []int{0, 1, 2}) {
		t.Errorf("indexes = %v, want [0 1 2]", got)
	}
	if pending.PlanningIndex != nil {
		t.Errorf("pending order got index %d", *pending.PlanningIndex)
	}
	if *c.PlanningIndex != 2 {
		t.Errorf("returned index = %d, want 2", *c.PlanningIndex)
	}

	if err := l.CreateOrder(context.Background(), &order.Order{JobID: id.NewJobID()}, true); !stockledger.IsInvalidReference(err) {
		t.Errorf("unknown job = %v, want ErrInvalidReference", err)
	}
}

func TestCreateOrderConcurrentEnqueue(t *testing.T) {
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.CreateOrder(context.Background(), &order.Order{JobID: j.ID}, true)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("CreateOrder: %v", err)
		}
	}

	active, err := l.ListActiveOrders(context.Background())
	if err != nil {
		t.Fatalf("ListActiveOrders: %v", err)
	}
	if err := order.CheckUnique(active); err != nil {
		t.Error(err)
	}
	if len(active) != n {
		t.Errorf("got %d active orders, want %d", len(active), n)
	}
}

func TestReorder(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")
	a := mustOrder(t, l, j.ID, true)
	b := mustOrder(t, l, j.ID, true)
	c := mustOrder(t, l, j.ID, true)

	tests := []struct {
		name  string
		order *order.Order
		dir   order.Direction
		want  []int
	}{
		{"middle up", b, order.Up, []int{1, 0, 2}},
		{"first up is a no-op", b, order.Up, []int{1, 0, 2}},
		{"back down", b, order.Down, []int{0, 1, 2}},
		{"last down is a no-op", c, order.Down, []int{0, 1, 2}},
		{"last up", c, order.Up, []int{0, 2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.Reorder(ctx, tt.order.ID, tt.dir); err != nil {
				t.Fatalf("Reorder: %v", err)
			}
			if got := indexes(t, l, a, b, c); !equalInts(got, tt.want) {
				t.Errorf("indexes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReorderRejectsUnsequencedOrders(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")
	mustOrder(t, l, j.ID, true)
	pending := mustOrder(t, l, j.ID, false)
	done := mustOrder(t, l, j.ID, true)
	if _, err := l.CompleteOrder(ctx, done.ID, order.Completion{}); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	if err := l.Reorder(ctx, pending.ID, order.Up); !errors.Is(err, stockledger.ErrOrderNotQueued) {
		t.Errorf("pending: got %v, want ErrOrderNotQueued", err)
	}
	if err := l.Reorder(ctx, done.ID, order.Up); !stockledger.IsConflict(err) {
		t.Errorf("completed: got %v, want conflict", err)
	}
	if err := l.Reorder(ctx, id.NewOrderID(), order.Up); !stockledger.IsNotFound(err) {
		t.Errorf("missing: got %v, want not found", err)
	}
	if err := l.Reorder(ctx, pending.ID, order.Direction("sideways")); !errors.Is(err, stockledger.ErrInvalidInput) {
		t.Errorf("bad direction: got %v, want ErrInvalidInput", err)
	}
}

func TestBackfillPlanningIndexes(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")
	head := mustOrder(t, l, j.ID, true)
	first := mustOrder(t, l, j.ID, false)
	second := mustOrder(t, l, j.ID, false)

	n, err := l.BackfillPlanningIndexes(ctx)
	if err != nil {
		t.Fatalf("BackfillPlanningIndexes: %v", err)
	}
	if n != 2 {
		t.Errorf("assigned %d, want 2", n)
	}
	if got := indexes(t, l, head, first, second); !equalInts(got, []int{0, 1, 2}) {
		t.Errorf("indexes = %v, want [0 1 2]", got)
	}

	n, err = l.BackfillPlanningIndexes(ctx)
	if err != nil || n != 0 {
		t.Errorf("second pass = %d, %v; want 0, nil", n, err)
	}
}

func TestCompleteOrder(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")
	o := mustOrder(t, l, j.ID, true)

	done, err := l.CompleteOrder(ctx, o.ID, order.Completion{
		WeightMade: stockledger.Kg(118.5),
		MetersMade: stockledger.KgInt(2400),
	})
	if err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if done.Status != order.StatusCompleted || done.CompletedAt == nil {
		t.Errorf("completed order = %+v", done)
	}
	if idx := *done.PlanningIndex; idx != order.CompletedIndex {
		t.Errorf("PlanningIndex = %d, want %d", idx, order.CompletedIndex)
	}
	if !done.WeightMade.Equal(stockledger.Kg(118.5)) {
		t.Errorf("WeightMade = %s", done.WeightMade)
	}

	active, _ := l.ListActiveOrders(ctx)
	if len(active) != 0 {
		t.Errorf("completed order still in queue: %d active", len(active))
	}
	if _, err := l.CompleteOrder(ctx, o.ID, order.Completion{}); !errors.Is(err, stockledger.ErrOrderCompleted) {
		t.Errorf("second completion = %v, want ErrOrderCompleted", err)
	}

	// The next enqueued order ignores the completed sentinel.
	next := mustOrder(t, l, j.ID, true)
	if *next.PlanningIndex != 0 {
		t.Errorf("next index = %d, want 0", *next.PlanningIndex)
	}
}

func TestDeleteOrderKeepsGap(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Bag run")
	a := mustOrder(t, l, j.ID, true)
	b := mustOrder(t, l, j.ID, true)
	c := mustOrder(t, l, j.ID, true)

	if err := l.DeleteOrder(ctx, b.ID); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if got := indexes(t, l, a, c); !equalInts(got, []int{0, 2}) {
		t.Errorf("indexes = %v, want [0 2]", got)
	}
	if err := l.Reorder(ctx, c.ID, order.Up); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if got := indexes(t, l, a, c); !equalInts(got, []int{2, 0}) {
		t.Errorf("indexes after swap across gap = %v, want [2 0]", got)
	}
	if err := l.DeleteOrder(ctx, b.ID); !stockledger.IsNotFound(err) {
		t.Errorf("second delete = %v, want not found", err)
	}
}

// ──────────────────────────────────────────────────
// Readiness
// ──────────────────────────────────────────────────

func TestReadiness(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	j := mustJob(t, l, "Laminate", "PET", "pet", "BOPP")
	mustRoll(t, l, "PET", 10)
	mustRoll(t, l, "Pet", 15)

	report, err := l.Readiness(ctx, j.ID)
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if report.Ready {
		t.Error("job should not be ready without BOPP")
	}
	if missing := report.Missing(); len(missing) != 1 || missing[0] != "BOPP" {
		t.Errorf("Missing() = %v, want [BOPP]", missing)
	}
	if m := report.PerMaterial[1]; !m.InStock || m.RollCount != 2 || !m.TotalWeight.Equal(stockledger.KgInt(25)) {
		t.Errorf("pet entry = %+v", m)
	}

	mustRoll(t, l, "bopp", 8)
	report, err = l.Readiness(ctx, j.ID)
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if !report.Ready {
		t.Errorf("job should be ready, missing %v", report.Missing())
	}

	if _, err := l.Readiness(ctx, id.NewJobID()); !stockledger.IsInvalidReference(err) {
		t.Errorf("unknown job = %v, want ErrInvalidReference", err)
	}
}

func TestWatchReadiness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newLedger(t)
	j := mustJob(t, l, "Laminate", "PET")

	reports, err := l.WatchReadiness(ctx, j.ID)
	if err != nil {
		t.Fatalf("WatchReadiness: %v", err)
	}

	select {
	case r := <-reports:
		if r.Ready {
			t.Fatal("initial report should not be ready")
		}
	case <-time.After(time.Second):
		t.Fatal("no initial report")
	}

	r := mustRoll(t, l, "PET", 10)
	waitReady(t, reports, true)

	if _, err := l.ConsumeRoll(ctx, r.ID, j.ID, ""); err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	waitReady(t, reports, false)

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-reports:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("report channel not closed after cancel")
		}
	}
}

func waitReady(t *testing.T, reports <-chan readiness.Report, want bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case r := <-reports:
			if r.Ready == want {
				return
			}
		case <-deadline:
			t.Fatalf("no report with Ready=%v", want)
		}
	}
}

// ──────────────────────────────────────────────────
// Plugins
// ──────────────────────────────────────────────────

type recorder struct {
	mu        sync.Mutex
	consumed  []id.ConsumptionID
	conflicts []string
	reordered []order.Swap
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnRollConsumed(_ context.Context, rec *consumption.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed = append(r.consumed, rec.ID)
	return nil
}

func (r *recorder) OnConflict(_ context.Context, op string, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, op)
	return nil
}

func (r *recorder) OnOrderReordered(_ context.Context, swap order.Swap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reordered = append(r.reordered, swap)
	return nil
}

type rejectSupplier string

func (rejectSupplier) Name() string { return "supplier-blocklist" }

func (s rejectSupplier) ValidateRoll(_ context.Context, r *roll.FilmRoll) error {
	if r.Supplier == string(s) {
		return errors.New("supplier is blocked")
	}
	return nil
}

func TestPluginEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	l := newLedger(t, stockledger.WithPlugin(rec), stockledger.WithPlugin(rejectSupplier("Acme")))
	j := mustJob(t, l, "Bag run")
	r := mustRoll(t, l, "PET", 10)

	consumed, err := l.ConsumeRoll(ctx, r.ID, j.ID, "")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	if _, err := l.ConsumeRoll(ctx, r.ID, j.ID, ""); !stockledger.IsConflict(err) {
		t.Fatalf("second consume = %v, want conflict", err)
	}

	a := mustOrder(t, l, j.ID, true)
	mustOrder(t, l, j.ID, true)
	if err := l.Reorder(ctx, a.ID, order.Down); err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.consumed) != 1 || !rec.consumed[0].Equal(consumed.ID) {
		t.Errorf("consumed events = %v", rec.consumed)
	}
	if len(rec.conflicts) != 1 || rec.conflicts[0] != "ConsumeRoll" {
		t.Errorf("conflict events = %v", rec.conflicts)
	}
	if len(rec.reordered) != 1 || !rec.reordered[0].A.Equal(a.ID) {
		t.Errorf("reorder events = %+v", rec.reordered)
	}

	blocked := &roll.FilmRoll{FilmType: "PET", NetWeight: stockledger.Kg(5), Supplier: "Acme"}
	if err := l.AddRoll(ctx, blocked); !errors.Is(err, stockledger.ErrInvalidInput) {
		t.Errorf("blocked supplier = %v, want ErrInvalidInput", err)
	}
}

// ──────────────────────────────────────────────────
// Job references
// ──────────────────────────────────────────────────

func TestRemovedJobIsInvalidReference(t *testing.T) {
	tests := []struct {
		name string
		opts []stockledger.Option
	}{
		{"uncached", nil},
		{"cached", []stockledger.Option{stockledger.WithJobCacheTTL(time.Minute)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			bag := &job.Job{ID: id.NewJobID(), Name: "Bag run", Materials: []string{"PET"}}
			other := &job.Job{ID: id.NewJobID(), Name: "Label run", Materials: []string{"PE"}}
			dir := job.NewStaticDirectory(bag, other)
			l := newLedger(t, append(tt.opts, stockledger.WithJobDirectory(dir))...)

			used := mustRoll(t, l, "PET", 30)
			spare := mustRoll(t, l, "PET", 20)
			rec, err := l.ConsumeRoll(ctx, used.ID, bag.ID, "")
			if err != nil {
				t.Fatalf("ConsumeRoll: %v", err)
			}
			for _, j := range []*job.Job{bag, other} {
				if _, err := l.Readiness(ctx, j.ID); err != nil {
					t.Fatalf("Readiness(%s): %v", j.Name, err)
				}
			}

			dir.Remove(bag.ID)
			dir.Remove(other.ID)

			_, err = l.ConsumeRoll(ctx, spare.ID, bag.ID, "")
			if !stockledger.IsInvalidReference(err) {
				t.Errorf("ConsumeRoll into removed job = %v, want invalid reference", err)
			}
			if stockledger.IsNotFound(err) {
				t.Errorf("invalid reference also reported as not found: %v", err)
			}
			if _, err := l.ReassignOrReschedule(ctx, rec.Key(), time.Now(), other.ID); !stockledger.IsInvalidReference(err) {
				t.Errorf("reassign to removed job = %v, want invalid reference", err)
			}
			if _, err := l.Readiness(ctx, bag.ID); !stockledger.IsInvalidReference(err) {
				t.Errorf("Readiness of removed job = %v, want invalid reference", err)
			}
			if _, err := l.GetRoll(ctx, spare.ID); err != nil {
				t.Errorf("spare roll must stay in stock: %v", err)
			}
		})
	}
}

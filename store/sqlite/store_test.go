package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/stockledger"
	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/order"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/store/sqlite"
)

var purchased = time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	drv := sqlitedriver.New()
	dsn := "file:" + filepath.Join(t.TempDir(), "stock.db") + "?_pragma=busy_timeout(5000)"
	if err := drv.Open(ctx, dsn); err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		t.Fatalf("grove.Open: %v", err)
	}
	s := sqlite.New(db)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func newLedger(t *testing.T, s *sqlite.Store) *stockledger.Ledger {
	t.Helper()
	l := stockledger.New(s,
		stockledger.WithBackfillInterval(0),
		stockledger.WithDefaultActor("test"),
	)
	// Start migrates again; applied migrations are skipped.
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func addJob(t *testing.T, l *stockledger.Ledger, name string, materials ...string) *job.Job {
	t.Helper()
	j := &job.Job{Name: name, Materials: materials}
	if err := l.RegisterJob(context.Background(), j); err != nil {
		t.Fatalf("RegisterJob(%s): %v", name, err)
	}
	return j
}

func addRoll(t *testing.T, l *stockledger.Ledger, filmType string, kg float64) *roll.FilmRoll {
	t.Helper()
	r := &roll.FilmRoll{
		FilmType:     filmType,
		NetWeight:    stockledger.Kg(kg),
		Supplier:     "Polifilm",
		PurchaseDate: purchased,
	}
	if err := l.AddRoll(context.Background(), r); err != nil {
		t.Fatalf("AddRoll(%s): %v", filmType, err)
	}
	return r
}

func TestLedgerOverSQLite(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newStore(t))
	j := addJob(t, l, "Bag run", "PET", "PE")
	r := addRoll(t, l, "PET", 52.4)

	got, err := l.GetRoll(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRoll: %v", err)
	}
	if !consumption.SnapshotOf(got).Equal(consumption.SnapshotOf(r)) || !got.CurrentWeight.Equal(r.NetWeight) {
		t.Fatalf("stored roll = %+v, want %+v", got, r)
	}
	if !got.PurchaseDate.Equal(purchased) {
		t.Errorf("PurchaseDate = %s, want %s", got.PurchaseDate, purchased)
	}

	report, err := l.Readiness(ctx, j.ID)
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if report.Ready || len(report.Missing()) != 1 || report.Missing()[0] != "PE" {
		t.Errorf("report = %+v, want PE missing", report)
	}

	rec, err := l.ConsumeRoll(ctx, r.ID, j.ID, "anna")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	if !rec.Snapshot.Equal(consumption.SnapshotOf(r)) {
		t.Errorf("snapshot = %+v, want %+v", rec.Snapshot, consumption.SnapshotOf(r))
	}
	if _, err := l.GetRoll(ctx, r.ID); !errors.Is(err, stockledger.ErrRollNotFound) {
		t.Errorf("GetRoll after consume = %v, want ErrRollNotFound", err)
	}

	stored, err := l.GetRecord(ctx, rec.Key())
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !stored.Snapshot.Equal(rec.Snapshot) || !stored.ConsumedAt.Equal(rec.ConsumedAt) || stored.ConsumedBy != "anna" {
		t.Errorf("stored record = %+v, want %+v", stored, rec)
	}

	restored, err := l.RevertToStock(ctx, rec.Key())
	if err != nil {
		t.Fatalf("RevertToStock: %v", err)
	}
	if !consumption.SnapshotOf(restored).Equal(rec.Snapshot) || !restored.CurrentWeight.Equal(r.NetWeight) {
		t.Errorf("restored = %+v, want the snapshot back in stock", restored)
	}

	again, err := l.ConsumeRoll(ctx, r.ID, j.ID, "anna")
	if err != nil {
		t.Fatalf("ConsumeRoll after revert: %v", err)
	}
	if !again.Snapshot.Equal(rec.Snapshot) {
		t.Errorf("re-consumed snapshot = %+v, want %+v", again.Snapshot, rec.Snapshot)
	}
}

func TestConsumeRollIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newStore(t))
	j := addJob(t, l, "Bag run")
	r := addRoll(t, l, "PET", 20)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ConsumeRoll(ctx, r.ID, j.ID, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case !stockledger.IsConflict(err):
			t.Errorf("losing consume = %v, want conflict", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d consumes succeeded, want exactly 1", won)
	}

	records, err := l.ListRecords(ctx, consumption.ListOpts{OriginalID: r.ID})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records for the roll, want 1", len(records))
	}
}

func TestRevertConflictsWhenRollIDTaken(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := newLedger(t, s)
	j := addJob(t, l, "Bag run")
	r := addRoll(t, l, "PET", 12)

	rec, err := l.ConsumeRoll(ctx, r.ID, j.ID, "")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	if err := s.CreateRoll(ctx, r); err != nil {
		t.Fatalf("CreateRoll: %v", err)
	}

	if _, err := l.RevertToStock(ctx, rec.Key()); !stockledger.IsConflict(err) {
		t.Fatalf("RevertToStock = %v, want conflict", err)
	}
	if _, err := l.GetRecord(ctx, rec.Key()); err != nil {
		t.Errorf("record lost by failed revert: %v", err)
	}
	rolls, err := l.ListRolls(ctx, roll.ListOpts{})
	if err != nil {
		t.Fatalf("ListRolls: %v", err)
	}
	if len(rolls) != 1 {
		t.Errorf("got %d rolls, want 1", len(rolls))
	}
}

func TestReassignMovesRecordBetweenJobs(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newStore(t))
	from := addJob(t, l, "Bag run")
	to := addJob(t, l, "Label run")
	r := addRoll(t, l, "PET", 12)

	rec, err := l.ConsumeRoll(ctx, r.ID, from.ID, "")
	if err != nil {
		t.Fatalf("ConsumeRoll: %v", err)
	}
	when := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)
	moved, err := l.ReassignOrReschedule(ctx, rec.Key(), when, to.ID)
	if err != nil {
		t.Fatalf("ReassignOrReschedule: %v", err)
	}
	if !moved.JobID.Equal(to.ID) || moved.JobName != to.Name || !moved.ConsumedAt.Equal(when) {
		t.Errorf("moved = %+v", moved)
	}
	if _, err := l.GetRecord(ctx, rec.Key()); !errors.Is(err, stockledger.ErrRecordNotFound) {
		t.Errorf("old key = %v, want ErrRecordNotFound", err)
	}
	if _, err := l.GetRoll(ctx, r.ID); !errors.Is(err, stockledger.ErrRollNotFound) {
		t.Errorf("moving a record must not restore its roll: %v", err)
	}
}

func TestReorderSwapsIndexes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := newLedger(t, s)
	j := addJob(t, l, "Bag run")

	orders := make([]*order.Order, 3)
	for i := range orders {
		orders[i] = &order.Order{JobID: j.ID}
		if err := l.CreateOrder(ctx, orders[i], true); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		if got := *orders[i].PlanningIndex; got != i {
			t.Fatalf("order %d got index %d", i, got)
		}
	}

	if err := l.Reorder(ctx, orders[2].ID, order.Up); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	active, err := l.ListActiveOrders(ctx)
	if err != nil {
		t.Fatalf("ListActiveOrders: %v", err)
	}
	want := []id.OrderID{orders[0].ID, orders[2].ID, orders[1].ID}
	for i, o := range active {
		if !o.ID.Equal(want[i]) || *o.PlanningIndex != i {
			t.Errorf("position %d = %s@%d, want %s@%d", i, o.ID, *o.PlanningIndex, want[i], i)
		}
	}

	// A swap built from indexes that have since moved is refused whole.
	stale := order.Swap{A: orders[1].ID, IndexA: 1, B: orders[2].ID, IndexB: 2}
	err = s.SwapPlanningIndexes(ctx, stale, time.Now())
	if !stockledger.IsConflict(err) || !errors.Is(err, stockledger.ErrIndexMoved) {
		t.Fatalf("stale swap = %v, want conflict wrapping ErrIndexMoved", err)
	}
	after, err := l.ListActiveOrders(ctx)
	if err != nil {
		t.Fatalf("ListActiveOrders: %v", err)
	}
	for i, o := range after {
		if !o.ID.Equal(want[i]) || *o.PlanningIndex != i {
			t.Errorf("stale swap changed position %d to %s@%d", i, o.ID, *o.PlanningIndex)
		}
	}
}

func TestBackfillIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	l := newLedger(t, s)
	j := addJob(t, l, "Bag run")

	queued := &order.Order{JobID: j.ID}
	if err := l.CreateOrder(ctx, queued, true); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	pending := []*order.Order{{JobID: j.ID}, {JobID: j.ID}}
	for _, o := range pending {
		if err := l.CreateOrder(ctx, o, false); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}

	n, err := l.BackfillPlanningIndexes(ctx)
	if err != nil {
		t.Fatalf("BackfillPlanningIndexes: %v", err)
	}
	if n != 2 {
		t.Fatalf("assigned %d, want 2", n)
	}
	if n, err = l.BackfillPlanningIndexes(ctx); err != nil || n != 0 {
		t.Fatalf("second pass = %d, %v; want 0, nil", n, err)
	}

	active, err := l.ListActiveOrders(ctx)
	if err != nil {
		t.Fatalf("ListActiveOrders: %v", err)
	}
	if err := order.CheckUnique(active); err != nil {
		t.Error(err)
	}
	for i, o := range active {
		if o.PlanningIndex == nil || *o.PlanningIndex != i {
			t.Errorf("position %d has index %v", i, o.PlanningIndex)
		}
	}

	// Replaying a batch that already landed aborts without touching anything.
	replay := []order.Assignment{{OrderID: pending[0].ID, Index: 7}}
	if err := s.AssignPlanningIndexes(ctx, replay, time.Now()); !stockledger.IsConflict(err) {
		t.Fatalf("replayed assignment = %v, want conflict", err)
	}
	got, err := l.GetOrder(ctx, pending[0].ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if *got.PlanningIndex != 1 {
		t.Errorf("replay moved the order to %d", *got.PlanningIndex)
	}
}

func TestCompleteOrderOverSQLite(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newStore(t))
	j := addJob(t, l, "Bag run")
	o := &order.Order{JobID: j.ID}
	if err := l.CreateOrder(ctx, o, true); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	at := time.Date(2024, 6, 4, 18, 0, 0, 0, time.UTC)
	done, err := l.CompleteOrder(ctx, o.ID, order.Completion{At: at, WeightMade: stockledger.Kg(410.5)})
	if err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(at) || done.Status != order.StatusCompleted {
		t.Errorf("completed order = %+v", done)
	}
	if _, err := l.CompleteOrder(ctx, o.ID, order.Completion{At: at}); !stockledger.IsConflict(err) {
		t.Errorf("second completion = %v, want conflict", err)
	}
}

func TestFilmTypeFilterFoldsUnicode(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, newStore(t))
	addRoll(t, l, "ΣΑΚΟΣ", 5)
	addRoll(t, l, "PET", 5)

	rolls, err := l.ListRolls(ctx, roll.ListOpts{FilmType: "σακοσ"})
	if err != nil {
		t.Fatalf("ListRolls: %v", err)
	}
	if len(rolls) != 1 || rolls[0].FilmType != "ΣΑΚΟΣ" {
		t.Errorf("got %v, want the ΣΑΚΟΣ roll", rolls)
	}
}

func TestWatchRollsFollowsCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newLedger(t, newStore(t))

	snaps, err := l.WatchRolls(ctx, roll.ListOpts{InStockOnly: true})
	if err != nil {
		t.Fatalf("WatchRolls: %v", err)
	}
	if first := <-snaps; len(first) != 0 {
		t.Fatalf("initial snapshot has %d rolls", len(first))
	}

	addRoll(t, l, "PET", 5)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-snaps:
			if len(snap) == 1 {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot with the new roll")
		}
	}
}

package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/stockledger/consumption"
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/roll"
)

type countingPlugin struct {
	name string

	mu       sync.Mutex
	consumed int
}

func (p *countingPlugin) Name() string { return p.name }

func (p *countingPlugin) OnRollConsumed(context.Context, *consumption.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumed++
	return nil
}

func (p *countingPlugin) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumed
}

type failingPlugin struct{}

func (failingPlugin) Name() string { return "failing" }

func (failingPlugin) OnRollConsumed(context.Context, *consumption.Record) error {
	return errors.New("boom")
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnRollAdded(ctx context.Context, _ *roll.FilmRoll) error {
	<-ctx.Done()
	return ctx.Err()
}

type minWeightValidator struct{}

func (minWeightValidator) Name() string { return "min-weight" }

func (minWeightValidator) ValidateRoll(_ context.Context, r *roll.FilmRoll) error {
	if !r.NetWeight.IsPositive() {
		return errors.New("net weight must be positive")
	}
	return nil
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&countingPlugin{name: "a"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(&countingPlugin{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if got := r.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
}

func TestEmitSkipsFailingPlugins(t *testing.T) {
	r := NewRegistry()
	counter := &countingPlugin{name: "counter"}
	for _, p := range []Plugin{failingPlugin{}, counter} {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.Name(), err)
		}
	}

	rec := &consumption.Record{ID: id.NewConsumptionID(), JobID: id.NewJobID()}
	r.EmitRollConsumed(context.Background(), rec)
	r.EmitRollConsumed(context.Background(), rec)

	if got := counter.count(); got != 2 {
		t.Fatalf("consumed hook calls = %d, want 2", got)
	}
}

func TestEmitHonoursTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	if err := r.Register(slowPlugin{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	r.EmitRollAdded(ctx, &roll.FilmRoll{ID: id.NewRollID()})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("emit blocked for %s", elapsed)
	}
}

func TestValidateRoll(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(minWeightValidator{}); err != nil {
		t.Fatal(err)
	}

	err := r.ValidateRoll(context.Background(), &roll.FilmRoll{ID: id.NewRollID()})
	if err == nil {
		t.Fatal("expected zero-weight roll to be rejected")
	}
}

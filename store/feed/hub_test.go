package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishCoalesces(t *testing.T) {
	h := NewHub()
	signals, cancel := h.Subscribe(Rolls)
	defer cancel()

	h.Publish(Rolls)
	h.Publish(Rolls)
	h.Publish(Orders)

	select {
	case <-signals:
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-signals:
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe(Records)
	if h.Subscribers(Records) != 1 {
		t.Fatal("expected one subscriber")
	}
	cancel()
	if h.Subscribers(Records) != 0 {
		t.Error("expected no subscribers after cancel")
	}
}

func TestWatchEmitsCurrentThenChanges(t *testing.T) {
	h := NewHub()
	var version atomic.Int64
	query := func(context.Context) ([]int64, error) {
		return []int64{version.Load()}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Watch(ctx, h, Orders, nil, query)
	if err != nil {
		t.Fatal(err)
	}
	if got := <-ch; got[0] != 0 {
		t.Fatalf("first snapshot = %v, want [0]", got)
	}

	version.Store(7)
	h.Publish(Orders)
	select {
	case got := <-ch:
		if got[0] != 7 {
			t.Errorf("snapshot = %v, want [7]", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after publish")
	}

	cancel()
	for range ch {
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(Orders) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription leaked after cancel")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatchReturnsInitialError(t *testing.T) {
	h := NewHub()
	boom := errors.New("boom")
	_, err := Watch(context.Background(), h, Rolls, nil, func(context.Context) ([]int, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if h.Subscribers(Rolls) != 0 {
		t.Error("failed watch must not leave a subscription")
	}
}

func TestOfferKeepsLatest(t *testing.T) {
	ch := make(chan int, 1)
	Offer(ch, 1)
	Offer(ch, 2)
	if got := <-ch; got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

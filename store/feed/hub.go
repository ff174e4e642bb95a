// Package feed fans committed changes out to live queries.
//
// Backends without a native change stream call Hub.Publish after every
// commit; Watch turns those signals into conflating snapshot channels by
// re-running the watcher's query.
package feed

import (
	"context"
	"log/slog"
	"sync"
)

// Topic names a document set.
type Topic string

const (
	Rolls   Topic = "rolls"
	Records Topic = "records"
	Orders  Topic = "orders"
)

// Hub tracks subscribers per topic.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic]map[uint64]chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[Topic]map[uint64]chan struct{})}
}

// Subscribe registers interest in topic. The returned channel receives a
// signal after each publish, coalesced while the subscriber is busy.
func (h *Hub) Subscribe(topic Topic) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	subID := h.nextID
	ch := make(chan struct{}, 1)
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]chan struct{})
	}
	h.subs[topic][subID] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[topic], subID)
	}
}

// Publish signals every subscriber of the given topics.
func (h *Hub) Publish(topics ...Topic) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range topics {
		for _, ch := range h.subs[t] {
			select {
			case ch <- struct{}{}:
			default:
				// A signal is already pending.
			}
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Watch emits query's result now and again after every publish on topic,
// until ctx ends. The first query runs synchronously so that its error is
// returned to the caller; later failures are logged and the previous
// snapshot stays current.
func Watch[T any](ctx context.Context, h *Hub, topic Topic, logger *slog.Logger, query func(context.Context) ([]T, error)) (<-chan []T, error) {
	signals, cancel := h.Subscribe(topic)

	first, err := query(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan []T, 1)
	out <- first

	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
			}
			snap, qerr := query(ctx)
			if qerr != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Error("feed: re-query failed", "topic", string(topic), "error", qerr)
				}
				continue
			}
			Offer(out, snap)
		}
	}()
	return out, nil
}

// Offer replaces any unread value in ch with v. ch must have capacity one
// and a single sender.
func Offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

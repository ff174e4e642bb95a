// Package lock serializes order creation across processes that share one
// store.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotObtained is returned when a lock is held elsewhere for longer than
// the caller is willing to wait.
var ErrNotObtained = errors.New("lock: not obtained")

// Locker obtains named, expiring locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Local is a Locker for a single process. Keys are independent; ttl is
// ignored because the holder always releases.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocal returns an in-process Locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

// Obtain blocks until key is free or ctx ends.
func (l *Local) Obtain(ctx context.Context, key string, _ time.Duration) (Lock, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return &localLock{owner: l, key: key, done: done}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotObtained, ctx.Err())
		case <-wait:
		}
	}
}

type localLock struct {
	owner *Local
	key   string
	done  chan struct{}
	once  sync.Once
}

func (k *localLock) Release(context.Context) error {
	k.once.Do(func() {
		k.owner.mu.Lock()
		delete(k.owner.held, k.key)
		k.owner.mu.Unlock()
		close(k.done)
	})
	return nil
}

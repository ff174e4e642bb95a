// Package redis implements lock.Locker on Redis through bsm/redislock.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/stockledger/lock"
)

var _ lock.Locker = (*Locker)(nil)

// Locker obtains locks stored in Redis.
type Locker struct {
	client  *redislock.Client
	prefix  string
	backoff time.Duration
	retries int
}

// Option configures a Locker.
type Option func(*Locker)

// WithPrefix namespaces every key. Defaults to "stockledger:lock:".
func WithPrefix(p string) Option {
	return func(l *Locker) { l.prefix = p }
}

// WithRetry sets the linear backoff between attempts and the number of
// retries after the first attempt.
func WithRetry(backoff time.Duration, retries int) Option {
	return func(l *Locker) {
		l.backoff = backoff
		l.retries = retries
	}
}

// New wraps an existing go-redis client.
func New(client goredis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:  redislock.New(client),
		prefix:  "stockledger:lock:",
		backoff: 50 * time.Millisecond,
		retries: 40,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr string, opts ...Option) (*Locker, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis lock: ping %s: %w", addr, err)
	}
	return New(rdb, opts...), nil
}

// Obtain takes key for ttl, retrying with linear backoff while it is held
// elsewhere.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	strategy := redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries)
	held, err := l.client.Obtain(ctx, l.prefix+key, ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", lock.ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis lock: obtain %s: %w", key, err)
	}
	return releaser{held}, nil
}

type releaser struct{ l *redislock.Lock }

func (r releaser) Release(ctx context.Context) error {
	err := r.l.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// Expired before release; nothing left to free.
		return nil
	}
	return err
}

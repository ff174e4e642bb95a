package postgres

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/stockledger/store/feed"
)

// changeChannel is the NOTIFY channel the statement triggers installed by
// Migrations publish on. The payload is a feed topic name.
const changeChannel = "stockledger_changes"

const relistenDelay = time.Second

var allTopics = []feed.Topic{feed.Rolls, feed.Records, feed.Orders}

// listener relays NOTIFY payloads from changeChannel into a hub, so live
// views wake on commits made by any client of the database.
//
// It holds its own pgx connection: LISTEN and WaitForNotification must run
// on one connection, and a pooled grove connection cannot be shared with a
// goroutine blocked in WaitForNotification.
type listener struct {
	dsn    string
	hub    *feed.Hub
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// start launches the relay once. Later calls are no-ops.
func (l *listener) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx)
}

// stop ends the relay and waits for its connection to close.
func (l *listener) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *listener) run(ctx context.Context) {
	defer close(l.done)
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("stockledger/postgres: change listener dropped; reconnecting",
			"channel", changeChannel, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(relistenDelay):
		}
	}
}

// listen serves one connection until it fails or ctx ends.
func (l *listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background()) //nolint:errcheck // connection is discarded either way

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return err
	}
	// Commits made before LISTEN took effect were not announced.
	l.hub.Publish(allTopics...)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.hub.Publish(feed.Topic(n.Payload))
	}
}

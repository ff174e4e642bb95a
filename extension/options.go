package extension

import (
	"time"

	"github.com/xraph/stockledger"
	"github.com/xraph/stockledger/plugin"
	"github.com/xraph/stockledger/store"
)

// Option configures the stock ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a stockledger.Option through to the underlying engine.
func WithLedgerOption(opt stockledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, stockledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithDefaultActor sets the fallback operator name.
func WithDefaultActor(actor string) Option {
	return func(e *Extension) { e.config.DefaultActor = actor }
}

// WithBackfillInterval sets how often pending orders are enqueued.
func WithBackfillInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.BackfillInterval = d }
}

// WithJobCacheTTL sets the job lookup cache duration.
func WithJobCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.JobCacheTTL = d }
}

// WithRedisLock serializes order sequencing through the Redis at addr.
func WithRedisLock(addr string, ttl time.Duration) Option {
	return func(e *Extension) {
		e.config.RedisAddr = addr
		e.config.LockTTL = ttl
	}
}

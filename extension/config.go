package extension

import "time"

// Config holds the stock ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.stockledger" or "stockledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DefaultActor is recorded as ConsumedBy when neither the command nor
	// its context names an operator.
	DefaultActor string `json:"default_actor" mapstructure:"default_actor" yaml:"default_actor"`

	// BackfillInterval is how often pending orders are given a planning
	// index (default: 30s). A negative value disables the worker.
	BackfillInterval time.Duration `json:"backfill_interval" mapstructure:"backfill_interval" yaml:"backfill_interval"`

	// JobCacheTTL controls how long job lookups are cached in-process.
	// The cache is off by default; zero or a negative value keeps it off.
	JobCacheTTL time.Duration `json:"job_cache_ttl" mapstructure:"job_cache_ttl" yaml:"job_cache_ttl"`

	// CreateRetries is how often an enqueueing CreateOrder is retried after
	// losing an index collision (default: 3).
	CreateRetries int `json:"create_retries" mapstructure:"create_retries" yaml:"create_retries"`

	// RedisAddr enables the Redis-backed order lock when set, serializing
	// index-assigning commands across processes.
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`

	// LockTTL bounds how long the order lock is held (default: 10s).
	LockTTL time.Duration `json:"lock_ttl" mapstructure:"lock_ttl" yaml:"lock_ttl"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BackfillInterval: 30 * time.Second,
		CreateRetries:    3,
		LockTTL:          10 * time.Second,
	}
}

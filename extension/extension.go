// Package extension provides the Forge extension adapter for the stock
// ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.stockledger" or
// "stockledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/stockledger"
	redislock "github.com/xraph/stockledger/lock/redis"
	"github.com/xraph/stockledger/store"
	"github.com/xraph/stockledger/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "stockledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Film roll inventory and production queue ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

const redisDialTimeout = 5 * time.Second

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the stock ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *stockledger.Ledger
	store      store.Store
	ledgerOpts []stockledger.Option
}

// New creates a new stock ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *stockledger.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts, err := e.buildLedgerOpts()
	if err != nil {
		return err
	}

	e.engine = stockledger.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*stockledger.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("stockledger: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("stockledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs stockledger.Option values from the resolved
// config. Negative durations switch the corresponding feature off.
func (e *Extension) buildLedgerOpts() ([]stockledger.Option, error) {
	opts := make([]stockledger.Option, 0, len(e.ledgerOpts)+6)

	if e.config.DisableMigrate {
		opts = append(opts, stockledger.WithoutMigrate())
	}
	if e.config.DefaultActor != "" {
		opts = append(opts, stockledger.WithDefaultActor(e.config.DefaultActor))
	}
	opts = append(opts,
		stockledger.WithBackfillInterval(max(0, e.config.BackfillInterval)),
		stockledger.WithJobCacheTTL(max(0, e.config.JobCacheTTL)),
		stockledger.WithCreateRetries(e.config.CreateRetries),
	)

	if e.config.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
		defer cancel()
		locker, err := redislock.Dial(ctx, e.config.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("stockledger: order lock: %w", err)
		}
		opts = append(opts, stockledger.WithLocker(locker, e.config.LockTTL))
		e.Logger().Info("stockledger: redis order lock enabled",
			forge.F("addr", e.config.RedisAddr),
			forge.F("lock_ttl", e.config.LockTTL),
		)
	}

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("stockledger: configuration is required but not found in config files; " +
				"ensure 'extensions.stockledger' or 'stockledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("stockledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("default_actor", e.config.DefaultActor),
		forge.F("backfill_interval", e.config.BackfillInterval),
		forge.F("job_cache_ttl", e.config.JobCacheTTL),
		forge.F("create_retries", e.config.CreateRetries),
		forge.F("redis_lock", e.config.RedisAddr != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.stockledger", "stockledger"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("stockledger: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("stockledger: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BackfillInterval == 0 {
		cfg.BackfillInterval = defaults.BackfillInterval
	}
	if cfg.CreateRetries == 0 {
		cfg.CreateRetries = defaults.CreateRetries
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.DefaultActor == "" {
		yamlConfig.DefaultActor = programmaticConfig.DefaultActor
	}
	if yamlConfig.RedisAddr == "" {
		yamlConfig.RedisAddr = programmaticConfig.RedisAddr
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.BackfillInterval == 0 {
		yamlConfig.BackfillInterval = programmaticConfig.BackfillInterval
	}
	if yamlConfig.JobCacheTTL == 0 {
		yamlConfig.JobCacheTTL = programmaticConfig.JobCacheTTL
	}
	if yamlConfig.CreateRetries == 0 {
		yamlConfig.CreateRetries = programmaticConfig.CreateRetries
	}
	if yamlConfig.LockTTL == 0 {
		yamlConfig.LockTTL = programmaticConfig.LockTTL
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}

package stockledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/lock"
	"github.com/xraph/stockledger/plugin"
	"github.com/xraph/stockledger/store"
)

// TracerName is the instrumentation scope of the ledger's spans.
const TracerName = "github.com/xraph/stockledger"

// Default configuration values. The job cache is off unless asked for, so
// every command resolves its job against the directory as it is now.
const (
	DefaultJobCacheTTL      = time.Duration(0)
	DefaultBackfillInterval = 30 * time.Second
	DefaultCreateRetries    = 3
	DefaultLockTTL          = 10 * time.Second
)

const orderLockKey = "orders:sequence"

// Ledger is the stock consumption engine.
type Ledger struct {
	store   store.Store
	jobs    job.Directory
	cache   *job.CachedDirectory
	plugins *plugin.Registry
	logger  *slog.Logger
	tracer  trace.Tracer
	valid   *validator.Validate
	locker  lock.Locker
	now     func() time.Time

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	defaultActor     string
	jobCacheTTL      time.Duration
	backfillInterval time.Duration
	createRetries    int
	lockTTL          time.Duration
	skipMigrate      bool
}

// New creates a new Ledger instance. Without WithJobDirectory, jobs are
// resolved from the store itself.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		tracer:           otel.Tracer(TracerName),
		valid:            validator.New(validator.WithRequiredStructEnabled()),
		now:              time.Now,
		stopChan:         make(chan struct{}),
		jobCacheTTL:      DefaultJobCacheTTL,
		backfillInterval: DefaultBackfillInterval,
		createRetries:    DefaultCreateRetries,
		lockTTL:          DefaultLockTTL,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.jobs == nil {
		l.jobs = store.Jobs(s)
	}
	if l.jobCacheTTL > 0 {
		l.cache = job.NewCachedDirectory(l.jobs, l.jobCacheTTL)
		if n, ok := l.jobs.(job.Notifier); ok {
			n.OnChange(l.cache.Invalidate)
		}
		l.jobs = l.cache
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithJobDirectory sets the job set that consumption and order commands
// validate against.
func WithJobDirectory(d job.Directory) Option {
	return func(l *Ledger) {
		l.jobs = d
	}
}

// WithJobCacheTTL sets how long resolved jobs are cached. Zero, the
// default, disables the cache. With a cache, a job dropped from a directory
// that is not a job.Notifier keeps resolving until its entry expires.
func WithJobCacheTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		l.jobCacheTTL = ttl
	}
}

// WithDefaultActor sets the actor recorded as ConsumedBy when neither the
// call nor its context names one.
func WithDefaultActor(actor string) Option {
	return func(l *Ledger) {
		l.defaultActor = actor
	}
}

// WithBackfillInterval sets how often pending orders are given a planning
// index. Zero disables the background pass.
func WithBackfillInterval(d time.Duration) Option {
	return func(l *Ledger) {
		l.backfillInterval = d
	}
}

// WithCreateRetries sets how many times order creation is retried after
// losing an index collision.
func WithCreateRetries(n int) Option {
	return func(l *Ledger) {
		l.createRetries = max(0, n)
	}
}

// WithLocker serializes index-assigning commands across processes.
func WithLocker(locker lock.Locker, ttl time.Duration) Option {
	return func(l *Ledger) {
		l.locker = locker
		if ttl > 0 {
			l.lockTTL = ttl
		}
	}
}

// WithoutMigrate makes Start skip store migration.
func WithoutMigrate() Option {
	return func(l *Ledger) {
		l.skipMigrate = true
	}
}

// WithTracer sets the tracer used for command spans.
func WithTracer(t trace.Tracer) Option {
	return func(l *Ledger) {
		l.tracer = t
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Start migrates the store and begins background workers.
func (l *Ledger) Start(ctx context.Context) error {
	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return fmt.Errorf("stockledger: migrate: %w", err)
		}
	}

	l.plugins.EmitInit(ctx, l)

	if l.backfillInterval > 0 {
		l.wg.Add(1)
		go l.backfillWorker(context.WithoutCancel(ctx))
	}

	l.logger.Info("stockledger started",
		"backfill_interval", l.backfillInterval,
		"job_cache_ttl", l.jobCacheTTL,
		"create_retries", l.createRetries,
		"distributed_lock", l.locker != nil,
	)
	return nil
}

// Stop shuts down background workers and closes the store.
func (l *Ledger) Stop() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	l.plugins.EmitShutdown(context.Background())

	return l.store.Close()
}

// backfillWorker gives pending orders a planning index on every tick.
func (l *Ledger) backfillWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.backfillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			n, err := l.BackfillPlanningIndexes(ctx)
			switch {
			case IsConflict(err):
				l.logger.Debug("backfill lost a race; retrying next tick", "error", err)
			case err != nil:
				l.logger.Error("backfill failed", "error", err)
			case n > 0:
				l.logger.Debug("backfilled planning indexes", "assigned", n)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (l *Ledger) clock() time.Time { return l.now().UTC() }

// span starts a command span. The returned function ends it, records err
// and reports conflicts to plugins.
func (l *Ledger) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error) error) {
	ctx, sp := l.tracer.Start(ctx, "stockledger."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) error {
		defer sp.End()
		if err == nil {
			return nil
		}
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
		if IsConflict(err) {
			l.plugins.EmitConflict(ctx, op, err)
		}
		l.logger.Debug("stockledger command failed", "op", op, "error", err)
		return err
	}
}

// checkRef rejects a nil ID or one minted for another entity type.
func checkRef(field string, ref id.ID, want id.Prefix, notFound error) error {
	if ref.IsNil() || ref.Prefix() != want {
		return InvalidReference(fmt.Errorf("%w: %s %q", notFound, field, ref.String()))
	}
	return nil
}

// resolveJob looks up jobID in the job set. Unknown jobs are invalid
// references.
func (l *Ledger) resolveJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	if err := checkRef("job", jobID, id.PrefixJob, ErrJobNotFound); err != nil {
		return nil, err
	}
	j, err := l.jobs.Lookup(ctx, jobID)
	switch {
	case err == nil:
		return j, nil
	case errors.Is(err, job.ErrUnknown), errors.Is(err, ErrJobNotFound):
		return nil, InvalidReference(fmt.Errorf("%w: %s", ErrJobNotFound, jobID))
	default:
		return nil, fmt.Errorf("stockledger: resolve job %s: %w", jobID, err)
	}
}

// validate runs struct-tag validation and converts failures into
// ValidationError values.
func (l *Ledger) validate(v any) error {
	err := l.valid.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	var multi MultiError
	for _, fe := range fields {
		multi.Add(ValidationError{Field: fe.Field(), Message: "failed " + fe.Tag() + " check"})
	}
	if len(multi.Errors) == 1 {
		return multi.First()
	}
	return multi
}

// withOrderLock runs fn under the distributed sequencing lock when one is
// configured.
func (l *Ledger) withOrderLock(ctx context.Context, fn func() error) error {
	if l.locker == nil {
		return fn()
	}
	held, err := l.locker.Obtain(ctx, orderLockKey, l.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return fmt.Errorf("%w: %w", ErrLockNotObtained, err)
	}
	if err != nil {
		return err
	}
	defer func() {
		if rerr := held.Release(context.WithoutCancel(ctx)); rerr != nil {
			l.logger.Warn("failed to release sequencing lock", "error", rerr)
		}
	}()
	return fn()
}

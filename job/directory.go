package job

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/xraph/stockledger/id"
)

// ErrUnknown is returned by a Directory for an ID it cannot resolve.
var ErrUnknown = errors.New("job: unknown job")

var _ Notifier = (*StaticDirectory)(nil)

// Directory resolves job IDs to jobs. It is the caller-supplied job set the
// ledger validates references against.
type Directory interface {
	Lookup(ctx context.Context, jobID id.JobID) (*Job, error)
}

// Store persists jobs for deployments where the ledger's own store also
// holds the job set.
type Store interface {
	Directory
	Create(ctx context.Context, j *Job) error
	List(ctx context.Context) ([]*Job, error)
}

// Notifier is implemented by directories that report changes to their job
// set. The ledger uses it to drop cached jobs as soon as they change.
type Notifier interface {
	OnChange(fn func(jobID id.JobID))
}

// DirectoryFunc adapts a function to a Directory.
type DirectoryFunc func(ctx context.Context, jobID id.JobID) (*Job, error)

// Lookup implements Directory.
func (f DirectoryFunc) Lookup(ctx context.Context, jobID id.JobID) (*Job, error) {
	return f(ctx, jobID)
}

// ──────────────────────────────────────────────────
// Static directory
// ──────────────────────────────────────────────────

// StaticDirectory is an in-memory job set, typically loaded from the
// tracker's job list.
type StaticDirectory struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	listeners []func(id.JobID)
}

// NewStaticDirectory returns a directory holding jobs.
func NewStaticDirectory(jobs ...*Job) *StaticDirectory {
	d := &StaticDirectory{jobs: make(map[string]*Job, len(jobs))}
	for _, j := range jobs {
		d.Put(j)
	}
	return d
}

// Put adds or replaces a job.
func (d *StaticDirectory) Put(j *Job) {
	d.mu.Lock()
	d.jobs[j.ID.String()] = j.Clone()
	listeners := d.listeners
	d.mu.Unlock()
	notify(listeners, j.ID)
}

// Remove drops a job from the set.
func (d *StaticDirectory) Remove(jobID id.JobID) {
	d.mu.Lock()
	delete(d.jobs, jobID.String())
	listeners := d.listeners
	d.mu.Unlock()
	notify(listeners, jobID)
}

// OnChange implements Notifier. fn runs after every Put and Remove.
func (d *StaticDirectory) OnChange(fn func(jobID id.JobID)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func notify(listeners []func(id.JobID), jobID id.JobID) {
	for _, fn := range listeners {
		fn(jobID)
	}
}

// Lookup implements Directory.
func (d *StaticDirectory) Lookup(_ context.Context, jobID id.JobID) (*Job, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if j, ok := d.jobs[jobID.String()]; ok {
		return j.Clone(), nil
	}
	return nil, ErrUnknown
}

// ──────────────────────────────────────────────────
// Cached directory
// ──────────────────────────────────────────────────

// CachedDirectory memoises successful lookups of another Directory for a
// fixed TTL. Misses are never cached so a newly created job resolves
// immediately.
type CachedDirectory struct {
	next  Directory
	cache *gocache.Cache
}

// NewCachedDirectory wraps next with a TTL cache.
func NewCachedDirectory(next Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Lookup implements Directory.
func (d *CachedDirectory) Lookup(ctx context.Context, jobID id.JobID) (*Job, error) {
	key := jobID.String()
	if v, ok := d.cache.Get(key); ok {
		if j, ok := v.(*Job); ok {
			return j.Clone(), nil
		}
	}

	j, err := d.next.Lookup(ctx, jobID)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, j.Clone())
	return j, nil
}

// Invalidate forgets a cached job, e.g. after its materials changed.
func (d *CachedDirectory) Invalidate(jobID id.JobID) {
	d.cache.Delete(jobID.String())
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/illenko/relicwatch/cache"
	"github.com/illenko/relicwatch/metrics"
	"github.com/illenko/relicwatch/models"
)

// Collector fetches raw per-domain entities. An empty domain list means all domains.
type Collector interface {
	Collect(ctx context.Context, domains []models.Domain) (*models.CollectResult, error)
}

// RunRecorder persists refresh attempts.
type RunRecorder interface {
	Create(ctx context.Context, run models.RefreshRun) error
}

// AfterRefreshFunc runs after a successful refresh has been published and persisted.
// The snapshot is persisted again once every hook has run.
type AfterRefreshFunc func(ctx context.Context, snap *models.Snapshot)

type CoordinatorConfig struct {
	// Timeout bounds a single collection.
	Timeout      time.Duration
	Runs         RunRecorder
	Metrics      *metrics.Metrics
	AfterRefresh []AfterRefreshFunc
}

// Coordinator runs refresh cycles one at a time.
type Coordinator struct {
	collector Collector
	store     *cache.Store
	lock      *semaphore.Weighted
	timeout   time.Duration
	runs      RunRecorder
	metrics   *metrics.Metrics
	hooks     []AfterRefreshFunc

	mu     sync.RWMutex
	state  models.RefreshState
	logger *slog.Logger
}

func NewCoordinator(collector Collector, store *cache.Store, cfg CoordinatorConfig) *Coordinator {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Coordinator{
		collector: collector,
		store:     store,
		lock:      semaphore.NewWeighted(1),
		timeout:   cfg.Timeout,
		runs:      cfg.Runs,
		metrics:   cfg.Metrics,
		hooks:     cfg.AfterRefresh,
		logger:    slog.Default().With("component", "refresh"),
	}
}

// OnRefresh adds a hook run after every successful refresh.
func (c *Coordinator) OnRefresh(fn AfterRefreshFunc) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Refresh runs a full refresh and reports whether a new snapshot was published.
// A non-forced call returns false at once when another refresh holds the lock or the
// snapshot is still fresh. A forced call waits for the lock and always collects.
func (c *Coordinator) Refresh(ctx context.Context, forced bool) bool {
	if forced {
		if err := c.lock.Acquire(ctx, 1); err != nil {
			c.logger.Warn("gave up waiting for refresh lock", "error", err)
			return false
		}
	} else if !c.lock.TryAcquire(1) {
		c.logger.Debug("refresh already in progress, skipping")
		return false
	}
	defer c.lock.Release(1)

	if !forced && !c.store.IsStale() {
		c.logger.Debug("snapshot is fresh, skipping refresh")
		return false
	}

	return c.run(ctx, models.RefreshModeFull, forced, nil)
}

// RefreshDomains collects only the given domains and keeps the others from the
// current snapshot. It waits for the refresh lock like a forced refresh.
func (c *Coordinator) RefreshDomains(ctx context.Context, domains []models.Domain) bool {
	if len(domains) == 0 {
		return c.Refresh(ctx, true)
	}
	if err := c.lock.Acquire(ctx, 1); err != nil {
		c.logger.Warn("gave up waiting for refresh lock", "error", err)
		return false
	}
	defer c.lock.Release(1)

	return c.run(ctx, models.RefreshModeIncremental, true, domains)
}

func (c *Coordinator) InProgress() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.InProgress
}

func (c *Coordinator) Status() models.RefreshState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// run executes the pipeline. Caller must hold the lock.
func (c *Coordinator) run(ctx context.Context, mode models.RefreshMode, forced bool, domains []models.Domain) (ok bool) {
	start := time.Now()
	run := models.RefreshRun{
		ID:        uuid.NewString(),
		StartedAt: start,
		Mode:      mode,
		Forced:    forced,
	}
	logger := c.logger.With("refresh_id", run.ID, "mode", mode)
	logger.Info("starting refresh", "forced", forced, "domains", domains)

	c.mu.Lock()
	c.state.InProgress = true
	c.state.Mode = mode
	c.state.LastAttempt = start
	c.mu.Unlock()

	var snap *models.Snapshot
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("%w: %v", ErrRefreshPanic, r)
			ok = false
		}

		elapsed := time.Since(start)
		run.DurationMs = elapsed.Milliseconds()
		run.Success = ok

		c.mu.Lock()
		c.state.InProgress = false
		c.state.LastDuration = elapsed.String()
		if ok {
			c.state.LastSuccess = start
			c.state.LastError = ""
		} else if runErr != nil {
			c.state.LastError = runErr.Error()
		}
		hooks := c.hooks
		c.mu.Unlock()

		if ok {
			run.Entities = len(snap.Entities)
			logger.Info("refresh complete", "entities", run.Entities, "duration", elapsed)
		} else {
			run.Error = runErr.Error()
			logger.Error("refresh failed, keeping previous snapshot", "error", runErr, "duration", elapsed)
		}

		c.metrics.ObserveRefresh(mode, ok, elapsed)
		c.recordRun(ctx, run)

		if ok {
			c.metrics.SetSnapshot(snap)
			if len(hooks) > 0 {
				c.runHooks(ctx, hooks, snap)
				// hooks publish aux keys into the store
				_ = c.store.PersistToDisk()
			}
		}
	}()

	snap, runErr = c.collect(ctx, domains)
	if runErr != nil {
		return false
	}

	snap = c.store.Update(func(prev *models.Snapshot) *models.Snapshot {
		for q, rec := range prev.History {
			snap.History[q] = rec
		}
		for k, v := range prev.Aux {
			snap.Aux[k] = v
		}
		return snap
	})

	// a failed write keeps the new snapshot in memory
	_ = c.store.PersistToDisk()

	return true
}

func (c *Coordinator) collect(ctx context.Context, domains []models.Domain) (*models.Snapshot, error) {
	collectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.collector.Collect(collectCtx, domains)
	if err != nil {
		return nil, fmt.Errorf("failed to collect: %w", err)
	}
	if res.Failed() {
		msg := "empty result"
		if res != nil {
			msg = res.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrCollectorPayload, msg)
	}
	for d, msg := range res.DomainErrors {
		c.logger.Warn("domain collection failed", "domain", d, "error", msg)
	}

	raw := res.Domains
	if len(domains) > 0 {
		raw = mergeDomains(c.store.Snapshot(), res.Domains, domains)
	}

	return cache.BuildSnapshot(raw, c.store.Now()), nil
}

// mergeDomains takes the requested domains from fresh and every other domain from prev.
func mergeDomains(prev *models.Snapshot, fresh map[models.Domain][]models.Entity, requested []models.Domain) map[models.Domain][]models.Entity {
	want := make(map[models.Domain]bool, len(requested))
	for _, d := range requested {
		want[d] = true
	}

	merged := make(map[models.Domain][]models.Entity, len(models.Domains))
	for _, d := range models.Domains {
		if want[d] {
			if list, ok := fresh[d]; ok {
				merged[d] = list
			}
			continue
		}
		if list, ok := prev.Domains[d]; ok {
			merged[d] = list
		}
	}
	return merged
}

func (c *Coordinator) recordRun(ctx context.Context, run models.RefreshRun) {
	if c.runs == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.runs.Create(rctx, run); err != nil {
		c.logger.Error("failed to record refresh run", "refresh_id", run.ID, "error", err)
	}
}

func (c *Coordinator) runHooks(ctx context.Context, hooks []AfterRefreshFunc, snap *models.Snapshot) {
	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("after-refresh hook panicked", "panic", r)
				}
			}()
			hook(ctx, snap)
		}()
	}
}

type refreshError string

func (e refreshError) Error() string { return string(e) }

const (
	ErrRefreshInProgress = refreshError("refresh already in progress")
	ErrCollectorPayload  = refreshError("collector returned an error payload")
	ErrRefreshPanic      = refreshError("refresh panicked")
)

// Package query is the read side used by the HTTP API and chat: it serves the
// current snapshot without waiting and schedules refreshes when data goes stale.
package query

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illenko/relicwatch/cache"
	"github.com/illenko/relicwatch/models"
)

// Refresher is implemented by scheduler.Coordinator.
type Refresher interface {
	Refresh(ctx context.Context, forced bool) bool
	RefreshDomains(ctx context.Context, domains []models.Domain) bool
	InProgress() bool
	Status() models.RefreshState
}

// DefaultRetryBackoff is how long a stale read waits before retrying a failed background refresh.
const DefaultRetryBackoff = time.Minute

type Config struct {
	RetryBackoff time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

type Facade struct {
	store   *cache.Store
	refresh Refresher
	backoff time.Duration
	now     func() time.Time
	pending atomic.Bool
	retryAt atomic.Int64
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func New(store *cache.Store, refresh Refresher, cfg Config) *Facade {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Facade{
		store:   store,
		refresh: refresh,
		backoff: cfg.RetryBackoff,
		now:     cfg.Now,
		logger:  slog.Default().With("component", "query"),
	}
}

// GetCache returns the current snapshot immediately. When it is stale and no refresh
// is running, a background refresh is started that outlives the caller's context.
// After a background refresh leaves the snapshot stale, stale reads wait for the
// retry backoff before starting another one.
func (f *Facade) GetCache(ctx context.Context) *models.Snapshot {
	snap := f.store.Snapshot()

	if f.store.IsStale() && !f.backingOff() && !f.refresh.InProgress() && f.pending.CompareAndSwap(false, true) {
		bg := context.WithoutCancel(ctx)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer f.pending.Store(false)
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("background refresh panicked", "panic", r)
					f.retryAt.Store(f.now().Add(f.backoff).UnixNano())
				}
			}()

			f.logger.Info("snapshot is stale, refreshing in background")
			if !f.refresh.Refresh(bg, false) && f.store.IsStale() {
				f.logger.Warn("background refresh left the snapshot stale, backing off", "retry_in", f.backoff)
				f.retryAt.Store(f.now().Add(f.backoff).UnixNano())
				return
			}
			f.retryAt.Store(0)
		}()
	}

	return snap
}

func (f *Facade) backingOff() bool {
	at := f.retryAt.Load()
	return at != 0 && f.now().UnixNano() < at
}

// ForceRefresh runs a refresh now and waits for it.
func (f *Facade) ForceRefresh(ctx context.Context) bool {
	return f.refresh.Refresh(ctx, true)
}

// RefreshDomains refreshes only the given domains and waits for it.
func (f *Facade) RefreshDomains(ctx context.Context, domains []models.Domain) bool {
	return f.refresh.RefreshDomains(ctx, domains)
}

func (f *Facade) Diagnose() models.DiagnosticReport {
	return f.store.Diagnose()
}

func (f *Facade) Status() models.RefreshState {
	return f.refresh.Status()
}

// FindEntity looks up a consolidated entity by GUID.
func (f *Facade) FindEntity(ctx context.Context, guid string) (models.Entity, bool) {
	for _, e := range f.GetCache(ctx).Entities {
		if e.GUID == guid {
			return e, true
		}
	}
	return models.Entity{}, false
}

// Entities returns the consolidated list, or one domain's list when domain is set.
func (f *Facade) Entities(ctx context.Context, domain models.Domain) []models.Entity {
	snap := f.GetCache(ctx)
	var list []models.Entity
	if domain == "" {
		list = snap.Entities
	} else {
		list = snap.Domains[domain]
	}
	if list == nil {
		list = []models.Entity{}
	}
	return list
}

func (f *Facade) CountByDomain(entities []models.Entity) map[models.Domain]int {
	return cache.CountByDomain(entities)
}

// Wait blocks until background refreshes have finished.
func (f *Facade) Wait() {
	f.wg.Wait()
}

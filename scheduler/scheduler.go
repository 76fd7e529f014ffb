package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cleaner removes persisted records older than the retention.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// Scheduler periodically refreshes the cache when it has gone stale.
type Scheduler struct {
	coord     *Coordinator
	db        Cleaner
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	mu        sync.RWMutex
	nextCheck time.Time
	logger    *slog.Logger
	parentCtx context.Context // set by Start, used for triggered refreshes
	wg        sync.WaitGroup  // tracks triggered refreshes
	loop      sync.WaitGroup  // tracks the loop started by Run
}

type Config struct {
	// Interval between staleness checks.
	Interval  time.Duration
	Retention time.Duration
	DB        Cleaner
}

func New(coord *Coordinator, cfg Config) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}

	return &Scheduler{
		coord:     coord,
		db:        cfg.DB,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		stopCh:    make(chan struct{}),
		logger:    slog.Default().With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.parentCtx = ctx
	s.mu.Unlock()
	s.logger.Info("starting scheduler", "interval", s.interval)

	s.check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		s.nextCheck = time.Now().Add(s.interval)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-s.stopCh:
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// Run starts the loop in the background. Wait blocks until it has returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		s.Start(ctx)
	}()
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Scheduler) NextCheck() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextCheck
}

// TriggerRefresh starts a forced refresh in the background.
func (s *Scheduler) TriggerRefresh() error {
	if s.coord.InProgress() {
		return ErrRefreshInProgress
	}

	s.mu.RLock()
	ctx := s.parentCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.coord.Refresh(ctx, true) {
			s.runCleanup(ctx)
		}
	}()
	return nil
}

// Wait blocks until the loop started by Run and every triggered refresh have finished.
func (s *Scheduler) Wait() {
	s.loop.Wait()
	s.wg.Wait()
}

func (s *Scheduler) check(ctx context.Context) {
	if s.coord.Refresh(ctx, false) {
		s.runCleanup(ctx)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	if s.db == nil || s.retention == 0 {
		return
	}

	deleted, err := s.db.Cleanup(ctx, s.retention)
	if err != nil {
		s.logger.Error("cleanup failed", "error", err)
		return
	}

	if deleted > 0 {
		s.logger.Info("cleanup completed", "deleted_rows", deleted)
	}
}

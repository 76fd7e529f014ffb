package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illenko/relicwatch/cache"
	"github.com/illenko/relicwatch/collector"
	"github.com/illenko/relicwatch/config"
	"github.com/illenko/relicwatch/incidents"
	"github.com/illenko/relicwatch/metrics"
	"github.com/illenko/relicwatch/models"
	"github.com/illenko/relicwatch/newrelic"
	"github.com/illenko/relicwatch/scheduler"
	"github.com/illenko/relicwatch/storage"
)

const errNewRelicDisabled = cliError("newrelic.api_key and newrelic.account_id are not set")

type cliError string

func (e cliError) Error() string { return string(e) }

// disabledCollector keeps the service usable from the on-disk cache when no
// New Relic credentials are configured.
type disabledCollector struct{}

func (disabledCollector) Collect(context.Context, []models.Domain) (*models.CollectResult, error) {
	return nil, errNewRelicDisabled
}

// app holds the components shared by serve, refresh and diagnose.
type app struct {
	cfg         *config.Config
	db          *storage.DB
	store       *cache.Store
	client      *newrelic.Client
	coordinator *scheduler.Coordinator
	incidents   *incidents.Service
	history     *storage.HistoryRepository
	runs        *storage.RefreshRunsRepository
	metrics     *metrics.Metrics
}

func newApp(cfg *config.Config) (*app, error) {
	m := metrics.New()
	if err := m.Register(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	db, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store := cache.New(cache.Config{
		Path:   cfg.Cache.Path,
		MaxAge: cfg.Cache.MaxAge,
	})

	a := &app{
		cfg:       cfg,
		db:        db,
		store:     store,
		incidents: incidents.NewService(cfg.Incidents.Path, store),
		history:   storage.NewHistoryRepository(db),
		runs:      storage.NewRefreshRunsRepository(db),
		metrics:   m,
	}

	var coll scheduler.Collector = disabledCollector{}
	if cfg.NewRelicEnabled() {
		client, err := newrelic.NewClient(newrelic.Config{
			APIKey:     cfg.NewRelic.APIKey,
			AccountID:  cfg.NewRelic.AccountID,
			Endpoint:   cfg.NewRelic.Endpoint,
			Timeout:    cfg.NewRelic.Timeout,
			MaxRetries: cfg.NewRelic.MaxRetries,
			OnRequest:  m.ObserveNewRelicRequest,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create newrelic client: %w", err)
		}
		a.client = client
		coll = collector.NewCollector(client, collector.Config{
			MaxConcurrency: cfg.NewRelic.MaxConcurrency,
		})
	} else {
		slog.Warn("New Relic collection disabled, serving cached data only", "reason", errNewRelicDisabled.Error())
	}

	a.coordinator = scheduler.NewCoordinator(coll, store, scheduler.CoordinatorConfig{
		Timeout: cfg.Refresh.Timeout,
		Runs:    a.runs,
		Metrics: m,
	})
	a.coordinator.OnRefresh(a.incidents.Correlate)

	return a, nil
}

// start restores the cache and incident feed and publishes what was restored.
func (a *app) start(ctx context.Context) {
	a.store.Init()
	a.metrics.SetSnapshot(a.store.Snapshot())

	if err := a.incidents.Load(); err != nil {
		slog.Error("failed to load incidents", "error", err)
	}
	a.incidents.Correlate(ctx, a.store.Snapshot())
}

// close persists the cache and incident feed and closes the database.
func (a *app) close() error {
	var errs []error
	if err := a.store.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := a.incidents.Save(); err != nil {
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}

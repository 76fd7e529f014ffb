package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/illenko/relicwatch/models"
	"github.com/illenko/relicwatch/newrelic"
)

// Querier is the subset of the New Relic client the collector needs.
type Querier interface {
	SearchEntities(ctx context.Context, domains []string) ([]newrelic.RawEntity, error)
	NRQL(ctx context.Context, query string) ([]map[string]any, error)
}

type Config struct {
	// MaxConcurrency bounds concurrent per-entity metric fetches.
	MaxConcurrency int
	// Windows restricts the collected time windows; empty means all of models.Windows.
	Windows []string
}

type Collector struct {
	client      Querier
	concurrency int
	windows     []string
	logger      *slog.Logger
}

func NewCollector(client Querier, cfg Config) *Collector {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 5
	}
	if len(cfg.Windows) == 0 {
		cfg.Windows = models.Windows
	}
	return &Collector{
		client:      client,
		concurrency: cfg.MaxConcurrency,
		windows:     cfg.Windows,
		logger:      slog.Default().With("component", "collector"),
	}
}

// Collect fetches the entities of the requested domains (all when empty) with their metrics.
// A failing domain is reported in DomainErrors; an error is returned only when every domain fails.
func (c *Collector) Collect(ctx context.Context, domains []models.Domain) (*models.CollectResult, error) {
	if len(domains) == 0 {
		domains = models.Domains
	}
	start := time.Now()

	result := &models.CollectResult{
		Domains:      make(map[models.Domain][]models.Entity, len(domains)),
		DomainErrors: make(map[models.Domain]string),
	}

	for _, d := range domains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entities, err := c.collectDomain(ctx, d)
		if err != nil {
			c.logger.Error("failed to collect domain", "domain", d, "error", err)
			result.DomainErrors[d] = err.Error()
			continue
		}
		result.Domains[d] = entities
	}

	if len(result.Domains) == 0 {
		return nil, fmt.Errorf("failed to collect any domain: %s", joinErrors(result.DomainErrors))
	}

	var total int
	for _, list := range result.Domains {
		total += len(list)
	}
	c.logger.Info("collection complete",
		"domains", len(result.Domains),
		"failed_domains", len(result.DomainErrors),
		"entities", total,
		"duration", time.Since(start),
	)

	return result, nil
}

func (c *Collector) collectDomain(ctx context.Context, d models.Domain) ([]models.Entity, error) {
	raw, err := c.client.SearchEntities(ctx, []string{d.Code()})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("discovered entities", "domain", d, "count", len(raw))

	entities := make([]models.Entity, len(raw))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, re := range raw {
		entities[i] = models.Entity{
			GUID:       re.GUID,
			Name:       re.Name,
			Domain:     d,
			EntityType: re.EntityType,
			Reporting:  re.Reporting,
		}
		target := entityTarget{field: "entity.guid", value: re.GUID}
		if re.GUID == "" {
			if re.Name == "" {
				c.logger.Warn("entity without guid or name, metrics not collected", "domain", d)
				continue
			}
			c.logger.Debug("entity without guid, collecting metrics by name", "domain", d, "name", re.Name)
			target = entityTarget{field: "entity.name", value: re.Name}
		}

		g.Go(func() error {
			metrics, err := c.collectMetrics(gctx, d, target)
			if err != nil {
				return err
			}
			entities[i].Metrics = metrics
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entities, nil
}

// collectMetrics runs every metric query of the domain for every window.
// A failed query leaves its metric out. New Relic being unavailable, or every
// query of the entity failing, is an error so that the domain is reported as failed.
func (c *Collector) collectMetrics(ctx context.Context, d models.Domain, target entityTarget) (map[string]models.MetricBundle, error) {
	queries := metricsFor(d)
	metrics := make(map[string]models.MetricBundle, len(c.windows))

	var attempted, failed int
	var lastErr error

	for _, w := range c.windows {
		since, ok := sinceClause[w]
		if !ok {
			continue
		}

		bundle := make(models.MetricBundle)
		for _, q := range queries {
			attempted++
			rows, err := c.client.NRQL(ctx, q.build(target, since))
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if newrelic.IsUnavailable(err) {
					return nil, fmt.Errorf("failed to query metrics of %s: %w", target.value, err)
				}
				failed++
				lastErr = err
				c.logger.Debug("metric query failed", "entity", target.value, "metric", q.name, "window", w, "error", err)
				continue
			}
			if len(rows) == 0 {
				continue
			}
			bundle[q.name] = extractValue(rows[0])
		}

		if len(bundle) > 0 {
			metrics[w] = bundle
		}
	}

	if attempted > 0 && failed == attempted {
		return nil, fmt.Errorf("every metric query of %s failed: %w", target.value, lastErr)
	}
	return metrics, nil
}

// extractValue reads the "value" column of a result row. A present null yields nil.
func extractValue(row map[string]any) *float64 {
	v, ok := row[valueColumn]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case float64:
		return &t
	case map[string]any:
		// apdex() returns an object with the score inside
		if s, ok := t["score"].(float64); ok {
			return &s
		}
	}
	return nil
}

func joinErrors(errs map[models.Domain]string) string {
	parts := make([]string, 0, len(errs))
	for _, d := range models.Domains {
		if msg, ok := errs[d]; ok {
			parts = append(parts, string(d)+": "+msg)
		}
	}
	return strings.Join(parts, "; ")
}

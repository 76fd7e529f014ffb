package cache

import (
	"log/slog"
	"time"

	"github.com/illenko/relicwatch/models"
)

// HasData reports whether at least one time window carries a non-empty metric bundle.
// Null values count as data: New Relic returns present-but-null metrics for monitored
// entities that had no events in the window.
func HasData(metrics map[string]models.MetricBundle) bool {
	for _, bundle := range metrics {
		if len(bundle) > 0 {
			return true
		}
	}
	return false
}

// FilterDomain keeps the entities that have data, preserving order.
func FilterDomain(entities []models.Entity) []models.Entity {
	kept := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		if HasData(e.Metrics) {
			kept = append(kept, e)
		}
	}
	return kept
}

// Consolidate merges per-domain lists into one list deduplicated by GUID.
// Domains are visited in models.Domains order and the first occurrence wins.
// Entities without a GUID cannot be deduplicated and are left out.
func Consolidate(perDomain map[models.Domain][]models.Entity) []models.Entity {
	seen := make(map[string]struct{})
	var consolidated []models.Entity

	for _, d := range models.Domains {
		for _, e := range perDomain[d] {
			if e.GUID == "" {
				slog.Warn("entity without guid skipped from consolidation", "domain", d, "name", e.Name)
				continue
			}
			if _, dup := seen[e.GUID]; dup {
				continue
			}
			seen[e.GUID] = struct{}{}
			consolidated = append(consolidated, e)
		}
	}

	if consolidated == nil {
		consolidated = []models.Entity{}
	}
	return consolidated
}

// BuildSnapshot filters every domain of a raw collection and consolidates the result.
func BuildSnapshot(raw map[models.Domain][]models.Entity, now time.Time) *models.Snapshot {
	s := models.EmptySnapshot()
	for _, d := range models.Domains {
		entities, ok := raw[d]
		if !ok {
			continue
		}
		filtered := FilterDomain(entities)
		if dropped := len(entities) - len(filtered); dropped > 0 {
			slog.Debug("filtered entities without data", "domain", d, "dropped", dropped, "kept", len(filtered))
		}
		s.Domains[d] = filtered
	}
	s.Entities = Consolidate(s.Domains)
	s.Timestamp = now
	return s
}

// CountByDomain aggregates entities by their domain field.
func CountByDomain(entities []models.Entity) map[models.Domain]int {
	counts := make(map[models.Domain]int)
	for _, e := range entities {
		d := e.Domain
		if d == "" {
			d = "unknown"
		}
		counts[d]++
	}
	return counts
}

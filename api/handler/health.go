package handler

import (
	"context"
	"net/http"

	"github.com/illenko/relicwatch/api/helpers"
	"github.com/illenko/relicwatch/models"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter is implemented by newrelic.Client.
type BreakerReporter interface {
	BreakerState() string
}

type HealthHandler struct {
	cache   CacheReader
	db      Pinger
	breaker BreakerReporter
}

func NewHealthHandler(cache CacheReader, db Pinger, breaker BreakerReporter) *HealthHandler {
	return &HealthHandler{
		cache:   cache,
		db:      db,
		breaker: breaker,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report := h.cache.Diagnose()
	state := h.cache.Status()

	status := models.HealthStatus{
		Status:            "healthy",
		Cache:             report.Status,
		DatabaseOK:        true,
		RefreshInProgress: state.InProgress,
		LastUpdated:       report.LastUpdated,
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			status.Status = "unhealthy"
			status.DatabaseOK = false
		}
	}

	if report.Status != models.CacheHealthy && status.Status == "healthy" {
		status.Status = "degraded"
	}

	if h.breaker != nil {
		status.NewRelicBreaker = h.breaker.BreakerState()
		if status.NewRelicBreaker == "open" && status.Status == "healthy" {
			status.Status = "degraded"
		}
	}

	helpers.WriteJSON(w, http.StatusOK, status)
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/illenko/relicwatch/api/helpers"
	"github.com/illenko/relicwatch/models"
	"github.com/illenko/relicwatch/scheduler"
)

// CacheReader is the read-only part of query.Facade.
type CacheReader interface {
	Diagnose() models.DiagnosticReport
	Status() models.RefreshState
}

// Cache is implemented by query.Facade.
type Cache interface {
	CacheReader
	ForceRefresh(ctx context.Context) bool
	RefreshDomains(ctx context.Context, domains []models.Domain) bool
	Entities(ctx context.Context, domain models.Domain) []models.Entity
	FindEntity(ctx context.Context, guid string) (models.Entity, bool)
}

// Trigger is implemented by scheduler.Scheduler.
type Trigger interface {
	TriggerRefresh() error
}

type RunLister interface {
	List(ctx context.Context, limit int) ([]models.RefreshRun, error)
}

type CacheHandler struct {
	cache   Cache
	trigger Trigger
	runs    RunLister
}

func NewCacheHandler(cache Cache, trigger Trigger, runs RunLister) *CacheHandler {
	return &CacheHandler{
		cache:   cache,
		trigger: trigger,
		runs:    runs,
	}
}

type CacheStatusResponse struct {
	Cache   models.DiagnosticReport `json:"cache"`
	Refresh models.RefreshState     `json:"refresh"`
}

type RefreshResponse struct {
	Success          bool                  `json:"success"`
	TotalEntities    int                   `json:"total_entities"`
	EntitiesByDomain map[models.Domain]int `json:"entities_by_domain"`
	LastUpdated      time.Time             `json:"last_updated,omitempty"`
	Error            string                `json:"error,omitempty"`
}

func (h *CacheHandler) Status(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, CacheStatusResponse{
		Cache:   h.cache.Diagnose(),
		Refresh: h.cache.Status(),
	})
}

// Refresh runs a forced refresh and reports the resulting cache. With ?domains= only
// those domains are refreshed; with ?async=true a full refresh is started and 202 returned.
func (h *CacheHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domains, err := parseDomains(helpers.ParseListParam(r, "domains"))
	if err != nil {
		helpers.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if len(domains) > 0 {
			helpers.WriteError(w, http.StatusBadRequest, "async refresh does not support domains")
			return
		}
		if h.trigger == nil {
			helpers.WriteError(w, http.StatusServiceUnavailable, "scheduler not configured")
			return
		}
		if err := h.trigger.TriggerRefresh(); err != nil {
			if errors.Is(err, scheduler.ErrRefreshInProgress) {
				helpers.WriteError(w, http.StatusConflict, err.Error())
				return
			}
			helpers.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		helpers.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
		return
	}

	var ok bool
	if len(domains) > 0 {
		ok = h.cache.RefreshDomains(ctx, domains)
	} else {
		ok = h.cache.ForceRefresh(ctx)
	}

	report := h.cache.Diagnose()
	resp := RefreshResponse{
		Success:          ok,
		TotalEntities:    report.TotalEntities,
		EntitiesByDomain: report.EntitiesByDomain,
		LastUpdated:      report.LastUpdated,
	}
	if !ok {
		resp.Error = h.cache.Status().LastError
	}

	helpers.WriteJSON(w, http.StatusOK, resp)
}

func (h *CacheHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		helpers.WriteJSON(w, http.StatusOK, []models.RefreshRun{})
		return
	}

	runs, err := h.runs.List(r.Context(), helpers.ParseIntParam(r, "limit", 20))
	if err != nil {
		helpers.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.RefreshRun{}
	}

	helpers.WriteJSON(w, http.StatusOK, runs)
}

func parseDomains(raw []string) ([]models.Domain, error) {
	var domains []models.Domain
	for _, part := range raw {
		d, ok := models.ParseDomain(part)
		if !ok {
			return nil, errors.New("unknown domain: " + part)
		}
		domains = append(domains, d)
	}
	return domains, nil
}

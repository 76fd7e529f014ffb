package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illenko/relicwatch/api/handler"
	"github.com/illenko/relicwatch/metrics"
	"github.com/illenko/relicwatch/models"
)

type stubCache struct{}

func (stubCache) Diagnose() models.DiagnosticReport {
	return models.DiagnosticReport{Status: models.CacheEmpty, EntitiesByDomain: map[models.Domain]int{}}
}
func (stubCache) Status() models.RefreshState { return models.RefreshState{} }
func (stubCache) ForceRefresh(context.Context) bool { return false }
func (stubCache) RefreshDomains(context.Context, []models.Domain) bool { return false }
func (stubCache) Entities(context.Context, models.Domain) []models.Entity { return []models.Entity{} }
func (stubCache) FindEntity(context.Context, string) (models.Entity, bool) { return models.Entity{}, false }

type stubIncidents struct{}

func (stubIncidents) Incidents() []models.CorrelatedIncident { return []models.CorrelatedIncident{} }
func (stubIncidents) Alerts() []models.Alert { return []models.Alert{} }
func (stubIncidents) Summary() models.IncidentSummary { return models.IncidentSummary{} }

func newTestRouter(t *testing.T) (http.Handler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	require.NoError(t, m.Register())

	cache := stubCache{}
	return NewRouter(Handlers{
		Health:    handler.NewHealthHandler(cache, nil, nil),
		Cache:     handler.NewCacheHandler(cache, nil, nil),
		Entities:  handler.NewEntitiesHandler(cache),
		Incidents: handler.NewIncidentsHandler(stubIncidents{}),
		Chat:      handler.NewChatHandler(nil),
		Metrics:   m,
	}), m
}

func TestRouter_Routes(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/cache/status", http.StatusOK},
		{http.MethodPost, "/api/cache/refresh", http.StatusOK},
		{http.MethodGet, "/api/cache/refresh", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/cache/refreshes", http.StatusOK},
		{http.MethodGet, "/api/entities", http.StatusOK},
		{http.MethodGet, "/api/entities/missing", http.StatusNotFound},
		{http.MethodGet, "/api/incidents", http.StatusOK},
		{http.MethodPost, "/api/chat", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/chat/history", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_CountsRequests(t *testing.T) {
	router, m := newTestRouter(t)

	for range 3 {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "200")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "relicwatch_http_requests_total"))
}

func TestMiddleware_Options(t *testing.T) {
	called := false
	h := withMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/chat", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddleware_RecoversPanic(t *testing.T) {
	m := metrics.New()
	h := withMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), m)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entities", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "500")))
}

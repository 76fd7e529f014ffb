// Package metrics exposes the Prometheus instruments of the service.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/illenko/relicwatch/models"
)

const namespace = "relicwatch"

type Metrics struct {
	registry *prometheus.Registry

	// Refresh pipeline
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	CacheEntities   *prometheus.GaugeVec
	CacheUpdatedAt  prometheus.Gauge

	// Upstream
	NewRelicRequests *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Chat
	ChatQueries *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		registry: prometheus.NewRegistry(),
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "total",
			Help:      "Refresh attempts by mode and result",
		}, []string{"mode", "result"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Refresh duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		CacheEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entities",
			Help:      "Entities in the current snapshot by domain",
		}, []string{"domain"}),
		CacheUpdatedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "last_updated_timestamp_seconds",
			Help:      "Unix time of the current snapshot",
		}),
		NewRelicRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "newrelic",
			Name:      "requests_total",
			Help:      "NerdGraph requests by result",
		}, []string{"result"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ChatQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "queries_total",
			Help:      "Chat questions by answer source",
		}, []string{"source"}),
	}
}

// Register registers all instruments plus the Go and process collectors.
func (m *Metrics) Register() error {
	all := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RefreshTotal,
		m.RefreshDuration,
		m.CacheEntities,
		m.CacheUpdatedAt,
		m.NewRelicRequests,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ChatQueries,
	}

	for _, c := range all {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRefresh(mode models.RefreshMode, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.RefreshTotal.WithLabelValues(string(mode), result).Inc()
	m.RefreshDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
}

// SetSnapshot publishes the per-domain counts and timestamp of snap.
func (m *Metrics) SetSnapshot(snap *models.Snapshot) {
	if m == nil || snap == nil {
		return
	}
	for _, d := range models.Domains {
		m.CacheEntities.WithLabelValues(string(d)).Set(float64(len(snap.Domains[d])))
	}
	if !snap.Timestamp.IsZero() {
		m.CacheUpdatedAt.Set(float64(snap.Timestamp.Unix()))
	}
}

func (m *Metrics) ObserveNewRelicRequest(result string) {
	if m == nil {
		return
	}
	m.NewRelicRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveChat(source string) {
	if m == nil {
		return
	}
	m.ChatQueries.WithLabelValues(source).Inc()
}

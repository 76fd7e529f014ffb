package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Domain is a fixed category of monitored entity.
type Domain string

const (
	DomainAPM        Domain = "apm"
	DomainBrowser    Domain = "browser"
	DomainInfra      Domain = "infra"
	DomainDB         Domain = "db"
	DomainMobile     Domain = "mobile"
	DomainIoT        Domain = "iot"
	DomainServerless Domain = "serverless"
	DomainSynth      Domain = "synth"
	DomainExt        Domain = "ext"
)

// Domains is the processing order used for consolidation.
var Domains = []Domain{
	DomainAPM,
	DomainBrowser,
	DomainInfra,
	DomainDB,
	DomainMobile,
	DomainIoT,
	DomainServerless,
	DomainSynth,
	DomainExt,
}

// ParseDomain accepts both the cache keys ("apm") and New Relic domain codes ("APM").
func ParseDomain(s string) (Domain, bool) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Domains {
		if d == known {
			return d, true
		}
	}
	return "", false
}

// Code returns the upper-case domain code used by New Relic.
func (d Domain) Code() string {
	return strings.ToUpper(string(d))
}

// Time-window labels for metric bundles.
const (
	Window30Min = "30min"
	Window3H    = "3h"
	Window24H   = "24h"
	Window7D    = "7d"
	Window30D   = "30d"
)

var Windows = []string{Window30Min, Window3H, Window24H, Window7D, Window30D}

// MetricBundle maps a metric name to its value; nil means the metric was reported with no value.
type MetricBundle map[string]*float64

// Entity is a monitored resource (application, host, database...).
type Entity struct {
	GUID       string                  `json:"guid"`
	Name       string                  `json:"name"`
	Domain     Domain                  `json:"domain"`
	EntityType string                  `json:"entityType,omitempty"`
	Reporting  bool                    `json:"reporting"`
	Metrics    map[string]MetricBundle `json:"metricas,omitempty"`
}

// QueryRecord is a question answered by the chat endpoint.
type QueryRecord struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// CollectResult is what a collector returns for one refresh cycle.
type CollectResult struct {
	Domains      map[Domain][]Entity `json:"domains"`
	DomainErrors map[Domain]string   `json:"domain_errors,omitempty"`
	// Error is set when the collector reports a failure in-band instead of returning an error.
	Error string `json:"error,omitempty"`
}

func (r *CollectResult) Failed() bool {
	return r == nil || r.Error != ""
}

// RefreshMode distinguishes full refreshes from incremental ones.
type RefreshMode string

const (
	RefreshModeFull        RefreshMode = "full"
	RefreshModeIncremental RefreshMode = "incremental"
)

// RefreshState is the transient status of the refresh coordinator.
type RefreshState struct {
	InProgress   bool        `json:"in_progress"`
	Mode         RefreshMode `json:"mode,omitempty"`
	LastAttempt  time.Time   `json:"last_attempt,omitempty"`
	LastSuccess  time.Time   `json:"last_success,omitempty"`
	LastDuration string      `json:"last_duration,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
}

// RefreshRun is one persisted refresh attempt.
type RefreshRun struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMs int64       `json:"duration_ms"`
	Mode       RefreshMode `json:"mode"`
	Forced     bool        `json:"forced"`
	Success    bool        `json:"success"`
	Entities   int         `json:"entities"`
	Error      string      `json:"error,omitempty"`
}

// Health labels reported by the cache diagnostics.
const (
	CacheHealthy = "healthy"
	CacheStale   = "stale"
	CacheEmpty   = "empty"
)

// DiagnosticReport summarizes the cache state.
type DiagnosticReport struct {
	Status              string         `json:"status"`
	TotalEntities       int            `json:"total_entities"`
	EntitiesByDomain    map[Domain]int `json:"entities_by_domain"`
	EntitiesWithMetrics int            `json:"entities_with_metrics"`
	LastUpdated         time.Time      `json:"last_updated,omitempty"`
	AgeHours            float64        `json:"age_hours"`
	DiskSizeBytes       int64          `json:"disk_size_bytes"`
	HistoryCount        int            `json:"history_count"`
	AuxKeys             []string       `json:"aux_keys,omitempty"`
}

// Incident severities and states as written by the incident feed.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"

	IncidentActive   = "em_andamento"
	IncidentResolved = "resolvido"
)

// Incident timestamps are kept as written by the feed, which is not always RFC 3339.
type Incident struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Severity        string `json:"severity"`
	State           string `json:"state"`
	ImpactedService string `json:"impacted_service"`
	StartedAt       string `json:"started_at,omitempty"`
	Description     string `json:"description,omitempty"`
}

type Alert struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Severity  string          `json:"severity"`
	EntityID  string          `json:"entity_guid,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

type IncidentSummary struct {
	TotalIncidents    int `json:"total_incidentes"`
	TotalAlerts       int `json:"total_alertas"`
	ActiveIncidents   int `json:"incidentes_ativos"`
	ResolvedIncidents int `json:"incidentes_resolvidos"`
	Critical          int `json:"severidade_critica"`
	Warning           int `json:"severidade_warning"`
	Info              int `json:"severidade_info"`
}

// CorrelatedIncident is an incident together with the cached entities it impacts.
type CorrelatedIncident struct {
	Incident
	Entities []Entity `json:"entidades"`
}

// HealthStatus for health check endpoint
type HealthStatus struct {
	Status            string    `json:"status"`
	Cache             string    `json:"cache"`
	DatabaseOK        bool      `json:"database_ok"`
	NewRelicBreaker   string    `json:"newrelic_breaker,omitempty"`
	RefreshInProgress bool      `json:"refresh_in_progress"`
	LastUpdated       time.Time `json:"last_updated,omitempty"`
}

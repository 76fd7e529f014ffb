package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/illenko/relicwatch/models"
)

const DefaultPath = "historico/incidentes.json"

// Publisher receives the auxiliary snapshot keys the service maintains.
type Publisher interface {
	SetAux(key string, value any) error
}

// Document is the on-disk incident feed.
type Document struct {
	Incidents  []models.Incident          `json:"incidentes"`
	Alerts     []models.Alert             `json:"alertas"`
	Timestamp  string                     `json:"timestamp,omitempty"`
	Summary    models.IncidentSummary     `json:"resumo"`
	Associated map[string][]models.Entity `json:"entidades_associadas,omitempty"`
}

type Service struct {
	path      string
	publisher Publisher
	mu        sync.RWMutex
	doc       Document
	logger    *slog.Logger
}

func NewService(path string, publisher Publisher) *Service {
	if path == "" {
		path = DefaultPath
	}
	return &Service{
		path:      path,
		publisher: publisher,
		doc:       Document{Associated: map[string][]models.Entity{}},
		logger:    slog.Default().With("component", "incidents"),
	}
}

// Load reads the incident feed. A missing file leaves the service empty.
func (s *Service) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("incident file not found", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read incidents: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse incidents: %w", err)
	}
	if doc.Associated == nil {
		doc.Associated = map[string][]models.Entity{}
	}
	doc.Summary = Summarize(doc.Incidents, doc.Alerts)

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	s.logger.Info("incidents loaded", "incidents", len(doc.Incidents), "alerts", len(doc.Alerts))
	return nil
}

// Save writes the feed with the current summary and correlations.
func (s *Service) Save() (err error) {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()
	doc.Timestamp = time.Now().Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create incidents directory: %w", err)
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create incidents file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close incidents file: %w", cerr)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode incidents: %w", err)
	}
	return nil
}

// Correlate matches incidents to the snapshot's entities and publishes the result.
// Its signature fits scheduler.AfterRefreshFunc.
func (s *Service) Correlate(_ context.Context, snap *models.Snapshot) {
	var entities []models.Entity
	if snap != nil {
		entities = snap.Entities
	}

	s.mu.Lock()
	s.doc.Associated = Correlate(s.doc.Incidents, entities)
	s.doc.Summary = Summarize(s.doc.Incidents, s.doc.Alerts)
	associated := len(s.doc.Associated)
	s.mu.Unlock()

	s.logger.Info("incidents correlated", "associated", associated, "entities", len(entities))

	if err := s.Publish(); err != nil {
		s.logger.Error("failed to publish incidents", "error", err)
	}
}

// Publish writes the incidents and alerts into the snapshot's auxiliary keys.
func (s *Service) Publish() error {
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.SetAux(models.AuxIncidents, s.Incidents()); err != nil {
		return err
	}
	return s.publisher.SetAux(models.AuxAlerts, s.Alerts())
}

func (s *Service) Summary() models.IncidentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Summary
}

// Incidents returns every incident with the entities it was correlated to.
func (s *Service) Incidents() []models.CorrelatedIncident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CorrelatedIncident, 0, len(s.doc.Incidents))
	for _, inc := range s.doc.Incidents {
		entities := s.doc.Associated[inc.ID]
		if entities == nil {
			entities = []models.Entity{}
		}
		out = append(out, models.CorrelatedIncident{Incident: inc, Entities: entities})
	}
	return out
}

func (s *Service) Alerts() []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Alert, len(s.doc.Alerts))
	copy(out, s.doc.Alerts)
	return out
}

// Summarize counts incidents by state and severity.
func Summarize(incidents []models.Incident, alerts []models.Alert) models.IncidentSummary {
	sum := models.IncidentSummary{
		TotalIncidents: len(incidents),
		TotalAlerts:    len(alerts),
	}
	for _, inc := range incidents {
		switch inc.State {
		case models.IncidentActive:
			sum.ActiveIncidents++
		case models.IncidentResolved:
			sum.ResolvedIncidents++
		}
		switch inc.Severity {
		case models.SeverityCritical:
			sum.Critical++
		case models.SeverityWarning:
			sum.Warning++
		case models.SeverityInfo:
			sum.Info++
		}
	}
	return sum
}

// Correlate maps incident IDs to the entity whose name matches the impacted service,
// preferring an exact case-insensitive match over a substring match in either direction.
// Incidents without a match are left out.
func Correlate(incidents []models.Incident, entities []models.Entity) map[string][]models.Entity {
	out := make(map[string][]models.Entity)
	for _, inc := range incidents {
		service := strings.ToLower(strings.TrimSpace(inc.ImpactedService))
		if service == "" || inc.ID == "" {
			continue
		}
		if e, ok := match(service, entities); ok {
			out[inc.ID] = append(out[inc.ID], e)
		}
	}
	return out
}

func match(service string, entities []models.Entity) (models.Entity, bool) {
	for _, e := range entities {
		if strings.ToLower(e.Name) == service {
			return e, true
		}
	}
	for _, e := range entities {
		name := strings.ToLower(e.Name)
		if name == "" || e.GUID == "" {
			continue
		}
		if strings.Contains(name, service) || strings.Contains(service, name) {
			return e, true
		}
	}
	return models.Entity{}, false
}

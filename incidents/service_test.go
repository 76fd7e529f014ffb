package incidents

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illenko/relicwatch/cache"
	"github.com/illenko/relicwatch/models"
)

const feed = `{
  "incidentes": [
    {"id": "inc-1", "title": "Checkout latency", "severity": "critical", "state": "em_andamento", "impacted_service": "Checkout"},
    {"id": "inc-2", "title": "Billing errors", "severity": "warning", "state": "resolvido", "impacted_service": "billing"},
    {"id": "inc-3", "title": "Unknown", "severity": "info", "state": "em_andamento", "impacted_service": "nothing-like-it"}
  ],
  "alertas": [
    {"id": "al-1", "name": "High CPU", "severity": "critical", "entity_guid": "h1"}
  ]
}`

func entities() []models.Entity {
	return []models.Entity{
		{GUID: "a0", Name: "checkout-worker", Domain: models.DomainAPM},
		{GUID: "a1", Name: "checkout", Domain: models.DomainAPM},
		{GUID: "a2", Name: "billing-api", Domain: models.DomainAPM},
		{GUID: "h1", Name: "host-1", Domain: models.DomainInfra},
	}
}

func writeFeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "historico", "incidentes.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o644))
	return path
}

func TestSummarize(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(feed), &doc))

	got := Summarize(doc.Incidents, doc.Alerts)

	assert.Equal(t, models.IncidentSummary{
		TotalIncidents:    3,
		TotalAlerts:       1,
		ActiveIncidents:   2,
		ResolvedIncidents: 1,
		Critical:          1,
		Warning:           1,
		Info:              1,
	}, got)
}

func TestCorrelate_ExactBeforeSubstring(t *testing.T) {
	incs := []models.Incident{
		{ID: "inc-1", ImpactedService: "Checkout"},
		{ID: "inc-2", ImpactedService: "billing"},
		{ID: "inc-3", ImpactedService: "nothing-like-it"},
		{ID: "inc-4", ImpactedService: ""},
	}

	got := Correlate(incs, entities())

	require.Len(t, got["inc-1"], 1)
	assert.Equal(t, "a1", got["inc-1"][0].GUID, "exact name wins over an earlier substring match")
	require.Len(t, got["inc-2"], 1)
	assert.Equal(t, "a2", got["inc-2"][0].GUID)
	assert.NotContains(t, got, "inc-3", "no fallback entity for unmatched incidents")
	assert.NotContains(t, got, "inc-4")
}

func TestService_LoadCorrelatePublish(t *testing.T) {
	store := cache.New(cache.Config{Path: filepath.Join(t.TempDir(), "cache.json")})
	svc := NewService(writeFeed(t), store)
	require.NoError(t, svc.Load())

	snap := models.EmptySnapshot()
	snap.Entities = entities()
	svc.Correlate(context.Background(), snap)

	incs := svc.Incidents()
	require.Len(t, incs, 3)
	assert.Equal(t, "a1", incs[0].Entities[0].GUID)
	assert.NotNil(t, incs[2].Entities)
	assert.Empty(t, incs[2].Entities)
	assert.Equal(t, 2, svc.Summary().ActiveIncidents)

	aux := store.Snapshot().Aux
	require.Contains(t, aux, models.AuxIncidents)
	require.Contains(t, aux, models.AuxAlerts)

	var published []models.CorrelatedIncident
	require.NoError(t, json.Unmarshal(aux[models.AuxIncidents], &published))
	assert.Len(t, published, 3)

	var alerts []models.Alert
	require.NoError(t, json.Unmarshal(aux[models.AuxAlerts], &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "h1", alerts[0].EntityID)
}

func TestService_LoadMissingFile(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "none.json"), nil)

	require.NoError(t, svc.Load())
	assert.Empty(t, svc.Incidents())
	assert.Empty(t, svc.Alerts())
	assert.NoError(t, svc.Publish())
}

func TestService_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidentes.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	assert.Error(t, NewService(path, nil).Load())
}

func TestService_SaveRoundTrip(t *testing.T) {
	path := writeFeed(t)
	svc := NewService(path, nil)
	require.NoError(t, svc.Load())
	snap := models.EmptySnapshot()
	snap.Entities = entities()
	svc.Correlate(context.Background(), snap)

	require.NoError(t, svc.Save())

	reloaded := NewService(path, nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, svc.Summary(), reloaded.Summary())
	assert.Equal(t, "a1", reloaded.Incidents()[0].Entities[0].GUID)
}

func TestService_SaveReportsWriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}

	svc := NewService(writeFeed(t), nil)
	require.NoError(t, svc.Load())
	svc.path = "/dev/full"

	assert.Error(t, svc.Save())
}

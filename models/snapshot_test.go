package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_IsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"never updated", time.Time{}, true},
		{"fresh", now.Add(-time.Hour), false},
		{"exactly max age", now.Add(-24 * time.Hour), false},
		{"older than max age", now.Add(-25 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := EmptySnapshot()
			s.Timestamp = tt.ts
			assert.Equal(t, tt.want, s.IsStale(24*time.Hour, now))
		})
	}

	var nilSnap *Snapshot
	assert.True(t, nilSnap.IsStale(time.Hour, now))
	assert.True(t, nilSnap.IsEmpty())
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	orig := EmptySnapshot()
	orig.Domains[DomainAPM] = []Entity{{GUID: "a1"}}
	orig.History["q"] = QueryRecord{ID: "1"}
	orig.Aux[AuxAlerts] = json.RawMessage(`[]`)

	next := orig.Clone()
	next.Domains[DomainInfra] = []Entity{{GUID: "h1"}}
	next.History["other"] = QueryRecord{ID: "2"}
	next.Aux[AuxIncidents] = json.RawMessage(`[]`)

	assert.Len(t, orig.Domains, 1)
	assert.Len(t, orig.History, 1)
	assert.Equal(t, []string{AuxAlerts}, orig.AuxKeys())
	assert.Equal(t, []string{AuxAlerts, AuxIncidents}, next.AuxKeys())
}

func TestSnapshot_UnmarshalDocument(t *testing.T) {
	doc := `{
		"timestamp": "2026-03-01T10:30:00.123456",
		"apm": [{"guid": "a1", "name": "checkout", "domain": "apm"}],
		"infra": [],
		"entidades": [{"guid": "a1", "name": "checkout", "domain": "apm"}],
		"alertas": [{"id": "al-1"}]
	}`

	var s Snapshot
	require.NoError(t, json.Unmarshal([]byte(doc), &s))

	want := time.Date(2026, 3, 1, 10, 30, 0, 123456000, time.Local)
	assert.True(t, s.Timestamp.Equal(want), "naive timestamps are read in local time")
	assert.Len(t, s.Domains[DomainAPM], 1)
	assert.NotContains(t, s.Domains, DomainInfra)
	assert.Len(t, s.Entities, 1)
	assert.JSONEq(t, `[{"id": "al-1"}]`, string(s.Aux[AuxAlerts]))
	assert.NotNil(t, s.History)
}

func TestSnapshot_MarshalRoundTrip(t *testing.T) {
	v := 0.5
	orig := EmptySnapshot()
	orig.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig.Entities = []Entity{{GUID: "b1", Name: "web", Domain: DomainBrowser, Reporting: true,
		Metrics: map[string]MetricBundle{Window24H: {"apdex": &v, "js_errors": nil}}}}
	orig.Domains[DomainBrowser] = orig.Entities
	orig.Aux[AuxIncidents] = json.RawMessage(`[{"id":"inc-1"}]`)
	orig.History["dropped"] = QueryRecord{ID: "x"}

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, d := range Domains {
		assert.Contains(t, raw, string(d), "every domain key is written")
	}

	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))

	orig.History = map[string]QueryRecord{}
	if diff := cmp.Diff(orig, &got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDomain(t *testing.T) {
	d, ok := ParseDomain(" APM ")
	require.True(t, ok)
	assert.Equal(t, DomainAPM, d)
	assert.Equal(t, "APM", d.Code())

	_, ok = ParseDomain("mainframe")
	assert.False(t, ok)
}

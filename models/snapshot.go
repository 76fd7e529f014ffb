package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	keyTimestamp = "timestamp"
	keyEntities  = "entidades"

	// Auxiliary keys written by the incidents subsystem.
	AuxAlerts    = "alertas"
	AuxIncidents = "incidentes"
)

// Snapshot is the complete consolidated cache state at a point in time.
// A published snapshot is never mutated; changes produce a new value.
type Snapshot struct {
	Domains   map[Domain][]Entity
	Entities  []Entity
	Timestamp time.Time
	History   map[string]QueryRecord
	Aux       map[string]json.RawMessage
}

func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Domains: make(map[Domain][]Entity),
		History: make(map[string]QueryRecord),
		Aux:     make(map[string]json.RawMessage),
	}
}

// IsEmpty reports whether the snapshot has never been populated.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || (s.Timestamp.IsZero() && len(s.Entities) == 0)
}

// Age returns how old the snapshot is at now. A snapshot without timestamp has no age.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil || s.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(s.Timestamp)
}

// IsStale reports whether the snapshot is older than maxAge. Never-updated snapshots are stale.
func (s *Snapshot) IsStale(maxAge time.Duration, now time.Time) bool {
	if s == nil || s.Timestamp.IsZero() {
		return true
	}
	return now.Sub(s.Timestamp) > maxAge
}

// Clone returns a shallow copy with fresh top-level maps so the copy can be modified
// without touching the original. Entity slices are shared and must not be mutated.
func (s *Snapshot) Clone() *Snapshot {
	next := EmptySnapshot()
	if s == nil {
		return next
	}
	for d, list := range s.Domains {
		next.Domains[d] = list
	}
	next.Entities = s.Entities
	next.Timestamp = s.Timestamp
	for q, rec := range s.History {
		next.History[q] = rec
	}
	for k, v := range s.Aux {
		next.Aux[k] = v
	}
	return next
}

// AuxKeys returns the auxiliary keys in sorted order.
func (s *Snapshot) AuxKeys() []string {
	keys := make([]string, 0, len(s.Aux))
	for k := range s.Aux {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON writes the persisted cache document: timestamp, one key per domain,
// the consolidated "entidades" list and the auxiliary keys. History is not included.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(Domains)+len(s.Aux)+2)
	for k, v := range s.Aux {
		if len(v) == 0 {
			continue
		}
		doc[k] = v
	}
	if !s.Timestamp.IsZero() {
		doc[keyTimestamp] = s.Timestamp.Format(time.RFC3339Nano)
	}
	for _, d := range Domains {
		list := s.Domains[d]
		if list == nil {
			list = []Entity{}
		}
		doc[string(d)] = list
	}
	entities := s.Entities
	if entities == nil {
		entities = []Entity{}
	}
	doc[keyEntities] = entities
	return json.Marshal(doc)
}

// UnmarshalJSON reads the persisted cache document. Missing keys are read as empty.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	out := EmptySnapshot()

	if raw, ok := doc[keyTimestamp]; ok {
		var ts string
		if err := json.Unmarshal(raw, &ts); err != nil {
			return fmt.Errorf("failed to parse timestamp: %w", err)
		}
		if ts != "" {
			t, err := parseTimestamp(ts)
			if err != nil {
				return fmt.Errorf("failed to parse timestamp: %w", err)
			}
			out.Timestamp = t
		}
		delete(doc, keyTimestamp)
	}

	for _, d := range Domains {
		raw, ok := doc[string(d)]
		if !ok {
			continue
		}
		var list []Entity
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("failed to parse domain %s: %w", d, err)
		}
		if len(list) > 0 {
			out.Domains[d] = list
		}
		delete(doc, string(d))
	}

	if raw, ok := doc[keyEntities]; ok {
		if err := json.Unmarshal(raw, &out.Entities); err != nil {
			return fmt.Errorf("failed to parse entities: %w", err)
		}
		delete(doc, keyEntities)
	}

	for k, v := range doc {
		out.Aux[k] = v
	}

	*s = *out
	return nil
}

// parseTimestamp accepts RFC3339 and the naive ISO-8601 form without zone.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.Local)
}

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illenko/relicwatch/models"
)

const (
	DefaultMaxAge = 24 * time.Hour
	DefaultPath   = "historico/cache_completo.json"
)

type Config struct {
	Path   string
	MaxAge time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Store holds the current snapshot. Reads never block; writers go through Update or Replace.
type Store struct {
	current atomic.Pointer[models.Snapshot]
	writeMu sync.Mutex
	path    string
	maxAge  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func New(cfg Config) *Store {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Store{
		path:   cfg.Path,
		maxAge: cfg.MaxAge,
		now:    cfg.Now,
		logger: slog.Default().With("component", "cache"),
	}
	s.current.Store(models.EmptySnapshot())
	return s
}

func (s *Store) Path() string { return s.path }

func (s *Store) MaxAge() time.Duration { return s.maxAge }

func (s *Store) Now() time.Time { return s.now() }

// Snapshot returns the most recently published snapshot. The result must be treated as read-only.
func (s *Store) Snapshot() *models.Snapshot {
	return s.current.Load()
}

// Replace publishes snap as the current snapshot.
func (s *Store) Replace(snap *models.Snapshot) {
	if snap == nil {
		snap = models.EmptySnapshot()
	}
	s.writeMu.Lock()
	s.current.Store(snap)
	s.writeMu.Unlock()
}

// Update applies fn to the current snapshot and publishes its result.
// Concurrent Update calls are serialized so none of them loses another's change.
// fn must return a new value and leave prev untouched; returning nil keeps prev.
func (s *Store) Update(fn func(prev *models.Snapshot) *models.Snapshot) *models.Snapshot {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load()
	next := fn(prev)
	if next == nil {
		return prev
	}
	s.current.Store(next)
	return next
}

// RecordQuery adds a chat answer to the in-memory history.
func (s *Store) RecordQuery(rec models.QueryRecord) {
	s.Update(func(prev *models.Snapshot) *models.Snapshot {
		next := prev.Clone()
		next.History[rec.Question] = rec
		return next
	})
}

// SetAux stores value under an auxiliary key of the snapshot.
func (s *Store) SetAux(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode aux key %s: %w", key, err)
	}
	s.Update(func(prev *models.Snapshot) *models.Snapshot {
		next := prev.Clone()
		next.Aux[key] = raw
		return next
	})
	return nil
}

// IsStale reports whether the current snapshot is older than the maximum age.
func (s *Store) IsStale() bool {
	return s.Snapshot().IsStale(s.maxAge, s.now())
}

// PersistToDisk writes the current snapshot to the cache file, overwriting it.
// Failures are logged and returned; the in-memory snapshot stays authoritative.
func (s *Store) PersistToDisk() error {
	if err := s.writeFile(s.Snapshot()); err != nil {
		s.logger.Error("failed to persist cache", "path", s.path, "error", err)
		return err
	}
	s.logger.Debug("cache persisted", "path", s.path)
	return nil
}

func (s *Store) writeFile(snap *models.Snapshot) (err error) {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close cache file: %w", cerr)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	return nil
}

// RestoreFromDisk loads the cache file into memory. Any read or parse failure
// leaves an empty snapshot in place. It reports whether data was restored.
func (s *Store) RestoreFromDisk() bool {
	snap, err := s.readFile()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no cache file found, starting empty", "path", s.path)
		} else {
			s.logger.Warn("failed to restore cache, starting empty", "path", s.path, "error", err)
		}
		s.Replace(models.EmptySnapshot())
		return false
	}

	s.Update(func(prev *models.Snapshot) *models.Snapshot {
		// in-memory history is kept; it is not part of the file
		for q, rec := range prev.History {
			snap.History[q] = rec
		}
		return snap
	})
	s.logger.Info("cache restored",
		"path", s.path,
		"entities", len(snap.Entities),
		"timestamp", snap.Timestamp,
	)
	return true
}

func (s *Store) readFile() (*models.Snapshot, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snap := models.EmptySnapshot()
	if err := json.NewDecoder(f).Decode(snap); err != nil {
		return nil, fmt.Errorf("failed to decode cache: %w", err)
	}
	return snap, nil
}

// Diagnose summarizes the current snapshot and the cache file.
func (s *Store) Diagnose() models.DiagnosticReport {
	snap := s.Snapshot()
	now := s.now()

	report := models.DiagnosticReport{
		TotalEntities:    len(snap.Entities),
		EntitiesByDomain: make(map[models.Domain]int, len(models.Domains)),
		LastUpdated:      snap.Timestamp,
		HistoryCount:     len(snap.History),
		AuxKeys:          snap.AuxKeys(),
	}

	for _, d := range models.Domains {
		report.EntitiesByDomain[d] = len(snap.Domains[d])
	}
	for _, e := range snap.Entities {
		if HasData(e.Metrics) {
			report.EntitiesWithMetrics++
		}
	}
	if !snap.Timestamp.IsZero() {
		report.AgeHours = snap.Age(now).Hours()
	}
	if info, err := os.Stat(s.path); err == nil {
		report.DiskSizeBytes = info.Size()
	}

	switch {
	case len(snap.Entities) == 0:
		report.Status = models.CacheEmpty
	case snap.IsStale(s.maxAge, now):
		report.Status = models.CacheStale
	default:
		report.Status = models.CacheHealthy
	}

	return report
}

// Init restores the persisted snapshot.
func (s *Store) Init() {
	s.RestoreFromDisk()
}

// Shutdown persists the final snapshot.
func (s *Store) Shutdown() error {
	return s.PersistToDisk()
}

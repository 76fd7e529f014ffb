package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		slog.Debug("running migration", "file", entry.Name())

		if _, err := db.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

type DBStats struct {
	QueryHistoryCount int64 `json:"query_history_count"`
	RefreshRunsCount  int64 `json:"refresh_runs_count"`
	SizeBytes         int64 `json:"size_bytes"`
}

func (db *DB) Stats(ctx context.Context) (*DBStats, error) {
	var stats DBStats

	row := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_history")
	if err := row.Scan(&stats.QueryHistoryCount); err != nil {
		return nil, err
	}

	row = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM refresh_runs")
	if err := row.Scan(&stats.RefreshRunsCount); err != nil {
		return nil, err
	}

	row = db.conn.QueryRowContext(ctx, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&stats.SizeBytes); err != nil {
		stats.SizeBytes = 0
	}

	return &stats, nil
}

// Cleanup removes query history and refresh runs older than retention.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)

	var deleted int64
	for _, stmt := range []string{
		"DELETE FROM query_history WHERE asked_at < ?",
		"DELETE FROM refresh_runs WHERE started_at < ?",
	} {
		result, err := db.conn.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return deleted, fmt.Errorf("failed to cleanup: %w", err)
		}
		n, _ := result.RowsAffected()
		deleted += n
	}

	if deleted > 0 {
		if _, err := db.conn.ExecContext(ctx, "VACUUM"); err != nil {
			slog.Warn("failed to vacuum database", "error", err)
		}
	}

	return deleted, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

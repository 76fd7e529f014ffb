package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/illenko/relicwatch/models"
)

type RefreshRunsRepository struct {
	db *DB
}

func NewRefreshRunsRepository(db *DB) *RefreshRunsRepository {
	return &RefreshRunsRepository{db: db}
}

func (r *RefreshRunsRepository) Create(ctx context.Context, run models.RefreshRun) error {
	query := `
		INSERT INTO refresh_runs (id, started_at, duration_ms, mode, forced, success, entities, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var errStr *string
	if run.Error != "" {
		errStr = &run.Error
	}
	_, err := r.db.conn.ExecContext(ctx, query,
		run.ID,
		formatTime(run.StartedAt),
		run.DurationMs,
		string(run.Mode),
		run.Forced,
		run.Success,
		run.Entities,
		errStr,
	)
	return err
}

// List returns the latest runs, newest first.
func (r *RefreshRunsRepository) List(ctx context.Context, limit int) ([]models.RefreshRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, started_at, duration_ms, mode, forced, success, entities, error
		FROM refresh_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := r.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.RefreshRun{}
	for rows.Next() {
		var run models.RefreshRun
		var startedAt, mode string
		var errStr sql.NullString

		if err := rows.Scan(
			&run.ID,
			&startedAt,
			&run.DurationMs,
			&mode,
			&run.Forced,
			&run.Success,
			&run.Entities,
			&errStr,
		); err != nil {
			return nil, err
		}

		run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, err
		}
		run.Mode = models.RefreshMode(mode)
		if errStr.Valid {
			run.Error = errStr.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

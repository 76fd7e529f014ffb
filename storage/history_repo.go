package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/illenko/relicwatch/models"
)

type HistoryRepository struct {
	db *DB
}

func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Save stores the answer for a question, replacing any previous answer to the same question.
func (r *HistoryRepository) Save(ctx context.Context, rec models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, question, answer, asked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(question) DO UPDATE SET
			id = excluded.id,
			answer = excluded.answer,
			asked_at = excluded.asked_at
	`
	_, err := r.db.conn.ExecContext(ctx, query,
		rec.ID,
		rec.Question,
		rec.Answer,
		formatTime(rec.AskedAt),
	)
	return err
}

// FindSince returns the answer to question if it was asked at or after since, or nil.
func (r *HistoryRepository) FindSince(ctx context.Context, question string, since time.Time) (*models.QueryRecord, error) {
	query := `
		SELECT id, question, answer, asked_at
		FROM query_history
		WHERE question = ? AND asked_at >= ?
	`
	rec, err := scanRecord(r.db.conn.QueryRowContext(ctx, query, question, formatTime(since)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *HistoryRepository) List(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, question, answer, asked_at
		FROM query_history
		ORDER BY asked_at DESC
		LIMIT ?
	`
	rows, err := r.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.QueryRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.QueryRecord, error) {
	var rec models.QueryRecord
	var askedAt string

	if err := row.Scan(&rec.ID, &rec.Question, &rec.Answer, &askedAt); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339, askedAt)
	if err != nil {
		return nil, err
	}
	rec.AskedAt = t

	return &rec, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/supportdesk/pkg/models"
)

// SaveSnapshot replaces the cached directory listing.
func (s *Store) SaveSnapshot(ctx context.Context, recs []models.SessionRecord, fetchedAt time.Time) error {
	payload, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	const query = `
		INSERT INTO directory_snapshot (id, payload, fetched_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at
	`
	if _, err := s.ExecContext(ctx, query, string(payload), fetchedAt.UnixMilli()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the cached directory listing. An empty cache yields
// no records and the zero time.
func (s *Store) LoadSnapshot(ctx context.Context) ([]models.SessionRecord, time.Time, error) {
	var (
		payload string
		fetched int64
	)
	err := s.QueryRowContext(ctx, `SELECT payload, fetched_at FROM directory_snapshot WHERE id = 1`).Scan(&payload, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load snapshot: %w", err)
	}
	var recs []models.SessionRecord
	if err := json.Unmarshal([]byte(payload), &recs); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return recs, fromMillis(sql.NullInt64{Int64: fetched, Valid: true}), nil
}

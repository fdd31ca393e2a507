package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thebtf/supportdesk/pkg/models"
)

// SaveHistory archives h. A session is archived once; repeats are ignored.
func (s *Store) SaveHistory(ctx context.Context, h *models.SessionHistory) error {
	const query = `
		INSERT INTO session_history
		(session_id, customer_id, status, assigned_staff, claim_id, resolution,
		 message_count, duration_sec, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`
	_, err := s.ExecContext(ctx, query,
		h.SessionID, h.CustomerID, h.Status, nullString(h.AssignedStaff), nullString(h.ClaimID),
		nullString(h.Resolution), h.MessageCount, h.DurationSeconds,
		h.StartedAt.UnixMilli(), h.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save history %s: %w", h.SessionID, err)
	}
	return nil
}

// ListHistory returns a customer's archived sessions, newest first.
// A non-positive limit returns all of them.
func (s *Store) ListHistory(ctx context.Context, customerID string, limit int) ([]*models.SessionHistory, error) {
	query := `
		SELECT session_id, customer_id, status, assigned_staff, claim_id, resolution,
		       message_count, duration_sec, started_at, ended_at
		FROM session_history
		WHERE customer_id = ?
		ORDER BY ended_at DESC, id DESC
	`
	args := []any{customerID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []*models.SessionHistory
	for rows.Next() {
		var (
			h                        models.SessionHistory
			staff, claim, resolution sql.NullString
			started, ended           int64
		)
		if err := rows.Scan(
			&h.SessionID, &h.CustomerID, &h.Status, &staff, &claim, &resolution,
			&h.MessageCount, &h.DurationSeconds, &started, &ended,
		); err != nil {
			return nil, err
		}
		h.AssignedStaff = staff.String
		h.ClaimID = claim.String
		h.Resolution = resolution.String
		h.StartedAt = fromMillis(sql.NullInt64{Int64: started, Valid: true})
		h.EndedAt = fromMillis(sql.NullInt64{Int64: ended, Valid: true})
		out = append(out, &h)
	}
	return out, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thebtf/supportdesk/internal/reconcile"
	"github.com/thebtf/supportdesk/pkg/models"
)

// SaveEntry journals a message with its delivery state. Later states
// overwrite earlier ones; content is never rewritten.
func (s *Store) SaveEntry(ctx context.Context, e reconcile.Entry) error {
	const query = `
		INSERT INTO messages (id, session_id, content, sender, type, is_from_staff, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state
	`
	_, err := s.ExecContext(ctx, query,
		e.ID, e.SessionID, e.Content, nullString(e.Sender), string(e.Type),
		boolInt(e.IsFromStaff), e.State.String(), e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal message %s: %w", e.ID, err)
	}
	return nil
}

// LoadEntries returns a session's journaled messages, oldest first.
func (s *Store) LoadEntries(ctx context.Context, sessionID string) ([]reconcile.Entry, error) {
	const query = `
		SELECT id, session_id, content, sender, type, is_from_staff, state, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at, rowid
	`
	rows, err := s.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var entries []reconcile.Entry
	for rows.Next() {
		var (
			e              reconcile.Entry
			sender         sql.NullString
			msgType, state string
			fromStaff      int
			created        int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Content, &sender, &msgType, &fromStaff, &state, &created); err != nil {
			return nil, err
		}
		e.Sender = sender.String
		e.Type, _ = models.ParseMessageType(msgType)
		e.IsFromStaff = fromStaff != 0
		e.State = reconcile.ParseDeliveryState(state)
		e.Timestamp = fromMillis(sql.NullInt64{Int64: created, Valid: true})
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteEntries drops the journal of a session.
func (s *Store) DeleteEntries(ctx context.Context, sessionID string) error {
	_, err := s.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

var _ reconcile.Journal = (*Store)(nil)

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/thebtf/supportdesk/pkg/models"
)

const recordColumns = `session_id, customer_id, device_model, status, assigned_staff, current_claim_id,
	client_version, priority, total_sessions, total_messages, is_online,
	first_connected, session_started, last_activity, last_heartbeat, staff_assigned_at`

// SaveRecord inserts or replaces the cached copy of rec.
func (s *Store) SaveRecord(ctx context.Context, rec *models.SessionRecord) error {
	if rec.SessionID == "" {
		return errors.New("save record: empty session id")
	}
	const query = `
		INSERT INTO session_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			customer_id = excluded.customer_id,
			device_model = excluded.device_model,
			status = excluded.status,
			assigned_staff = excluded.assigned_staff,
			current_claim_id = excluded.current_claim_id,
			client_version = excluded.client_version,
			priority = excluded.priority,
			total_sessions = excluded.total_sessions,
			total_messages = excluded.total_messages,
			is_online = excluded.is_online,
			first_connected = excluded.first_connected,
			session_started = excluded.session_started,
			last_activity = excluded.last_activity,
			last_heartbeat = excluded.last_heartbeat,
			staff_assigned_at = excluded.staff_assigned_at
	`
	_, err := s.ExecContext(ctx, query,
		rec.SessionID, rec.CustomerID, nullString(rec.DeviceModel), string(rec.Status),
		nullString(rec.AssignedStaff), nullString(rec.CurrentClaimID), nullString(rec.ClientVersion),
		int(rec.Priority), rec.TotalSessions, rec.TotalMessages, boolInt(rec.Online),
		epochMillis(rec.FirstConnected), epochMillis(rec.SessionStarted), epochMillis(rec.LastActivity),
		epochMillis(rec.LastHeartbeat), epochMillis(rec.StaffAssignedAt),
	)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.SessionID, err)
	}
	return nil
}

// GetRecord returns the cached record for sessionID, or nil when absent.
func (s *Store) GetRecord(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM session_records WHERE session_id = ?`
	rec, err := scanRecord(s.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// LatestRecord returns the customer's most recently active record, or nil.
func (s *Store) LatestRecord(ctx context.Context, customerID string) (*models.SessionRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM session_records
		WHERE customer_id = ?
		ORDER BY last_activity DESC
		LIMIT 1`
	rec, err := scanRecord(s.QueryRowContext(ctx, query, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanRecord(row rowScanner) (*models.SessionRecord, error) {
	var (
		rec                                          models.SessionRecord
		device, staff, claim, version                sql.NullString
		status                                       string
		priority, online                             int
		first, started, activity, heartbeat, staffAt sql.NullInt64
	)
	if err := row.Scan(
		&rec.SessionID, &rec.CustomerID, &device, &status, &staff, &claim,
		&version, &priority, &rec.TotalSessions, &rec.TotalMessages, &online,
		&first, &started, &activity, &heartbeat, &staffAt,
	); err != nil {
		return nil, err
	}
	rec.DeviceModel = device.String
	rec.Status, _ = models.ParseSessionStatus(status)
	rec.AssignedStaff = staff.String
	rec.CurrentClaimID = claim.String
	rec.ClientVersion = version.String
	rec.Priority = models.Priority(priority)
	rec.Online = online != 0
	rec.FirstConnected = fromMillis(first)
	rec.SessionStarted = fromMillis(started)
	rec.LastActivity = fromMillis(activity)
	rec.LastHeartbeat = fromMillis(heartbeat)
	rec.StaffAssignedAt = fromMillis(staffAt)
	return &rec, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_records (
		session_id        TEXT PRIMARY KEY,
		customer_id       TEXT NOT NULL,
		device_model      TEXT,
		status            TEXT NOT NULL,
		assigned_staff    TEXT,
		current_claim_id  TEXT,
		client_version    TEXT,
		priority          INTEGER NOT NULL DEFAULT 1,
		total_sessions    INTEGER NOT NULL DEFAULT 0,
		total_messages    INTEGER NOT NULL DEFAULT 0,
		is_online         INTEGER NOT NULL DEFAULT 0,
		first_connected   INTEGER,
		session_started   INTEGER,
		last_activity     INTEGER,
		last_heartbeat    INTEGER,
		staff_assigned_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_records_customer
		ON session_records(customer_id, last_activity DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		content       TEXT NOT NULL,
		sender        TEXT,
		type          TEXT NOT NULL,
		is_from_staff INTEGER NOT NULL DEFAULT 0,
		state         TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS session_history (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id     TEXT NOT NULL UNIQUE,
		customer_id    TEXT NOT NULL,
		status         TEXT NOT NULL,
		assigned_staff TEXT,
		claim_id       TEXT,
		resolution     TEXT,
		message_count  INTEGER NOT NULL DEFAULT 0,
		duration_sec   INTEGER NOT NULL DEFAULT 0,
		started_at     INTEGER NOT NULL,
		ended_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_history_customer ON session_history(customer_id, ended_at DESC)`,
	`CREATE TABLE IF NOT EXISTS directory_snapshot (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		payload    TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

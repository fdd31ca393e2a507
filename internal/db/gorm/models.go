package gorm

import (
	"database/sql"
	"time"

	"github.com/thebtf/supportdesk/pkg/models"
)

// SessionHistory is the archived row of an ended session.
type SessionHistory struct {
	ID              int64          `gorm:"primaryKey;autoIncrement"`
	SessionID       string         `gorm:"uniqueIndex;not null"`
	CustomerID      string         `gorm:"index:idx_history_customer_ended,priority:1;not null"`
	Status          string         `gorm:"type:text;not null"`
	AssignedStaff   sql.NullString `gorm:"index"`
	ClaimID         sql.NullString
	Resolution      sql.NullString
	MessageCount    int       `gorm:"default:0"`
	DurationSeconds int       `gorm:"default:0"`
	StartedAt       time.Time `gorm:"not null"`
	EndedAt         time.Time `gorm:"index:idx_history_customer_ended,priority:2,sort:desc;not null"`
	ArchivedAt      time.Time `gorm:"autoCreateTime"`
}

func (SessionHistory) TableName() string { return "session_histories" }

// historyFromDomain maps a domain history to its row.
func historyFromDomain(h *models.SessionHistory) *SessionHistory {
	return &SessionHistory{
		SessionID:       h.SessionID,
		CustomerID:      h.CustomerID,
		Status:          h.Status,
		AssignedStaff:   sqlNullString(h.AssignedStaff),
		ClaimID:         sqlNullString(h.ClaimID),
		Resolution:      sqlNullString(h.Resolution),
		MessageCount:    h.MessageCount,
		DurationSeconds: h.DurationSeconds,
		StartedAt:       h.StartedAt.UTC(),
		EndedAt:         h.EndedAt.UTC(),
	}
}

// toDomain maps the row back.
func (r *SessionHistory) toDomain() *models.SessionHistory {
	return &models.SessionHistory{
		SessionID:       r.SessionID,
		CustomerID:      r.CustomerID,
		Status:          r.Status,
		AssignedStaff:   r.AssignedStaff.String,
		ClaimID:         r.ClaimID.String,
		Resolution:      r.Resolution.String,
		MessageCount:    r.MessageCount,
		DurationSeconds: r.DurationSeconds,
		StartedAt:       r.StartedAt.UTC(),
		EndedAt:         r.EndedAt.UTC(),
	}
}

// sqlNullString creates a sql.NullString from a string.
func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

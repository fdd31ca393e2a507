package models

import (
	"fmt"
	"time"
)

// SessionHistory is the archival snapshot written once when a session ends.
type SessionHistory struct {
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	CustomerID      string    `json:"serialNumber"`
	SessionID       string    `json:"sessionId"`
	Status          string    `json:"status"`
	AssignedStaff   string    `json:"assignedStaff"`
	ClaimID         string    `json:"claimId"`
	Resolution      string    `json:"resolution"`
	MessageCount    int       `json:"messageCount"`
	DurationSeconds int       `json:"duration"`
}

// NewSessionHistory snapshots a record at end time.
func NewSessionHistory(rec *SessionRecord, messageCount int, resolution string, endedAt time.Time) *SessionHistory {
	started := rec.SessionStarted
	if started.IsZero() {
		started = endedAt
	}
	return &SessionHistory{
		CustomerID:      rec.CustomerID,
		SessionID:       rec.SessionID,
		StartedAt:       started,
		EndedAt:         endedAt,
		Status:          string(rec.Status),
		AssignedStaff:   rec.AssignedStaff,
		ClaimID:         rec.CurrentClaimID,
		MessageCount:    messageCount,
		DurationSeconds: int(endedAt.Sub(started).Seconds()),
		Resolution:      resolution,
	}
}

// Duration returns the session length.
func (h *SessionHistory) Duration() time.Duration {
	return time.Duration(h.DurationSeconds) * time.Second
}

// FormattedDuration renders the duration as "1h 5m" or "4m 10s".
func (h *SessionHistory) FormattedDuration() string {
	d := h.Duration()
	if d >= time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

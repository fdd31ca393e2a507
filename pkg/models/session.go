package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// StaleAfter is how long a heartbeat stays fresh.
const StaleAfter = 5 * time.Minute

// SessionStatus represents the lifecycle state of a customer session.
type SessionStatus string

const (
	StatusOffline      SessionStatus = "Offline"
	StatusOnline       SessionStatus = "Online"
	StatusWaiting      SessionStatus = "Waiting"
	StatusActive       SessionStatus = "Active"
	StatusCompleted    SessionStatus = "Completed"
	StatusDisconnected SessionStatus = "Disconnected"
)

var allStatuses = []SessionStatus{
	StatusOffline, StatusOnline, StatusWaiting, StatusActive, StatusCompleted, StatusDisconnected,
}

// ParseSessionStatus parses a status case-insensitively.
func ParseSessionStatus(s string) (SessionStatus, bool) {
	s = strings.TrimSpace(s)
	for _, st := range allStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return StatusOffline, false
}

// UnmarshalJSON implements json.Unmarshaler. Unknown labels decode as Offline.
func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s, _ = ParseSessionStatus(raw)
	return nil
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted
}

// Label returns a short human-readable label.
func (s SessionStatus) Label() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusWaiting:
		return "staff requested"
	case StatusActive:
		return "in progress"
	case StatusCompleted:
		return "completed"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "offline"
	}
}

// Priority orders sessions for staff attention.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// SessionRecord is the durable record of one customer's support interaction.
type SessionRecord struct {
	FirstConnected  time.Time     `json:"firstConnected"`
	LastActivity    time.Time     `json:"lastActivity"`
	SessionStarted  time.Time     `json:"sessionStarted"`
	StaffAssignedAt time.Time     `json:"staffAssignedAt"`
	LastHeartbeat   time.Time     `json:"lastHeartbeat"`
	CustomerID      string        `json:"serialNumber"`
	DeviceModel     string        `json:"deviceModel"`
	SessionID       string        `json:"currentSessionId"`
	Status          SessionStatus `json:"status"`
	AssignedStaff   string        `json:"assignedStaff"`
	CurrentClaimID  string        `json:"currentClaimId"`
	ClientVersion   string        `json:"clientVersion"`
	Priority        Priority      `json:"priority"`
	TotalSessions   int           `json:"totalSessions"`
	TotalMessages   int           `json:"totalMessages"`
	Online          bool          `json:"isOnline"`
}

// ActiveOnline reports whether the record is online with a fresh heartbeat.
func (r *SessionRecord) ActiveOnline(now time.Time) bool {
	return r.Online && now.Sub(r.LastHeartbeat) < StaleAfter
}

// DisplayStatus returns the status label adjusted for presence.
func (r *SessionRecord) DisplayStatus(now time.Time) string {
	if !r.Online {
		return "offline"
	}
	if !r.ActiveOnline(now) {
		return "stale"
	}
	return r.Status.Label()
}

// IsCurrent reports whether the record still counts as the customer's live session.
func (r *SessionRecord) IsCurrent() bool {
	return r.Status != StatusCompleted && r.Status != StatusOffline
}

// AssignmentResult is the outcome of a claim attempt. It is never persisted.
type AssignmentResult struct {
	SessionID       string `json:"sessionId"`
	StaffID         string `json:"staffId"`
	ClaimID         string `json:"claimId,omitempty"`
	ConflictStaffID string `json:"conflictStaffId,omitempty"`
	Success         bool   `json:"success"`
	Rejoined        bool   `json:"rejoined"`
}

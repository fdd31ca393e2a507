package session

import (
	"slices"
	"time"

	"github.com/thebtf/supportdesk/pkg/models"
)

// transitions lists the statuses reachable from each status. Completed has
// no entry and is terminal.
var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.StatusOffline:      {models.StatusOnline},
	models.StatusOnline:       {models.StatusWaiting, models.StatusActive, models.StatusCompleted, models.StatusDisconnected},
	models.StatusWaiting:      {models.StatusActive, models.StatusCompleted, models.StatusDisconnected},
	models.StatusActive:       {models.StatusCompleted, models.StatusDisconnected},
	models.StatusDisconnected: {models.StatusOnline},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to models.SessionStatus) bool {
	return slices.Contains(transitions[from], to)
}

// checkTransition returns a *StateError when op may not move rec to status to.
func checkTransition(op string, rec *models.SessionRecord, to models.SessionStatus) error {
	if !CanTransition(rec.Status, to) {
		return &StateError{Op: op, From: rec.Status}
	}
	return nil
}

// CanClaim reports whether an unassigned session in status may be claimed.
func CanClaim(status models.SessionStatus) bool {
	switch status {
	case models.StatusWaiting, models.StatusOnline:
		return true
	}
	return false
}

// NewSessionID formats a session id as <customer>_SESSION_<yyyyMMddHHmmss>.
func NewSessionID(customerID string, now time.Time) string {
	return customerID + "_SESSION_" + now.UTC().Format("20060102150405")
}

package session

import (
	"errors"
	"fmt"

	"github.com/thebtf/supportdesk/pkg/models"
)

var (
	// ErrNoSession is returned when an operation needs a current session.
	ErrNoSession = errors.New("no current session")
	// ErrNoClaimer is returned by Claim when no assignment coordinator is wired.
	ErrNoClaimer = errors.New("no assignment coordinator configured")
)

// StateError rejects an operation that is not valid in the current status.
// It is raised before any network call.
type StateError struct {
	Op   string
	From models.SessionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed while session is %s", e.Op, e.From)
}

// AlreadyAssignedError means another staff member holds the session.
type AlreadyAssignedError struct {
	SessionID       string
	ConflictStaffID string
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("session %s already assigned to %s", e.SessionID, e.ConflictStaffID)
}

package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thebtf/supportdesk/pkg/models"
)

// ErrClosed is returned once the reconciler has been closed.
var ErrClosed = errors.New("reconciler closed")

// ErrUnknownMessage is returned by Retry for ids that are not in the view.
var ErrUnknownMessage = errors.New("unknown message")

// DeliveryState tracks whether the store has a locally sent message.
type DeliveryState int

const (
	// Pending means the send is in flight.
	Pending DeliveryState = iota
	// Confirmed means the store accepted or returned the message.
	Confirmed
	// Failed means delivery failed and the message is not confirmed.
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("DeliveryState(%d)", int(s))
}

// ParseDeliveryState is the inverse of String. Unknown values are Failed.
func ParseDeliveryState(s string) DeliveryState {
	switch s {
	case "pending":
		return Pending
	case "confirmed":
		return Confirmed
	}
	return Failed
}

// Entry is a message in the merged view together with its delivery state.
type Entry struct {
	models.Message
	State DeliveryState
}

// IntegrityError reports message ids the store returned with content that
// differs from an earlier occurrence. The first occurrence is kept.
type IntegrityError struct {
	SessionID string
	IDs       []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("session %s: conflicting content for message ids %s",
		e.SessionID, strings.Join(e.IDs, ", "))
}

// EventKind classifies reconciler events.
type EventKind int

const (
	// Appended fires when an entry enters the view.
	Appended EventKind = iota
	// StateChanged fires when an entry's delivery state changes.
	StateChanged
	// DeliveryFailed fires when a send fails.
	DeliveryFailed
)

// Event is emitted to the owner after the view changes.
type Event struct {
	Err   error
	Entry Entry
	Kind  EventKind
}

package session

import (
	"github.com/thebtf/supportdesk/internal/reconcile"
	"github.com/thebtf/supportdesk/pkg/models"
)

// EventKind classifies session events.
type EventKind int

const (
	// StatusChanged carries the updated record.
	StatusChanged EventKind = iota
	// MessageAdded carries a message that entered the view.
	MessageAdded
	// MessageStateChanged carries a message whose delivery state changed.
	MessageStateChanged
	// DeliveryFailed carries a message the store did not confirm.
	DeliveryFailed
	// SessionClosed fires once after Complete.
	SessionClosed
)

func (k EventKind) String() string {
	switch k {
	case StatusChanged:
		return "status_changed"
	case MessageAdded:
		return "message_added"
	case MessageStateChanged:
		return "message_state_changed"
	case DeliveryFailed:
		return "delivery_failed"
	case SessionClosed:
		return "session_closed"
	}
	return "unknown"
}

// Event is published to subscribers of a Manager.
type Event struct {
	Err       error
	Message   models.Message
	Record    models.SessionRecord
	SessionID string
	Kind      EventKind
	State     reconcile.DeliveryState
}

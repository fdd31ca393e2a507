// Package models contains domain models for supportdesk.
package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// MessageType is the closed set of message kinds exchanged in a session.
type MessageType string

const (
	MessageTypeUser         MessageType = "User"
	MessageTypeStaff        MessageType = "Staff"
	MessageTypeSystem       MessageType = "System"
	MessageTypeAI           MessageType = "AI"
	MessageTypeNotification MessageType = "Notification"
)

// ParseMessageType converts a wire value into a MessageType.
// The store still emits the legacy "Customer" label for customer messages.
// Unknown values map to MessageTypeUser and ok=false.
func ParseMessageType(s string) (MessageType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "customer":
		return MessageTypeUser, true
	case "staff":
		return MessageTypeStaff, true
	case "system":
		return MessageTypeSystem, true
	case "ai":
		return MessageTypeAI, true
	case "notification":
		return MessageTypeNotification, true
	}
	return MessageTypeUser, false
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t, _ = ParseMessageType(s)
	return nil
}

// Message is a single chat message. Messages are immutable once created.
type Message struct {
	Timestamp   time.Time   `json:"timestamp"`
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	Content     string      `json:"content"`
	Sender      string      `json:"sender"`
	Type        MessageType `json:"type"`
	IsFromStaff bool        `json:"isFromStaff"`
}

// NewMessage builds a message with a fresh id. The id is generated exactly once
// here and must be reused for every delivery attempt.
func NewMessage(sessionID, content, sender string, msgType MessageType, now time.Time) Message {
	return Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Content:     content,
		Sender:      sender,
		Timestamp:   now.UTC(),
		Type:        msgType,
		IsFromStaff: msgType == MessageTypeStaff,
	}
}

// SameContent reports whether two messages carry the same payload.
// Timestamps are ignored; the store may reformat them.
func (m Message) SameContent(other Message) bool {
	return m.SessionID == other.SessionID &&
		m.Content == other.Content &&
		m.Sender == other.Sender &&
		m.Type == other.Type
}

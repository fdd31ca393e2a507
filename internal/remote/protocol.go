// Package remote talks to the external session store over its action protocol.
//
// The store is a plain request/response endpoint: every call is a POST of
// {action, data, timestamp} answered by {success, message, data, timestamp}.
// There is no push channel, no transaction and no compare-and-swap, and the
// envelope carries no credentials; the endpoint URL is the only secret.
package remote

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Action names a store operation.
type Action string

const (
	ActionSendMessage          Action = "sendMessage"
	ActionGetChatHistory       Action = "getChatHistory"
	ActionCreateSession        Action = "createSession"
	ActionUpdateSession        Action = "updateSession"
	ActionUpdateSessionStatus  Action = "updateSessionStatus"
	ActionGetActiveSessions    Action = "getActiveSessions"
	ActionGetCustomerSessions  Action = "getCustomerSessions"
	ActionAssignStaffToSession Action = "assignStaffToSession"
	ActionSaveSessionHistory   Action = "saveSessionHistory"
)

// request is the outbound envelope.
type request struct {
	Data      any    `json:"data"`
	Action    Action `json:"action"`
	Timestamp string `json:"timestamp"`
}

// response is the inbound envelope. Success is a pointer so a missing
// field can be told apart from an explicit false.
type response struct {
	Success   *bool           `json:"success"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Result is the outcome of one Execute call. It is always returned, never panicked.
type Result[T any] struct {
	Data     T
	Err      error
	Message  string
	Attempts int
	OK       bool
}

// Empty is used for actions whose response data is ignored.
type Empty struct{}

func failed[T any](err error, attempts int) Result[T] {
	return Result[T]{Err: err, Message: err.Error(), Attempts: attempts}
}

// mapResult converts the payload of a successful result.
func mapResult[T, U any](r Result[T], fn func(T) U) Result[U] {
	out := Result[U]{Err: r.Err, Message: r.Message, Attempts: r.Attempts, OK: r.OK}
	if r.OK {
		out.Data = fn(r.Data)
	}
	return out
}

// Timestamp decodes the handful of timestamp shapes the store produces.
// Empty strings and null decode as the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000Z07:00",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// null or a non-string value
		t.Time = time.Time{}
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return &time.ParseError{Layout: time.RFC3339, Value: s, Message: ": unrecognized timestamp"}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

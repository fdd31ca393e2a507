package remote

import (
	"context"
	"time"

	"github.com/thebtf/supportdesk/pkg/models"
)

// API is the typed surface of the store. Every method returns a Result and
// never panics.
type API interface {
	SendMessage(ctx context.Context, msg models.Message) Result[Empty]
	GetChatHistory(ctx context.Context, sessionID string) Result[[]models.Message]
	CreateSession(ctx context.Context, rec *models.SessionRecord) Result[Empty]
	UpdateSession(ctx context.Context, upd SessionUpdate) Result[Empty]
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) Result[Empty]
	GetActiveSessions(ctx context.Context) Result[[]SessionInfo]
	GetCustomerSessions(ctx context.Context, customerID string) Result[[]SessionInfo]
	AssignStaffToSession(ctx context.Context, req AssignRequest) Result[Assignment]
	SaveSessionHistory(ctx context.Context, h *models.SessionHistory) Result[Empty]
}

// CustomerRef identifies the customer a session belongs to.
type CustomerRef struct {
	SerialNumber string `json:"serialNumber"`
	DeviceModel  string `json:"deviceModel"`
}

// SessionInfo is a session row as the store reports it.
type SessionInfo struct {
	Priority       *models.Priority     `json:"priority"`
	Online         *bool                `json:"isOnline"`
	StartedAt      Timestamp            `json:"startedAt"`
	EndedAt        Timestamp            `json:"endedAt"`
	LastActivity   Timestamp            `json:"lastActivity"`
	LastHeartbeat  Timestamp            `json:"lastHeartbeat"`
	Customer       CustomerRef          `json:"customer"`
	ID             string               `json:"id"`
	Status         models.SessionStatus `json:"status"`
	AssignedStaff  string               `json:"assignedStaff"`
	CurrentClaimID string               `json:"currentClaimId"`
	Messages       []wireMessage        `json:"messages"`
	MessageCount   int                  `json:"messageCount"`
}

// Count returns the number of messages the store knows of.
func (s SessionInfo) Count() int {
	return max(s.MessageCount, len(s.Messages))
}

// Record converts the row into a SessionRecord.
//
// The store does not track heartbeats separately for every row; when the
// field is missing LastActivity stands in, since heartbeats refresh it.
func (s SessionInfo) Record() models.SessionRecord {
	rec := models.SessionRecord{
		CustomerID:     s.Customer.SerialNumber,
		DeviceModel:    s.Customer.DeviceModel,
		SessionID:      s.ID,
		Status:         s.Status,
		AssignedStaff:  s.AssignedStaff,
		CurrentClaimID: s.CurrentClaimID,
		SessionStarted: s.StartedAt.Time,
		FirstConnected: s.StartedAt.Time,
		LastActivity:   s.LastActivity.Time,
		LastHeartbeat:  s.LastHeartbeat.Time,
		TotalMessages:  s.Count(),
		Priority:       models.PriorityNormal,
	}
	if s.Priority != nil {
		rec.Priority = *s.Priority
	}
	if rec.LastActivity.IsZero() {
		rec.LastActivity = rec.SessionStarted
	}
	if rec.LastHeartbeat.IsZero() {
		rec.LastHeartbeat = rec.LastActivity
	}
	if s.Online != nil {
		rec.Online = *s.Online
	} else {
		switch s.Status {
		case models.StatusOffline, models.StatusCompleted, models.StatusDisconnected:
			rec.Online = false
		default:
			rec.Online = true
		}
	}
	if rec.AssignedStaff != "" {
		rec.StaffAssignedAt = rec.LastActivity
	}
	return rec
}

// InfoFromRecord builds the store row for rec.
func InfoFromRecord(rec *models.SessionRecord) SessionInfo {
	prio := rec.Priority
	online := rec.Online
	return SessionInfo{
		ID:             rec.SessionID,
		Customer:       CustomerRef{SerialNumber: rec.CustomerID, DeviceModel: rec.DeviceModel},
		Status:         rec.Status,
		AssignedStaff:  rec.AssignedStaff,
		CurrentClaimID: rec.CurrentClaimID,
		StartedAt:      Timestamp{rec.SessionStarted},
		LastActivity:   Timestamp{rec.LastActivity},
		LastHeartbeat:  Timestamp{rec.LastHeartbeat},
		MessageCount:   rec.TotalMessages,
		Priority:       &prio,
		Online:         &online,
	}
}

// SessionUpdate is a partial update. Nil fields are left untouched by the store.
type SessionUpdate struct {
	Status         *models.SessionStatus `json:"status,omitempty"`
	AssignedStaff  *string               `json:"assignedStaff,omitempty"`
	CurrentClaimID *string               `json:"currentClaimId,omitempty"`
	Online         *bool                 `json:"isOnline,omitempty"`
	LastHeartbeat  *time.Time            `json:"lastHeartbeat,omitempty"`
	LastActivity   *time.Time            `json:"lastActivity,omitempty"`
	ID             string                `json:"id"`
}

// AssignRequest asks the store to record a staff assignment.
type AssignRequest struct {
	SessionID string `json:"sessionId"`
	StaffID   string `json:"staffId"`
	ClaimID   string `json:"claimId"`
}

// Assignment is the store's view of who owns a session.
type Assignment struct {
	SessionID      string `json:"sessionId"`
	AssignedStaff  string `json:"assignedStaff"`
	CurrentClaimID string `json:"currentClaimId"`
}

// wireMessage is the store's message shape. Older rows carry senderName
// instead of sender and the legacy "Customer" type.
type wireMessage struct {
	Timestamp   Timestamp `json:"timestamp"`
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Content     string    `json:"content"`
	Sender      string    `json:"sender,omitempty"`
	SenderName  string    `json:"senderName,omitempty"`
	Type        string    `json:"type"`
	IsFromStaff bool      `json:"isFromStaff"`
}

func toWire(m models.Message) wireMessage {
	return wireMessage{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Content:     m.Content,
		Sender:      m.Sender,
		SenderName:  m.Sender,
		Timestamp:   Timestamp{m.Timestamp},
		Type:        string(m.Type),
		IsFromStaff: m.IsFromStaff,
	}
}

func (w wireMessage) message() models.Message {
	sender := w.Sender
	if sender == "" {
		sender = w.SenderName
	}
	typ, _ := models.ParseMessageType(w.Type)
	return models.Message{
		ID:          w.ID,
		SessionID:   w.SessionID,
		Content:     w.Content,
		Sender:      sender,
		Timestamp:   w.Timestamp.Time,
		Type:        typ,
		IsFromStaff: w.IsFromStaff || typ == models.MessageTypeStaff,
	}
}

func messagesFromWire(in []wireMessage) []models.Message {
	out := make([]models.Message, 0, len(in))
	for _, w := range in {
		out = append(out, w.message())
	}
	return out
}

// SendMessage appends a message to the store's log.
func (c *Client) SendMessage(ctx context.Context, msg models.Message) Result[Empty] {
	return Execute[Empty](ctx, c, ActionSendMessage, toWire(msg))
}

// GetChatHistory fetches the full message log of a session.
func (c *Client) GetChatHistory(ctx context.Context, sessionID string) Result[[]models.Message] {
	res := Execute[[]wireMessage](ctx, c, ActionGetChatHistory, map[string]string{"sessionId": sessionID})
	return mapResult(res, messagesFromWire)
}

// CreateSession registers a new session row.
func (c *Client) CreateSession(ctx context.Context, rec *models.SessionRecord) Result[Empty] {
	return Execute[Empty](ctx, c, ActionCreateSession, InfoFromRecord(rec))
}

// UpdateSession applies a partial update.
func (c *Client) UpdateSession(ctx context.Context, upd SessionUpdate) Result[Empty] {
	return Execute[Empty](ctx, c, ActionUpdateSession, upd)
}

// UpdateSessionStatus sets the status of a session.
func (c *Client) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) Result[Empty] {
	return Execute[Empty](ctx, c, ActionUpdateSessionStatus, map[string]string{
		"sessionId": sessionID,
		"status":    string(status),
	})
}

// GetActiveSessions lists sessions the store considers open.
func (c *Client) GetActiveSessions(ctx context.Context) Result[[]SessionInfo] {
	return Execute[[]SessionInfo](ctx, c, ActionGetActiveSessions, struct{}{})
}

// GetCustomerSessions lists every session of one customer.
func (c *Client) GetCustomerSessions(ctx context.Context, customerID string) Result[[]SessionInfo] {
	return Execute[[]SessionInfo](ctx, c, ActionGetCustomerSessions, map[string]string{"serialNumber": customerID})
}

// AssignStaffToSession records req and returns the store's resulting assignment.
func (c *Client) AssignStaffToSession(ctx context.Context, req AssignRequest) Result[Assignment] {
	res := Execute[Assignment](ctx, c, ActionAssignStaffToSession, req)
	if res.OK && res.Data.SessionID == "" {
		// older stores answer with no data at all
		res.Data = Assignment{SessionID: req.SessionID, AssignedStaff: req.StaffID, CurrentClaimID: req.ClaimID}
	}
	return res
}

// SaveSessionHistory archives an ended session.
func (c *Client) SaveSessionHistory(ctx context.Context, h *models.SessionHistory) Result[Empty] {
	return Execute[Empty](ctx, c, ActionSaveSessionHistory, h)
}

var _ API = (*Client)(nil)

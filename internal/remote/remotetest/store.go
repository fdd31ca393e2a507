// Package remotetest provides an in-memory store implementing remote.API
// with failure injection and call hooks for tests.
package remotetest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/thebtf/supportdesk/internal/remote"
	"github.com/thebtf/supportdesk/pkg/models"
)

// Store is a non-transactional in-memory session store. Like the real one it
// has no compare-and-swap: assignments overwrite whatever is there.
type Store struct {
	now       func() time.Time
	records   map[string]*models.SessionRecord
	messages  map[string][]models.Message
	calls     map[remote.Action]int
	failures  map[remote.Action][]error
	sticky    map[remote.Action]error
	hooks     map[remote.Action]func(call int)
	histories []models.SessionHistory
	mu        sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:      time.Now,
		records:  make(map[string]*models.SessionRecord),
		messages: make(map[string][]models.Message),
		calls:    make(map[remote.Action]int),
		failures: make(map[remote.Action][]error),
		sticky:   make(map[remote.Action]error),
		hooks:    make(map[remote.Action]func(int)),
	}
}

// SetClock replaces the store clock.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext makes the next n calls of action fail with err.
func (s *Store) FailNext(action remote.Action, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures[action] = append(s.failures[action], err)
	}
}

// FailAlways makes every call of action fail with err. A nil err clears it.
func (s *Store) FailAlways(action remote.Action, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.sticky, action)
		return
	}
	s.sticky[action] = err
}

// OnCall registers fn to run before action is applied. call is the 1-based
// call count. fn runs without the store lock held and may call the store.
func (s *Store) OnCall(action remote.Action, fn func(call int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[action] = fn
}

// Calls returns how often action was invoked.
func (s *Store) Calls(action remote.Action) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[action]
}

// Seed inserts or replaces a record.
func (s *Store) Seed(rec models.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SessionID] = &rec
}

// Append adds a message as if another client had sent it.
func (s *Store) Append(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
}

// Assign overwrites the assignment of a session as another client would.
func (s *Store) Assign(sessionID, staffID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[sessionID]; ok {
		rec.AssignedStaff = staffID
	}
}

// Session returns a copy of a stored record.
func (s *Store) Session(sessionID string) (models.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return models.SessionRecord{}, false
	}
	return *rec, true
}

// Messages returns the stored log of a session.
func (s *Store) Messages(sessionID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[sessionID])
}

// Histories returns every archived history.
func (s *Store) Histories() []models.SessionHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.histories)
}

// begin counts the call, runs its hook and pops an injected failure.
func (s *Store) begin(action remote.Action) error {
	s.mu.Lock()
	s.calls[action]++
	call := s.calls[action]
	hook := s.hooks[action]
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.sticky[action]; ok {
		return err
	}
	if queue := s.failures[action]; len(queue) > 0 {
		s.failures[action] = queue[1:]
		return queue[0]
	}
	return nil
}

func fail[T any](err error) remote.Result[T] {
	return remote.Result[T]{Err: err, Message: err.Error(), Attempts: 1}
}

func ok[T any](data T) remote.Result[T] {
	return remote.Result[T]{Data: data, OK: true, Attempts: 1}
}

func notFound(action remote.Action) error {
	return &remote.ApplicationError{Action: action, Message: "Session not found"}
}

// SendMessage implements remote.API.
func (s *Store) SendMessage(_ context.Context, msg models.Message) remote.Result[remote.Empty] {
	if err := s.begin(remote.ActionSendMessage); err != nil {
		return fail[remote.Empty](err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	if rec, ok := s.records[msg.SessionID]; ok {
		rec.LastActivity = s.now().UTC()
		rec.TotalMessages++
	}
	return ok(remote.Empty{})
}

// GetChatHistory implements remote.API.
func (s *Store) GetChatHistory(_ context.Context, sessionID string) remote.Result[[]models.Message] {
	if err := s.begin(remote.ActionGetChatHistory); err != nil {
		return fail[[]models.Message](err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ok(slices.Clone(s.messages[sessionID]))
}

// CreateSession implements remote.API.
func (s *Store) CreateSession(_ context.Context, rec *models.SessionRecord) remote.Result[remote.Empty] {
	if err := s.begin(remote.ActionCreateSession); err != nil {
		return fail[remote.Empty](err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.SessionID] = &cp
	return ok(remote.Empty{})
}

// UpdateSession implements remote.API.
func (s *Store) UpdateSession(_ context.Context, upd remote.SessionUpdate) remote.Result[remote.Empty] {
	if err := s.begin(remote.ActionUpdateSession); err != nil {
		return fail[remote.Empty](err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.records[upd.ID]
	if !found {
		return fail[remote.Empty](notFound(remote.ActionUpdateSession))
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.AssignedStaff != nil {
		rec.AssignedStaff = *upd.AssignedStaff
	}
	if upd.CurrentClaimID != nil {
		rec.CurrentClaimID = *upd.CurrentClaimID
	}
	if upd.Online != nil {
		rec.Online = *upd.Online
	}
	if upd.LastHeartbeat != nil {
		rec.LastHeartbeat = *upd.LastHeartbeat
	}
	if upd.LastActivity != nil {
		rec.LastActivity = *upd.LastActivity
	}
	return ok(remote.Empty{})
}

// UpdateSessionStatus implements remote.API.
func (s *Store) UpdateSessionStatus(_ context.Context, sessionID string, status models.SessionStatus) remote.Result[remote.Empty] {
	if err := s.begin(remote.ActionUpdateSessionStatus); err != nil {
		return fail[remote.Empty](err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.records[sessionID]
	if !found {
		return fail[remote.Empty](notFound(remote.ActionUpdateSessionStatus))
	}
	rec.Status = status
	rec.LastActivity = s.now().UTC()
	return ok(remote.Empty{})
}

// GetActiveSessions implements remote.API. Completed and disconnected rows
// are left out, newest activity first.
func (s *Store) GetActiveSessions(_ context.Context) remote.Result[[]remote.SessionInfo] {
	if err := s.begin(remote.ActionGetActiveSessions); err != nil {
		return fail[[]remote.SessionInfo](err)
	}
	return ok(s.collect(func(rec *models.SessionRecord) bool {
		return rec.Status != models.StatusCompleted && rec.Status != models.StatusDisconnected
	}))
}

// GetCustomerSessions implements remote.API.
func (s *Store) GetCustomerSessions(_ context.Context, customerID string) remote.Result[[]remote.SessionInfo] {
	if err := s.begin(remote.ActionGetCustomerSessions); err != nil {
		return fail[[]remote.SessionInfo](err)
	}
	return ok(s.collect(func(rec *models.SessionRecord) bool {
		return rec.CustomerID == customerID
	}))
}

func (s *Store) collect(keep func(*models.SessionRecord) bool) []remote.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []remote.SessionInfo
	for _, rec := range s.records {
		if !keep(rec) {
			continue
		}
		info := remote.InfoFromRecord(rec)
		info.MessageCount = max(rec.TotalMessages, len(s.messages[rec.SessionID]))
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity.Time)
	})
	return out
}

// AssignStaffToSession implements remote.API. The write is unconditional.
func (s *Store) AssignStaffToSession(_ context.Context, req remote.AssignRequest) remote.Result[remote.Assignment] {
	if err := s.begin(remote.ActionAssignStaffToSession); err != nil {
		return fail[remote.Assignment](err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.records[req.SessionID]
	if !found {
		return fail[remote.Assignment](notFound(remote.ActionAssignStaffToSession))
	}
	rec.AssignedStaff = req.StaffID
	rec.CurrentClaimID = req.ClaimID
	rec.StaffAssignedAt = s.now().UTC()
	return ok(remote.Assignment{
		SessionID:      rec.SessionID,
		AssignedStaff:  rec.AssignedStaff,
		CurrentClaimID: rec.CurrentClaimID,
	})
}

// SaveSessionHistory implements remote.API.
func (s *Store) SaveSessionHistory(_ context.Context, h *models.SessionHistory) remote.Result[remote.Empty] {
	if err := s.begin(remote.ActionSaveSessionHistory); err != nil {
		return fail[remote.Empty](err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = append(s.histories, *h)
	return ok(remote.Empty{})
}

var _ remote.API = (*Store)(nil)

package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/supportdesk/internal/remote"
	"github.com/thebtf/supportdesk/internal/remote/remotetest"
	"github.com/thebtf/supportdesk/pkg/models"
)

const sessionID = "LM1234_SESSION_20240301120000"

type memJournal struct {
	saved map[string]Entry
	mu    sync.Mutex
}

func (j *memJournal) SaveEntry(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saved[e.ID] = e
	return nil
}

func (j *memJournal) LoadEntries(_ context.Context, id string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.saved {
		if e.SessionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReconcilerSuite tests the reconciler against the in-memory store.
type ReconcilerSuite struct {
	suite.Suite
	store   *remotetest.Store
	journal *memJournal
	r       *Reconciler
	ctx     context.Context
	clock   time.Time
	events  []Event
	mu      sync.Mutex
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = remotetest.New()
	s.journal = &memJournal{saved: make(map[string]Entry)}
	s.clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.events = nil
	s.r = New(s.store, sessionID,
		WithClock(s.now),
		WithJournal(s.journal),
		WithEvents(func(ev Event) {
			s.mu.Lock()
			s.events = append(s.events, ev)
			s.mu.Unlock()
		}),
	)
}

func (s *ReconcilerSuite) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *ReconcilerSuite) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (s *ReconcilerSuite) remoteMsg(id, content string, at time.Time) models.Message {
	return models.Message{ID: id, SessionID: sessionID, Content: content, Sender: "Kim", Type: models.MessageTypeStaff, Timestamp: at, IsFromStaff: true}
}

func (s *ReconcilerSuite) TestSendIsOptimistic() {
	release := make(chan struct{})
	s.store.OnCall(remote.ActionSendMessage, func(int) { <-release })

	msg, err := s.r.Send(s.ctx, "hello", models.MessageTypeUser, "LM1234")
	s.Require().NoError(err)
	s.NotEmpty(msg.ID)

	entries := s.r.Entries()
	s.Require().Len(entries, 1)
	s.Equal(Pending, entries[0].State)
	s.Equal("hello", entries[0].Content)

	close(release)
	s.Require().NoError(s.r.Flush(s.ctx))

	entries = s.r.Entries()
	s.Equal(Confirmed, entries[0].State)
	s.Equal([]EventKind{Appended, StateChanged}, s.kinds())

	stored := s.store.Messages(sessionID)
	s.Require().Len(stored, 1)
	s.Equal(msg.ID, stored[0].ID)
	s.Equal(Confirmed, s.journal.saved[msg.ID].State)
}

func (s *ReconcilerSuite) TestFailedSendStaysVisible() {
	s.store.FailNext(remote.ActionSendMessage, 1, &remote.TransportError{Action: remote.ActionSendMessage, Err: errors.New("timeout")})

	msg, err := s.r.Send(s.ctx, "hello", models.MessageTypeUser, "LM1234")
	s.Require().NoError(err)
	s.Require().NoError(s.r.Flush(s.ctx))

	entries := s.r.Entries()
	s.Require().Len(entries, 1)
	s.Equal(msg.ID, entries[0].ID)
	s.Equal(Failed, entries[0].State)
	s.Equal([]EventKind{Appended, DeliveryFailed}, s.kinds())
	s.Empty(s.store.Messages(sessionID))

	s.Require().NoError(s.r.Retry(s.ctx, msg.ID))
	s.Require().NoError(s.r.Flush(s.ctx))
	s.Equal(Confirmed, s.r.Entries()[0].State)

	stored := s.store.Messages(sessionID)
	s.Require().Len(stored, 1)
	s.Equal(msg.ID, stored[0].ID)
}

func (s *ReconcilerSuite) TestRetryUnknownMessage() {
	s.ErrorIs(s.r.Retry(s.ctx, "nope"), ErrUnknownMessage)
}

func (s *ReconcilerSuite) TestSyncIsIdempotent() {
	base := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	s.store.Append(s.remoteMsg("r1", "hi", base))
	s.store.Append(s.remoteMsg("r2", "how can I help", base.Add(time.Second)))

	s.Require().NoError(s.r.Sync(s.ctx))
	first := s.r.Messages()
	s.Len(first, 2)
	eventsAfterFirst := len(s.kinds())

	s.Require().NoError(s.r.Sync(s.ctx))
	s.Equal(first, s.r.Messages())
	s.Len(s.kinds(), eventsAfterFirst)
}

func (s *ReconcilerSuite) TestSyncOrdersByTimestamp() {
	msg, err := s.r.Send(s.ctx, "local", models.MessageTypeUser, "LM1234")
	s.Require().NoError(err)
	s.Require().NoError(s.r.Flush(s.ctx))

	s.store.Append(s.remoteMsg("early", "before", msg.Timestamp.Add(-time.Minute)))
	s.store.Append(s.remoteMsg("late", "after", msg.Timestamp.Add(time.Minute)))

	s.Require().NoError(s.r.Sync(s.ctx))

	var ids []string
	for _, m := range s.r.Messages() {
		ids = append(ids, m.ID)
	}
	s.Equal([]string{"early", msg.ID, "late"}, ids)
}

func (s *ReconcilerSuite) TestSyncConfirmsFailedMessage() {
	s.store.FailNext(remote.ActionSendMessage, 1, &remote.TransportError{Action: remote.ActionSendMessage, Err: errors.New("timeout")})
	msg, err := s.r.Send(s.ctx, "hello", models.MessageTypeUser, "LM1234")
	s.Require().NoError(err)
	s.Require().NoError(s.r.Flush(s.ctx))
	s.Require().Equal(Failed, s.r.Entries()[0].State)

	// the write reached the store even though the response was lost
	s.store.Append(msg)

	s.Require().NoError(s.r.Sync(s.ctx))
	entries := s.r.Entries()
	s.Require().Len(entries, 1)
	s.Equal(Confirmed, entries[0].State)
}

func (s *ReconcilerSuite) TestNoDuplicateIDs() {
	at := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	s.store.Append(s.remoteMsg("r1", "hi", at))
	s.store.Append(s.remoteMsg("r1", "hi", at))

	s.Require().NoError(s.r.Sync(s.ctx))
	s.Len(s.r.Messages(), 1)
}

func (s *ReconcilerSuite) TestConflictingDuplicateKeepsFirst() {
	at := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	s.store.Append(s.remoteMsg("r1", "original", at))
	s.store.Append(s.remoteMsg("r1", "tampered", at))
	s.store.Append(s.remoteMsg("r2", "next", at.Add(time.Second)))

	err := s.r.Sync(s.ctx)
	var ie *IntegrityError
	s.Require().ErrorAs(err, &ie)
	s.Equal([]string{"r1"}, ie.IDs)
	s.Equal(sessionID, ie.SessionID)

	msgs := s.r.Messages()
	s.Require().Len(msgs, 2)
	s.Equal("original", msgs[0].Content)
	s.Equal("r2", msgs[1].ID)
}

func (s *ReconcilerSuite) TestSyncFailureKeepsView() {
	_, err := s.r.Send(s.ctx, "hello", models.MessageTypeUser, "LM1234")
	s.Require().NoError(err)
	s.Require().NoError(s.r.Flush(s.ctx))

	s.store.FailNext(remote.ActionGetChatHistory, 1, &remote.ProtocolError{Action: remote.ActionGetChatHistory, StatusCode: 500})
	err = s.r.Sync(s.ctx)

	var pe *remote.ProtocolError
	s.ErrorAs(err, &pe)
	s.Len(s.r.Messages(), 1)
}

func (s *ReconcilerSuite) TestAnnounceIsHidden() {
	hidden := models.NewMessage(sessionID, "session initialized", "System", models.MessageTypeSystem, time.Now())
	s.Require().NoError(s.r.Announce(s.ctx, hidden))
	s.Len(s.store.Messages(sessionID), 1)

	s.Require().NoError(s.r.Sync(s.ctx))
	s.Empty(s.r.Messages())
}

func (s *ReconcilerSuite) TestClosedDropsLateResults() {
	release := make(chan struct{})
	s.store.OnCall(remote.ActionSendMessage, func(int) { <-release })

	_, err := s.r.Send(s.ctx, "hello", models.MessageTypeUser, "LM1234")
	s.Require().NoError(err)

	s.r.Close()
	close(release)
	s.Require().NoError(s.r.Flush(s.ctx))

	s.Equal(Pending, s.r.Entries()[0].State)
	s.Equal([]EventKind{Appended}, s.kinds())

	_, err = s.r.Send(s.ctx, "again", models.MessageTypeUser, "LM1234")
	s.ErrorIs(err, ErrClosed)
	s.ErrorIs(s.r.Sync(s.ctx), ErrClosed)
}

func (s *ReconcilerSuite) TestTickSkipsWhileInFlight() {
	started := make(chan struct{})
	release := make(chan struct{})
	s.store.OnCall(remote.ActionGetChatHistory, func(call int) {
		if call == 1 {
			close(started)
			<-release
		}
	})

	s.True(s.r.Tick(s.ctx))
	<-started
	s.False(s.r.Tick(s.ctx))
	close(release)

	s.Eventually(func() bool { return s.r.Tick(s.ctx) }, time.Second, 5*time.Millisecond)
}

func (s *ReconcilerSuite) TestTickAfterClose() {
	s.r.Close()
	s.False(s.r.Tick(s.ctx))
	s.Equal(0, s.store.Calls(remote.ActionGetChatHistory))
}

func (s *ReconcilerSuite) TestLoadMarksPendingAsFailed() {
	at := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	s.journal.saved["j1"] = Entry{Message: s.remoteMsg("j1", "earlier", at), State: Pending}
	s.journal.saved["j2"] = Entry{Message: s.remoteMsg("j2", "confirmed", at.Add(time.Second)), State: Confirmed}

	s.Require().NoError(s.r.Load(s.ctx))
	entries := s.r.Entries()
	s.Require().Len(entries, 2)
	s.Equal("j1", entries[0].ID)
	s.Equal(Failed, entries[0].State)
	s.Equal(Confirmed, entries[1].State)
}

func (s *ReconcilerSuite) TestDeliveryStateString() {
	for _, st := range []DeliveryState{Pending, Confirmed, Failed} {
		s.Equal(st, ParseDeliveryState(st.String()))
	}
	s.Equal(Failed, ParseDeliveryState("garbage"))
}

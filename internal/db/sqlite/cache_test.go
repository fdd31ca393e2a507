package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/supportdesk/internal/reconcile"
	"github.com/thebtf/supportdesk/pkg/models"
)

// CacheSuite covers records, the message journal, histories and snapshots.
type CacheSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	now   time.Time
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testStore(s.T())
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *CacheSuite) record(id string, status models.SessionStatus, activity time.Time) *models.SessionRecord {
	return &models.SessionRecord{
		CustomerID:     "LM1234",
		DeviceModel:    "LM-200",
		SessionID:      id,
		Status:         status,
		Priority:       models.PriorityHigh,
		Online:         true,
		SessionStarted: s.now,
		FirstConnected: s.now,
		LastActivity:   activity,
		LastHeartbeat:  activity,
		TotalSessions:  2,
		ClientVersion:  "1.0.0",
	}
}

func (s *CacheSuite) TestRecordRoundTrip() {
	rec := s.record("LM1234_SESSION_20240301120000", models.StatusActive, s.now)
	rec.AssignedStaff = "Kim"
	rec.CurrentClaimID = "claim-1"
	rec.StaffAssignedAt = s.now.Add(time.Minute)
	s.Require().NoError(s.store.SaveRecord(s.ctx, rec))

	got, err := s.store.GetRecord(s.ctx, rec.SessionID)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(*rec, *got)

	rec.Status = models.StatusCompleted
	rec.Online = false
	s.Require().NoError(s.store.SaveRecord(s.ctx, rec))
	got, err = s.store.GetRecord(s.ctx, rec.SessionID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
	s.False(got.Online)
}

func (s *CacheSuite) TestMissingRecord() {
	got, err := s.store.GetRecord(s.ctx, "missing")
	s.NoError(err)
	s.Nil(got)

	got, err = s.store.LatestRecord(s.ctx, "nobody")
	s.NoError(err)
	s.Nil(got)
}

func (s *CacheSuite) TestLatestRecord() {
	s.Require().NoError(s.store.SaveRecord(s.ctx, s.record("old", models.StatusCompleted, s.now.Add(-time.Hour))))
	s.Require().NoError(s.store.SaveRecord(s.ctx, s.record("new", models.StatusOnline, s.now)))

	other := s.record("other", models.StatusOnline, s.now.Add(time.Hour))
	other.CustomerID = "LM9999"
	s.Require().NoError(s.store.SaveRecord(s.ctx, other))

	got, err := s.store.LatestRecord(s.ctx, "LM1234")
	s.Require().NoError(err)
	s.Equal("new", got.SessionID)
}

func (s *CacheSuite) TestSaveRecordRequiresID() {
	s.Error(s.store.SaveRecord(s.ctx, &models.SessionRecord{CustomerID: "LM1234"}))
}

func (s *CacheSuite) TestJournal() {
	first := models.NewMessage("s-1", "hello", "LM1234", models.MessageTypeUser, s.now)
	second := models.NewMessage("s-1", "hi there", "Kim", models.MessageTypeStaff, s.now.Add(time.Second))
	elsewhere := models.NewMessage("s-2", "other", "LM9999", models.MessageTypeUser, s.now)

	s.Require().NoError(s.store.SaveEntry(s.ctx, reconcile.Entry{Message: second, State: reconcile.Confirmed}))
	s.Require().NoError(s.store.SaveEntry(s.ctx, reconcile.Entry{Message: first, State: reconcile.Pending}))
	s.Require().NoError(s.store.SaveEntry(s.ctx, reconcile.Entry{Message: elsewhere, State: reconcile.Confirmed}))

	// a later state replaces the earlier one
	s.Require().NoError(s.store.SaveEntry(s.ctx, reconcile.Entry{Message: first, State: reconcile.Failed}))

	entries, err := s.store.LoadEntries(s.ctx, "s-1")
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(first.ID, entries[0].ID)
	s.Equal(reconcile.Failed, entries[0].State)
	s.Equal(models.MessageTypeUser, entries[0].Type)
	s.True(first.Timestamp.Equal(entries[0].Timestamp))
	s.Equal(second.ID, entries[1].ID)
	s.True(entries[1].IsFromStaff)
	s.Equal("Kim", entries[1].Sender)

	s.Require().NoError(s.store.DeleteEntries(s.ctx, "s-1"))
	entries, err = s.store.LoadEntries(s.ctx, "s-1")
	s.NoError(err)
	s.Empty(entries)
}

func (s *CacheSuite) TestHistoryIsWrittenOnce() {
	rec := s.record("s-1", models.StatusCompleted, s.now.Add(10*time.Minute))
	rec.AssignedStaff = "Kim"
	h := models.NewSessionHistory(rec, 4, "resolved", s.now.Add(10*time.Minute))

	s.Require().NoError(s.store.SaveHistory(s.ctx, h))
	again := *h
	again.Resolution = "changed"
	s.Require().NoError(s.store.SaveHistory(s.ctx, &again))

	list, err := s.store.ListHistory(s.ctx, "LM1234", 0)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("resolved", list[0].Resolution)
	s.Equal("Kim", list[0].AssignedStaff)
	s.Equal(600, list[0].DurationSeconds)
	s.Equal(4, list[0].MessageCount)
}

func (s *CacheSuite) TestListHistoryOrderAndLimit() {
	for i, id := range []string{"a", "b", "c"} {
		rec := s.record(id, models.StatusCompleted, s.now)
		ended := s.now.Add(time.Duration(i+1) * time.Minute)
		s.Require().NoError(s.store.SaveHistory(s.ctx, models.NewSessionHistory(rec, 0, "", ended)))
	}

	list, err := s.store.ListHistory(s.ctx, "LM1234", 2)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("c", list[0].SessionID)
	s.Equal("b", list[1].SessionID)
}

func (s *CacheSuite) TestSnapshot() {
	recs, at, err := s.store.LoadSnapshot(s.ctx)
	s.Require().NoError(err)
	s.Empty(recs)
	s.True(at.IsZero())

	want := []models.SessionRecord{
		*s.record("a", models.StatusWaiting, s.now),
		*s.record("b", models.StatusActive, s.now),
	}
	s.Require().NoError(s.store.SaveSnapshot(s.ctx, want, s.now))
	s.Require().NoError(s.store.SaveSnapshot(s.ctx, want[:1], s.now.Add(time.Minute)))

	recs, at, err = s.store.LoadSnapshot(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal("a", recs[0].SessionID)
	s.Equal(models.StatusWaiting, recs[0].Status)
	s.True(s.now.Add(time.Minute).Equal(at))
}

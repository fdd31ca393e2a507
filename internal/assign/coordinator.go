// Package assign resolves staff claims on sessions against a store that has
// no compare-and-swap.
//
// A claim reads the current assignment, writes only when it is empty, then
// reads it back. If the reread names someone else the claim lost a race and
// reports the winner. Claims on one session from this process are
// serialized, so two local claims always produce exactly one winner.
package assign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/supportdesk/internal/notices"
	"github.com/thebtf/supportdesk/internal/remote"
	"github.com/thebtf/supportdesk/internal/session"
	"github.com/thebtf/supportdesk/pkg/models"
)

// ErrSessionNotFound is returned when the store no longer lists the session.
var ErrSessionNotFound = errors.New("session not found in store")

// Store is the part of remote.API the coordinator uses.
type Store interface {
	GetCustomerSessions(ctx context.Context, customerID string) remote.Result[[]remote.SessionInfo]
	AssignStaffToSession(ctx context.Context, req remote.AssignRequest) remote.Result[remote.Assignment]
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) remote.Result[remote.Empty]
	SendMessage(ctx context.Context, msg models.Message) remote.Result[remote.Empty]
}

// Refresher re-reads the session directory.
type Refresher interface {
	ForceRefresh(ctx context.Context) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRefresher makes conflicts force a directory refresh.
func WithRefresher(r Refresher) Option { return func(c *Coordinator) { c.refresher = r } }

// WithNotify registers a callback for successful selections.
func WithNotify(fn func(models.AssignmentResult)) Option {
	return func(c *Coordinator) { c.notify = fn }
}

// WithClaimIDs replaces the claim id generator.
func WithClaimIDs(fn func() string) Option { return func(c *Coordinator) { c.newClaimID = fn } }

// WithNotices sets the catalog used for the staff-joined notice.
func WithNotices(cat *notices.Catalog) Option { return func(c *Coordinator) { c.notices = cat } }

// WithClock replaces time.Now for notice timestamps.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// Coordinator runs claims and selections.
type Coordinator struct {
	store      Store
	refresher  Refresher
	notify     func(models.AssignmentResult)
	newClaimID func() string
	now        func() time.Time
	notices    *notices.Catalog
	locks      map[string]*sessionLock
	mu         sync.Mutex
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a coordinator.
func New(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		newClaimID: uuid.NewString,
		now:        time.Now,
		notices:    notices.Default(),
		locks:      make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lock serializes work on one session id.
func (c *Coordinator) lock(sessionID string) func() {
	c.mu.Lock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		c.locks[sessionID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, sessionID)
		}
		c.mu.Unlock()
	}
}

// read fetches the store's current view of rec's session.
func (c *Coordinator) read(ctx context.Context, rec models.SessionRecord) (models.SessionRecord, error) {
	res := c.store.GetCustomerSessions(ctx, rec.CustomerID)
	if !res.OK {
		return models.SessionRecord{}, fmt.Errorf("read assignment: %w", res.Err)
	}
	for _, info := range res.Data {
		if info.ID == rec.SessionID {
			return info.Record(), nil
		}
	}
	return models.SessionRecord{}, fmt.Errorf("read assignment %s: %w", rec.SessionID, ErrSessionNotFound)
}

// Claim assigns rec's session to staffID. It returns
// *session.AlreadyAssignedError naming the holder when another staff member
// has it, before or after the write. An unassigned session that is not
// Online or Waiting fails with *session.StateError; when rec already shows
// that, no store call is made.
func (c *Coordinator) Claim(ctx context.Context, rec models.SessionRecord, staffID string) (models.AssignmentResult, error) {
	result := models.AssignmentResult{SessionID: rec.SessionID, StaffID: staffID}
	if staffID == "" {
		return result, errors.New("claim: empty staff id")
	}
	if rec.Status.IsTerminal() || (rec.AssignedStaff == "" && !session.CanClaim(rec.Status)) {
		return result, &session.StateError{Op: "claim", From: rec.Status}
	}

	unlock := c.lock(rec.SessionID)
	defer unlock()

	current, err := c.read(ctx, rec)
	if err != nil {
		return result, err
	}
	if current.Status.IsTerminal() {
		return result, &session.StateError{Op: "claim", From: current.Status}
	}
	switch current.AssignedStaff {
	case "":
	case staffID:
		result.Success, result.Rejoined = true, true
		result.ClaimID = current.CurrentClaimID
		return result, nil
	default:
		result.ConflictStaffID = current.AssignedStaff
		return result, &session.AlreadyAssignedError{SessionID: rec.SessionID, ConflictStaffID: current.AssignedStaff}
	}
	if !session.CanClaim(current.Status) {
		return result, &session.StateError{Op: "claim", From: current.Status}
	}

	claimID := c.newClaimID()
	res := c.store.AssignStaffToSession(ctx, remote.AssignRequest{
		SessionID: rec.SessionID,
		StaffID:   staffID,
		ClaimID:   claimID,
	})
	if !res.OK {
		return result, fmt.Errorf("claim: %w", res.Err)
	}

	after, err := c.read(ctx, rec)
	if err != nil {
		return result, err
	}
	if after.AssignedStaff != staffID {
		log.Warn().
			Str("sessionId", rec.SessionID).
			Str("staff", staffID).
			Str("winner", after.AssignedStaff).
			Msg("Lost claim race")
		result.ConflictStaffID = after.AssignedStaff
		return result, &session.AlreadyAssignedError{SessionID: rec.SessionID, ConflictStaffID: after.AssignedStaff}
	}

	result.Success = true
	result.ClaimID = claimID
	log.Info().Str("sessionId", rec.SessionID).Str("staff", staffID).Str("claimId", claimID).Msg("Claim recorded")
	return result, nil
}

// Select opens a directory row for staffID. A row already assigned to
// staffID is rejoined without a network claim. Otherwise the session is
// claimed and marked Active. On conflict the directory is refreshed and the
// real holder is reported.
func (c *Coordinator) Select(ctx context.Context, rec models.SessionRecord, staffID string) (models.AssignmentResult, error) {
	if rec.AssignedStaff != "" && rec.AssignedStaff == staffID {
		result := models.AssignmentResult{
			SessionID: rec.SessionID,
			StaffID:   staffID,
			ClaimID:   rec.CurrentClaimID,
			Success:   true,
			Rejoined:  true,
		}
		c.emit(result)
		return result, nil
	}

	result, err := c.Claim(ctx, rec, staffID)
	if err != nil {
		var conflict *session.AlreadyAssignedError
		if errors.As(err, &conflict) && c.refresher != nil {
			if rerr := c.refresher.ForceRefresh(ctx); rerr != nil {
				log.Warn().Err(rerr).Msg("Directory refresh after conflict failed")
			}
		}
		return result, err
	}

	if !result.Rejoined {
		if res := c.store.UpdateSessionStatus(ctx, rec.SessionID, models.StatusActive); !res.OK {
			log.Warn().Err(res.Err).Str("sessionId", rec.SessionID).Msg("Failed to mark selected session active")
		}
		c.announceJoin(ctx, rec, staffID)
	}
	c.emit(result)
	return result, nil
}

// announceJoin posts the staff-joined notice to the store, where both sides
// pick it up on their next sync.
func (c *Coordinator) announceJoin(ctx context.Context, rec models.SessionRecord, staffID string) {
	text := c.notices.Render(notices.StaffJoined, notices.Vars{Customer: rec.CustomerID, Staff: staffID})
	msg := models.NewMessage(rec.SessionID, text, "System", models.MessageTypeSystem, c.now())
	if res := c.store.SendMessage(ctx, msg); !res.OK {
		log.Warn().Err(res.Err).Str("sessionId", rec.SessionID).Msg("Failed to post staff joined notice")
	}
}

func (c *Coordinator) emit(result models.AssignmentResult) {
	if c.notify != nil {
		c.notify(result)
	}
}

var _ session.Claimer = (*Coordinator)(nil)

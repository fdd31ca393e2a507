// Package session owns the lifecycle of the current support session.
//
// A Manager holds at most one current session handle. Every mutation of the
// handle happens under the manager's lock; background work (heartbeat,
// message sync, delivery results) carries the handle's generation and is
// discarded when the generation no longer matches.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/supportdesk/internal/content"
	"github.com/thebtf/supportdesk/internal/events"
	"github.com/thebtf/supportdesk/internal/heartbeat"
	"github.com/thebtf/supportdesk/internal/notices"
	"github.com/thebtf/supportdesk/internal/reconcile"
	"github.com/thebtf/supportdesk/internal/remote"
	"github.com/thebtf/supportdesk/pkg/models"
)

// Role selects which side of a session the manager acts for.
type Role int

const (
	// RoleCustomer starts sessions and keeps them alive with heartbeats.
	RoleCustomer Role = iota
	// RoleStaff attaches to customer sessions and claims them.
	RoleStaff
)

const systemSender = "System"

// Claimer runs the claim protocol against the store.
type Claimer interface {
	Claim(ctx context.Context, rec models.SessionRecord, staffID string) (models.AssignmentResult, error)
}

// Cache is the local record store.
type Cache interface {
	SaveRecord(ctx context.Context, rec *models.SessionRecord) error
	LatestRecord(ctx context.Context, customerID string) (*models.SessionRecord, error)
}

// HistorySink archives ended sessions.
type HistorySink interface {
	SaveHistory(ctx context.Context, h *models.SessionHistory) error
}

// Config holds manager timing and identity.
type Config struct {
	ClientVersion     string
	StaffID           string
	SyncInterval      time.Duration
	HeartbeatInterval time.Duration
	Role              Role
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets timing and identity.
func WithConfig(cfg Config) Option { return func(m *Manager) { m.cfg = cfg } }

// WithClaimer wires the assignment coordinator.
func WithClaimer(c Claimer) Option { return func(m *Manager) { m.claimer = c } }

// WithCache wires the local record store.
func WithCache(c Cache) Option { return func(m *Manager) { m.cache = c } }

// WithJournal wires local message persistence.
func WithJournal(j reconcile.Journal) Option { return func(m *Manager) { m.journal = j } }

// WithArchive adds a history sink. It may be given more than once.
func WithArchive(s HistorySink) Option {
	return func(m *Manager) { m.archives = append(m.archives, s) }
}

// WithNotices sets the system message catalog.
func WithNotices(c *notices.Catalog) Option { return func(m *Manager) { m.notices = c } }

// WithPolicy sets the content policy for outgoing messages.
func WithPolicy(p content.Policy) Option { return func(m *Manager) { m.policy = p } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

type handle struct {
	recon *reconcile.Reconciler
	rec   models.SessionRecord
	gen   uint64
	// completing is set by the first Complete; later calls see no session.
	completing bool
}

// Manager is the single owner of the current session.
type Manager struct {
	api      remote.API
	claimer  Claimer
	cache    Cache
	journal  reconcile.Journal
	notices  *notices.Catalog
	now      func() time.Time
	bus      *events.Bus[Event]
	cur      *handle
	archives []HistorySink
	policy   content.Policy
	cfg      Config
	gen      uint64
	mu       sync.Mutex
	// startMu serializes StartOrResume and Attach so concurrent starts for
	// one customer produce one record.
	startMu sync.Mutex
}

// New creates a manager.
func New(api remote.API, opts ...Option) *Manager {
	m := &Manager{
		api:     api,
		notices: notices.Default(),
		policy:  content.Policy{MaxLength: content.DefaultMaxLength},
		now:     time.Now,
		bus:     events.NewBus[Event](events.DefaultBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.HeartbeatInterval <= 0 {
		m.cfg.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if m.cfg.SyncInterval < reconcile.MinInterval {
		m.cfg.SyncInterval = reconcile.MinInterval
	}
	return m
}

// Subscribe returns a channel of session events and its unsubscribe function.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.bus.Subscribe()
}

// Current returns a copy of the current record.
func (m *Manager) Current() (models.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return models.SessionRecord{}, false
	}
	return m.cur.rec, true
}

// Messages returns the merged message view of the current session.
func (m *Manager) Messages() []models.Message {
	if h := m.current(); h != nil {
		return h.recon.Messages()
	}
	return nil
}

// Entries returns the merged view with delivery states.
func (m *Manager) Entries() []reconcile.Entry {
	if h := m.current(); h != nil {
		return h.recon.Entries()
	}
	return nil
}

func (m *Manager) current() *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// update runs fn on the current handle if it still has generation gen.
func (m *Manager) update(gen uint64, fn func(h *handle)) (models.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || m.cur.gen != gen {
		return models.SessionRecord{}, false
	}
	fn(m.cur)
	return m.cur.rec, true
}

// install makes rec the current session and returns its handle.
func (m *Manager) install(rec models.SessionRecord) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		m.cur.recon.Close()
	}
	m.gen++
	gen := m.gen
	opts := []reconcile.Option{
		reconcile.WithClock(m.now),
		reconcile.WithEvents(func(ev reconcile.Event) { m.onReconcile(gen, ev) }),
	}
	if m.journal != nil {
		opts = append(opts, reconcile.WithJournal(m.journal))
	}
	h := &handle{
		rec:   rec,
		gen:   gen,
		recon: reconcile.New(m.api, rec.SessionID, opts...),
	}
	m.cur = h
	return h
}

// StartOrResume makes customerID's session current. The newest
// non-completed record (remote or cached) is resumed; otherwise a new Online
// record is created. Calling it again for the current customer only
// refreshes LastActivity.
func (m *Manager) StartOrResume(ctx context.Context, customerID, deviceModel string) (models.SessionRecord, error) {
	if customerID == "" {
		return models.SessionRecord{}, errors.New("start session: empty customer id")
	}
	m.startMu.Lock()
	defer m.startMu.Unlock()

	now := m.now().UTC()
	m.mu.Lock()
	if h := m.cur; h != nil && h.rec.CustomerID == customerID && h.rec.IsCurrent() && h.rec.Status != models.StatusDisconnected {
		h.rec.LastActivity = now
		rec := h.rec
		m.mu.Unlock()
		m.saveLocal(ctx, &rec)
		return rec, nil
	}
	m.mu.Unlock()

	rec, resumed := m.findResumable(ctx, customerID)
	if resumed {
		if rec.Status == models.StatusOffline || rec.Status == models.StatusDisconnected {
			rec.Status = models.StatusOnline
		}
		if rec.DeviceModel == "" {
			rec.DeviceModel = deviceModel
		}
		rec.Online = true
		rec.LastActivity = now
		rec.LastHeartbeat = now
	} else {
		rec = models.SessionRecord{
			CustomerID:     customerID,
			DeviceModel:    deviceModel,
			SessionID:      NewSessionID(customerID, now),
			Status:         models.StatusOnline,
			Priority:       models.PriorityNormal,
			Online:         true,
			FirstConnected: now,
			SessionStarted: now,
			LastActivity:   now,
			LastHeartbeat:  now,
			ClientVersion:  m.cfg.ClientVersion,
		}
	}

	h := m.install(rec)
	if err := h.recon.Load(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", rec.SessionID).Msg("Failed to load journaled messages")
	}

	if resumed {
		online := true
		status := rec.Status
		res := m.api.UpdateSession(ctx, remote.SessionUpdate{
			ID:            rec.SessionID,
			Status:        &status,
			Online:        &online,
			LastHeartbeat: &now,
			LastActivity:  &now,
		})
		if !res.OK {
			log.Warn().Err(res.Err).Str("sessionId", rec.SessionID).Msg("Failed to mark resumed session online")
		}
		log.Info().Str("sessionId", rec.SessionID).Str("status", string(rec.Status)).Msg("Resumed session")
	} else {
		if res := m.api.CreateSession(ctx, &rec); !res.OK {
			log.Warn().Err(res.Err).Str("sessionId", rec.SessionID).Msg("Failed to create session in store")
		}
		m.notify(ctx, h, notices.SessionStarted, notices.Vars{Customer: customerID})
		log.Info().Str("sessionId", rec.SessionID).Str("customer", customerID).Msg("Started session")
	}

	if err := h.recon.Sync(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", rec.SessionID).Msg("Initial message sync failed")
	}
	m.saveLocal(ctx, &rec)
	m.publish(Event{Kind: StatusChanged, SessionID: rec.SessionID, Record: rec})
	return rec, nil
}

// findResumable returns the newest non-completed record for customerID from
// the store, falling back to the local cache.
func (m *Manager) findResumable(ctx context.Context, customerID string) (models.SessionRecord, bool) {
	var best models.SessionRecord
	found := false
	consider := func(rec models.SessionRecord) {
		if rec.Status == models.StatusCompleted || rec.SessionID == "" {
			return
		}
		if !found || rec.LastActivity.After(best.LastActivity) {
			best, found = rec, true
		}
	}

	res := m.api.GetCustomerSessions(ctx, customerID)
	if res.OK {
		for _, info := range res.Data {
			consider(info.Record())
		}
	} else if !errors.Is(res.Err, remote.ErrDisabled) {
		log.Warn().Err(res.Err).Str("customer", customerID).Msg("Customer session lookup failed, using local cache")
	}

	if m.cache != nil {
		cached, err := m.cache.LatestRecord(ctx, customerID)
		if err != nil {
			log.Warn().Err(err).Str("customer", customerID).Msg("Failed to read cached session")
		} else if cached != nil {
			// remote rows win for the same session; the cache keeps local counters
			if found && cached.SessionID == best.SessionID {
				best.TotalSessions = cached.TotalSessions
				best.ClientVersion = cached.ClientVersion
				if !cached.FirstConnected.IsZero() {
					best.FirstConnected = cached.FirstConnected
				}
			} else {
				consider(*cached)
			}
		}
	}
	return best, found
}

// Attach makes an existing customer session current on the staff side and
// loads its messages. No record is created.
func (m *Manager) Attach(ctx context.Context, rec models.SessionRecord) error {
	if rec.SessionID == "" {
		return errors.New("attach: empty session id")
	}
	if rec.Status.IsTerminal() {
		return &StateError{Op: "attach", From: rec.Status}
	}
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if h := m.current(); h != nil && h.rec.SessionID == rec.SessionID {
		return nil
	}
	h := m.install(rec)
	if err := h.recon.Load(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", rec.SessionID).Msg("Failed to load journaled messages")
	}
	if err := h.recon.Sync(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", rec.SessionID).Msg("Initial message sync failed")
	}
	m.publish(Event{Kind: StatusChanged, SessionID: rec.SessionID, Record: rec})
	return nil
}

// RequestStaff moves an Online session to Waiting and posts a notice.
func (m *Manager) RequestStaff(ctx context.Context) error {
	m.mu.Lock()
	h := m.cur
	if h == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if h.rec.Status != models.StatusOnline {
		from := h.rec.Status
		m.mu.Unlock()
		return &StateError{Op: "request staff", From: from}
	}
	sessionID, customerID, gen := h.rec.SessionID, h.rec.CustomerID, h.gen
	m.mu.Unlock()

	if res := m.api.UpdateSessionStatus(ctx, sessionID, models.StatusWaiting); !res.OK {
		return fmt.Errorf("request staff: %w", res.Err)
	}

	var stateErr error
	rec, ok := m.update(gen, func(h *handle) {
		if h.rec.Status != models.StatusOnline {
			stateErr = &StateError{Op: "request staff", From: h.rec.Status}
			return
		}
		h.rec.Status = models.StatusWaiting
		h.rec.LastActivity = m.now().UTC()
	})
	if !ok {
		return ErrNoSession
	}
	if stateErr != nil {
		// The status moved while the write was in flight; put the store back.
		log.Warn().Str("sessionId", sessionID).Str("status", string(rec.Status)).Msg("Session changed during staff request")
		if res := m.api.UpdateSessionStatus(ctx, sessionID, rec.Status); !res.OK {
			log.Warn().Err(res.Err).Str("sessionId", sessionID).Msg("Failed to restore session status")
		}
		return stateErr
	}
	m.saveLocal(ctx, &rec)
	m.publish(Event{Kind: StatusChanged, SessionID: sessionID, Record: rec})
	m.notify(ctx, h, notices.StaffRequested, notices.Vars{Customer: customerID})
	log.Info().Str("sessionId", sessionID).Msg("Staff requested")
	return nil
}

// Claim assigns the current session to staffID through the claim protocol
// and moves it to Active. A session held by another staff member fails with
// *AlreadyAssignedError; one already held by staffID is rejoined without a
// network claim.
func (m *Manager) Claim(ctx context.Context, staffID string) (models.AssignmentResult, error) {
	if staffID == "" {
		return models.AssignmentResult{}, errors.New("claim: empty staff id")
	}
	m.mu.Lock()
	h := m.cur
	if h == nil {
		m.mu.Unlock()
		return models.AssignmentResult{}, ErrNoSession
	}
	rec := h.rec
	m.mu.Unlock()

	result := models.AssignmentResult{SessionID: rec.SessionID, StaffID: staffID}
	switch {
	case rec.Status.IsTerminal():
		return result, &StateError{Op: "claim", From: rec.Status}
	case rec.AssignedStaff != "" && rec.AssignedStaff != staffID:
		result.ConflictStaffID = rec.AssignedStaff
		return result, &AlreadyAssignedError{SessionID: rec.SessionID, ConflictStaffID: rec.AssignedStaff}
	case rec.AssignedStaff == staffID:
		result.Success, result.Rejoined = true, true
		result.ClaimID = rec.CurrentClaimID
		return result, nil
	case !CanClaim(rec.Status):
		return result, &StateError{Op: "claim", From: rec.Status}
	}
	if m.claimer == nil {
		return result, ErrNoClaimer
	}

	result, err := m.claimer.Claim(ctx, rec, staffID)
	if err != nil {
		var conflict *AlreadyAssignedError
		if errors.As(err, &conflict) {
			if updated, ok := m.update(h.gen, func(h *handle) { h.rec.AssignedStaff = conflict.ConflictStaffID }); ok {
				m.saveLocal(ctx, &updated)
			}
		}
		return result, err
	}

	now := m.now().UTC()
	updated, ok := m.update(h.gen, func(h *handle) {
		h.rec.AssignedStaff = staffID
		h.rec.CurrentClaimID = result.ClaimID
		h.rec.StaffAssignedAt = now
		h.rec.LastActivity = now
		h.rec.Status = models.StatusActive
	})
	if !ok {
		log.Debug().Str("sessionId", rec.SessionID).Msg("Claim finished for a session that is no longer current")
		return result, nil
	}
	if !result.Rejoined {
		if res := m.api.UpdateSessionStatus(ctx, rec.SessionID, models.StatusActive); !res.OK {
			log.Warn().Err(res.Err).Str("sessionId", rec.SessionID).Msg("Failed to mark claimed session active")
		}
		m.notify(ctx, h, notices.StaffJoined, notices.Vars{Customer: rec.CustomerID, Staff: staffID})
	}
	m.saveLocal(ctx, &updated)
	m.publish(Event{Kind: StatusChanged, SessionID: rec.SessionID, Record: updated})
	log.Info().Str("sessionId", rec.SessionID).Str("staff", staffID).Bool("rejoined", result.Rejoined).Msg("Session claimed")
	return result, nil
}

// Complete ends the current session, archives its history once and clears
// the handle.
func (m *Manager) Complete(ctx context.Context, resolution string) (*models.SessionHistory, error) {
	m.mu.Lock()
	h := m.cur
	if h == nil || h.completing {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	if err := checkTransition("complete", &h.rec, models.StatusCompleted); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	h.completing = true
	customerID := h.rec.CustomerID
	m.mu.Unlock()

	if resolution == "" {
		resolution = "resolved"
	}
	m.notify(ctx, h, notices.SessionEnded, notices.Vars{Customer: customerID, Reason: resolution})
	if err := h.recon.Flush(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", h.rec.SessionID).Msg("Completing with deliveries still in flight")
	}

	var history *models.SessionHistory
	now := m.now().UTC()
	m.mu.Lock()
	if m.cur != h {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	h.rec.Status = models.StatusCompleted
	h.rec.Online = false
	h.rec.LastActivity = now
	h.rec.TotalSessions++
	history = models.NewSessionHistory(&h.rec, h.recon.Len(), resolution, now)
	rec := h.rec
	m.cur = nil
	m.mu.Unlock()
	h.recon.Close()

	m.archive(ctx, history)
	if res := m.api.UpdateSessionStatus(ctx, rec.SessionID, models.StatusCompleted); !res.OK {
		log.Warn().Err(res.Err).Str("sessionId", rec.SessionID).Msg("Failed to mark session completed in store")
	}
	m.saveLocal(ctx, &rec)

	m.publish(Event{Kind: StatusChanged, SessionID: rec.SessionID, Record: rec})
	m.publish(Event{Kind: SessionClosed, SessionID: rec.SessionID, Record: rec})
	log.Info().
		Str("sessionId", rec.SessionID).
		Str("duration", history.FormattedDuration()).
		Int("messages", history.MessageCount).
		Msg("Session completed")
	return history, nil
}

// MarkDisconnected records that the customer went away. The session stays
// current and can be resumed.
func (m *Manager) MarkDisconnected(ctx context.Context) error {
	m.mu.Lock()
	h := m.cur
	if h == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if err := checkTransition("disconnect", &h.rec, models.StatusDisconnected); err != nil {
		m.mu.Unlock()
		return err
	}
	h.rec.Status = models.StatusDisconnected
	h.rec.Online = false
	rec := h.rec
	m.mu.Unlock()

	status, online := models.StatusDisconnected, false
	res := m.api.UpdateSession(ctx, remote.SessionUpdate{ID: rec.SessionID, Status: &status, Online: &online})
	m.saveLocal(ctx, &rec)
	m.publish(Event{Kind: StatusChanged, SessionID: rec.SessionID, Record: rec})
	if !res.OK {
		return fmt.Errorf("disconnect: %w", res.Err)
	}
	return nil
}

// Send cleans body and sends it through the reconciler. The message is
// visible immediately; delivery failures arrive as DeliveryFailed events.
func (m *Manager) Send(ctx context.Context, body string, msgType models.MessageType, sender string) (models.Message, error) {
	text, err := m.policy.Apply(body)
	if err != nil {
		return models.Message{}, err
	}

	m.mu.Lock()
	h := m.cur
	if h == nil {
		m.mu.Unlock()
		return models.Message{}, ErrNoSession
	}
	if h.rec.Status.IsTerminal() {
		from := h.rec.Status
		m.mu.Unlock()
		return models.Message{}, &StateError{Op: "send", From: from}
	}
	if sender == "" {
		sender = m.defaultSender(&h.rec, msgType)
	}
	m.mu.Unlock()

	msg, err := h.recon.Send(ctx, text, msgType, sender)
	if err != nil {
		return models.Message{}, err
	}
	if rec, ok := m.update(h.gen, func(h *handle) {
		h.rec.LastActivity = msg.Timestamp
		h.rec.TotalMessages++
	}); ok {
		m.saveLocal(ctx, &rec)
	}
	return msg, nil
}

// Retry re-sends a failed message with its original id.
func (m *Manager) Retry(ctx context.Context, messageID string) error {
	h := m.current()
	if h == nil {
		return ErrNoSession
	}
	return h.recon.Retry(ctx, messageID)
}

func (m *Manager) defaultSender(rec *models.SessionRecord, msgType models.MessageType) string {
	switch msgType {
	case models.MessageTypeStaff:
		if m.cfg.StaffID != "" {
			return m.cfg.StaffID
		}
		return "Staff"
	case models.MessageTypeSystem, models.MessageTypeNotification:
		return systemSender
	}
	return rec.CustomerID
}

// Beat refreshes the current session's presence. It implements heartbeat.Beater.
func (m *Manager) Beat(ctx context.Context) error {
	now := m.now().UTC()
	m.mu.Lock()
	h := m.cur
	if h == nil || !h.rec.IsCurrent() || h.rec.Status == models.StatusDisconnected {
		m.mu.Unlock()
		return nil
	}
	h.rec.LastHeartbeat = now
	h.rec.Online = true
	rec, gen := h.rec, h.gen
	m.mu.Unlock()

	m.saveLocal(ctx, &rec)
	online := true
	res := m.api.UpdateSession(ctx, remote.SessionUpdate{ID: rec.SessionID, Online: &online, LastHeartbeat: &now})
	if !res.OK {
		return res.Err
	}
	m.adoptRemote(ctx, gen, rec)
	return nil
}

// adoptRemote picks up status and assignment changes made by the other side.
func (m *Manager) adoptRemote(ctx context.Context, gen uint64, rec models.SessionRecord) {
	res := m.api.GetCustomerSessions(ctx, rec.CustomerID)
	if !res.OK {
		return
	}
	for _, info := range res.Data {
		if info.ID != rec.SessionID {
			continue
		}
		remoteRec := info.Record()
		changed := false
		updated, ok := m.update(gen, func(h *handle) {
			if remoteRec.Status != h.rec.Status && CanTransition(h.rec.Status, remoteRec.Status) && !remoteRec.Status.IsTerminal() {
				h.rec.Status = remoteRec.Status
				changed = true
			}
			if remoteRec.AssignedStaff != "" && remoteRec.AssignedStaff != h.rec.AssignedStaff {
				h.rec.AssignedStaff = remoteRec.AssignedStaff
				h.rec.CurrentClaimID = remoteRec.CurrentClaimID
				changed = true
			}
		})
		if ok && changed {
			m.saveLocal(ctx, &updated)
			m.publish(Event{Kind: StatusChanged, SessionID: updated.SessionID, Record: updated})
		}
		return
	}
}

// Sync merges the store's message log into the current session now.
func (m *Manager) Sync(ctx context.Context) error {
	h := m.current()
	if h == nil {
		return ErrNoSession
	}
	return h.recon.Sync(ctx)
}

// Flush waits for in-flight message deliveries of the current session.
func (m *Manager) Flush(ctx context.Context) error {
	if h := m.current(); h != nil {
		return h.recon.Flush(ctx)
	}
	return nil
}

// SyncNow starts a background sync of the current session unless one is running.
func (m *Manager) SyncNow(ctx context.Context) bool {
	if h := m.current(); h != nil {
		return h.recon.Tick(ctx)
	}
	return false
}

// Run drives the heartbeat (customer role) and message sync until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if m.cfg.Role == RoleCustomer {
		monitor := heartbeat.New(m, m.cfg.HeartbeatInterval)
		g.Go(func() error { return monitor.Run(ctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.SyncNow(ctx)
			}
		}
	})
	return g.Wait()
}

// Close detaches the current session without ending it and closes subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.cur != nil {
		m.cur.recon.Close()
		m.cur = nil
	}
	m.mu.Unlock()
	m.bus.Close()
}

// notify posts a catalog notice as a System message. Hidden notices go to
// the store only.
func (m *Manager) notify(ctx context.Context, h *handle, key string, vars notices.Vars) {
	text := m.notices.Render(key, vars)
	if m.notices.IsHidden(key) {
		msg := models.NewMessage(h.rec.SessionID, text, systemSender, models.MessageTypeSystem, m.now())
		if err := h.recon.Announce(ctx, msg); err != nil {
			log.Warn().Err(err).Str("sessionId", h.rec.SessionID).Str("notice", key).Msg("Failed to post notice")
		}
		return
	}
	if _, err := h.recon.Send(ctx, text, models.MessageTypeSystem, systemSender); err != nil {
		log.Warn().Err(err).Str("sessionId", h.rec.SessionID).Str("notice", key).Msg("Failed to post notice")
	}
}

func (m *Manager) archive(ctx context.Context, history *models.SessionHistory) {
	if res := m.api.SaveSessionHistory(ctx, history); !res.OK {
		log.Warn().Err(res.Err).Str("sessionId", history.SessionID).Msg("Failed to save history to store")
	}
	for _, sink := range m.archives {
		if err := sink.SaveHistory(ctx, history); err != nil {
			log.Warn().Err(err).Str("sessionId", history.SessionID).Msg("Failed to archive history")
		}
	}
}

func (m *Manager) saveLocal(ctx context.Context, rec *models.SessionRecord) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SaveRecord(ctx, rec); err != nil {
		log.Warn().Err(err).Str("sessionId", rec.SessionID).Msg("Failed to cache session record")
	}
}

func (m *Manager) onReconcile(gen uint64, ev reconcile.Event) {
	m.mu.Lock()
	current := m.cur != nil && m.cur.gen == gen
	m.mu.Unlock()
	if !current {
		return
	}

	out := Event{SessionID: ev.Entry.SessionID, Message: ev.Entry.Message, State: ev.Entry.State, Err: ev.Err}
	switch ev.Kind {
	case reconcile.Appended:
		out.Kind = MessageAdded
	case reconcile.StateChanged:
		out.Kind = MessageStateChanged
	case reconcile.DeliveryFailed:
		out.Kind = DeliveryFailed
	}
	m.publish(out)
}

func (m *Manager) publish(ev Event) {
	m.bus.Publish(ev)
}

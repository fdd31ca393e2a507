// Package reconcile merges a session's optimistic local message log with the
// store's authoritative log by polling.
//
// Sends are appended locally first and delivered asynchronously. Sync fetches
// the full remote log and merges by id set difference, so running it twice
// with no new remote data changes nothing.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/supportdesk/internal/remote"
	"github.com/thebtf/supportdesk/pkg/models"
)

// MinInterval is the shortest allowed polling interval.
const MinInterval = 2 * time.Second

// Store is the part of remote.API the reconciler uses.
type Store interface {
	SendMessage(ctx context.Context, msg models.Message) remote.Result[remote.Empty]
	GetChatHistory(ctx context.Context, sessionID string) remote.Result[[]models.Message]
}

// Journal persists entries locally. Journal errors are logged and ignored.
type Journal interface {
	SaveEntry(ctx context.Context, e Entry) error
	LoadEntries(ctx context.Context, sessionID string) ([]Entry, error)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithJournal enables local persistence.
func WithJournal(j Journal) Option {
	return func(r *Reconciler) { r.journal = j }
}

// WithEvents registers the owner's event callback. It is called without
// internal locks held.
func WithEvents(fn func(Event)) Option {
	return func(r *Reconciler) { r.onEvent = fn }
}

// Reconciler owns the merged message view of one session.
type Reconciler struct {
	store   Store
	journal Journal
	now     func() time.Time
	onEvent func(Event)
	merged  metric.Int64Counter
	index   map[string]int
	hidden  map[string]struct{}

	sessionID string
	entries   []Entry
	wg        sync.WaitGroup
	syncMu    sync.Mutex
	mu        sync.Mutex
	syncing   atomic.Bool
	closed    bool
}

// New creates a reconciler for sessionID.
func New(store Store, sessionID string, opts ...Option) *Reconciler {
	merged, _ := otel.Meter("github.com/thebtf/supportdesk/internal/reconcile").
		Int64Counter("supportdesk.sync.merged", metric.WithDescription("Remote messages merged into the local view"))
	r := &Reconciler{
		store:     store,
		sessionID: sessionID,
		now:       time.Now,
		merged:    merged,
		index:     make(map[string]int),
		hidden:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID returns the session this reconciler serves.
func (r *Reconciler) SessionID() string { return r.sessionID }

// Load seeds the view from the journal. Entries still pending from an
// earlier run are marked failed until a sync confirms them.
func (r *Reconciler) Load(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}
	loaded, err := r.journal.LoadEntries(ctx, r.sessionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range loaded {
		if _, ok := r.index[e.ID]; ok {
			continue
		}
		if e.State == Pending {
			e.State = Failed
		}
		r.entries = append(r.entries, e)
	}
	r.reorderLocked()
	return nil
}

// Send appends a message optimistically and delivers it in the background.
// The returned message carries the id used for every delivery attempt.
// Delivery is not tied to ctx cancellation.
func (r *Reconciler) Send(ctx context.Context, content string, msgType models.MessageType, sender string) (models.Message, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	msg := models.NewMessage(r.sessionID, content, sender, msgType, r.now())
	entry := Entry{Message: msg, State: Pending}
	r.entries = append(r.entries, entry)
	r.reorderLocked()
	r.wg.Add(1)
	r.mu.Unlock()

	r.persist(ctx, entry)
	r.emit(Event{Kind: Appended, Entry: entry})

	go r.deliver(context.WithoutCancel(ctx), msg)
	return msg, nil
}

// Announce delivers msg to the store without adding it to the view. Later
// syncs skip it too.
func (r *Reconciler) Announce(ctx context.Context, msg models.Message) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.hidden[msg.ID] = struct{}{}
	r.mu.Unlock()

	if res := r.store.SendMessage(ctx, msg); !res.OK {
		return res.Err
	}
	return nil
}

// Retry re-delivers a failed entry with its original id.
func (r *Reconciler) Retry(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	idx, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownMessage
	}
	e := &r.entries[idx]
	if e.State != Failed {
		r.mu.Unlock()
		return nil
	}
	e.State = Pending
	entry := *e
	r.wg.Add(1)
	r.mu.Unlock()

	r.emit(Event{Kind: StateChanged, Entry: entry})
	go r.deliver(context.WithoutCancel(ctx), entry.Message)
	return nil
}

func (r *Reconciler) deliver(ctx context.Context, msg models.Message) {
	defer r.wg.Done()

	res := r.store.SendMessage(ctx, msg)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Debug().Str("sessionId", r.sessionID).Str("messageId", msg.ID).Msg("Dropping delivery result for closed session")
		return
	}
	idx, ok := r.index[msg.ID]
	if !ok || r.entries[idx].State == Confirmed {
		r.mu.Unlock()
		return
	}
	e := &r.entries[idx]
	if res.OK {
		e.State = Confirmed
	} else {
		e.State = Failed
	}
	entry := *e
	r.mu.Unlock()

	r.persist(ctx, entry)
	if res.OK {
		r.emit(Event{Kind: StateChanged, Entry: entry})
		return
	}
	log.Warn().
		Err(res.Err).
		Str("sessionId", r.sessionID).
		Str("messageId", msg.ID).
		Msg("Message not confirmed by store")
	r.emit(Event{Kind: DeliveryFailed, Entry: entry, Err: res.Err})
}

// Sync fetches the remote log and merges unseen messages. A remote copy of a
// local pending or failed message confirms it. When the store returns an id
// with content that differs from the one already held, the held copy wins
// and an *IntegrityError is returned after the rest is merged.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	res := r.store.GetChatHistory(ctx, r.sessionID)
	if !res.OK {
		return res.Err
	}

	var (
		events     []Event
		conflicts  []string
		toPersist  []Entry
		remoteSeen = make(map[string]models.Message, len(res.Data))
	)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	for _, m := range res.Data {
		if m.ID == "" {
			continue
		}
		if m.SessionID == "" {
			m.SessionID = r.sessionID
		}
		if m.SessionID != r.sessionID {
			continue
		}
		if prev, dup := remoteSeen[m.ID]; dup {
			if !prev.SameContent(m) {
				conflicts = append(conflicts, m.ID)
			}
			continue
		}
		remoteSeen[m.ID] = m
		if _, skip := r.hidden[m.ID]; skip {
			continue
		}

		if idx, known := r.index[m.ID]; known {
			e := &r.entries[idx]
			if !e.SameContent(m) {
				conflicts = append(conflicts, m.ID)
			}
			if e.State != Confirmed {
				e.State = Confirmed
				events = append(events, Event{Kind: StateChanged, Entry: *e})
				toPersist = append(toPersist, *e)
			}
			continue
		}

		entry := Entry{Message: m, State: Confirmed}
		r.entries = append(r.entries, entry)
		r.index[m.ID] = len(r.entries) - 1
		events = append(events, Event{Kind: Appended, Entry: entry})
		toPersist = append(toPersist, entry)
	}
	r.reorderLocked()
	r.mu.Unlock()

	added := 0
	for _, ev := range events {
		if ev.Kind == Appended {
			added++
		}
	}
	if added > 0 {
		r.merged.Add(ctx, int64(added))
		log.Debug().Str("sessionId", r.sessionID).Int("added", added).Msg("Merged remote messages")
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Entry.Timestamp.Before(events[j].Entry.Timestamp)
	})
	for _, e := range toPersist {
		r.persist(ctx, e)
	}
	for _, ev := range events {
		r.emit(ev)
	}

	if len(conflicts) > 0 {
		return &IntegrityError{SessionID: r.sessionID, IDs: conflicts}
	}
	return nil
}

// Tick starts one background sync unless one is already in flight or the
// reconciler is closed. It reports whether a sync was started.
func (r *Reconciler) Tick(ctx context.Context) bool {
	if r.isClosed() {
		return false
	}
	if !r.syncing.CompareAndSwap(false, true) {
		log.Debug().Str("sessionId", r.sessionID).Msg("Sync still in flight, skipping tick")
		return false
	}
	go func() {
		defer r.syncing.Store(false)
		r.logSyncError(r.Sync(ctx))
	}()
	return true
}

func (r *Reconciler) logSyncError(err error) {
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}
	var ie *IntegrityError
	if errors.As(err, &ie) {
		log.Error().Strs("messageIds", ie.IDs).Str("sessionId", r.sessionID).Msg("Store returned conflicting message content")
		return
	}
	log.Warn().Err(err).Str("sessionId", r.sessionID).Msg("Message sync failed")
}

// Messages returns the merged view ordered by timestamp.
func (r *Reconciler) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Message
	}
	return out
}

// Entries returns the merged view with delivery states.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of messages in the view.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Flush waits for in-flight deliveries or ctx.
func (r *Reconciler) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the reconciler. Results arriving afterwards are dropped.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// reorderLocked keeps entries sorted by timestamp and rebuilds the index.
func (r *Reconciler) reorderLocked() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Timestamp.Before(r.entries[j].Timestamp)
	})
	for i, e := range r.entries {
		r.index[e.ID] = i
	}
}

func (r *Reconciler) persist(ctx context.Context, e Entry) {
	if r.journal == nil {
		return
	}
	if err := r.journal.SaveEntry(context.WithoutCancel(ctx), e); err != nil {
		log.Warn().Err(err).Str("messageId", e.ID).Msg("Failed to journal message")
	}
}

func (r *Reconciler) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

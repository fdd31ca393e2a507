// Package directory keeps the staff-facing list of live sessions.
//
// Refreshes are coalesced: concurrent callers share one store round trip.
// When the store cannot be reached the last known rows are served, flagged
// FromCache, falling back to the local snapshot after a restart.
package directory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/supportdesk/internal/remote"
	"github.com/thebtf/supportdesk/pkg/models"
)

// DefaultInterval is the refresh period used by Run.
const DefaultInterval = 10 * time.Second

// Store is the part of remote.API the directory reads.
type Store interface {
	GetActiveSessions(ctx context.Context) remote.Result[[]remote.SessionInfo]
}

// SnapshotCache persists the last successful listing.
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, recs []models.SessionRecord, fetchedAt time.Time) error
	LoadSnapshot(ctx context.Context) ([]models.SessionRecord, time.Time, error)
}

// Row is one directory line.
type Row struct {
	DisplayStatus string               `json:"displayStatus"`
	Record        models.SessionRecord `json:"record"`
	MessageCount  int                  `json:"messageCount"`
	Sessions      int                  `json:"sessions"`
	ActiveOnline  bool                 `json:"activeOnline"`
	Stale         bool                 `json:"stale"`
}

// Snapshot is the result of one refresh.
type Snapshot struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Rows      []Row     `json:"rows"`
	FromCache bool      `json:"fromCache"`
}

// Option configures a Directory.
type Option func(*Directory)

// WithInterval sets the Run period.
func WithInterval(d time.Duration) Option { return func(dir *Directory) { dir.interval = d } }

// WithGrouping collapses rows to one per customer.
func WithGrouping(on bool) Option { return func(dir *Directory) { dir.grouped = on } }

// WithCache wires the local snapshot store.
func WithCache(c SnapshotCache) Option { return func(dir *Directory) { dir.cache = c } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(dir *Directory) { dir.now = now } }

// WithOnRefresh registers a callback for every snapshot produced.
func WithOnRefresh(fn func(Snapshot)) Option { return func(dir *Directory) { dir.onRefresh = fn } }

// Directory lists the sessions staff can pick up.
type Directory struct {
	store     Store
	cache     SnapshotCache
	now       func() time.Time
	onRefresh func(Snapshot)
	last      *Snapshot
	flight    singleflight.Group
	interval  time.Duration
	mu        sync.RWMutex
	grouped   bool
}

// New creates a directory.
func New(store Store, opts ...Option) *Directory {
	d := &Directory{
		store:    store,
		now:      time.Now,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.interval <= 0 {
		d.interval = DefaultInterval
	}
	return d
}

// Refresh lists active sessions. On a store failure it returns the last
// known rows with FromCache set together with the error.
func (d *Directory) Refresh(ctx context.Context) (Snapshot, error) {
	v, err, shared := d.flight.Do("refresh", func() (any, error) {
		return d.refresh(ctx)
	})
	if shared {
		log.Debug().Msg("Joined in-flight directory refresh")
	}
	return v.(Snapshot), err
}

// ForceRefresh refreshes now, joining a refresh already in flight.
func (d *Directory) ForceRefresh(ctx context.Context) error {
	_, err := d.Refresh(ctx)
	return err
}

func (d *Directory) refresh(ctx context.Context) (Snapshot, error) {
	res := d.store.GetActiveSessions(ctx)
	if !res.OK {
		snap := d.fallback(ctx)
		d.emit(snap)
		return snap, fmt.Errorf("refresh directory: %w", res.Err)
	}

	recs := make([]models.SessionRecord, 0, len(res.Data))
	for _, info := range res.Data {
		rec := info.Record()
		if rec.Status == models.StatusCompleted || rec.SessionID == "" {
			continue
		}
		recs = append(recs, rec)
	}

	now := d.now()
	snap := Snapshot{Rows: d.build(recs, now), FetchedAt: now}

	d.mu.Lock()
	d.last = &snap
	d.mu.Unlock()

	if d.cache != nil {
		if err := d.cache.SaveSnapshot(ctx, recs, now); err != nil {
			log.Warn().Err(err).Msg("Failed to cache directory snapshot")
		}
	}
	d.emit(snap)
	return snap, nil
}

// fallback returns the last known snapshot, or the cached one after a restart.
func (d *Directory) fallback(ctx context.Context) Snapshot {
	now := d.now()

	d.mu.RLock()
	last := d.last
	d.mu.RUnlock()
	if last != nil {
		// presence is re-judged against the current time
		rows := make([]Row, len(last.Rows))
		for i, prev := range last.Rows {
			rows[i] = newRow(prev.Record, now)
			rows[i].MessageCount = prev.MessageCount
			rows[i].Sessions = prev.Sessions
		}
		return Snapshot{Rows: rows, FetchedAt: last.FetchedAt, FromCache: true}
	}

	if d.cache != nil {
		recs, fetchedAt, err := d.cache.LoadSnapshot(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load cached directory snapshot")
		} else {
			return Snapshot{Rows: d.build(recs, now), FetchedAt: fetchedAt, FromCache: true}
		}
	}
	return Snapshot{FetchedAt: now, FromCache: true}
}

func (d *Directory) build(recs []models.SessionRecord, now time.Time) []Row {
	var out []Row
	if d.grouped {
		out = group(recs, now)
	} else {
		out = make([]Row, 0, len(recs))
		for _, rec := range recs {
			out = append(out, newRow(rec, now))
		}
	}
	sortRows(out)
	return out
}

func newRow(rec models.SessionRecord, now time.Time) Row {
	active := rec.ActiveOnline(now)
	return Row{
		Record:        rec,
		MessageCount:  rec.TotalMessages,
		Sessions:      1,
		ActiveOnline:  active,
		Stale:         !active,
		DisplayStatus: rec.DisplayStatus(now),
	}
}

// group keeps one row per customer: the highest priority, then the most
// recent. Message counts are summed.
func group(recs []models.SessionRecord, now time.Time) []Row {
	byCustomer := make(map[string]int)
	var out []Row
	for _, rec := range recs {
		i, ok := byCustomer[rec.CustomerID]
		if !ok {
			byCustomer[rec.CustomerID] = len(out)
			out = append(out, newRow(rec, now))
			continue
		}
		kept := &out[i]
		total := kept.MessageCount + rec.TotalMessages
		sessions := kept.Sessions + 1
		if rec.Priority > kept.Record.Priority ||
			(rec.Priority == kept.Record.Priority && rec.LastActivity.After(kept.Record.LastActivity)) {
			*kept = newRow(rec, now)
		}
		kept.MessageCount = total
		kept.Sessions = sessions
	}
	return out
}

// sortRows puts Waiting first, then higher priority, then recent activity.
func sortRows(rows []Row) {
	slices.SortStableFunc(rows, func(a, b Row) int {
		aw, bw := a.Record.Status == models.StatusWaiting, b.Record.Status == models.StatusWaiting
		if aw != bw {
			if aw {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Record.Priority, a.Record.Priority); c != 0 {
			return c
		}
		if c := b.Record.LastActivity.Compare(a.Record.LastActivity); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.SessionID, b.Record.SessionID)
	})
}

func (d *Directory) emit(snap Snapshot) {
	if d.onRefresh != nil {
		d.onRefresh(snap)
	}
}

// Snapshot returns the last successful listing.
func (d *Directory) Snapshot() (Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Snapshot{}, false
	}
	return *d.last, true
}

// Find looks a session up in the last successful listing.
func (d *Directory) Find(sessionID string) (Row, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Row{}, false
	}
	for _, row := range d.last.Rows {
		if row.Record.SessionID == sessionID {
			return row, true
		}
	}
	return Row{}, false
}

// Run refreshes immediately and then every interval until ctx is done.
func (d *Directory) Run(ctx context.Context) error {
	d.tick(ctx)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Directory) tick(ctx context.Context) {
	if _, err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("Directory refresh failed, serving cached rows")
	}
}

// Package api serves the staff console HTTP API.
package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/supportdesk/internal/api/sse"
	"github.com/thebtf/supportdesk/internal/assign"
	"github.com/thebtf/supportdesk/internal/directory"
	"github.com/thebtf/supportdesk/internal/session"
	"github.com/thebtf/supportdesk/pkg/models"
)

const (
	// EventDirectory carries a directory.Snapshot.
	EventDirectory = "directory"
	// EventSession carries a SessionEvent.
	EventSession = "session"
	// EventAssignment carries a models.AssignmentResult.
	EventAssignment = "assignment"

	shutdownTimeout = 10 * time.Second
)

// Directory is the read side of the session directory.
type Directory interface {
	Snapshot() (directory.Snapshot, bool)
	Refresh(ctx context.Context) (directory.Snapshot, error)
	Find(sessionID string) (directory.Row, bool)
}

// Selector opens a directory row for a staff member.
type Selector interface {
	Select(ctx context.Context, rec models.SessionRecord, staffID string) (models.AssignmentResult, error)
}

// SessionEvent is the wire form of a session.Event.
type SessionEvent struct {
	Message   *models.Message       `json:"message,omitempty"`
	Record    *models.SessionRecord `json:"record,omitempty"`
	Kind      string                `json:"kind"`
	SessionID string                `json:"sessionId"`
	State     string                `json:"state,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithStaffID sets the staff id used when a select request names none.
func WithStaffID(id string) Option { return func(s *Server) { s.staffID = id } }

// WithVersion sets the version reported by /api/health.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// WithOnSelect is called after a successful select, with the selected record.
func WithOnSelect(fn func(ctx context.Context, rec models.SessionRecord, res models.AssignmentResult)) Option {
	return func(s *Server) { s.onSelect = fn }
}

// Server is the staff console API.
type Server struct {
	startTime time.Time
	dir       Directory
	selector  Selector
	router    chi.Router
	sse       *sse.Broadcaster
	onSelect  func(ctx context.Context, rec models.SessionRecord, res models.AssignmentResult)
	staffID   string
	version   string
}

// New builds the server and its routes.
func New(dir Directory, selector Selector, opts ...Option) *Server {
	s := &Server{
		dir:       dir,
		selector:  selector,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sse = sse.NewBroadcaster(s.replay)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/sessions", s.handleSessions)
		r.Post("/sessions/{id}/select", s.handleSelect)
		r.Get("/events", s.sse.HandleSSE)
	})
	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Broadcaster returns the event stream broadcaster.
func (s *Server) Broadcaster() *sse.Broadcaster { return s.sse }

// PublishDirectory pushes a snapshot to connected consoles.
func (s *Server) PublishDirectory(snap directory.Snapshot) {
	s.sse.Broadcast(sse.Event{Type: EventDirectory, Data: snap})
}

// PublishAssignment pushes an assignment outcome to connected consoles.
func (s *Server) PublishAssignment(res models.AssignmentResult) {
	s.sse.Broadcast(sse.Event{Type: EventAssignment, Data: res})
}

// PublishSession pushes a session event to connected consoles.
func (s *Server) PublishSession(ev session.Event) {
	s.sse.Broadcast(sse.Event{Type: EventSession, Data: toSessionEvent(ev)})
}

// Forward publishes events from ch until it closes or ctx is done.
func (s *Server) Forward(ctx context.Context, ch <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.PublishSession(ev)
		}
	}
}

func (s *Server) replay() []sse.Event {
	snap, ok := s.dir.Snapshot()
	if !ok {
		return nil
	}
	return []sse.Event{{Type: EventDirectory, Data: snap}}
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Staff API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Staff API forced to shut down")
		return srv.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"clients": s.sse.ClientCount(),
	}
	if snap, ok := s.dir.Snapshot(); ok {
		status["directoryFetchedAt"] = snap.FetchedAt
		status["directoryFromCache"] = snap.FromCache
	} else {
		status["status"] = "starting"
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		snap, err := s.dir.Refresh(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Directory refresh on request failed")
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, ok := s.dir.Snapshot()
	if !ok {
		var err error
		snap, err = s.dir.Refresh(r.Context())
		if err != nil && len(snap.Rows) == 0 {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

type selectRequest struct {
	StaffID string `json:"staffId"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	staffID := req.StaffID
	if staffID == "" {
		staffID = s.staffID
	}
	if staffID == "" {
		writeError(w, http.StatusBadRequest, "staffId is required")
		return
	}

	row, ok := s.dir.Find(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not in directory")
		return
	}

	res, err := s.selector.Select(r.Context(), row.Record, staffID)
	if err != nil {
		status := selectStatus(err)
		log.Warn().Err(err).Str("sessionId", id).Str("staff", staffID).Msg("Select failed")
		writeJSON(w, status, map[string]any{"error": err.Error(), "result": res})
		return
	}

	s.PublishAssignment(res)
	if s.onSelect != nil {
		rec := row.Record
		rec.AssignedStaff = staffID
		rec.CurrentClaimID = res.ClaimID
		if !res.Rejoined || rec.Status == models.StatusWaiting {
			rec.Status = models.StatusActive
		}
		s.onSelect(r.Context(), rec, res)
	}
	writeJSON(w, http.StatusOK, res)
}

func selectStatus(err error) int {
	var conflict *session.AlreadyAssignedError
	var state *session.StateError
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &state):
		return http.StatusUnprocessableEntity
	case errors.Is(err, assign.ErrSessionNotFound):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func toSessionEvent(ev session.Event) SessionEvent {
	out := SessionEvent{
		Kind:      ev.Kind.String(),
		SessionID: ev.SessionID,
	}
	switch ev.Kind {
	case session.StatusChanged, session.SessionClosed:
		rec := ev.Record
		out.Record = &rec
	case session.MessageAdded, session.MessageStateChanged, session.DeliveryFailed:
		msg := ev.Message
		out.Message = &msg
		out.State = ev.State.String()
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

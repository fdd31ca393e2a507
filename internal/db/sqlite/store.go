// Package sqlite is the local cache of supportdesk: session records, the
// message journal, archived histories and the last directory listing.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Config configures the store.
type Config struct {
	Path string
	// MaxConns caps open connections. Zero means 1, which keeps writes serialized.
	MaxConns int
}

// Store wraps the database with a prepared statement cache.
type Store struct {
	db    *sql.DB
	stmts map[string]*sql.Stmt
	mu    sync.RWMutex
}

// New opens (creating if needed) the database at cfg.Path and applies the schema.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conns := cfg.MaxConns
	if conns <= 0 {
		conns = 1
	}
	db.SetMaxOpenConns(conns)

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("path", cfg.Path).Msg("Local cache opened")
	return newStoreFromDB(db), nil
}

func newStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db, stmts: make(map[string]*sql.Stmt)}
}

// GetStmt returns a cached prepared statement for query.
func (s *Store) GetStmt(query string) (*sql.Stmt, error) {
	s.mu.RLock()
	stmt, ok := s.stmts[query]
	s.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// ExecContext runs a statement through the statement cache.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext runs a query through the statement cache.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext runs a single-row query. Preparation errors surface from Scan.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// Ping checks the connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases cached statements and the database.
func (s *Store) Close() error {
	s.mu.Lock()
	for q, stmt := range s.stmts {
		_ = stmt.Close()
		delete(s.stmts, q)
	}
	s.mu.Unlock()
	return s.db.Close()
}

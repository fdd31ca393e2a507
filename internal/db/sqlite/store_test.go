package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// testStore opens a fresh database in a temp dir.
func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Path: filepath.Join(t.TempDir(), "supportdesk.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// StoreSuite is a test suite for Store operations.
type StoreSuite struct {
	suite.Suite
	store *Store
}

func (s *StoreSuite) SetupTest() {
	s.store = testStore(s.T())
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) TestGetStmt() {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{name: "valid simple query", query: "SELECT 1"},
		{name: "valid query with parameter", query: "SELECT * FROM session_records WHERE session_id = ?"},
		{name: "invalid query syntax", query: "SELECT * FROM nonexistent_table WHERE", wantErr: true},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			stmt, err := s.store.GetStmt(tt.query)
			if tt.wantErr {
				s.Error(err)
				s.Nil(stmt)
				return
			}
			s.NoError(err)
			s.NotNil(stmt)

			stmt2, err := s.store.GetStmt(tt.query)
			s.NoError(err)
			s.Same(stmt, stmt2)
		})
	}
}

func (s *StoreSuite) TestExecContext() {
	ctx := context.Background()

	tests := []struct {
		name         string
		query        string
		args         []any
		wantErr      bool
		wantAffected int64
	}{
		{
			name:         "insert record",
			query:        `INSERT INTO session_records (session_id, customer_id, status) VALUES (?, ?, ?)`,
			args:         []any{"s-1", "LM1234", "Online"},
			wantAffected: 1,
		},
		{
			name:    "invalid query",
			query:   "INSERT INTO nonexistent_table VALUES (?)",
			args:    []any{"test"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			result, err := s.store.ExecContext(ctx, tt.query, tt.args...)
			if tt.wantErr {
				s.Error(err)
				return
			}
			s.NoError(err)
			affected, _ := result.RowsAffected()
			s.Equal(tt.wantAffected, affected)
		})
	}
}

func (s *StoreSuite) TestQueryRowContextNoRows() {
	var id string
	err := s.store.QueryRowContext(context.Background(), "SELECT session_id FROM session_records WHERE session_id = ?", "missing").Scan(&id)
	s.ErrorIs(err, sql.ErrNoRows)
}

func (s *StoreSuite) TestSchemaIsIdempotent() {
	s.NoError(migrate(context.Background(), s.store.DB()))
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.store.Ping())
	s.NotNil(s.store.DB())
}

func (s *StoreSuite) TestClose() {
	store, err := New(Config{Path: filepath.Join(s.T().TempDir(), "close.db")})
	s.Require().NoError(err)

	_, err = store.GetStmt("SELECT 1")
	s.NoError(err)
	s.NoError(store.Close())
	s.Error(store.Ping())
}

func (s *StoreSuite) TestConcurrentStmtCache() {
	ctx := context.Background()
	queries := []string{
		"SELECT 1",
		"SELECT 2",
		"SELECT session_id FROM session_records",
		"SELECT id FROM messages",
	}

	done := make(chan struct{})
	for i := range 10 {
		go func(i int) {
			query := queries[i%len(queries)]
			_, _ = s.store.GetStmt(query)
			_, _ = s.store.ExecContext(ctx, "SELECT 1")
			done <- struct{}{}
		}(i)
	}
	for range 10 {
		<-done
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestEpochMillis(t *testing.T) {
	assert.False(t, epochMillis(time.Time{}).Valid)
	assert.True(t, fromMillis(epochMillis(time.Time{})).IsZero())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, at.Equal(fromMillis(epochMillis(at))))
}

func TestNullString(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.Equal(t, sql.NullString{String: "Kim", Valid: true}, nullString("Kim"))
}

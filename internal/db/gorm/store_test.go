package gorm

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/supportdesk/pkg/models"
)

func TestHistoryMapping(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	h := &models.SessionHistory{
		SessionID:       "LM1234_SESSION_20240301120000",
		CustomerID:      "LM1234",
		Status:          "Completed",
		AssignedStaff:   "Kim",
		ClaimID:         "claim-1",
		Resolution:      "resolved",
		MessageCount:    5,
		DurationSeconds: 720,
		StartedAt:       time.Date(2024, 3, 1, 21, 0, 0, 0, kst),
		EndedAt:         time.Date(2024, 3, 1, 21, 12, 0, 0, kst),
	}

	row := historyFromDomain(h)
	assert.True(t, row.AssignedStaff.Valid)
	assert.Equal(t, time.UTC, row.StartedAt.Location())

	back := row.toDomain()
	assert.Equal(t, h.SessionID, back.SessionID)
	assert.Equal(t, "Kim", back.AssignedStaff)
	assert.Equal(t, 720, back.DurationSeconds)
	assert.True(t, h.EndedAt.Equal(back.EndedAt))
}

func TestHistoryMappingEmptyFields(t *testing.T) {
	row := historyFromDomain(&models.SessionHistory{SessionID: "s", CustomerID: "c", Status: "Completed"})
	assert.False(t, row.AssignedStaff.Valid)
	assert.False(t, row.ClaimID.Valid)
	assert.False(t, row.Resolution.Valid)
	assert.Empty(t, row.toDomain().AssignedStaff)
}

func TestMigrationsOrdered(t *testing.T) {
	ids := make([]string, 0)
	for _, m := range migrations() {
		ids = append(ids, m.ID)
		assert.NotNil(t, m.Migrate, m.ID)
		assert.NotNil(t, m.Rollback, m.ID)
	}
	assert.Equal(t, []string{"001_session_histories", "002_history_staff_view"}, ids)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestNewStoreRequiresDSN(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)
}

// TestHistoryStorePostgres runs against a live database when
// SUPPORTDESK_TEST_PG_DSN is set.
func TestHistoryStorePostgres(t *testing.T) {
	dsn := os.Getenv("SUPPORTDESK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SUPPORTDESK_TEST_PG_DSN not set")
	}
	store, err := NewStore(Config{DSN: dsn, LogLevel: logger.Silent})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	customer := fmt.Sprintf("TEST%d", time.Now().UnixNano())
	t.Cleanup(func() {
		store.DB.Where("customer_id = ?", customer).Delete(&SessionHistory{})
	})

	histories := NewHistoryStore(store)
	now := time.Now().UTC().Truncate(time.Second)
	h := &models.SessionHistory{
		SessionID:     customer + "_SESSION_1",
		CustomerID:    customer,
		Status:        "Completed",
		AssignedStaff: "Kim",
		StartedAt:     now.Add(-time.Minute),
		EndedAt:       now,
	}
	require.NoError(t, histories.SaveHistory(ctx, h))
	require.NoError(t, histories.SaveHistory(ctx, h))

	list, err := histories.ListHistory(ctx, customer, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Kim", list[0].AssignedStaff)

	stats, err := histories.StaffStats(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stats)
}

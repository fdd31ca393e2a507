package gorm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm/clause"

	"github.com/thebtf/supportdesk/pkg/models"
)

const uniqueViolation = "23505"

// StaffStats aggregates archived sessions per staff member.
type StaffStats struct {
	AssignedStaff      string
	Sessions           int64
	Messages           int64
	AvgDurationSeconds int64
}

// HistoryStore archives session histories.
type HistoryStore struct {
	store *Store
}

// NewHistoryStore creates a history store.
func NewHistoryStore(store *Store) *HistoryStore {
	return &HistoryStore{store: store}
}

// SaveHistory archives h. A session already archived is left as is.
func (s *HistoryStore) SaveHistory(ctx context.Context, h *models.SessionHistory) error {
	row := historyFromDomain(h)
	err := s.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}}, DoNothing: true}).
		Create(row).Error
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive history %s: %w", h.SessionID, err)
	}
	return nil
}

// ListHistory returns a customer's archived sessions, newest first.
func (s *HistoryStore) ListHistory(ctx context.Context, customerID string, limit int) ([]*models.SessionHistory, error) {
	q := s.store.DB.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("ended_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []SessionHistory
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]*models.SessionHistory, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// StaffStats reads per-staff totals.
func (s *HistoryStore) StaffStats(ctx context.Context) ([]StaffStats, error) {
	var stats []StaffStats
	err := s.store.DB.WithContext(ctx).
		Table("staff_history_stats").
		Order("sessions DESC").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("staff stats: %w", err)
	}
	return stats, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// migrations lists the archive schema changes in order.
func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "001_session_histories",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SessionHistory{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("session_histories")
			},
		},
		{
			ID: "002_history_staff_view",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE OR REPLACE VIEW staff_history_stats AS
					SELECT assigned_staff,
					       COUNT(*) AS sessions,
					       COALESCE(SUM(message_count), 0) AS messages,
					       COALESCE(AVG(duration_seconds), 0)::BIGINT AS avg_duration_seconds
					FROM session_histories
					WHERE assigned_staff IS NOT NULL
					GROUP BY assigned_staff`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP VIEW IF EXISTS staff_history_stats").Error
			},
		},
	}
}

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrations()).Migrate()
}

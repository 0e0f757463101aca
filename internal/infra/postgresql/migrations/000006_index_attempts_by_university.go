package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// The per-university aggregates and failure streaks scan attempts by
// university within a trailing window.
func indexAttemptsByUniversity() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_index_attempts_by_university",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_attempts_university_created_at ON submission_attempts (university_id, created_at DESC)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_attempts_university_created_at`,
			})
		},
	}
}

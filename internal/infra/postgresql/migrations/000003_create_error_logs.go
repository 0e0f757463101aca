package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createErrorLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_error_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ErrorLogModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_error_logs_occurred_at ON error_logs (occurred_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_error_logs_category_level ON error_logs (category, level)`,
				`CREATE INDEX IF NOT EXISTS idx_error_logs_resolved_at ON error_logs (resolved_at) WHERE resolved`,
				`CREATE INDEX IF NOT EXISTS idx_error_logs_submission ON error_logs ((context ->> 'submission_id'))`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ErrorLogModel{})
		},
	}
}

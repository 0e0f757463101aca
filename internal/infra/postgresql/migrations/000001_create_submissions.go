package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createSubmissionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_submissions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubmissionModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_application_university ON submissions (application_id, university_id)`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_due ON submissions (priority, next_attempt_at) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_processing ON submissions (processing_started_at) WHERE status = 'processing'`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_status_updated ON submissions (status, updated_at)`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_university ON submissions (university_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubmissionModel{})
		},
	}
}

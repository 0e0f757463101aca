package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createSubmissionAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_submission_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubmissionAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_attempts_submission_id ON submission_attempts (submission_id)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON submission_attempts (created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubmissionAttemptModel{})
		},
	}
}

package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_notification_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationEventModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_notification_events_rule ON notification_events (rule_id, triggered_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_events_unacked ON notification_events (triggered_at DESC) WHERE NOT acknowledged`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationEventModel{})
		},
	}
}

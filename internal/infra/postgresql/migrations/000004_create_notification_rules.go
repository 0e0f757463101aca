package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationRulesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_notification_rules",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationRuleModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_notification_rules_enabled ON notification_rules (enabled)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationRuleModel{})
		},
	}
}

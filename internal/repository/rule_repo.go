package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"gorm.io/gorm"
)

type RuleRepository interface {
	Create(ctx context.Context, r *domain.NotificationRule) error
	Update(ctx context.Context, r *domain.NotificationRule) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.NotificationRule, error)
	List(ctx context.Context) ([]domain.NotificationRule, error)
	ListEnabled(ctx context.Context) ([]domain.NotificationRule, error)
	Count(ctx context.Context) (int64, error)
	RecordTrigger(ctx context.Context, ruleID string, cooldownCutoff time.Time, event *domain.NotificationEvent) error
}

type GormRuleRepo struct {
	db *gorm.DB
}

func NewGormRuleRepo(db *gorm.DB) *GormRuleRepo {
	return &GormRuleRepo{db: db}
}

func (r *GormRuleRepo) Create(ctx context.Context, rule *domain.NotificationRule) error {
	model, err := ruleModelFromDomain(rule)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	rule.CreatedAt = model.CreatedAt
	rule.UpdatedAt = model.UpdatedAt
	return nil
}

// Update rewrites the editable fields. last_triggered_at is owned by RecordTrigger.
func (r *GormRuleRepo) Update(ctx context.Context, rule *domain.NotificationRule) error {
	model, err := ruleModelFromDomain(rule)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationRuleModel{}).
		Where("id = ?", rule.ID).
		Updates(map[string]any{
			"name":             model.Name,
			"type":             model.Type,
			"enabled":          model.Enabled,
			"conditions":       model.Conditions,
			"actions":          model.Actions,
			"cooldown_minutes": model.CooldownMinutes,
			"updated_at":       rule.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRuleRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&NotificationRuleModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRuleRepo) GetByID(ctx context.Context, id string) (*domain.NotificationRule, error) {
	var model NotificationRuleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ruleModelToDomain(&model)
}

func (r *GormRuleRepo) List(ctx context.Context) ([]domain.NotificationRule, error) {
	var models []NotificationRuleModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return rulesToDomain(models)
}

func (r *GormRuleRepo) ListEnabled(ctx context.Context) ([]domain.NotificationRule, error) {
	var models []NotificationRuleModel
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return rulesToDomain(models)
}

func (r *GormRuleRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&NotificationRuleModel{}).Count(&count).Error
	return count, err
}

// RecordTrigger moves the rule into cooldown and persists its event atomically.
// If another evaluator fired the rule after cooldownCutoff it returns
// domain.ErrConflict and writes nothing.
func (r *GormRuleRepo) RecordTrigger(ctx context.Context, ruleID string, cooldownCutoff time.Time, event *domain.NotificationEvent) error {
	eventModel, err := eventModelFromDomain(event)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&NotificationRuleModel{}).
			Where("id = ? AND enabled = ? AND (last_triggered_at IS NULL OR last_triggered_at <= ?)", ruleID, true, cooldownCutoff).
			Update("last_triggered_at", event.TriggeredAt)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}
		return tx.Create(eventModel).Error
	})
}

func rulesToDomain(models []NotificationRuleModel) ([]domain.NotificationRule, error) {
	rules := make([]domain.NotificationRule, 0, len(models))
	for i := range models {
		rule, err := ruleModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

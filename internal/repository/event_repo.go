package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"gorm.io/gorm"
)

type EventListParams struct {
	RuleID       *string
	Severity     *domain.Severity
	Acknowledged *bool
	Page         int
	PageSize     int
}

type EventRepository interface {
	List(ctx context.Context, params EventListParams) ([]domain.NotificationEvent, int64, error)
	ListUnacknowledged(ctx context.Context, limit int) ([]domain.NotificationEvent, error)
	Acknowledge(ctx context.Context, id string, by string, at time.Time) error
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) List(ctx context.Context, params EventListParams) ([]domain.NotificationEvent, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationEventModel{})

	if params.RuleID != nil {
		query = query.Where("rule_id = ?", *params.RuleID)
	}
	if params.Severity != nil {
		query = query.Where("severity = ?", *params.Severity)
	}
	if params.Acknowledged != nil {
		query = query.Where("acknowledged = ?", *params.Acknowledged)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationEventModel
	err := query.
		Order("triggered_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return eventsToDomain(models), total, nil
}

func (r *GormEventRepo) ListUnacknowledged(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	if limit < 1 {
		limit = 20
	}

	var models []NotificationEventModel
	err := r.db.WithContext(ctx).
		Where("acknowledged = ?", false).
		Order("triggered_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return eventsToDomain(models), nil
}

// Acknowledge is idempotent: acknowledging twice keeps the first acknowledger.
func (r *GormEventRepo) Acknowledge(ctx context.Context, id string, by string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationEventModel{}).
		Where("id = ? AND acknowledged = ?", id, false).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_by": by,
			"acknowledged_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&NotificationEventModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func eventsToDomain(models []NotificationEventModel) []domain.NotificationEvent {
	events := make([]domain.NotificationEvent, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}
	return events
}

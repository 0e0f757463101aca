package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"gorm.io/gorm"
)

type ErrorLogListParams struct {
	Level        *domain.Level
	Category     *domain.Category
	Resolved     *bool
	SubmissionID *string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

type ErrorLogRepository interface {
	Create(ctx context.Context, e *domain.ErrorLogEntry) error
	GetByID(ctx context.Context, id string) (*domain.ErrorLogEntry, error)
	List(ctx context.Context, params ErrorLogListParams) ([]domain.ErrorLogEntry, int64, error)
	Resolve(ctx context.Context, ids []string, resolvedBy string, at time.Time) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]domain.ErrorLogEntry, error)
	PurgeResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

type GormErrorLogRepo struct {
	db *gorm.DB
}

func NewGormErrorLogRepo(db *gorm.DB) *GormErrorLogRepo {
	return &GormErrorLogRepo{db: db}
}

func (r *GormErrorLogRepo) Create(ctx context.Context, e *domain.ErrorLogEntry) error {
	model, err := errorLogModelFromDomain(e)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *errorLogModelToDomain(model)
	}
	return nil
}

func (r *GormErrorLogRepo) GetByID(ctx context.Context, id string) (*domain.ErrorLogEntry, error) {
	var model ErrorLogModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return errorLogModelToDomain(&model), nil
}

func (r *GormErrorLogRepo) List(ctx context.Context, params ErrorLogListParams) ([]domain.ErrorLogEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&ErrorLogModel{})

	if params.Level != nil {
		query = query.Where("level = ?", *params.Level)
	}
	if params.Category != nil {
		query = query.Where("category = ?", *params.Category)
	}
	if params.Resolved != nil {
		query = query.Where("resolved = ?", *params.Resolved)
	}
	if params.SubmissionID != nil {
		query = query.Where("context ->> ? = ?", domain.ContextSubmissionID, *params.SubmissionID)
	}
	if params.From != nil {
		query = query.Where("occurred_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("occurred_at <= ?", *params.To)
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

	var models []ErrorLogModel
	err := query.
		Order("occurred_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return errorLogsToDomain(models), total, nil
}

// Resolve marks unresolved entries resolved. Already-resolved entries keep
// their original resolver.
func (r *GormErrorLogRepo) Resolve(ctx context.Context, ids []string, resolvedBy string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Model(&ErrorLogModel{}).
		Where("id IN ? AND resolved = ?", ids, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_by": resolvedBy,
			"resolved_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *GormErrorLogRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ErrorLogModel{}).
		Where("occurred_at >= ?", since).
		Count(&count).Error
	return count, err
}

func (r *GormErrorLogRepo) ListRecent(ctx context.Context, limit int) ([]domain.ErrorLogEntry, error) {
	if limit < 1 {
		limit = 20
	}

	var models []ErrorLogModel
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return errorLogsToDomain(models), nil
}

func (r *GormErrorLogRepo) PurgeResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("resolved = ? AND resolved_at < ?", true, before).
		Delete(&ErrorLogModel{})
	return result.RowsAffected, result.Error
}

func errorLogsToDomain(models []ErrorLogModel) []domain.ErrorLogEntry {
	entries := make([]domain.ErrorLogEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *errorLogModelToDomain(&models[i]))
	}
	return entries
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubmissionListParams struct {
	Status       *domain.Status
	Channel      *domain.Channel
	UniversityID *string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// FailedFilter selects failed submissions for operator-driven retry.
type FailedFilter struct {
	UniversityID  *string
	UpdatedBefore *time.Time
	MaxRetryCount *int
	Limit         int
}

// SubmissionUpdate carries the columns written by a guarded transition.
// Nil fields are left untouched.
type SubmissionUpdate struct {
	Status              domain.Status
	RetryCount          *int
	Priority            *int
	NextAttemptAt       *time.Time
	ClearNextAttempt    bool
	ProcessingStartedAt *time.Time
	SubmittedAt         *time.Time
	ConfirmedAt         *time.Time
	LastError           *string
	ExternalReference   *string
	UpdatedAt           time.Time
}

func (u SubmissionUpdate) columns() map[string]any {
	cols := map[string]any{
		"status":     u.Status,
		"updated_at": u.UpdatedAt,
	}
	if u.RetryCount != nil {
		cols["retry_count"] = *u.RetryCount
	}
	if u.Priority != nil {
		cols["priority"] = *u.Priority
	}
	if u.NextAttemptAt != nil {
		cols["next_attempt_at"] = *u.NextAttemptAt
	} else if u.ClearNextAttempt {
		cols["next_attempt_at"] = nil
	}
	if u.ProcessingStartedAt != nil {
		cols["processing_started_at"] = *u.ProcessingStartedAt
	} else if u.Status != domain.StatusProcessing {
		cols["processing_started_at"] = nil
	}
	if u.SubmittedAt != nil {
		cols["submitted_at"] = *u.SubmittedAt
	}
	if u.ConfirmedAt != nil {
		cols["confirmed_at"] = *u.ConfirmedAt
	}
	if u.LastError != nil {
		cols["last_error"] = *u.LastError
	}
	if u.ExternalReference != nil {
		cols["external_reference"] = *u.ExternalReference
	}
	return cols
}

type SubmissionRepository interface {
	Create(ctx context.Context, s *domain.Submission) error
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
	GetByApplicationAndUniversity(ctx context.Context, applicationID, universityID string) (*domain.Submission, error)
	List(ctx context.Context, params SubmissionListParams) ([]domain.Submission, int64, error)
	DequeueDueBatch(ctx context.Context, now time.Time, limit int) ([]domain.Submission, error)
	MarkInFlight(ctx context.Context, ids []string, now time.Time) ([]string, error)
	CompareAndUpdate(ctx context.Context, id string, from []domain.Status, update SubmissionUpdate) error
	ReclaimStale(ctx context.Context, startedBefore time.Time, now time.Time) (int64, error)
	ListFailed(ctx context.Context, filter FailedFilter) ([]domain.Submission, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
	CountFailedSince(ctx context.Context, since time.Time, universityIDs []string) (int64, error)
	ListRecentlyUpdated(ctx context.Context, limit int) ([]domain.Submission, error)
}

type GormSubmissionRepo struct {
	db *gorm.DB
}

func NewGormSubmissionRepo(db *gorm.DB) *GormSubmissionRepo {
	return &GormSubmissionRepo{db: db}
}

func (r *GormSubmissionRepo) Create(ctx context.Context, s *domain.Submission) error {
	model := submissionModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		*s = *submissionModelToDomain(model)
	}
	return nil
}

func (r *GormSubmissionRepo) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) GetByApplicationAndUniversity(ctx context.Context, applicationID, universityID string) (*domain.Submission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).
		Where("application_id = ? AND university_id = ?", applicationID, universityID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) List(ctx context.Context, params SubmissionListParams) ([]domain.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&SubmissionModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.UniversityID != nil {
		query = query.Where("university_id = ?", *params.UniversityID)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
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

	var models []SubmissionModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return submissionsToDomain(models), total, nil
}

// DequeueDueBatch selects due pending rows by (priority, next_attempt_at) and
// flips them to processing in the same transaction. SKIP LOCKED keeps
// concurrent callers from ever receiving the same row.
func (r *GormSubmissionRepo) DequeueDueBatch(ctx context.Context, now time.Time, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []SubmissionModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := dueBatchQuery(tx, now, limit).Find(&models).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
		}

		return claimPending(tx.Model(&SubmissionModel{}), ids, now).Error
	})
	if err != nil {
		return nil, err
	}

	for i := range models {
		models[i].Status = domain.StatusProcessing
		started := now
		models[i].ProcessingStartedAt = &started
		models[i].UpdatedAt = now
	}

	return submissionsToDomain(models), nil
}

// MarkInFlight claims specific pending rows. It returns only the ids this
// call moved to processing; rows claimed elsewhere are skipped.
func (r *GormSubmissionRepo) MarkInFlight(ctx context.Context, ids []string, now time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var claimed []SubmissionModel
	db := r.db.WithContext(ctx).
		Model(&claimed).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}})
	if err := claimPending(db, ids, now).Error; err != nil {
		return nil, err
	}

	out := make([]string, 0, len(claimed))
	for i := range claimed {
		out = append(out, claimed[i].ID)
	}
	return out, nil
}

// dueBatchQuery locks due pending rows, most urgent and oldest due first.
func dueBatchQuery(db *gorm.DB, now time.Time, limit int) *gorm.DB {
	return db.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", domain.StatusPending, now).
		Order("priority ASC").
		Order("next_attempt_at ASC NULLS FIRST").
		Limit(limit)
}

// claimPending moves ids to processing, guarded on them still being pending.
func claimPending(db *gorm.DB, ids []string, now time.Time) *gorm.DB {
	return db.
		Where("id IN ? AND status = ?", ids, domain.StatusPending).
		Updates(map[string]any{
			"status":                domain.StatusProcessing,
			"processing_started_at": now,
			"updated_at":            now,
		})
}

// CompareAndUpdate applies update only while the row is in one of from.
// A lost race surfaces as domain.ErrConflict.
func (r *GormSubmissionRepo) CompareAndUpdate(ctx context.Context, id string, from []domain.Status, update SubmissionUpdate) error {
	result := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(update.columns())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *GormSubmissionRepo) ReclaimStale(ctx context.Context, startedBefore time.Time, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("status = ? AND processing_started_at < ?", domain.StatusProcessing, startedBefore).
		Updates(map[string]any{
			"status":                domain.StatusPending,
			"next_attempt_at":       now,
			"processing_started_at": nil,
			"updated_at":            now,
		})
	return result.RowsAffected, result.Error
}

func (r *GormSubmissionRepo) ListFailed(ctx context.Context, filter FailedFilter) ([]domain.Submission, error) {
	query := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("status = ?", domain.StatusFailed)

	if filter.UniversityID != nil {
		query = query.Where("university_id = ?", *filter.UniversityID)
	}
	if filter.UpdatedBefore != nil {
		query = query.Where("updated_at <= ?", *filter.UpdatedBefore)
	}
	if filter.MaxRetryCount != nil {
		query = query.Where("retry_count <= ?", *filter.MaxRetryCount)
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}

	var models []SubmissionModel
	if err := query.Order("updated_at ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return submissionsToDomain(models), nil
}

type statusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int64         `gorm:"column:count"`
}

func (r *GormSubmissionRepo) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *GormSubmissionRepo) CountFailedSince(ctx context.Context, since time.Time, universityIDs []string) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("status = ? AND updated_at >= ?", domain.StatusFailed, since)
	if len(universityIDs) > 0 {
		query = query.Where("university_id IN ?", universityIDs)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormSubmissionRepo) ListRecentlyUpdated(ctx context.Context, limit int) ([]domain.Submission, error) {
	if limit < 1 {
		limit = 20
	}

	var models []SubmissionModel
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return submissionsToDomain(models), nil
}

func submissionsToDomain(models []SubmissionModel) []domain.Submission {
	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}
	return submissions
}

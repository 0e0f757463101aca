package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.SubmissionAttempt) error
	GetBySubmissionID(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error)
	StatsSince(ctx context.Context, since time.Time, streakDepth int) ([]domain.UniversityAttemptStats, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.SubmissionAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetBySubmissionID(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error) {
	var models []SubmissionAttemptModel
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return attemptsToDomain(models), nil
}

type universityStatsRow struct {
	UniversityID     string
	Attempts         int
	Successes        int
	ProcessingMillis int64
	LastAttemptAt    time.Time
}

type recentOutcomeRow struct {
	UniversityID string
	Success      bool
	Recency      int
}

// StatsSince aggregates attempts per university in the database. When
// streakDepth is positive, only the latest streakDepth attempts of each
// university are read back to measure its current failure streak.
func (r *GormAttemptRepo) StatsSince(ctx context.Context, since time.Time, streakDepth int) ([]domain.UniversityAttemptStats, error) {
	db := r.db.WithContext(ctx)

	var rows []universityStatsRow
	if err := universityStatsQuery(db, since).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	streaks := map[string]int{}
	if streakDepth > 0 {
		var recent []recentOutcomeRow
		if err := recentOutcomesQuery(db, since, streakDepth).Find(&recent).Error; err != nil {
			return nil, err
		}
		streaks = failureStreaks(recent)
	}

	stats := make([]domain.UniversityAttemptStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, domain.UniversityAttemptStats{
			UniversityID:            row.UniversityID,
			Attempts:                row.Attempts,
			Successes:               row.Successes,
			SuccessProcessingMillis: row.ProcessingMillis,
			LastAttemptAt:           row.LastAttemptAt.UTC(),
			ConsecutiveFailures:     streaks[row.UniversityID],
		})
	}
	return stats, nil
}

func universityStatsQuery(db *gorm.DB, since time.Time) *gorm.DB {
	return db.Model(&SubmissionAttemptModel{}).
		Select("university_id, "+
			"COUNT(*) AS attempts, "+
			"COUNT(*) FILTER (WHERE success) AS successes, "+
			"COALESCE(SUM(processing_millis) FILTER (WHERE success), 0) AS processing_millis, "+
			"MAX(created_at) AS last_attempt_at").
		Where("created_at >= ?", since).
		Group("university_id").
		Order("university_id")
}

// recentOutcomesQuery ranks each university's attempts newest first and keeps
// the top depth of them.
func recentOutcomesQuery(db *gorm.DB, since time.Time, depth int) *gorm.DB {
	ranked := db.Model(&SubmissionAttemptModel{}).
		Select("university_id, success, "+
			"ROW_NUMBER() OVER (PARTITION BY university_id ORDER BY created_at DESC, attempt_number DESC) AS recency").
		Where("created_at >= ?", since)

	return db.Table("(?) AS ranked", ranked).
		Select("university_id, success, recency").
		Where("recency <= ?", depth).
		Order("university_id, recency")
}

// failureStreaks expects rows grouped by university, newest first.
func failureStreaks(rows []recentOutcomeRow) map[string]int {
	streaks := make(map[string]int)
	broken := make(map[string]bool)
	for _, row := range rows {
		if broken[row.UniversityID] {
			continue
		}
		if row.Success {
			broken[row.UniversityID] = true
			continue
		}
		streaks[row.UniversityID]++
	}
	return streaks
}

func attemptsToDomain(models []SubmissionAttemptModel) []domain.SubmissionAttempt {
	attempts := make([]domain.SubmissionAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts
}

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"go.uber.org/zap"
)

// RetryFilter narrows a bulk retry. Nil fields match everything.
type RetryFilter struct {
	UniversityID     *string
	OlderThanMinutes *int
	MaxRetries       *int
}

func (f RetryFilter) Validate() error {
	if f.UniversityID != nil && *f.UniversityID == "" {
		return fmt.Errorf("%w: universityId must not be empty", domain.ErrValidation)
	}
	if f.OlderThanMinutes != nil && *f.OlderThanMinutes < 0 {
		return fmt.Errorf("%w: olderThanMinutes must be >= 0", domain.ErrValidation)
	}
	if f.MaxRetries != nil && *f.MaxRetries < 0 {
		return fmt.Errorf("%w: maxRetries must be >= 0", domain.ErrValidation)
	}
	return nil
}

type RetryFailure struct {
	SubmissionID string `json:"submissionId"`
	Error        string `json:"error"`
}

type RetryResult struct {
	Matched  int            `json:"matched"`
	Reset    int            `json:"reset"`
	Skipped  int            `json:"skipped"`
	Failures []RetryFailure `json:"failures"`
}

// RetryFailed resets matching failed submissions to pending at the highest
// priority, due now. Each reset is attempted and logged on its own; one
// failure does not stop the rest.
func (o *Orchestrator) RetryFailed(ctx context.Context, filter RetryFilter) (*RetryResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query := repository.FailedFilter{
		UniversityID:  filter.UniversityID,
		MaxRetryCount: filter.MaxRetries,
		Limit:         maxBulkRetry,
	}
	if filter.OlderThanMinutes != nil {
		before := o.now().UTC().Add(-time.Duration(*filter.OlderThanMinutes) * time.Minute)
		query.UpdatedBefore = &before
	}

	failed, err := o.requeuer.ListFailed(ctx, query)
	if err != nil {
		return nil, err
	}

	result := &RetryResult{Matched: len(failed), Failures: []RetryFailure{}}
	for _, s := range failed {
		fields := []zap.Field{
			zap.String("submissionId", s.ID),
			zap.String("universityId", s.UniversityID),
			zap.Int("previousRetryCount", s.RetryCount),
		}

		err := o.requeuer.Requeue(ctx, s.ID, domain.PriorityHighest)
		switch {
		case err == nil:
			result.Reset++
			o.metrics.IncBulkRetryReset("reset")
			o.logger.Info("failed submission reset for retry", fields...)
		case errors.Is(err, domain.ErrConflict):
			// Changed state since it was listed.
			result.Skipped++
			o.metrics.IncBulkRetryReset("skipped")
			o.logger.Info("failed submission no longer failed, skipped", fields...)
		default:
			result.Failures = append(result.Failures, RetryFailure{SubmissionID: s.ID, Error: err.Error()})
			o.metrics.IncBulkRetryReset("failed")
			o.logger.Error("failed submission reset failed", append(fields, zap.Error(err))...)
		}
	}

	o.logger.Info("bulk retry finished",
		zap.Int("matched", result.Matched),
		zap.Int("reset", result.Reset),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failures)),
	)
	return result, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
)

// DeliveryQueue is the priority queue over the submissions table. Due rows are
// handed out by (priority ASC, next_attempt_at ASC) and claimed atomically.
type DeliveryQueue struct {
	submissions repository.SubmissionRepository
	now         func() time.Time
}

func NewDeliveryQueue(submissions repository.SubmissionRepository) (*DeliveryQueue, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	return &DeliveryQueue{
		submissions: submissions,
		now:         time.Now,
	}, nil
}

// Enqueue stores s as pending. A nil next_attempt_at makes it due immediately.
func (q *DeliveryQueue) Enqueue(ctx context.Context, s *domain.Submission) error {
	if s == nil {
		return fmt.Errorf("%w: submission is required", domain.ErrValidation)
	}

	now := q.now().UTC()
	s.Status = domain.StatusPending
	if s.NextAttemptAt == nil {
		s.NextAttemptAt = &now
	}
	s.ProcessingStartedAt = nil
	if err := s.Validate(); err != nil {
		return err
	}

	return q.submissions.Create(ctx, s)
}

// DequeueDueBatch returns up to limit due submissions already moved to processing.
func (q *DeliveryQueue) DequeueDueBatch(ctx context.Context, limit int) ([]domain.Submission, error) {
	batch, err := q.submissions.DequeueDueBatch(ctx, q.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue due submissions: %w", err)
	}
	return batch, nil
}

// MarkInFlight claims the given pending submissions and returns the ids it won.
func (q *DeliveryQueue) MarkInFlight(ctx context.Context, ids []string) ([]string, error) {
	claimed, err := q.submissions.MarkInFlight(ctx, ids, q.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to mark submissions in flight: %w", err)
	}
	return claimed, nil
}

// Release hands an unstarted in-flight submission back to the queue.
func (q *DeliveryQueue) Release(ctx context.Context, id string) error {
	now := q.now().UTC()
	return q.submissions.CompareAndUpdate(ctx, id, []domain.Status{domain.StatusProcessing}, repository.SubmissionUpdate{
		Status:        domain.StatusPending,
		NextAttemptAt: &now,
		UpdatedAt:     now,
	})
}

// Reschedule returns an in-flight submission to pending after a transient failure.
func (q *DeliveryQueue) Reschedule(ctx context.Context, id string, retryCount int, at time.Time, lastError string) error {
	return q.submissions.CompareAndUpdate(ctx, id, []domain.Status{domain.StatusProcessing}, repository.SubmissionUpdate{
		Status:        domain.StatusPending,
		RetryCount:    &retryCount,
		NextAttemptAt: &at,
		LastError:     &lastError,
		UpdatedAt:     q.now().UTC(),
	})
}

// ReclaimStale moves submissions stuck in processing longer than staleAfter
// back to pending so a crashed dispatcher never strands them.
func (q *DeliveryQueue) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := q.now().UTC()
	reclaimed, err := q.submissions.ReclaimStale(ctx, now.Add(-staleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale submissions: %w", err)
	}
	return reclaimed, nil
}

// Backlog counts submissions pending or processing.
func (q *DeliveryQueue) Backlog(ctx context.Context) (int64, error) {
	counts, err := q.submissions.CountByStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions by status: %w", err)
	}
	return counts[domain.StatusPending] + counts[domain.StatusProcessing], nil
}

// Settle writes the outcome of a dispatch. It only applies while the
// submission is still in processing; a concurrent change yields ErrConflict.
func (q *DeliveryQueue) Settle(ctx context.Context, id string, update repository.SubmissionUpdate) error {
	return q.submissions.CompareAndUpdate(ctx, id, []domain.Status{domain.StatusProcessing}, update)
}

// ListFailed selects failed submissions eligible for an operator retry.
func (q *DeliveryQueue) ListFailed(ctx context.Context, filter repository.FailedFilter) ([]domain.Submission, error) {
	failed, err := q.submissions.ListFailed(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed submissions: %w", err)
	}
	return failed, nil
}

// Requeue resets a failed submission to pending with a fresh retry budget
// and makes it due immediately.
func (q *DeliveryQueue) Requeue(ctx context.Context, id string, priority int) error {
	now := q.now().UTC()
	retryCount := 0
	return q.submissions.CompareAndUpdate(ctx, id, []domain.Status{domain.StatusFailed}, repository.SubmissionUpdate{
		Status:        domain.StatusPending,
		RetryCount:    &retryCount,
		Priority:      &priority,
		NextAttemptAt: &now,
		UpdatedAt:     now,
	})
}

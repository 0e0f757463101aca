package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubmissionService is the entry point for creating delivery obligations and
// for external confirmation callbacks.
type SubmissionService struct {
	submissions       repository.SubmissionRepository
	attempts          repository.AttemptRepository
	queue             *DeliveryQueue
	defaultMaxRetries int
	logger            *zap.Logger
	now               func() time.Time
}

func NewSubmissionService(
	submissions repository.SubmissionRepository,
	attempts repository.AttemptRepository,
	deliveryQueue *DeliveryQueue,
	defaultMaxRetries int,
	logger *zap.Logger,
) (*SubmissionService, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if deliveryQueue == nil {
		return nil, fmt.Errorf("delivery queue is required")
	}
	if defaultMaxRetries < 0 {
		defaultMaxRetries = domain.DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubmissionService{
		submissions:       submissions,
		attempts:          attempts,
		queue:             deliveryQueue,
		defaultMaxRetries: defaultMaxRetries,
		logger:            logger,
		now:               time.Now,
	}, nil
}

// Enqueue creates the delivery obligation for (application, university). An
// existing obligation is returned unchanged with created=false.
func (s *SubmissionService) Enqueue(ctx context.Context, submission *domain.Submission) (*domain.Submission, bool, error) {
	if err := prepareSubmissionForEnqueue(submission, s.defaultMaxRetries); err != nil {
		return nil, false, err
	}

	existing, err := s.submissions.GetByApplicationAndUniversity(ctx, submission.ApplicationID, submission.UniversityID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check existing submission: %w", err)
	}

	if err := s.queue.Enqueue(ctx, submission); err != nil {
		if !isUniqueViolationError(err) {
			return nil, false, err
		}
		existing, getErr := s.submissions.GetByApplicationAndUniversity(ctx, submission.ApplicationID, submission.UniversityID)
		if getErr != nil {
			return nil, false, fmt.Errorf("failed to load existing submission after conflict: %w", getErr)
		}
		s.logger.Info("duplicate submission resolved to existing row",
			zap.String("submissionId", existing.ID),
			zap.String("applicationId", existing.ApplicationID),
			zap.String("universityId", existing.UniversityID),
		)
		return existing, false, nil
	}

	s.logger.Info("submission enqueued",
		zap.String("submissionId", submission.ID),
		zap.String("universityId", submission.UniversityID),
		zap.String("channel", submission.Channel.String()),
		zap.Int("priority", submission.Priority),
	)
	return submission, true, nil
}

func (s *SubmissionService) Get(ctx context.Context, id string) (*domain.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: submission id is required", domain.ErrValidation)
	}
	return s.submissions.GetByID(ctx, strings.TrimSpace(id))
}

func (s *SubmissionService) List(
	ctx context.Context,
	params repository.SubmissionListParams,
) ([]domain.Submission, int64, error) {
	return s.submissions.List(ctx, params)
}

// Attempts returns the dispatch history of a submission, oldest first.
func (s *SubmissionService) Attempts(ctx context.Context, id string) ([]domain.SubmissionAttempt, error) {
	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return nil, nil
	}
	return s.attempts.GetBySubmissionID(ctx, submission.ID)
}

// Confirm records that the university received the submission. Confirming an
// already confirmed submission with the same reference is a no-op; a
// different reference is a conflict.
func (s *SubmissionService) Confirm(
	ctx context.Context,
	id string,
	externalReference string,
	confirmedAt *time.Time,
) (*domain.Submission, error) {
	externalReference = strings.TrimSpace(externalReference)
	if externalReference == "" {
		return nil, fmt.Errorf("%w: external reference is required", domain.ErrValidation)
	}

	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if done, err := confirmedAlready(submission, externalReference); done || err != nil {
		return submission, err
	}
	if submission.Status != domain.StatusSubmitted && submission.Status != domain.StatusProcessing {
		return nil, fmt.Errorf("%w: cannot confirm submission in status %s", domain.ErrConflict, submission.Status)
	}

	at := s.now().UTC()
	if confirmedAt != nil && !confirmedAt.IsZero() {
		at = confirmedAt.UTC()
	}
	update := repository.SubmissionUpdate{
		Status:            domain.StatusConfirmed,
		ConfirmedAt:       &at,
		ExternalReference: &externalReference,
		ClearNextAttempt:  true,
		UpdatedAt:         s.now().UTC(),
	}
	err = s.submissions.CompareAndUpdate(ctx, submission.ID,
		[]domain.Status{domain.StatusSubmitted, domain.StatusProcessing}, update)
	if errors.Is(err, domain.ErrConflict) {
		// Lost a race with another confirmation or the dispatcher; re-judge on fresh state.
		latest, getErr := s.submissions.GetByID(ctx, submission.ID)
		if getErr != nil {
			return nil, getErr
		}
		if done, doneErr := confirmedAlready(latest, externalReference); done || doneErr != nil {
			return latest, doneErr
		}
		return nil, fmt.Errorf("%w: cannot confirm submission in status %s", domain.ErrConflict, latest.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to confirm submission: %w", err)
	}

	s.logger.Info("submission confirmed",
		zap.String("submissionId", submission.ID),
		zap.String("externalReference", externalReference),
	)
	return s.submissions.GetByID(ctx, submission.ID)
}

func confirmedAlready(s *domain.Submission, externalReference string) (bool, error) {
	if s.Status != domain.StatusConfirmed {
		return false, nil
	}
	if s.ExternalReference != nil && *s.ExternalReference != externalReference {
		return true, fmt.Errorf("%w: submission already confirmed with reference %q", domain.ErrConflict, *s.ExternalReference)
	}
	return true, nil
}

func prepareSubmissionForEnqueue(s *domain.Submission, defaultMaxRetries int) error {
	if s == nil {
		return fmt.Errorf("%w: submission is required", domain.ErrValidation)
	}

	s.ApplicationID = strings.TrimSpace(s.ApplicationID)
	s.UniversityID = strings.TrimSpace(s.UniversityID)
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Priority == 0 {
		s.Priority = domain.PriorityDefault
	}
	if s.MaxRetries == domain.MaxRetriesUnset {
		s.MaxRetries = defaultMaxRetries
	}

	s.Status = domain.StatusPending
	s.RetryCount = 0
	s.SubmittedAt = nil
	s.ConfirmedAt = nil
	s.LastError = nil
	s.ExternalReference = nil

	return s.Validate()
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/observability"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"github.com/kursadbilgin/letter-dispatch/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueInterval       = 30 * time.Second
	defaultQueueBatchSize      = 100
	defaultDispatchConcurrency = 16
	defaultStaleAfter          = 10 * time.Minute

	outcomeSubmitted = "submitted"
	outcomeConfirmed = "confirmed"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
)

// SubmissionDispatcher delivers one submission and reports the outcome.
type SubmissionDispatcher interface {
	Dispatch(ctx context.Context, submission domain.Submission) domain.DeliveryResult
}

type QueueProcessorOptions struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	StaleAfter  time.Duration
}

// QueueProcessor is the periodic loop that drains due submissions through the
// dispatcher and applies the retry policy to each outcome.
type QueueProcessor struct {
	queue      *DeliveryQueue
	dispatcher SubmissionDispatcher
	attempts   repository.AttemptRepository
	errorLogs  *ErrorLogService
	policy     *retry.Policy
	logger     *zap.Logger
	metrics    *observability.Metrics
	opts       QueueProcessorOptions
	now        func() time.Time
}

func NewQueueProcessor(
	deliveryQueue *DeliveryQueue,
	dispatcher SubmissionDispatcher,
	attempts repository.AttemptRepository,
	errorLogs *ErrorLogService,
	policy *retry.Policy,
	opts QueueProcessorOptions,
	logger *zap.Logger,
) (*QueueProcessor, error) {
	if deliveryQueue == nil {
		return nil, fmt.Errorf("delivery queue is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if errorLogs == nil {
		return nil, fmt.Errorf("error log service is required")
	}
	if policy == nil {
		policy = retry.NewPolicy(0, 0, retry.DefaultJitter, domain.DefaultMaxRetries)
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultQueueInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultQueueBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultDispatchConcurrency
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueProcessor{
		queue:      deliveryQueue,
		dispatcher: dispatcher,
		attempts:   attempts,
		errorLogs:  errorLogs,
		policy:     policy,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}, nil
}

func (p *QueueProcessor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Start runs ticks until ctx is cancelled. A tick in progress finishes its
// in-flight dispatches before Start returns.
func (p *QueueProcessor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("queue processor initial tick failed", zap.Error(err))
		p.metrics.IncLoopError("queue_processor")
	}

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("queue processor tick failed", zap.Error(err))
				p.metrics.IncLoopError("queue_processor")
			}
		}
	}
}

// Tick sweeps stale in-flight rows, then dispatches one bounded batch.
func (p *QueueProcessor) Tick(ctx context.Context) error {
	reclaimed, err := p.queue.ReclaimStale(ctx, p.opts.StaleAfter)
	if err != nil {
		p.logger.Error("stale sweep failed", zap.Error(err))
	} else if reclaimed > 0 {
		p.logger.Warn("reclaimed stale in-flight submissions", zap.Int64("count", reclaimed))
		p.metrics.AddStaleReclaimed(reclaimed)
	}

	batch, err := p.queue.DequeueDueBatch(ctx, p.opts.BatchSize)
	if err != nil {
		return err
	}

	if len(batch) > 0 {
		p.dispatchBatch(ctx, batch)
	}

	if backlog, err := p.queue.Backlog(ctx); err == nil {
		p.metrics.SetQueueBacklog(backlog)
	}
	return nil
}

func (p *QueueProcessor) dispatchBatch(ctx context.Context, batch []domain.Submission) {
	// Started dispatches run to completion (bounded by the dispatch timeout)
	// even when shutdown cancels ctx.
	workCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(p.opts.Concurrency)

	for i := range batch {
		submission := batch[i]
		if ctx.Err() != nil {
			p.release(workCtx, submission)
			continue
		}
		g.Go(func() error {
			p.process(workCtx, submission)
			return nil
		})
	}

	_ = g.Wait()
}

func (p *QueueProcessor) release(ctx context.Context, submission domain.Submission) {
	if err := p.queue.Release(ctx, submission.ID); err != nil {
		p.logger.Error("failed to release unstarted submission",
			zap.String("submissionId", submission.ID),
			zap.Error(err),
		)
	}
}

func (p *QueueProcessor) process(ctx context.Context, submission domain.Submission) {
	channel := submission.Channel.String()
	p.metrics.IncDispatchInFlight(channel)
	defer p.metrics.DecDispatchInFlight(channel)

	ctx = observability.WithSubmission(ctx, submission.ID, submission.UniversityID)
	logger := observability.WithContextLogger(p.logger, ctx).With(zap.String("channel", channel))

	result := p.dispatcher.Dispatch(ctx, submission)

	if err := p.recordAttempt(ctx, submission, result); err != nil {
		logger.Error("failed to record dispatch attempt", zap.Error(err))
	}

	var err error
	if result.OK {
		err = p.applySuccess(ctx, submission, result)
	} else {
		err = p.applyFailure(ctx, submission, result, logger)
	}

	switch {
	case errors.Is(err, domain.ErrConflict):
		logger.Info("submission changed state during dispatch, keeping newer state")
	case err != nil:
		// The row stays in processing and the stale sweep returns it to the queue.
		logger.Error("failed to apply dispatch outcome", zap.Error(err))
	}
}

func (p *QueueProcessor) applySuccess(ctx context.Context, submission domain.Submission, result domain.DeliveryResult) error {
	now := p.now().UTC()
	update := repository.SubmissionUpdate{
		Status:           domain.StatusSubmitted,
		SubmittedAt:      &now,
		ClearNextAttempt: true,
		UpdatedAt:        now,
	}
	outcome := outcomeSubmitted
	if result.Confirmed {
		update.Status = domain.StatusConfirmed
		update.ConfirmedAt = &now
		outcome = outcomeConfirmed
	}
	if result.ExternalReference != "" {
		ref := result.ExternalReference
		update.ExternalReference = &ref
	}

	if err := p.queue.Settle(ctx, submission.ID, update); err != nil {
		return err
	}
	p.metrics.IncDispatchOutcome(submission.Channel.String(), outcome)
	return nil
}

func (p *QueueProcessor) applyFailure(
	ctx context.Context,
	submission domain.Submission,
	result domain.DeliveryResult,
	logger *zap.Logger,
) error {
	channel := submission.Channel.String()
	decision := p.policy.Next(submission.RetryCount, submission.MaxRetries, result.FailureKind)

	if decision.Action == retry.ActionRetry {
		nextRetryCount := submission.RetryCount + 1
		at := p.now().UTC().Add(decision.Delay)
		if err := p.queue.Reschedule(ctx, submission.ID, nextRetryCount, at, result.Message); err != nil {
			return err
		}
		p.metrics.IncRetryScheduled(channel)
		p.metrics.IncDispatchOutcome(channel, outcomeRetry)
		logger.Warn("transient dispatch failure, retry scheduled",
			zap.Int("retryCount", nextRetryCount),
			zap.Duration("delay", decision.Delay),
			zap.String("error", result.Message),
		)

		p.recordError(ctx, domain.LevelWarn, domain.CategoryIntegration,
			fmt.Sprintf("transient %s delivery failure, retry %d scheduled", channel, nextRetryCount),
			submission, result, logger)
		return nil
	}

	now := p.now().UTC()
	lastError := result.Message
	err := p.queue.Settle(ctx, submission.ID, repository.SubmissionUpdate{
		Status:           domain.StatusFailed,
		LastError:        &lastError,
		ClearNextAttempt: true,
		UpdatedAt:        now,
	})
	if err != nil {
		return err
	}
	p.metrics.IncDispatchOutcome(channel, outcomeFailed)

	reason := "permanent failure"
	if result.FailureKind == domain.FailureTransient {
		reason = fmt.Sprintf("retries exhausted after %d attempts", submission.RetryCount+1)
	}
	logger.Error("submission failed", zap.String("reason", reason), zap.String("error", result.Message))

	p.recordError(ctx, domain.LevelError, domain.CategorySubmission,
		fmt.Sprintf("submission delivery failed: %s", reason),
		submission, result, logger)
	return nil
}

func (p *QueueProcessor) recordError(
	ctx context.Context,
	level domain.Level,
	category domain.Category,
	message string,
	submission domain.Submission,
	result domain.DeliveryResult,
	logger *zap.Logger,
) {
	fields := map[string]any{
		domain.ContextSubmissionID: submission.ID,
		"university_id":            submission.UniversityID,
		"channel":                  submission.Channel.String(),
		"retry_count":              submission.RetryCount,
		"failure_kind":             result.FailureKind.String(),
		"error":                    result.Message,
	}
	if _, err := p.errorLogs.Record(ctx, level, category, message, fields); err != nil {
		logger.Error("failed to write error log entry", zap.Error(err))
	}
}

func (p *QueueProcessor) recordAttempt(ctx context.Context, submission domain.Submission, result domain.DeliveryResult) error {
	now := p.now().UTC()
	attempt := &domain.SubmissionAttempt{
		ID:             uuid.NewString(),
		SubmissionID:   submission.ID,
		UniversityID:   submission.UniversityID,
		Channel:        submission.Channel,
		AttemptNumber:  submission.RetryCount + 1,
		Success:        result.OK,
		DurationMillis: result.Duration.Milliseconds(),
		CreatedAt:      now,
	}
	if !submission.CreatedAt.IsZero() {
		attempt.ProcessingMillis = now.Sub(submission.CreatedAt).Milliseconds()
	}
	if !result.OK {
		kind := result.FailureKind
		message := result.Message
		attempt.FailureKind = &kind
		attempt.Error = &message
	}
	return p.attempts.Create(ctx, attempt)
}

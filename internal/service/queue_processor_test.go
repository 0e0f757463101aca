package service

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"github.com/kursadbilgin/letter-dispatch/internal/retry"
	"go.uber.org/zap"
)

type processorFixture struct {
	repo      *memSubmissionRepo
	attempts  *fakeAttemptRepo
	errorRepo *fakeErrorLogRepo
	processor *QueueProcessor
	clock     *time.Time
}

func newProcessorFixture(t *testing.T, dispatcher SubmissionDispatcher, rows ...domain.Submission) *processorFixture {
	t.Helper()

	now := fixedNow()
	clock := &now
	nowFn := func() time.Time { return *clock }

	repo := newMemSubmissionRepo(rows...)
	q, err := NewDeliveryQueue(repo)
	if err != nil {
		t.Fatalf("NewDeliveryQueue() error = %v", err)
	}
	q.now = nowFn

	errorRepo := &fakeErrorLogRepo{}
	errorLogs, err := NewErrorLogService(errorRepo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewErrorLogService() error = %v", err)
	}
	errorLogs.now = nowFn

	attempts := &fakeAttemptRepo{}
	policy := retry.NewPolicy(time.Minute, 6*time.Hour, 0, domain.DefaultMaxRetries)

	processor, err := NewQueueProcessor(q, dispatcher, attempts, errorLogs, policy, QueueProcessorOptions{
		BatchSize:   10,
		Concurrency: 4,
		StaleAfter:  10 * time.Minute,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewQueueProcessor() error = %v", err)
	}
	processor.now = nowFn

	return &processorFixture{repo: repo, attempts: attempts, errorRepo: errorRepo, processor: processor, clock: clock}
}

func TestQueueProcessorSuccessMarksSubmitted(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{dispatchFn: func(ctx context.Context, s domain.Submission) domain.DeliveryResult {
		if s.Status != domain.StatusProcessing {
			t.Errorf("dispatched status = %s, want processing", s.Status)
		}
		return domain.DeliveryResult{OK: true, ExternalReference: "ref-1", Duration: 40 * time.Millisecond}
	}}
	f := newProcessorFixture(t, dispatcher, pendingSubmission("s1", 3, fixedNow()))

	if err := f.processor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got := f.repo.get("s1")
	if got.Status != domain.StatusSubmitted {
		t.Fatalf("status = %s, want submitted", got.Status)
	}
	if got.ExternalReference == nil || *got.ExternalReference != "ref-1" {
		t.Fatalf("external reference = %v, want ref-1", got.ExternalReference)
	}
	if got.SubmittedAt == nil || got.NextAttemptAt != nil {
		t.Fatalf("submitted_at = %v next_attempt_at = %v, want set/nil", got.SubmittedAt, got.NextAttemptAt)
	}
	if len(f.attempts.attempts) != 1 || !f.attempts.attempts[0].Success || f.attempts.attempts[0].AttemptNumber != 1 {
		t.Fatalf("attempts = %+v, want one successful first attempt", f.attempts.attempts)
	}
	if f.attempts.attempts[0].ProcessingMillis != time.Hour.Milliseconds() {
		t.Fatalf("processing millis = %d, want %d", f.attempts.attempts[0].ProcessingMillis, time.Hour.Milliseconds())
	}
}

func TestQueueProcessorSynchronousConfirmation(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{dispatchFn: func(context.Context, domain.Submission) domain.DeliveryResult {
		return domain.DeliveryResult{OK: true, Confirmed: true, ExternalReference: "SU-9"}
	}}
	f := newProcessorFixture(t, dispatcher, pendingSubmission("s1", 1, fixedNow()))

	if err := f.processor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if got := f.repo.get("s1"); got.Status != domain.StatusConfirmed || got.ConfirmedAt == nil {
		t.Fatalf("row = %+v, want confirmed with confirmed_at", got)
	}
}

func TestQueueProcessorPermanentFailureFailsImmediately(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{dispatchFn: func(context.Context, domain.Submission) domain.DeliveryResult {
		return domain.DeliveryResult{FailureKind: domain.FailurePermanent, Message: "status=422: unknown applicant"}
	}}
	row := pendingSubmission("s1", 5, fixedNow())
	row.RetryCount = 0
	row.MaxRetries = 10
	f := newProcessorFixture(t, dispatcher, row)

	if err := f.processor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got := f.repo.get("s1")
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.LastError == nil || !strings.Contains(*got.LastError, "unknown applicant") {
		t.Fatalf("last_error = %v, want adapter message", got.LastError)
	}

	entries := f.errorRepo.byCategory(domain.CategorySubmission)
	if len(entries) != 1 {
		t.Fatalf("submission error entries = %d, want 1", len(entries))
	}
	if id, ok := entries[0].SubmissionID(); !ok || id != "s1" {
		t.Fatalf("entry submission id = %q, want s1", id)
	}
	if entries[0].Level != domain.LevelError {
		t.Fatalf("entry level = %s, want error", entries[0].Level)
	}
}

func TestQueueProcessorTransientFailuresExhaustAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	dispatcher := &fakeDispatcher{dispatchFn: func(context.Context, domain.Submission) domain.DeliveryResult {
		calls.Add(1)
		return domain.DeliveryResult{FailureKind: domain.FailureTransient, Message: "status=503"}
	}}
	f := newProcessorFixture(t, dispatcher, pendingSubmission("s1", 5, fixedNow()))

	var lastDelay time.Duration
	for evaluation := 1; evaluation <= 6; evaluation++ {
		if err := f.processor.Tick(context.Background()); err != nil {
			t.Fatalf("Tick(%d) error = %v", evaluation, err)
		}

		got := f.repo.get("s1")
		if evaluation < 6 {
			if got.Status != domain.StatusPending {
				t.Fatalf("evaluation %d status = %s, want pending", evaluation, got.Status)
			}
			if got.RetryCount != evaluation {
				t.Fatalf("evaluation %d retry_count = %d, want %d", evaluation, got.RetryCount, evaluation)
			}
			delay := got.NextAttemptAt.Sub(*f.clock)
			if delay <= lastDelay {
				t.Fatalf("evaluation %d delay = %v, want > %v", evaluation, delay, lastDelay)
			}
			lastDelay = delay
			*f.clock = *got.NextAttemptAt
			continue
		}

		if got.Status != domain.StatusFailed {
			t.Fatalf("evaluation 6 status = %s, want failed", got.Status)
		}
		if got.RetryCount != domain.DefaultMaxRetries {
			t.Fatalf("retry_count = %d, want %d", got.RetryCount, domain.DefaultMaxRetries)
		}
	}

	if got := calls.Load(); got != 6 {
		t.Fatalf("dispatch calls = %d, want 6", got)
	}
	if got := len(f.errorRepo.byCategory(domain.CategorySubmission)); got != 1 {
		t.Fatalf("exhaustion entries = %d, want exactly 1", got)
	}
	if got := len(f.errorRepo.byCategory(domain.CategoryIntegration)); got != 5 {
		t.Fatalf("intermediate entries = %d, want 5", got)
	}
	if got := len(f.attempts.attempts); got != 6 {
		t.Fatalf("attempt rows = %d, want 6", got)
	}
}

func TestQueueProcessorKeepsConcurrentConfirmation(t *testing.T) {
	t.Parallel()

	var f *processorFixture
	dispatcher := &fakeDispatcher{dispatchFn: func(ctx context.Context, s domain.Submission) domain.DeliveryResult {
		// A confirmation callback lands while the channel call is in flight.
		ref := "cb-1"
		err := f.repo.CompareAndUpdate(ctx, s.ID, []domain.Status{domain.StatusProcessing}, repository.SubmissionUpdate{
			Status:            domain.StatusConfirmed,
			ExternalReference: &ref,
			UpdatedAt:         fixedNow(),
		})
		if err != nil {
			t.Errorf("CompareAndUpdate() error = %v", err)
		}
		return domain.DeliveryResult{FailureKind: domain.FailureTransient, Message: "timeout"}
	}}
	f = newProcessorFixture(t, dispatcher, pendingSubmission("s1", 1, fixedNow()))

	if err := f.processor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if got := f.repo.get("s1"); got.Status != domain.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed to win", got.Status)
	}
}

func TestQueueProcessorReleasesBatchWhenCancelled(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{dispatchFn: func(context.Context, domain.Submission) domain.DeliveryResult {
		t.Error("dispatch should not start after cancellation")
		return domain.DeliveryResult{OK: true}
	}}
	f := newProcessorFixture(t, dispatcher, pendingSubmission("s1", 1, fixedNow()), pendingSubmission("s2", 2, fixedNow()))

	batch, err := f.processor.queue.DequeueDueBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("DequeueDueBatch() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.processor.dispatchBatch(ctx, batch)

	for _, id := range []string{"s1", "s2"} {
		if got := f.repo.get(id); got.Status != domain.StatusPending {
			t.Fatalf("%s status = %s, want pending after release", id, got.Status)
		}
	}
}

func TestQueueProcessorTickReclaimsStaleRows(t *testing.T) {
	t.Parallel()

	dispatched := make(chan string, 1)
	dispatcher := &fakeDispatcher{dispatchFn: func(_ context.Context, s domain.Submission) domain.DeliveryResult {
		dispatched <- s.ID
		return domain.DeliveryResult{OK: true}
	}}

	started := fixedNow().Add(-time.Hour)
	stuck := pendingSubmission("stuck", 1, fixedNow())
	stuck.Status = domain.StatusProcessing
	stuck.ProcessingStartedAt = &started
	f := newProcessorFixture(t, dispatcher, stuck)

	if err := f.processor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	select {
	case id := <-dispatched:
		if id != "stuck" {
			t.Fatalf("dispatched %s, want stuck", id)
		}
	default:
		t.Fatal("reclaimed submission should be dispatched in the same tick")
	}
}

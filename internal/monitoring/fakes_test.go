package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/analytics"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
)

var testNow = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

type fakeHealth struct {
	snapshotFn func(ctx context.Context, window time.Duration) (*analytics.HealthSnapshot, error)
}

func (f *fakeHealth) HealthSnapshot(ctx context.Context, window time.Duration) (*analytics.HealthSnapshot, error) {
	return f.snapshotFn(ctx, window)
}

type fakeEvents struct {
	listFn func(ctx context.Context, limit int) ([]domain.NotificationEvent, error)
}

func (f *fakeEvents) UnacknowledgedEvents(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	return f.listFn(ctx, limit)
}

type fakeErrorLogs struct {
	listFn func(ctx context.Context, limit int) ([]domain.ErrorLogEntry, error)
}

func (f *fakeErrorLogs) ListRecent(ctx context.Context, limit int) ([]domain.ErrorLogEntry, error) {
	return f.listFn(ctx, limit)
}

type fakeSubmissionFeed struct {
	listFn func(ctx context.Context, limit int) ([]domain.Submission, error)
}

func (f *fakeSubmissionFeed) ListRecentlyUpdated(ctx context.Context, limit int) ([]domain.Submission, error) {
	return f.listFn(ctx, limit)
}

type fakeRequeuer struct {
	mu         sync.Mutex
	listFn     func(ctx context.Context, filter repository.FailedFilter) ([]domain.Submission, error)
	requeueFn  func(ctx context.Context, id string, priority int) error
	requeued   []string
	lastFilter repository.FailedFilter
}

func (f *fakeRequeuer) ListFailed(ctx context.Context, filter repository.FailedFilter) ([]domain.Submission, error) {
	f.mu.Lock()
	f.lastFilter = filter
	f.mu.Unlock()
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, filter)
}

func (f *fakeRequeuer) Requeue(ctx context.Context, id string, priority int) error {
	if f.requeueFn != nil {
		if err := f.requeueFn(ctx, id, priority); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, id)
	return nil
}

func healthySnapshot() *analytics.HealthSnapshot {
	return &analytics.HealthSnapshot{
		Status:        domain.HealthHealthy,
		GeneratedAt:   testNow,
		WindowMinutes: 60,
		Throughput:    analytics.Throughput{Attempts: 20, Successes: 19, Failures: 1, SuccessRate: 0.95, ProcessingRatePerHour: 20},
		Backlog:       analytics.Backlog{Pending: 4, Processing: 2, Total: 6},
		ErrorCount:    1,
	}
}

func emptySources() (*fakeHealth, *fakeEvents, *fakeErrorLogs, *fakeSubmissionFeed) {
	return &fakeHealth{snapshotFn: func(context.Context, time.Duration) (*analytics.HealthSnapshot, error) {
			return healthySnapshot(), nil
		}},
		&fakeEvents{listFn: func(context.Context, int) ([]domain.NotificationEvent, error) { return nil, nil }},
		&fakeErrorLogs{listFn: func(context.Context, int) ([]domain.ErrorLogEntry, error) { return nil, nil }},
		&fakeSubmissionFeed{listFn: func(context.Context, int) ([]domain.Submission, error) { return nil, nil }}
}

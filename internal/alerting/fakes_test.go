package alerting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/analytics"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
)

// memRuleRepo mirrors the conditional UPDATE used by GormRuleRepo.RecordTrigger.
type memRuleRepo struct {
	mu     sync.Mutex
	rules  map[string]domain.NotificationRule
	events []domain.NotificationEvent
	seq    int

	recordTriggerFn func(event *domain.NotificationEvent) error
}

func newMemRuleRepo(rules ...domain.NotificationRule) *memRuleRepo {
	repo := &memRuleRepo{rules: map[string]domain.NotificationRule{}}
	for _, r := range rules {
		repo.rules[r.ID] = r
	}
	return repo
}

func (r *memRuleRepo) Create(_ context.Context, rule *domain.NotificationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Unix(int64(r.seq), 0)
	}
	r.rules[rule.ID] = *rule
	return nil
}

func (r *memRuleRepo) Update(_ context.Context, rule *domain.NotificationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rules[rule.ID]
	if !ok {
		return domain.ErrNotFound
	}
	updated := *rule
	updated.LastTriggeredAt = existing.LastTriggeredAt
	r.rules[rule.ID] = updated
	return nil
}

func (r *memRuleRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.rules, id)
	return nil
}

func (r *memRuleRepo) GetByID(_ context.Context, id string) (*domain.NotificationRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rule, nil
}

func (r *memRuleRepo) List(_ context.Context) ([]domain.NotificationRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NotificationRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRuleRepo) ListEnabled(ctx context.Context) ([]domain.NotificationRule, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, rule := range all {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memRuleRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rules)), nil
}

func (r *memRuleRepo) RecordTrigger(_ context.Context, ruleID string, cutoff time.Time, event *domain.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordTriggerFn != nil {
		if err := r.recordTriggerFn(event); err != nil {
			return err
		}
	}

	rule, ok := r.rules[ruleID]
	if !ok || !rule.Enabled {
		return domain.ErrConflict
	}
	if rule.LastTriggeredAt != nil && rule.LastTriggeredAt.After(cutoff) {
		return domain.ErrConflict
	}
	at := event.TriggeredAt
	rule.LastTriggeredAt = &at
	r.rules[ruleID] = rule
	r.events = append(r.events, *event)
	return nil
}

func (r *memRuleRepo) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type memEventRepo struct {
	mu     sync.Mutex
	events map[string]*domain.NotificationEvent
}

func (r *memEventRepo) List(context.Context, repository.EventListParams) ([]domain.NotificationEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NotificationEvent, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out, int64(len(out)), nil
}

func (r *memEventRepo) ListUnacknowledged(context.Context, int) ([]domain.NotificationEvent, error) {
	all, _, _ := r.List(context.Background(), repository.EventListParams{})
	out := all[:0]
	for _, e := range all {
		if !e.Acknowledged {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memEventRepo) Acknowledge(_ context.Context, id string, by string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Acknowledged {
		return nil
	}
	e.Acknowledged = true
	e.AcknowledgedBy = &by
	e.AcknowledgedAt = &at
	return nil
}

type fakeFailureCounter struct {
	countFn func(ctx context.Context, since time.Time, universityIDs []string) (int64, error)
}

func (f *fakeFailureCounter) CountFailedSince(ctx context.Context, since time.Time, universityIDs []string) (int64, error) {
	if f.countFn == nil {
		return 0, nil
	}
	return f.countFn(ctx, since, universityIDs)
}

type fakeHealth struct {
	throughput  analytics.Throughput
	backlog     analytics.Backlog
	snapshot    analytics.HealthSnapshot
	performance []analytics.UniversityPerformance
	err         error
}

func (f *fakeHealth) Throughput(context.Context, time.Duration) (analytics.Throughput, error) {
	return f.throughput, f.err
}

func (f *fakeHealth) Backlog(context.Context) (analytics.Backlog, error) { return f.backlog, f.err }

func (f *fakeHealth) HealthSnapshot(context.Context, time.Duration) (*analytics.HealthSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	snapshot := f.snapshot
	return &snapshot, nil
}

func (f *fakeHealth) UniversityPerformance(context.Context, time.Duration) ([]analytics.UniversityPerformance, error) {
	return f.performance, f.err
}

// recordingExecutor counts executions and optionally fails.
type recordingExecutor struct {
	mu    sync.Mutex
	calls []domain.NotificationEvent
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, _ domain.Action, event domain.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, event)
	return r.err
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

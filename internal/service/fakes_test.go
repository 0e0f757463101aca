package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/provider"
	"github.com/kursadbilgin/letter-dispatch/internal/queue"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
)

// memSubmissionRepo mirrors the SQL contract of GormSubmissionRepo: every
// method runs under one mutex, which gives the same no-overlap guarantee as
// FOR UPDATE SKIP LOCKED.
type memSubmissionRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.Submission
	created int

	compareAndUpdateFn func(ctx context.Context, id string, from []domain.Status, update repository.SubmissionUpdate) error
}

func newMemSubmissionRepo(rows ...domain.Submission) *memSubmissionRepo {
	r := &memSubmissionRepo{rows: make(map[string]domain.Submission)}
	for _, row := range rows {
		r.rows[row.ID] = row
	}
	return r
}

func (r *memSubmissionRepo) get(id string) domain.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

func (r *memSubmissionRepo) Create(_ context.Context, s *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ApplicationID == s.ApplicationID && row.UniversityID == s.UniversityID {
			return errDuplicateKey
		}
	}
	r.created++
	r.rows[s.ID] = *s
	return nil
}

func (r *memSubmissionRepo) GetByID(_ context.Context, id string) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (r *memSubmissionRepo) GetByApplicationAndUniversity(_ context.Context, applicationID, universityID string) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ApplicationID == applicationID && row.UniversityID == universityID {
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memSubmissionRepo) List(_ context.Context, params repository.SubmissionListParams) ([]domain.Submission, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Submission
	for _, row := range r.rows {
		if params.Status != nil && row.Status != *params.Status {
			continue
		}
		out = append(out, row)
	}
	return out, int64(len(out)), nil
}

func (r *memSubmissionRepo) DequeueDueBatch(_ context.Context, now time.Time, limit int) ([]domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []domain.Submission
	for _, row := range r.rows {
		if row.IsDue(now) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return nextAttempt(due[i]).Before(nextAttempt(due[j]))
	})
	if len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		started := now
		due[i].Status = domain.StatusProcessing
		due[i].ProcessingStartedAt = &started
		due[i].UpdatedAt = now
		r.rows[due[i].ID] = due[i]
	}
	return due, nil
}

func nextAttempt(s domain.Submission) time.Time {
	if s.NextAttemptAt == nil {
		return time.Time{}
	}
	return *s.NextAttemptAt
}

func (r *memSubmissionRepo) MarkInFlight(_ context.Context, ids []string, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []string
	for _, id := range ids {
		row, ok := r.rows[id]
		if !ok || row.Status != domain.StatusPending {
			continue
		}
		started := now
		row.Status = domain.StatusProcessing
		row.ProcessingStartedAt = &started
		r.rows[id] = row
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (r *memSubmissionRepo) CompareAndUpdate(ctx context.Context, id string, from []domain.Status, update repository.SubmissionUpdate) error {
	if r.compareAndUpdateFn != nil {
		return r.compareAndUpdateFn(ctx, id, from, update)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	matched := false
	for _, st := range from {
		if row.Status == st {
			matched = true
		}
	}
	if !matched {
		return domain.ErrConflict
	}

	row.Status = update.Status
	row.UpdatedAt = update.UpdatedAt
	if update.RetryCount != nil {
		row.RetryCount = *update.RetryCount
	}
	if update.Priority != nil {
		row.Priority = *update.Priority
	}
	if update.NextAttemptAt != nil {
		at := *update.NextAttemptAt
		row.NextAttemptAt = &at
	} else if update.ClearNextAttempt {
		row.NextAttemptAt = nil
	}
	if update.ProcessingStartedAt != nil {
		row.ProcessingStartedAt = update.ProcessingStartedAt
	} else if update.Status != domain.StatusProcessing {
		row.ProcessingStartedAt = nil
	}
	if update.SubmittedAt != nil {
		row.SubmittedAt = update.SubmittedAt
	}
	if update.ConfirmedAt != nil {
		row.ConfirmedAt = update.ConfirmedAt
	}
	if update.LastError != nil {
		msg := *update.LastError
		row.LastError = &msg
	}
	if update.ExternalReference != nil {
		ref := *update.ExternalReference
		row.ExternalReference = &ref
	}
	r.rows[id] = row
	return nil
}

func (r *memSubmissionRepo) ReclaimStale(_ context.Context, startedBefore time.Time, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, row := range r.rows {
		if row.Status != domain.StatusProcessing || row.ProcessingStartedAt == nil || !row.ProcessingStartedAt.Before(startedBefore) {
			continue
		}
		at := now
		row.Status = domain.StatusPending
		row.NextAttemptAt = &at
		row.ProcessingStartedAt = nil
		r.rows[id] = row
		n++
	}
	return n, nil
}

func (r *memSubmissionRepo) ListFailed(_ context.Context, filter repository.FailedFilter) ([]domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Submission
	for _, row := range r.rows {
		if row.Status != domain.StatusFailed {
			continue
		}
		if filter.UniversityID != nil && row.UniversityID != *filter.UniversityID {
			continue
		}
		if filter.UpdatedBefore != nil && row.UpdatedAt.After(*filter.UpdatedBefore) {
			continue
		}
		if filter.MaxRetryCount != nil && row.RetryCount > *filter.MaxRetryCount {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *memSubmissionRepo) CountByStatus(context.Context) (map[domain.Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.Status]int64)
	for _, row := range r.rows {
		counts[row.Status]++
	}
	return counts, nil
}

func (r *memSubmissionRepo) CountFailedSince(_ context.Context, since time.Time, universityIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.Status == domain.StatusFailed && !row.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memSubmissionRepo) ListRecentlyUpdated(context.Context, int) ([]domain.Submission, error) {
	return nil, nil
}

type duplicateKeyError struct{}

func (duplicateKeyError) Error() string {
	return `ERROR: duplicate key value violates unique constraint "idx_submissions_application_university"`
}

var errDuplicateKey error = duplicateKeyError{}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.SubmissionAttempt
	createFn func(ctx context.Context, a *domain.SubmissionAttempt) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.SubmissionAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) GetBySubmissionID(_ context.Context, submissionID string) ([]domain.SubmissionAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SubmissionAttempt
	for _, a := range f.attempts {
		if a.SubmissionID == submissionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) StatsSince(context.Context, time.Time, int) ([]domain.UniversityAttemptStats, error) {
	return nil, nil
}

type fakeErrorLogRepo struct {
	mu       sync.Mutex
	entries  []domain.ErrorLogEntry
	createFn func(ctx context.Context, e *domain.ErrorLogEntry) error
	resolve  func(ctx context.Context, ids []string, by string, at time.Time) (int64, error)
	purgeFn  func(ctx context.Context, before time.Time) (int64, error)
}

func (f *fakeErrorLogRepo) Create(ctx context.Context, e *domain.ErrorLogEntry) error {
	if f.createFn != nil {
		return f.createFn(ctx, e)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeErrorLogRepo) GetByID(_ context.Context, id string) (*domain.ErrorLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].ID == id {
			e := f.entries[i]
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeErrorLogRepo) List(context.Context, repository.ErrorLogListParams) ([]domain.ErrorLogEntry, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ErrorLogEntry(nil), f.entries...), int64(len(f.entries)), nil
}

func (f *fakeErrorLogRepo) Resolve(ctx context.Context, ids []string, by string, at time.Time) (int64, error) {
	if f.resolve != nil {
		return f.resolve(ctx, ids, by, at)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.entries {
		for _, id := range ids {
			if f.entries[i].ID == id && !f.entries[i].Resolved {
				resolvedBy, resolvedAt := by, at
				f.entries[i].Resolved = true
				f.entries[i].ResolvedBy = &resolvedBy
				f.entries[i].ResolvedAt = &resolvedAt
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeErrorLogRepo) CountSince(context.Context, time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), nil
}

func (f *fakeErrorLogRepo) ListRecent(context.Context, int) ([]domain.ErrorLogEntry, error) {
	return nil, nil
}

func (f *fakeErrorLogRepo) PurgeResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	if f.purgeFn != nil {
		return f.purgeFn(ctx, before)
	}
	return 0, nil
}

func (f *fakeErrorLogRepo) byCategory(category domain.Category) []domain.ErrorLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ErrorLogEntry
	for _, e := range f.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, s domain.Submission) domain.DeliveryResult
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, s domain.Submission) domain.DeliveryResult {
	return f.dispatchFn(ctx, s)
}

type fakeAdapter struct {
	sendFn func(ctx context.Context, s domain.Submission, app provider.ApplicationContext) (*provider.DeliveryResponse, error)
}

func (f *fakeAdapter) Send(ctx context.Context, s domain.Submission, app provider.ApplicationContext) (*provider.DeliveryResponse, error) {
	return f.sendFn(ctx, s, app)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.ConfirmationHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.ConfirmationHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func fixedNow() time.Time { return time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC) }

func pendingSubmission(id string, priority int, nextAttemptAt time.Time) domain.Submission {
	at := nextAttemptAt
	return domain.Submission{
		ID:            id,
		ApplicationID: "app-" + id,
		UniversityID:  "state-u",
		Channel:       domain.ChannelAPI,
		Status:        domain.StatusPending,
		Priority:      priority,
		MaxRetries:    domain.DefaultMaxRetries,
		NextAttemptAt: &at,
		CreatedAt:     nextAttemptAt.Add(-time.Hour),
		UpdatedAt:     nextAttemptAt.Add(-time.Hour),
	}
}

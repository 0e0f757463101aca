package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"go.uber.org/zap"
)

const DefaultWindow = time.Hour

// AttemptSource aggregates dispatch attempts created at or after since, one
// row per university. streakDepth bounds the failure streak measurement; 0
// skips it.
type AttemptSource interface {
	StatsSince(ctx context.Context, since time.Time, streakDepth int) ([]domain.UniversityAttemptStats, error)
}

// StatusCounter counts submissions per status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
}

// ErrorCounter counts error log entries since a point in time.
type ErrorCounter interface {
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// Thresholds classify overall system health.
type Thresholds struct {
	BacklogWarning      int64
	BacklogCritical     int64
	SuccessRateWarning  float64
	SuccessRateCritical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BacklogWarning:      500,
		BacklogCritical:     2000,
		SuccessRateWarning:  0.9,
		SuccessRateCritical: 0.7,
	}
}

// University classification boundaries.
const (
	universityHealthyRate        = 0.8
	universityDownRate           = 0.5
	universityDownMinFailures    = 10
	universityMaxAvgLatencySecs  = 300.0
	universityZeroSuccessMinimum = domain.MinUniversityDownSample
	// streakDepth covers the down classification and the longest streak a
	// rule may require.
	streakDepth = domain.MaxConsecutiveFailures
)

// Throughput summarises attempt outcomes within a window. SuccessRate is
// successes/(successes+failures) and 0 when there were no attempts.
type Throughput struct {
	Attempts              int     `json:"attempts"`
	Successes             int     `json:"successes"`
	Failures              int     `json:"failures"`
	SuccessRate           float64 `json:"successRate"`
	AvgProcessingSeconds  float64 `json:"avgProcessingSeconds"`
	ProcessingRatePerHour float64 `json:"processingRatePerHour"`
}

// FailurePercent is failures/attempts*100, 0 without attempts.
func (t Throughput) FailurePercent() float64 {
	if t.Attempts == 0 {
		return 0
	}
	return float64(t.Failures) / float64(t.Attempts) * 100
}

type UniversityPerformance struct {
	UniversityID         string                  `json:"universityId"`
	Attempts             int                     `json:"attempts"`
	Successes            int                     `json:"successes"`
	Failures             int                     `json:"failures"`
	SuccessRate          float64                 `json:"successRate"`
	AvgProcessingSeconds float64                 `json:"avgProcessingSeconds"`
	ConsecutiveFailures  int                     `json:"consecutiveFailures"`
	LastAttemptAt        time.Time               `json:"lastAttemptAt"`
	Status               domain.UniversityStatus `json:"status"`
}

type Backlog struct {
	Pending    int64                   `json:"pending"`
	Processing int64                   `json:"processing"`
	Total      int64                   `json:"total"`
	ByStatus   map[domain.Status]int64 `json:"byStatus"`
}

type HealthSnapshot struct {
	Status        domain.HealthStatus     `json:"status"`
	GeneratedAt   time.Time               `json:"generatedAt"`
	Window        time.Duration           `json:"-"`
	WindowMinutes int                     `json:"windowMinutes"`
	Throughput    Throughput              `json:"throughput"`
	Backlog       Backlog                 `json:"backlog"`
	ErrorCount    int64                   `json:"errorCount"`
	PerUniversity []UniversityPerformance `json:"perUniversity"`
}

// Aggregator derives rolling metrics from the submission store and error
// log on every call. It holds no state of its own.
type Aggregator struct {
	attempts   AttemptSource
	statuses   StatusCounter
	errors     ErrorCounter
	thresholds Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

func NewAggregator(
	attempts AttemptSource,
	statuses StatusCounter,
	errors ErrorCounter,
	thresholds Thresholds,
	logger *zap.Logger,
) (*Aggregator, error) {
	if attempts == nil || statuses == nil || errors == nil {
		return nil, fmt.Errorf("attempt, status and error sources are required")
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		attempts:   attempts,
		statuses:   statuses,
		errors:     errors,
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// HealthSnapshot computes every metric over the trailing window.
func (a *Aggregator) HealthSnapshot(ctx context.Context, window time.Duration) (*HealthSnapshot, error) {
	window = normalizeWindow(window)
	now := a.now().UTC()

	stats, err := a.attempts.StatsSince(ctx, now.Add(-window), streakDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt stats: %w", err)
	}
	backlog, err := a.Backlog(ctx)
	if err != nil {
		return nil, err
	}
	errorCount, err := a.ErrorCount(ctx, window)
	if err != nil {
		return nil, err
	}

	throughput := summarize(stats, window)
	return &HealthSnapshot{
		Status:        a.Classify(throughput, backlog),
		GeneratedAt:   now,
		Window:        window,
		WindowMinutes: int(window / time.Minute),
		Throughput:    throughput,
		Backlog:       backlog,
		ErrorCount:    errorCount,
		PerUniversity: classifyUniversities(stats),
	}, nil
}

func (a *Aggregator) Throughput(ctx context.Context, window time.Duration) (Throughput, error) {
	window = normalizeWindow(window)
	stats, err := a.attempts.StatsSince(ctx, a.now().UTC().Add(-window), 0)
	if err != nil {
		return Throughput{}, fmt.Errorf("failed to load attempt stats: %w", err)
	}
	return summarize(stats, window), nil
}

// UniversityPerformance lists every university with at least one attempt in
// the window, worst status first.
func (a *Aggregator) UniversityPerformance(ctx context.Context, window time.Duration) ([]UniversityPerformance, error) {
	window = normalizeWindow(window)
	stats, err := a.attempts.StatsSince(ctx, a.now().UTC().Add(-window), streakDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt stats: %w", err)
	}
	return classifyUniversities(stats), nil
}

func (a *Aggregator) Backlog(ctx context.Context) (Backlog, error) {
	counts, err := a.statuses.CountByStatus(ctx)
	if err != nil {
		return Backlog{}, fmt.Errorf("failed to count submissions: %w", err)
	}
	pending, processing := counts[domain.StatusPending], counts[domain.StatusProcessing]
	return Backlog{
		Pending:    pending,
		Processing: processing,
		Total:      pending + processing,
		ByStatus:   counts,
	}, nil
}

func (a *Aggregator) ErrorCount(ctx context.Context, window time.Duration) (int64, error) {
	count, err := a.errors.CountSince(ctx, a.now().UTC().Add(-normalizeWindow(window)))
	if err != nil {
		return 0, fmt.Errorf("failed to count error log entries: %w", err)
	}
	return count, nil
}

// Classify grades overall health. Success-rate floors only apply once there
// is traffic in the window.
func (a *Aggregator) Classify(t Throughput, b Backlog) domain.HealthStatus {
	th := a.thresholds
	hasTraffic := t.Attempts > 0
	switch {
	case b.Total >= th.BacklogCritical, hasTraffic && t.SuccessRate < th.SuccessRateCritical:
		return domain.HealthCritical
	case b.Total >= th.BacklogWarning, hasTraffic && t.SuccessRate < th.SuccessRateWarning:
		return domain.HealthWarning
	}
	return domain.HealthHealthy
}

func normalizeWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return DefaultWindow
	}
	return window
}

func successRate(successes, failures int) float64 {
	total := successes + failures
	if total == 0 {
		return 0
	}
	return float64(successes) / float64(total)
}

func summarize(stats []domain.UniversityAttemptStats, window time.Duration) Throughput {
	var (
		t               Throughput
		processingTotal int64
	)
	for _, st := range stats {
		t.Attempts += st.Attempts
		t.Successes += st.Successes
		processingTotal += st.SuccessProcessingMillis
	}
	t.Failures = t.Attempts - t.Successes
	t.SuccessRate = successRate(t.Successes, t.Failures)
	if t.Successes > 0 {
		t.AvgProcessingSeconds = float64(processingTotal) / float64(t.Successes) / 1000
	}
	if hours := window.Hours(); hours > 0 {
		t.ProcessingRatePerHour = float64(t.Attempts) / hours
	}
	return t
}

func classifyUniversities(stats []domain.UniversityAttemptStats) []UniversityPerformance {
	out := make([]UniversityPerformance, 0, len(stats))
	for _, st := range stats {
		if st.Attempts == 0 {
			continue
		}
		perf := UniversityPerformance{
			UniversityID:        st.UniversityID,
			Attempts:            st.Attempts,
			Successes:           st.Successes,
			Failures:            st.Attempts - st.Successes,
			ConsecutiveFailures: st.ConsecutiveFailures,
			LastAttemptAt:       st.LastAttemptAt,
		}
		perf.SuccessRate = successRate(perf.Successes, perf.Failures)
		if perf.Successes > 0 {
			perf.AvgProcessingSeconds = float64(st.SuccessProcessingMillis) / float64(perf.Successes) / 1000
		}
		perf.Status = classifyUniversity(perf)
		out = append(out, perf)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := universityRank(out[i].Status), universityRank(out[j].Status)
		if ri != rj {
			return ri > rj
		}
		return out[i].UniversityID < out[j].UniversityID
	})
	return out
}

// classifyUniversity marks a university down when failures dominate a
// meaningful sample, or when its latest five or more attempts in the window
// all failed. Earlier successes do not mask a current outage, and low
// traffic alone never marks it down.
func classifyUniversity(p UniversityPerformance) domain.UniversityStatus {
	switch {
	case p.SuccessRate < universityDownRate && p.Failures >= universityDownMinFailures:
		return domain.UniversityDown
	case p.ConsecutiveFailures >= universityZeroSuccessMinimum:
		return domain.UniversityDown
	case p.SuccessRate < universityHealthyRate, p.AvgProcessingSeconds > universityMaxAvgLatencySecs:
		return domain.UniversityDegraded
	}
	return domain.UniversityHealthy
}

func universityRank(s domain.UniversityStatus) int {
	switch s {
	case domain.UniversityDown:
		return 2
	case domain.UniversityDegraded:
		return 1
	}
	return 0
}

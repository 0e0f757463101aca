package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/analytics"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/observability"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAlertLimit    = 20
	defaultActivityLimit = 50
	maxBulkRetry         = 500
)

// Sections of the dashboard that are loaded independently.
const (
	SectionHealth      = "health"
	SectionEvents      = "events"
	SectionErrorLogs   = "errorLogs"
	SectionSubmissions = "submissions"
)

type HealthSource interface {
	HealthSnapshot(ctx context.Context, window time.Duration) (*analytics.HealthSnapshot, error)
}

type EventSource interface {
	UnacknowledgedEvents(ctx context.Context, limit int) ([]domain.NotificationEvent, error)
}

type ErrorLogSource interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ErrorLogEntry, error)
}

type SubmissionFeed interface {
	ListRecentlyUpdated(ctx context.Context, limit int) ([]domain.Submission, error)
}

// FailedRequeuer selects failed submissions and puts them back in the queue.
type FailedRequeuer interface {
	ListFailed(ctx context.Context, filter repository.FailedFilter) ([]domain.Submission, error)
	Requeue(ctx context.Context, id string, priority int) error
}

type Counters struct {
	Backlog               int64   `json:"backlog"`
	Pending               int64   `json:"pending"`
	Processing            int64   `json:"processing"`
	ProcessingRatePerHour float64 `json:"processingRatePerHour"`
	SuccessRate           float64 `json:"successRate"`
	AvgProcessingSeconds  float64 `json:"avgProcessingSeconds"`
	ErrorCount            int64   `json:"errorCount"`
}

// DashboardAlert is either derived from the current snapshot or a stored
// notification event awaiting acknowledgement.
type DashboardAlert struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	RuleID    string          `json:"ruleId,omitempty"`
	Severity  domain.Severity `json:"severity"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      map[string]any  `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type ActivityItem struct {
	Kind         string    `json:"kind"`
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Summary      string    `json:"summary"`
	Status       string    `json:"status"`
	SubmissionID string    `json:"submissionId,omitempty"`
	UniversityID string    `json:"universityId,omitempty"`
}

type Dashboard struct {
	GeneratedAt  time.Time                         `json:"generatedAt"`
	Status       domain.HealthStatus               `json:"status"`
	Counters     Counters                          `json:"counters"`
	Universities []analytics.UniversityPerformance `json:"universities"`
	Alerts       []DashboardAlert                  `json:"alerts"`
	Activity     []ActivityItem                    `json:"activity"`
	// Degraded lists sections served from the last good load.
	Degraded []string `json:"degraded,omitempty"`
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	Window        time.Duration
	AlertLimit    int
	ActivityLimit int
}

// lastGood holds the most recent successful result of every section.
type lastGood struct {
	snapshot    *analytics.HealthSnapshot
	events      []domain.NotificationEvent
	errorLogs   []domain.ErrorLogEntry
	submissions []domain.Submission
}

// Orchestrator assembles the operator dashboard and runs bulk recovery.
type Orchestrator struct {
	health      HealthSource
	events      EventSource
	errorLogs   ErrorLogSource
	submissions SubmissionFeed
	requeuer    FailedRequeuer
	opts        Options
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	mu   sync.Mutex
	last lastGood
}

func NewOrchestrator(
	health HealthSource,
	events EventSource,
	errorLogs ErrorLogSource,
	submissions SubmissionFeed,
	requeuer FailedRequeuer,
	opts Options,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if health == nil || events == nil || errorLogs == nil || submissions == nil || requeuer == nil {
		return nil, fmt.Errorf("health, event, error log, submission and requeue sources are required")
	}
	if opts.Window <= 0 {
		opts.Window = analytics.DefaultWindow
	}
	if opts.AlertLimit <= 0 {
		opts.AlertLimit = defaultAlertLimit
	}
	if opts.ActivityLimit <= 0 {
		opts.ActivityLimit = defaultActivityLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		health:      health,
		events:      events,
		errorLogs:   errorLogs,
		submissions: submissions,
		requeuer:    requeuer,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// Dashboard loads every section concurrently. A failing section is served
// from its last good load and named in Degraded; it never fails the call.
func (o *Orchestrator) Dashboard(ctx context.Context) *Dashboard {
	var (
		fresh lastGood
		errs  = make(map[string]error, 4)
		errMu sync.Mutex
	)
	record := func(section string, err error) {
		errMu.Lock()
		errs[section] = err
		errMu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		snapshot, err := o.health.HealthSnapshot(ctx, o.opts.Window)
		if err != nil {
			record(SectionHealth, err)
			return nil
		}
		fresh.snapshot = snapshot
		return nil
	})
	g.Go(func() error {
		events, err := o.events.UnacknowledgedEvents(ctx, o.opts.AlertLimit)
		if err != nil {
			record(SectionEvents, err)
			return nil
		}
		fresh.events = events
		return nil
	})
	g.Go(func() error {
		entries, err := o.errorLogs.ListRecent(ctx, o.opts.ActivityLimit)
		if err != nil {
			record(SectionErrorLogs, err)
			return nil
		}
		fresh.errorLogs = entries
		return nil
	})
	g.Go(func() error {
		submissions, err := o.submissions.ListRecentlyUpdated(ctx, o.opts.ActivityLimit)
		if err != nil {
			record(SectionSubmissions, err)
			return nil
		}
		fresh.submissions = submissions
		return nil
	})
	_ = g.Wait()

	merged := o.merge(fresh, errs)

	dashboard := &Dashboard{
		GeneratedAt: o.now().UTC(),
		Status:      domain.HealthHealthy,
		Alerts:      o.alerts(merged.snapshot, merged.events),
		Activity:    o.activity(merged.errorLogs, merged.submissions),
	}
	if s := merged.snapshot; s != nil {
		dashboard.Status = s.Status
		dashboard.Universities = s.PerUniversity
		dashboard.Counters = Counters{
			Backlog:               s.Backlog.Total,
			Pending:               s.Backlog.Pending,
			Processing:            s.Backlog.Processing,
			ProcessingRatePerHour: s.Throughput.ProcessingRatePerHour,
			SuccessRate:           s.Throughput.SuccessRate,
			AvgProcessingSeconds:  s.Throughput.AvgProcessingSeconds,
			ErrorCount:            s.ErrorCount,
		}
	}
	for section, err := range errs {
		dashboard.Degraded = append(dashboard.Degraded, section)
		o.logger.Warn("dashboard section degraded", zap.String("section", section), zap.Error(err))
	}
	sort.Strings(dashboard.Degraded)
	return dashboard
}

// merge replaces failed sections with their last good value and stores the
// successful ones.
func (o *Orchestrator) merge(fresh lastGood, errs map[string]error) lastGood {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, failed := errs[SectionHealth]; failed {
		fresh.snapshot = o.last.snapshot
	} else {
		o.last.snapshot = fresh.snapshot
	}
	if _, failed := errs[SectionEvents]; failed {
		fresh.events = o.last.events
	} else {
		o.last.events = fresh.events
	}
	if _, failed := errs[SectionErrorLogs]; failed {
		fresh.errorLogs = o.last.errorLogs
	} else {
		o.last.errorLogs = fresh.errorLogs
	}
	if _, failed := errs[SectionSubmissions]; failed {
		fresh.submissions = o.last.submissions
	} else {
		o.last.submissions = fresh.submissions
	}
	return fresh
}

func (o *Orchestrator) alerts(snapshot *analytics.HealthSnapshot, events []domain.NotificationEvent) []DashboardAlert {
	derived := analytics.DeriveAlerts(snapshot)
	alerts := make([]DashboardAlert, 0, len(derived)+len(events))
	for _, a := range derived {
		alerts = append(alerts, DashboardAlert{
			ID:        a.Key,
			Source:    "derived",
			Severity:  a.Severity,
			Title:     a.Title,
			Message:   a.Message,
			Data:      a.Data,
			CreatedAt: a.CreatedAt,
		})
	}
	for _, e := range events {
		alerts = append(alerts, DashboardAlert{
			ID:        e.ID,
			Source:    "rule",
			RuleID:    e.RuleID,
			Severity:  e.Severity,
			Title:     e.Title,
			Message:   e.Message,
			Data:      e.Data,
			CreatedAt: e.TriggeredAt,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := severityRank(alerts[i].Severity), severityRank(alerts[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	if len(alerts) > o.opts.AlertLimit {
		alerts = alerts[:o.opts.AlertLimit]
	}
	return alerts
}

func (o *Orchestrator) activity(entries []domain.ErrorLogEntry, submissions []domain.Submission) []ActivityItem {
	items := make([]ActivityItem, 0, len(entries)+len(submissions))
	for _, e := range entries {
		submissionID, _ := e.Context[domain.ContextSubmissionID].(string)
		items = append(items, ActivityItem{
			Kind:         "error",
			ID:           e.ID,
			Timestamp:    e.OccurredAt,
			Summary:      e.Message,
			Status:       e.Level.String(),
			SubmissionID: submissionID,
		})
	}
	for _, s := range submissions {
		items = append(items, ActivityItem{
			Kind:         "submission",
			ID:           s.ID,
			Timestamp:    s.UpdatedAt,
			Summary:      fmt.Sprintf("submission to %s via %s is %s", s.UniversityID, s.Channel, s.Status),
			Status:       s.Status.String(),
			SubmissionID: s.ID,
			UniversityID: s.UniversityID,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })
	if len(items) > o.opts.ActivityLimit {
		items = items[:o.opts.ActivityLimit]
	}
	return items
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 3
	case domain.SeverityHigh:
		return 2
	case domain.SeverityMedium:
		return 1
	}
	return 0
}

package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/letter-dispatch/internal/analytics"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/observability"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultEvalInterval  = 5 * time.Minute
	defaultActionTimeout = 15 * time.Second
)

// FailureCounter counts submissions that ended failed since a point in time.
type FailureCounter interface {
	CountFailedSince(ctx context.Context, since time.Time, universityIDs []string) (int64, error)
}

// HealthSource is the slice of the analytics aggregator the engine reads.
type HealthSource interface {
	Throughput(ctx context.Context, window time.Duration) (analytics.Throughput, error)
	Backlog(ctx context.Context) (analytics.Backlog, error)
	HealthSnapshot(ctx context.Context, window time.Duration) (*analytics.HealthSnapshot, error)
	UniversityPerformance(ctx context.Context, window time.Duration) ([]analytics.UniversityPerformance, error)
}

// observation describes a condition that held during evaluation.
type observation struct {
	severity domain.Severity
	title    string
	message  string
	data     map[string]any
}

// Engine periodically evaluates enabled rules and fires the ones whose
// condition holds and whose cooldown has passed.
type Engine struct {
	rules     repository.RuleRepository
	failures  FailureCounter
	health    HealthSource
	executors map[domain.ActionKind]ActionExecutor
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	now       func() time.Time
}

func NewEngine(
	rules repository.RuleRepository,
	failures FailureCounter,
	health HealthSource,
	executors map[domain.ActionKind]ActionExecutor,
	interval time.Duration,
	logger *zap.Logger,
) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule repository is required")
	}
	if failures == nil || health == nil {
		return nil, fmt.Errorf("failure counter and health source are required")
	}
	if interval <= 0 {
		interval = defaultEvalInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		rules:     rules,
		failures:  failures,
		health:    health,
		executors: executors,
		logger:    logger,
		interval:  interval,
		now:       time.Now,
	}, nil
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := e.EvaluateAll(ctx); err != nil && ctx.Err() == nil {
		e.metrics.IncLoopError("rule_engine")
		e.logger.Error("rule engine initial evaluation failed", zap.Error(err))
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.EvaluateAll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.metrics.IncLoopError("rule_engine")
				e.logger.Error("rule engine evaluation failed", zap.Error(err))
			}
		}
	}
}

// EvaluateAll evaluates every enabled rule once. A failing rule does not
// stop the others; their errors are combined.
func (e *Engine) EvaluateAll(ctx context.Context) error {
	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled rules: %w", err)
	}

	var errs error
	for i := range rules {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if _, err := e.Evaluate(ctx, rules[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rule %s: %w", rules[i].ID, err))
		}
	}
	return errs
}

// Evaluate checks one rule and fires it when due. It returns the persisted
// event, or nil when the rule did not fire.
func (e *Engine) Evaluate(ctx context.Context, rule domain.NotificationRule) (*domain.NotificationEvent, error) {
	now := e.now().UTC()
	if !rule.Enabled || rule.InCooldown(now) {
		return nil, nil
	}

	obs, err := e.check(ctx, rule)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		return nil, nil
	}

	event := &domain.NotificationEvent{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		Severity:    obs.severity,
		Title:       obs.title,
		Message:     obs.message,
		Data:        obs.data,
		TriggeredAt: now,
	}
	err = e.rules.RecordTrigger(ctx, rule.ID, now.Add(-rule.Cooldown()), event)
	if errors.Is(err, domain.ErrConflict) {
		e.logger.Debug("rule already fired within cooldown", zap.String("ruleId", rule.ID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record rule trigger: %w", err)
	}

	e.metrics.IncRuleFired(rule.Type.String(), event.Severity.String())
	e.logger.Info("notification rule fired",
		zap.String("ruleId", rule.ID),
		zap.String("ruleType", rule.Type.String()),
		zap.String("eventId", event.ID),
		zap.String("severity", event.Severity.String()),
	)

	// The event stays recorded whatever the actions do.
	if err := e.runActions(ctx, rule, *event); err != nil {
		e.logger.Warn("notification actions failed",
			zap.String("ruleId", rule.ID),
			zap.String("eventId", event.ID),
			zap.Error(err),
		)
	}
	return event, nil
}

func (e *Engine) runActions(ctx context.Context, rule domain.NotificationRule, event domain.NotificationEvent) error {
	var errs error
	for _, action := range rule.Actions {
		if err := e.runAction(ctx, action, event); err != nil {
			e.metrics.IncAlertActionFailure(action.Kind().String())
			errs = multierr.Append(errs, fmt.Errorf("%s action: %w", action.Kind(), err))
		}
	}
	return errs
}

func (e *Engine) runAction(ctx context.Context, action domain.Action, event domain.NotificationEvent) (err error) {
	executor, ok := e.executors[action.Kind()]
	if !ok || executor == nil {
		return fmt.Errorf("no executor for %s actions", action.Kind())
	}

	actionCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return executor.Execute(actionCtx, action, event)
}

func (e *Engine) check(ctx context.Context, rule domain.NotificationRule) (*observation, error) {
	window := domain.WindowOf(rule.Condition)

	switch c := rule.Condition.(type) {
	case domain.SubmissionFailureCondition:
		return e.checkSubmissionFailure(ctx, c, window)
	case domain.HighFailureRateCondition:
		return e.checkFailureRate(ctx, c, window)
	case domain.QueueBacklogCondition:
		return e.checkBacklog(ctx, c)
	case domain.SystemHealthCondition:
		return e.checkSystemHealth(ctx, c, window)
	case domain.UniversityDownCondition:
		return e.checkUniversityDown(ctx, c, window)
	default:
		return nil, fmt.Errorf("%w: unsupported rule condition %T", domain.ErrValidation, rule.Condition)
	}
}

func (e *Engine) checkSubmissionFailure(ctx context.Context, c domain.SubmissionFailureCondition, window time.Duration) (*observation, error) {
	failed, err := e.failures.CountFailedSince(ctx, e.now().UTC().Add(-window), c.UniversityScope)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed submissions: %w", err)
	}
	if failed < int64(c.Threshold) {
		return nil, nil
	}

	return &observation{
		severity: domain.SeverityForRatio(float64(failed), float64(c.Threshold)),
		title:    "Submission failures above threshold",
		message:  fmt.Sprintf("%d submissions failed in the last %d minutes (threshold %d)", failed, c.TimeWindowMinutes, c.Threshold),
		data: map[string]any{
			"failedCount":     failed,
			"threshold":       c.Threshold,
			"windowMinutes":   c.TimeWindowMinutes,
			"universityScope": c.UniversityScope,
		},
	}, nil
}

func (e *Engine) checkFailureRate(ctx context.Context, c domain.HighFailureRateCondition, window time.Duration) (*observation, error) {
	throughput, err := e.health.Throughput(ctx, window)
	if err != nil {
		return nil, err
	}
	if throughput.Attempts < c.SampleSize() {
		return nil, nil
	}
	rate := throughput.FailurePercent()
	if rate < c.ThresholdPercent {
		return nil, nil
	}

	return &observation{
		severity: domain.SeverityForRatio(rate, c.ThresholdPercent),
		title:    "High submission failure rate",
		message:  fmt.Sprintf("%.1f%% of %d attempts failed in the last %d minutes (threshold %.1f%%)", rate, throughput.Attempts, c.TimeWindowMinutes, c.ThresholdPercent),
		data: map[string]any{
			"failureRatePercent": rate,
			"attempts":           throughput.Attempts,
			"failures":           throughput.Failures,
			"thresholdPercent":   c.ThresholdPercent,
			"windowMinutes":      c.TimeWindowMinutes,
		},
	}, nil
}

func (e *Engine) checkBacklog(ctx context.Context, c domain.QueueBacklogCondition) (*observation, error) {
	backlog, err := e.health.Backlog(ctx)
	if err != nil {
		return nil, err
	}
	if backlog.Pending < int64(c.Threshold) {
		return nil, nil
	}

	return &observation{
		severity: domain.SeverityForRatio(float64(backlog.Pending), float64(c.Threshold)),
		title:    "Delivery queue backlog",
		message:  fmt.Sprintf("%d submissions pending (threshold %d)", backlog.Pending, c.Threshold),
		data: map[string]any{
			"pending":    backlog.Pending,
			"processing": backlog.Processing,
			"threshold":  c.Threshold,
		},
	}, nil
}

func (e *Engine) checkSystemHealth(ctx context.Context, c domain.SystemHealthCondition, window time.Duration) (*observation, error) {
	snapshot, err := e.health.HealthSnapshot(ctx, window)
	if err != nil {
		return nil, err
	}
	if snapshot.Status.Rank() < c.MinimumStatus.Rank() {
		return nil, nil
	}

	severity := domain.SeverityHigh
	if snapshot.Status == domain.HealthCritical {
		severity = domain.SeverityCritical
	}
	return &observation{
		severity: severity,
		title:    fmt.Sprintf("System health is %s", snapshot.Status),
		message: fmt.Sprintf("success rate %.1f%% over %d attempts, backlog %d",
			snapshot.Throughput.SuccessRate*100, snapshot.Throughput.Attempts, snapshot.Backlog.Total),
		data: map[string]any{
			"status":        snapshot.Status,
			"successRate":   snapshot.Throughput.SuccessRate,
			"attempts":      snapshot.Throughput.Attempts,
			"backlog":       snapshot.Backlog.Total,
			"errorCount":    snapshot.ErrorCount,
			"windowMinutes": snapshot.WindowMinutes,
		},
	}, nil
}

func (e *Engine) checkUniversityDown(ctx context.Context, c domain.UniversityDownCondition, window time.Duration) (*observation, error) {
	performance, err := e.health.UniversityPerformance(ctx, window)
	if err != nil {
		return nil, err
	}

	var down []string
	details := make([]map[string]any, 0)
	for _, p := range performance {
		if !c.InScope(p.UniversityID) {
			continue
		}
		streakHit := c.ConsecutiveFailures > 0 && p.ConsecutiveFailures >= c.ConsecutiveFailures
		if p.Status != domain.UniversityDown && !streakHit {
			continue
		}
		down = append(down, p.UniversityID)
		details = append(details, map[string]any{
			"universityId":        p.UniversityID,
			"status":              p.Status,
			"attempts":            p.Attempts,
			"failures":            p.Failures,
			"consecutiveFailures": p.ConsecutiveFailures,
			"successRate":         p.SuccessRate,
		})
	}
	if len(down) == 0 {
		return nil, nil
	}

	title := fmt.Sprintf("%d universities down", len(down))
	if len(down) == 1 {
		title = fmt.Sprintf("University %s is down", down[0])
	}
	return &observation{
		severity: domain.SeverityCritical,
		title:    title,
		message:  fmt.Sprintf("submissions to %v are failing", down),
		data: map[string]any{
			"universities":        details,
			"windowMinutes":       c.TimeWindowMinutes,
			"consecutiveFailures": c.ConsecutiveFailures,
		},
	}, nil
}

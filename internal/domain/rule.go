package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RuleType selects which condition variant a rule carries.
type RuleType string

const (
	RuleSubmissionFailure RuleType = "submission_failure"
	RuleHighFailureRate   RuleType = "high_failure_rate"
	RuleQueueBacklog      RuleType = "queue_backlog"
	RuleSystemHealth      RuleType = "system_health"
	RuleUniversityDown    RuleType = "university_down"
)

func (t RuleType) String() string { return string(t) }

func (t RuleType) IsValid() bool {
	switch t {
	case RuleSubmissionFailure, RuleHighFailureRate, RuleQueueBacklog, RuleSystemHealth, RuleUniversityDown:
		return true
	}
	return false
}

func ParseRuleTypeFromString(s string) (RuleType, error) {
	t := RuleType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid rule type %q", ErrValidation, s)
	}
	return t, nil
}

// Severity of a notification event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) String() string { return string(s) }

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SeverityForRatio grades how far an observed value exceeds its threshold.
func SeverityForRatio(observed, threshold float64) Severity {
	if threshold <= 0 {
		return SeverityMedium
	}
	ratio := observed / threshold
	switch {
	case ratio >= 3:
		return SeverityCritical
	case ratio >= 2:
		return SeverityHigh
	case ratio >= 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

const (
	DefaultRuleWindowMinutes = 60
	DefaultCooldownMinutes   = 30
	MinFailureRateSample     = 10
	MinUniversityDownSample  = 5
	// MaxConsecutiveFailures bounds the failure streak a rule may ask for; the
	// store only tracks streaks up to this depth.
	MaxConsecutiveFailures = 50
)

// Condition is the typed trigger of a rule. Exactly one variant exists per RuleType.
type Condition interface {
	RuleType() RuleType
	Validate() error
}

// SubmissionFailureCondition fires when failed submissions in the window reach Threshold.
type SubmissionFailureCondition struct {
	Threshold         int      `json:"threshold"`
	TimeWindowMinutes int      `json:"timeWindowMinutes"`
	UniversityScope   []string `json:"universityScope,omitempty"`
}

func (SubmissionFailureCondition) RuleType() RuleType { return RuleSubmissionFailure }

func (c SubmissionFailureCondition) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be >= 1", ErrValidation)
	}
	return validateWindow(c.TimeWindowMinutes)
}

// HighFailureRateCondition fires when failed/total attempts reach ThresholdPercent.
type HighFailureRateCondition struct {
	ThresholdPercent  float64 `json:"thresholdPercent"`
	TimeWindowMinutes int     `json:"timeWindowMinutes"`
	MinSampleSize     int     `json:"minSampleSize,omitempty"`
}

func (HighFailureRateCondition) RuleType() RuleType { return RuleHighFailureRate }

func (c HighFailureRateCondition) Validate() error {
	if c.ThresholdPercent <= 0 || c.ThresholdPercent > 100 {
		return fmt.Errorf("%w: thresholdPercent must be in (0, 100]", ErrValidation)
	}
	if c.MinSampleSize < 0 {
		return fmt.Errorf("%w: minSampleSize must be >= 0", ErrValidation)
	}
	return validateWindow(c.TimeWindowMinutes)
}

// SampleSize never drops below MinFailureRateSample.
func (c HighFailureRateCondition) SampleSize() int {
	return max(c.MinSampleSize, MinFailureRateSample)
}

// QueueBacklogCondition fires when pending submissions reach Threshold.
type QueueBacklogCondition struct {
	Threshold int `json:"threshold"`
}

func (QueueBacklogCondition) RuleType() RuleType { return RuleQueueBacklog }

func (c QueueBacklogCondition) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be >= 1", ErrValidation)
	}
	return nil
}

// SystemHealthCondition fires when the aggregated status is at least MinimumStatus.
type SystemHealthCondition struct {
	MinimumStatus     HealthStatus `json:"minimumStatus"`
	TimeWindowMinutes int          `json:"timeWindowMinutes"`
}

func (SystemHealthCondition) RuleType() RuleType { return RuleSystemHealth }

func (c SystemHealthCondition) Validate() error {
	if c.MinimumStatus != HealthWarning && c.MinimumStatus != HealthCritical {
		return fmt.Errorf("%w: minimumStatus must be warning or critical", ErrValidation)
	}
	return validateWindow(c.TimeWindowMinutes)
}

// UniversityDownCondition fires when any university in scope is classified
// down, or when ConsecutiveFailures is set and a university's latest attempts
// failed at least that many times in a row. An empty scope covers every
// university.
type UniversityDownCondition struct {
	UniversityScope     []string `json:"universityScope,omitempty"`
	TimeWindowMinutes   int      `json:"timeWindowMinutes"`
	ConsecutiveFailures int      `json:"consecutiveFailures,omitempty"`
}

func (UniversityDownCondition) RuleType() RuleType { return RuleUniversityDown }

func (c UniversityDownCondition) Validate() error {
	for _, id := range c.UniversityScope {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: universityScope must not contain empty ids", ErrValidation)
		}
	}
	if c.ConsecutiveFailures < 0 || c.ConsecutiveFailures > MaxConsecutiveFailures {
		return fmt.Errorf("%w: consecutiveFailures must be between 0 and %d", ErrValidation, MaxConsecutiveFailures)
	}
	return validateWindow(c.TimeWindowMinutes)
}

// InScope reports whether universityID is covered by the condition.
func (c UniversityDownCondition) InScope(universityID string) bool {
	if len(c.UniversityScope) == 0 {
		return true
	}
	for _, id := range c.UniversityScope {
		if id == universityID {
			return true
		}
	}
	return false
}

func validateWindow(minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("%w: timeWindowMinutes must be >= 1", ErrValidation)
	}
	return nil
}

// WindowOf returns the evaluation window of a condition, falling back to the default.
func WindowOf(c Condition) time.Duration {
	minutes := 0
	switch v := c.(type) {
	case SubmissionFailureCondition:
		minutes = v.TimeWindowMinutes
	case HighFailureRateCondition:
		minutes = v.TimeWindowMinutes
	case SystemHealthCondition:
		minutes = v.TimeWindowMinutes
	case UniversityDownCondition:
		minutes = v.TimeWindowMinutes
	}
	if minutes <= 0 {
		minutes = DefaultRuleWindowMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// ActionKind selects which action variant an entry carries.
type ActionKind string

const (
	ActionEmail   ActionKind = "email"
	ActionWebhook ActionKind = "webhook"
	ActionPush    ActionKind = "push"
)

func (k ActionKind) String() string { return string(k) }

func (k ActionKind) IsValid() bool {
	switch k {
	case ActionEmail, ActionWebhook, ActionPush:
		return true
	}
	return false
}

// Action is one side effect executed when a rule fires.
type Action interface {
	Kind() ActionKind
	Validate() error
}

type EmailAction struct {
	Recipients []string `json:"recipients"`
	Template   string   `json:"template"`
}

func (EmailAction) Kind() ActionKind { return ActionEmail }

func (a EmailAction) Validate() error {
	if len(a.Recipients) == 0 {
		return fmt.Errorf("%w: email action requires recipients", ErrValidation)
	}
	for _, r := range a.Recipients {
		if !strings.Contains(r, "@") {
			return fmt.Errorf("%w: invalid email recipient %q", ErrValidation, r)
		}
	}
	if strings.TrimSpace(a.Template) == "" {
		return fmt.Errorf("%w: email action requires a template", ErrValidation)
	}
	return nil
}

type WebhookAction struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (WebhookAction) Kind() ActionKind { return ActionWebhook }

func (a WebhookAction) Validate() error {
	if _, err := url.ParseRequestURI(strings.TrimSpace(a.URL)); err != nil {
		return fmt.Errorf("%w: invalid webhook url %q", ErrValidation, a.URL)
	}
	switch strings.ToUpper(a.Method) {
	case "", http.MethodPost, http.MethodPut:
		return nil
	}
	return fmt.Errorf("%w: webhook method must be POST or PUT", ErrValidation)
}

// HTTPMethod defaults to POST.
func (a WebhookAction) HTTPMethod() string {
	if m := strings.ToUpper(strings.TrimSpace(a.Method)); m != "" {
		return m
	}
	return http.MethodPost
}

type PushAction struct {
	Channel string `json:"channel"`
	Message string `json:"message,omitempty"`
}

func (PushAction) Kind() ActionKind { return ActionPush }

func (a PushAction) Validate() error {
	if strings.TrimSpace(a.Channel) == "" {
		return fmt.Errorf("%w: push action requires a channel", ErrValidation)
	}
	return nil
}

// NotificationRule is a named alerting condition with its actions.
type NotificationRule struct {
	ID              string
	Name            string
	Type            RuleType
	Enabled         bool
	Condition       Condition
	Actions         []Action
	CooldownMinutes int
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *NotificationRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrValidation)
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: invalid rule type %q", ErrValidation, r.Type)
	}
	if r.Condition == nil {
		return fmt.Errorf("%w: rule conditions are required", ErrValidation)
	}
	if r.Condition.RuleType() != r.Type {
		return fmt.Errorf("%w: conditions of type %s do not match rule type %s", ErrValidation, r.Condition.RuleType(), r.Type)
	}
	if err := r.Condition.Validate(); err != nil {
		return err
	}
	for _, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldownMinutes must be >= 0", ErrValidation)
	}
	return nil
}

// Cooldown returns the minimum interval between two firings.
func (r *NotificationRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// InCooldown reports whether the rule fired within its cooldown window.
func (r *NotificationRule) InCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*r.LastTriggeredAt) < r.Cooldown()
}

// NotificationEvent is one firing of a rule.
type NotificationEvent struct {
	ID             string
	RuleID         string
	Severity       Severity
	Title          string
	Message        string
	Data           map[string]any
	TriggeredAt    time.Time
	Acknowledged   bool
	AcknowledgedBy *string
	AcknowledgedAt *time.Time
}

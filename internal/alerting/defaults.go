package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
)

const alertEmailTemplate = "alert-notification"

// DefaultRules is the out-of-the-box rule set: failure bursts, high failure
// rate, queue backlog and critical system health.
func DefaultRules(recipients []string, pushTopic string) []domain.NotificationRule {
	var actions []domain.Action
	if len(recipients) > 0 {
		actions = append(actions, domain.EmailAction{Recipients: recipients, Template: alertEmailTemplate})
	}
	criticalActions := append([]domain.Action(nil), actions...)
	if pushTopic != "" {
		criticalActions = append(criticalActions, domain.PushAction{Channel: pushTopic})
	}

	return []domain.NotificationRule{
		{
			Name:    "Submission failure burst",
			Type:    domain.RuleSubmissionFailure,
			Enabled: true,
			Condition: domain.SubmissionFailureCondition{
				Threshold:         10,
				TimeWindowMinutes: 60,
			},
			Actions:         actions,
			CooldownMinutes: 60,
		},
		{
			Name:    "High failure rate",
			Type:    domain.RuleHighFailureRate,
			Enabled: true,
			Condition: domain.HighFailureRateCondition{
				ThresholdPercent:  20,
				TimeWindowMinutes: 60,
				MinSampleSize:     domain.MinFailureRateSample,
			},
			Actions:         actions,
			CooldownMinutes: 30,
		},
		{
			Name:            "Queue backlog",
			Type:            domain.RuleQueueBacklog,
			Enabled:         true,
			Condition:       domain.QueueBacklogCondition{Threshold: 1000},
			Actions:         actions,
			CooldownMinutes: 30,
		},
		{
			Name:    "Critical system health",
			Type:    domain.RuleSystemHealth,
			Enabled: true,
			Condition: domain.SystemHealthCondition{
				MinimumStatus:     domain.HealthCritical,
				TimeWindowMinutes: 15,
			},
			Actions:         criticalActions,
			CooldownMinutes: 15,
		},
	}
}

// SeedDefaults stores rules only when no rule exists yet and returns how
// many were created.
func SeedDefaults(ctx context.Context, repo repository.RuleRepository, rules []domain.NotificationRule) (int, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	created := 0
	for i := range rules {
		rule := rules[i]
		rule.ID = uuid.NewString()
		rule.CreatedAt = now
		rule.UpdatedAt = now
		if err := rule.Validate(); err != nil {
			return created, fmt.Errorf("default rule %q: %w", rule.Name, err)
		}
		if err := repo.Create(ctx, &rule); err != nil {
			return created, fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
		}
		created++
	}
	return created, nil
}

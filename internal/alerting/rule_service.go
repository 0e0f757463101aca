package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"go.uber.org/zap"
)

// RuleService manages notification rules and their events for operators.
type RuleService struct {
	rules  repository.RuleRepository
	events repository.EventRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewRuleService(rules repository.RuleRepository, events repository.EventRepository, logger *zap.Logger) (*RuleService, error) {
	if rules == nil || events == nil {
		return nil, fmt.Errorf("rule and event repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RuleService{
		rules:  rules,
		events: events,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *RuleService) Create(ctx context.Context, rule *domain.NotificationRule) (*domain.NotificationRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is required", domain.ErrValidation)
	}
	rule.Name = strings.TrimSpace(rule.Name)
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rule.ID = uuid.NewString()
	rule.LastTriggeredAt = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.logger.Info("notification rule created",
		zap.String("ruleId", rule.ID),
		zap.String("ruleType", rule.Type.String()),
	)
	return rule, nil
}

// Update replaces the editable fields of a rule. Cooldown state is kept.
func (s *RuleService) Update(ctx context.Context, id string, changes *domain.NotificationRule) (*domain.NotificationRule, error) {
	if changes == nil {
		return nil, fmt.Errorf("%w: rule is required", domain.ErrValidation)
	}
	existing, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	existing.Name = strings.TrimSpace(changes.Name)
	existing.Type = changes.Type
	existing.Enabled = changes.Enabled
	existing.Condition = changes.Condition
	existing.Actions = changes.Actions
	existing.CooldownMinutes = changes.CooldownMinutes
	if err := existing.Validate(); err != nil {
		return nil, err
	}
	existing.UpdatedAt = s.now().UTC()

	if err := s.rules.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *RuleService) SetEnabled(ctx context.Context, id string, enabled bool) (*domain.NotificationRule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Enabled == enabled {
		return rule, nil
	}

	rule.Enabled = enabled
	rule.UpdatedAt = s.now().UTC()
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("notification rule toggled", zap.String("ruleId", id), zap.Bool("enabled", enabled))
	return rule, nil
}

func (s *RuleService) Delete(ctx context.Context, id string) error {
	return s.rules.Delete(ctx, id)
}

func (s *RuleService) Get(ctx context.Context, id string) (*domain.NotificationRule, error) {
	return s.rules.GetByID(ctx, id)
}

func (s *RuleService) List(ctx context.Context) ([]domain.NotificationRule, error) {
	return s.rules.List(ctx)
}

func (s *RuleService) ListEvents(ctx context.Context, params repository.EventListParams) ([]domain.NotificationEvent, int64, error) {
	if params.Severity != nil && !params.Severity.IsValid() {
		return nil, 0, fmt.Errorf("%w: invalid severity %q", domain.ErrValidation, *params.Severity)
	}
	return s.events.List(ctx, params)
}

func (s *RuleService) UnacknowledgedEvents(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	return s.events.ListUnacknowledged(ctx, limit)
}

// Acknowledge marks an event as seen. It has no effect on rule evaluation.
func (s *RuleService) Acknowledge(ctx context.Context, id string, by string) error {
	by = strings.TrimSpace(by)
	if by == "" {
		return fmt.Errorf("%w: acknowledgedBy is required", domain.ErrValidation)
	}
	return s.events.Acknowledge(ctx, id, by, s.now().UTC())
}

package alerting

import (
	"context"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

// ActionExecutor performs one kind of rule action for a persisted event.
type ActionExecutor interface {
	Execute(ctx context.Context, action domain.Action, event domain.NotificationEvent) error
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, action domain.Action, event domain.NotificationEvent) error

func (f ActionExecutorFunc) Execute(ctx context.Context, action domain.Action, event domain.NotificationEvent) error {
	return f(ctx, action, event)
}

// alertPayload is the body sent to webhooks and push subscribers.
type alertPayload struct {
	EventID     string          `json:"eventId"`
	RuleID      string          `json:"ruleId"`
	Severity    domain.Severity `json:"severity"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Data        map[string]any  `json:"data,omitempty"`
	TriggeredAt time.Time       `json:"triggeredAt"`
}

func payloadFor(event domain.NotificationEvent) alertPayload {
	return alertPayload{
		EventID:     event.ID,
		RuleID:      event.RuleID,
		Severity:    event.Severity,
		Title:       event.Title,
		Message:     event.Message,
		Data:        event.Data,
		TriggeredAt: event.TriggeredAt,
	}
}

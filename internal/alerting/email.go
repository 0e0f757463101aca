package alerting

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/queue"
)

// EmailExecutor queues alert e-mails for the external mail sender.
type EmailExecutor struct {
	publisher queue.Publisher
}

func NewEmailExecutor(publisher queue.Publisher) (*EmailExecutor, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &EmailExecutor{publisher: publisher}, nil
}

func (e *EmailExecutor) Execute(ctx context.Context, action domain.Action, event domain.NotificationEvent) error {
	email, ok := action.(domain.EmailAction)
	if !ok {
		return fmt.Errorf("email executor cannot run %s action", action.Kind())
	}

	data := make(map[string]any, len(event.Data)+2)
	for k, v := range event.Data {
		data[k] = v
	}
	data["title"] = event.Title
	data["message"] = event.Message

	msg := queue.AlertEmailMessage{
		EventID:    event.ID,
		RuleID:     event.RuleID,
		Severity:   event.Severity,
		Recipients: email.Recipients,
		Template:   email.Template,
		Data:       data,
	}
	if err := e.publisher.Publish(ctx, queue.AlertEmailQueue, msg); err != nil {
		return fmt.Errorf("failed to queue alert email: %w", err)
	}
	return nil
}

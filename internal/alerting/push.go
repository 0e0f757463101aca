package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

// TopicPublisher broadcasts a payload to subscribers of a topic.
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (int64, error)
}

// PushExecutor broadcasts the event on the action's channel.
type PushExecutor struct {
	publisher TopicPublisher
}

func NewPushExecutor(publisher TopicPublisher) (*PushExecutor, error) {
	if publisher == nil {
		return nil, fmt.Errorf("topic publisher is required")
	}
	return &PushExecutor{publisher: publisher}, nil
}

func (e *PushExecutor) Execute(ctx context.Context, action domain.Action, event domain.NotificationEvent) error {
	push, ok := action.(domain.PushAction)
	if !ok {
		return fmt.Errorf("push executor cannot run %s action", action.Kind())
	}

	payload := payloadFor(event)
	if push.Message != "" {
		payload.Message = push.Message
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	// Zero receivers is not an error: subscribers come and go.
	if _, err := e.publisher.Publish(ctx, push.Channel, body); err != nil {
		return fmt.Errorf("failed to publish push alert: %w", err)
	}
	return nil
}

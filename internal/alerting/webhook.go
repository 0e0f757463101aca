package alerting

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookExecutor posts the event to the action's URL.
type WebhookExecutor struct {
	client *resty.Client
}

func NewWebhookExecutor() *WebhookExecutor {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)
	return &WebhookExecutor{client: client}
}

func NewWebhookExecutorWithClient(client *resty.Client) (*WebhookExecutor, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	return &WebhookExecutor{client: client}, nil
}

func (e *WebhookExecutor) Execute(ctx context.Context, action domain.Action, event domain.NotificationEvent) error {
	hook, ok := action.(domain.WebhookAction)
	if !ok {
		return fmt.Errorf("webhook executor cannot run %s action", action.Kind())
	}

	response, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Alert-Event-ID", event.ID).
		SetHeaders(hook.Headers).
		SetBody(payloadFor(event)).
		Execute(hook.HTTPMethod(), strings.TrimSpace(hook.URL))
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	status := response.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}

package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

// ChannelAdapter delivers one submission over a channel. Implementations must
// be idempotent for the same submission id.
type ChannelAdapter interface {
	Send(ctx context.Context, submission domain.Submission, app ApplicationContext) (*DeliveryResponse, error)
}

// ApplicationContext is the application data an adapter forwards to the
// university. It is owned by the application service and only passed through.
type ApplicationContext struct {
	ApplicationID string         `json:"applicationId"`
	UniversityID  string         `json:"universityId"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// ContextLoader resolves the application context of a submission.
type ContextLoader func(ctx context.Context, submission domain.Submission) (ApplicationContext, error)

// MinimalContext carries only the identifiers stored on the submission.
func MinimalContext(_ context.Context, submission domain.Submission) (ApplicationContext, error) {
	return ApplicationContext{
		ApplicationID: submission.ApplicationID,
		UniversityID:  submission.UniversityID,
	}, nil
}

// DeliveryResponse stores adapter call metadata for persistence.
type DeliveryResponse struct {
	StatusCode        int
	ExternalReference string
	// Confirmed is set when the university acknowledged receipt synchronously.
	Confirmed bool
}

// Registry resolves the adapter for a channel.
type Registry struct {
	adapters map[domain.Channel]ChannelAdapter
}

func NewRegistry(adapters map[domain.Channel]ChannelAdapter) (*Registry, error) {
	registered := make(map[domain.Channel]ChannelAdapter, len(adapters))
	for channel, adapter := range adapters {
		if !channel.IsValid() {
			return nil, fmt.Errorf("invalid channel %q", channel)
		}
		if adapter == nil {
			return nil, fmt.Errorf("adapter for channel %q is nil", channel)
		}
		registered[channel] = adapter
	}
	return &Registry{adapters: registered}, nil
}

// Adapter returns a permanent ProviderError when no adapter serves channel.
func (r *Registry) Adapter(channel domain.Channel) (ChannelAdapter, error) {
	if r != nil {
		if adapter, ok := r.adapters[channel]; ok {
			return adapter, nil
		}
	}
	return nil, &ProviderError{Message: fmt.Sprintf("no adapter registered for channel %q", channel)}
}

package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/queue"
)

// HandoffAdapter delivers email and manual submissions by publishing a task
// for the external worker of that channel. Receipt is confirmed later through
// the confirmation callback.
type HandoffAdapter struct {
	publisher queue.Publisher
	channel   domain.Channel
}

func NewHandoffAdapter(publisher queue.Publisher, channel domain.Channel) (*HandoffAdapter, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if channel != domain.ChannelEmail && channel != domain.ChannelManual {
		return nil, fmt.Errorf("channel %q cannot be handed off", channel)
	}
	return &HandoffAdapter{publisher: publisher, channel: channel}, nil
}

func (a *HandoffAdapter) Send(ctx context.Context, submission domain.Submission, app ApplicationContext) (*DeliveryResponse, error) {
	task := queue.DeliveryTask{
		SubmissionID:  submission.ID,
		ApplicationID: submission.ApplicationID,
		UniversityID:  submission.UniversityID,
		Channel:       a.channel,
		Priority:      submission.Priority,
		Attempt:       submission.RetryCount + 1,
		Metadata:      app.Attributes,
	}
	if err := task.Validate(); err != nil {
		return nil, &ProviderError{Message: "invalid delivery task", Cause: err}
	}

	if err := a.publisher.Publish(ctx, queue.DeliveryQueueName(a.channel), task); err != nil {
		return nil, &ProviderError{
			Message:   "failed to hand off delivery task",
			Transient: true,
			Cause:     err,
		}
	}

	return &DeliveryResponse{}, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/queue"
	"go.uber.org/zap"
)

// ConfirmationConsumer applies confirmations published by the email and
// manual delivery workers.
type ConfirmationConsumer struct {
	consumer    queue.Consumer
	submissions *SubmissionService
	logger      *zap.Logger
}

func NewConfirmationConsumer(
	consumer queue.Consumer,
	submissions *SubmissionService,
	logger *zap.Logger,
) (*ConfirmationConsumer, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if submissions == nil {
		return nil, fmt.Errorf("submission service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConfirmationConsumer{
		consumer:    consumer,
		submissions: submissions,
		logger:      logger,
	}, nil
}

func (c *ConfirmationConsumer) Start(ctx context.Context) error {
	c.logger.Info("confirmation consumer started", zap.String("queue", queue.ConfirmationsQueue))
	err := c.consumer.Consume(ctx, queue.ConfirmationsQueue, c.handle)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("confirmation consumer stopped: %w", err)
	}
	return nil
}

// handle acks everything that can never succeed on redelivery and only
// returns infrastructure errors for a requeue.
func (c *ConfirmationConsumer) handle(ctx context.Context, msg queue.ConfirmationMessage) error {
	_, err := c.submissions.Confirm(ctx, msg.SubmissionID, msg.ExternalReference, msg.ConfirmedAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrValidation):
		c.logger.Warn("confirmation rejected",
			zap.String("submissionId", msg.SubmissionID),
			zap.String("externalReference", msg.ExternalReference),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{client: client, prefetch: max(prefetch, 1), logger: logger}
}

// Consume delivers confirmations to handler until ctx ends, re-subscribing
// with exponential backoff whenever the broker drops the channel.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler ConfirmationHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}
		c.logger.Warn("confirmation subscription lost, resubscribing",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler ConfirmationHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

// settle decides what happens to a confirmation: malformed payloads go to the
// DLQ, handled ones are acked and a handler failure is retried once before
// being dead-lettered.
func settle(body []byte, redelivered bool, handle func(ConfirmationMessage) error) (settlement, ConfirmationMessage, error) {
	var msg ConfirmationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return settleDeadLetter, msg, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return settleDeadLetter, msg, err
	}
	if err := handle(msg); err != nil {
		if redelivered {
			return settleDeadLetter, msg, err
		}
		return settleRequeue, msg, err
	}
	return settleAck, msg, nil
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler ConfirmationHandler) error {
	if d.CorrelationId != "" {
		ctx = observability.WithCorrelationID(ctx, d.CorrelationId)
	}

	outcome, msg, err := settle(d.Body, d.Redelivered, func(m ConfirmationMessage) error {
		return handler(observability.WithSubmission(ctx, m.SubmissionID, ""), m)
	})

	logger := observability.WithContextLogger(c.logger, ctx)
	switch outcome {
	case settleAck:
		if ackErr := d.Ack(false); ackErr != nil {
			return fmt.Errorf("failed to ack confirmation: %w", ackErr)
		}
	case settleRequeue:
		logger.Warn("confirmation handler failed, requeueing",
			zap.String("submissionId", msg.SubmissionID),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("failed to requeue confirmation: %w", nackErr)
		}
	case settleDeadLetter:
		logger.Warn("dead-lettering confirmation",
			zap.String("submissionId", msg.SubmissionID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to dead-letter confirmation: %w", rejectErr)
		}
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

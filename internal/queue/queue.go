package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

// Message is a broker payload that can describe its own id and priority.
type Message interface {
	Validate() error
	MessageID() string
	PriorityValue() uint8
}

// Publisher publishes messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// ConfirmationHandler handles a consumed confirmation message.
type ConfirmationHandler func(ctx context.Context, msg ConfirmationMessage) error

// Consumer consumes confirmation messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler ConfirmationHandler) error
	Close() error
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 10

	// ConfirmationsQueue receives external delivery confirmations.
	ConfirmationsQueue = "confirmations"
	// AlertEmailQueue receives alert e-mails for the external mail sender.
	AlertEmailQueue = "alerts.email"
)

// handoffChannels are delivered by external workers consuming a queue.
var handoffChannels = []domain.Channel{
	domain.ChannelEmail,
	domain.ChannelManual,
}

// DeliveryQueueName returns the handoff queue for a channel, e.g. deliveries.email.
func DeliveryQueueName(channel domain.Channel) string {
	return fmt.Sprintf("deliveries.%s", channel.String())
}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.confirmations.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns every queue the topology declares.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(handoffChannels)+2)
	for _, channel := range handoffChannels {
		queues = append(queues, DeliveryQueueName(channel))
	}
	return append(queues, AlertEmailQueue, ConfirmationsQueue)
}

// DLQNames returns the dead-letter queue of every work queue.
func DLQNames() []string {
	work := WorkQueueNames()
	queues := make([]string, 0, len(work))
	for _, name := range work {
		queues = append(queues, DLQName(name))
	}
	return queues
}

// PriorityValue maps submission priority (1 most urgent) to AMQP priority (10 highest).
func PriorityValue(priority int) uint8 {
	if priority < domain.PriorityHighest || priority > domain.PriorityLowest {
		return 0
	}
	return uint8(domain.PriorityLowest + 1 - priority)
}

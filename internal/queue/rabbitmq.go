package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "letters.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
)

// RabbitMQ manages the broker connection shared by delivery handoff,
// alert e-mail publishing and the confirmation consumer. The topology is
// declared once per connection.
type RabbitMQ struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu       sync.RWMutex
	conn     *amqp.Connection
	declared bool

	// reconnectMu serialises dialing so concurrent publishers share one reconnect.
	reconnectMu sync.Mutex
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	ch, err := r.channel(ctx)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping reports whether the broker connection is currently open. It never
// reconnects, so readiness probes stay cheap.
func (r *RabbitMQ) Ping(context.Context) error {
	if conn, _ := r.current(); conn == nil {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

// current returns the open connection, or nil when there is none.
func (r *RabbitMQ) current() (*amqp.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return nil, false
	}
	return r.conn, r.declared
}

// channel opens a channel on a live connection, reconnecting first if needed.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for attempt := 0; attempt < 3; attempt++ {
		conn, declared := r.current()
		if conn == nil {
			if err := r.reconnect(ctx); err != nil {
				return nil, err
			}
			continue
		}

		ch, err := conn.Channel()
		if err != nil {
			// The connection died between the check and the call.
			_ = conn.Close()
			continue
		}
		if !declared {
			if err := declareTopology(ch); err != nil {
				_ = ch.Close()
				return nil, err
			}
			r.markDeclared(conn)
		}
		return ch, nil
	}
	return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect")
}

func (r *RabbitMQ) markDeclared(conn *amqp.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == conn {
		r.declared = true
	}
}

// reconnect dials with exponential backoff until it succeeds or ctx ends.
func (r *RabbitMQ) reconnect(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if conn, _ := r.current(); conn != nil {
		return nil
	}

	wait := reconnectBackoff
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.declared = false
			r.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled after %v: %w", err, ctx.Err())
		case <-time.After(wait):
		}
		wait = min(wait*2, maxBackoff)
	}
}

// declareTopology declares the DLX, and every work queue with a priority cap
// and a dead-letter twin bound under the work queue's own name.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, queueName := range WorkQueueNames() {
		dlqName := DLQName(queueName)
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
		}
		if err := ch.QueueBind(dlqName, queueName, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": queueName,
			"x-max-priority":            queueMaxPriority,
		}
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", queueName, err)
		}
	}
	return nil
}

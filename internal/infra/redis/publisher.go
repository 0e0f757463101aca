package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const topicPrefix = "letters"

// Publisher broadcasts payloads over Redis pub/sub. It backs the push alert
// action; subscribers (dashboards, chat bridges) listen on letters.<topic>.
type Publisher struct {
	client *goredis.Client
}

func NewPublisher(client *goredis.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Publisher{client: client}, nil
}

// Publish returns the number of subscribers that received the payload.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) (int64, error) {
	channel, err := TopicChannel(topic)
	if err != nil {
		return 0, err
	}
	receivers, err := p.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %q: %w", channel, err)
	}
	return receivers, nil
}

// TopicChannel maps a push topic to its namespaced Redis channel.
func TopicChannel(topic string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(topic))
	if normalized == "" {
		return "", fmt.Errorf("topic is required")
	}
	return topicPrefix + "." + normalized, nil
}

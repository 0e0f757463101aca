package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	UniversityAPIBaseURL string `env:"UNIVERSITY_API_BASE_URL,required=true"`
	APIPort              int    `env:"API_PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`

	QueueInterval        time.Duration `env:"QUEUE_INTERVAL,default=30s"`
	QueueBatchSize       int           `env:"QUEUE_BATCH_SIZE,default=100"`
	DispatchConcurrency  int           `env:"DISPATCH_CONCURRENCY,default=16"`
	DispatchTimeout      time.Duration `env:"DISPATCH_TIMEOUT,default=30s"`
	StaleProcessingAfter time.Duration `env:"STALE_PROCESSING_AFTER,default=10m"`
	ChannelRateLimit     int           `env:"CHANNEL_RATE_LIMIT_PER_SEC,default=50"`
	// ChannelRateLimits overrides the per-second budget per channel, e.g. "api=10,manual=2".
	ChannelRateLimits string `env:"CHANNEL_RATE_LIMITS"`

	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY,default=60s"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY,default=6h"`
	RetryJitter       float64       `env:"RETRY_JITTER,default=0.1"`
	DefaultMaxRetries int           `env:"DEFAULT_MAX_RETRIES,default=5"`

	RuleEvalInterval time.Duration `env:"RULE_EVAL_INTERVAL,default=5m"`
	HealthWindow     time.Duration `env:"HEALTH_WINDOW,default=60m"`
	ErrorRetention   time.Duration `env:"ERROR_RETENTION,default=720h"`
	PurgeInterval    time.Duration `env:"PURGE_INTERVAL,default=1h"`

	AlertEmailRecipients string `env:"ALERT_EMAIL_RECIPIENTS,default=admin@localhost"`
	AlertPushTopic       string `env:"ALERT_PUSH_TOPIC,default=alerts"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"QUEUE_INTERVAL", c.QueueInterval},
		{"DISPATCH_TIMEOUT", c.DispatchTimeout},
		{"STALE_PROCESSING_AFTER", c.StaleProcessingAfter},
		{"RETRY_BASE_DELAY", c.RetryBaseDelay},
		{"RETRY_MAX_DELAY", c.RetryMaxDelay},
		{"RULE_EVAL_INTERVAL", c.RuleEvalInterval},
		{"HEALTH_WINDOW", c.HealthWindow},
		{"ERROR_RETENTION", c.ErrorRetention},
		{"PURGE_INTERVAL", c.PurgeInterval},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must be >= RETRY_BASE_DELAY")
	}
	// A stale sweep shorter than a dispatch would reclaim live work.
	if c.StaleProcessingAfter <= c.DispatchTimeout {
		return fmt.Errorf("STALE_PROCESSING_AFTER must exceed DISPATCH_TIMEOUT")
	}
	if c.QueueBatchSize < 1 || c.DispatchConcurrency < 1 {
		return fmt.Errorf("QUEUE_BATCH_SIZE and DISPATCH_CONCURRENCY must be >= 1")
	}
	if c.RetryJitter < 0 || c.RetryJitter >= 1 {
		return fmt.Errorf("RETRY_JITTER must be in [0, 1)")
	}
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("DEFAULT_MAX_RETRIES must be >= 0")
	}
	if _, err := c.RateLimitOverrides(); err != nil {
		return err
	}
	return nil
}

// RateLimitOverrides parses CHANNEL_RATE_LIMITS into channel -> calls per second.
func (c *Config) RateLimitOverrides() (map[string]int, error) {
	overrides := map[string]int{}
	for _, pair := range strings.Split(c.ChannelRateLimits, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		channel, raw, ok := strings.Cut(pair, "=")
		channel = strings.ToLower(strings.TrimSpace(channel))
		if !ok || channel == "" {
			return nil, fmt.Errorf("CHANNEL_RATE_LIMITS entry %q must be channel=limit", pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("CHANNEL_RATE_LIMITS limit for %q must be a positive integer", channel)
		}
		overrides[channel] = limit
	}
	return overrides, nil
}

// AlertRecipients splits ALERT_EMAIL_RECIPIENTS on commas.
func (c *Config) AlertRecipients() []string {
	parts := strings.Split(c.AlertEmailRecipients, ",")
	recipients := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	return recipients
}

package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 50
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 50 * time.Millisecond
	windowSeconds            = 1
	keyPrefix                = "letters:ratelimit"
)

// allowScript counts one call in the window KEYS[1] and reports whether the
// count is still within ARGV[1].
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// Limits is the calls-per-second budget per channel. Channels missing from
// PerChannel use Default.
type Limits struct {
	Default    int
	PerChannel map[string]int
}

func (l Limits) forKey(key string) int64 {
	if limit, ok := l.PerChannel[key]; ok && limit > 0 {
		return int64(limit)
	}
	if l.Default > 0 {
		return int64(l.Default)
	}
	return defaultLimitPerSec
}

// RedisRateLimiter is a fixed one-second window limiter shared by every
// process dispatching against the same Redis, so the budget of a channel
// holds across replicas.
type RedisRateLimiter struct {
	client *goredis.Client
	limits Limits
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limits Limits) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	normalized := make(map[string]int, len(limits.PerChannel))
	for channel, limit := range limits.PerChannel {
		if limit < 0 {
			return nil, fmt.Errorf("rate limit for channel %q must be >= 0", channel)
		}
		normalized[normalizeKey(channel)] = limit
	}
	limits.PerChannel = normalized

	return &RedisRateLimiter{
		client: client,
		limits: limits,
		now:    time.Now,
		sleep:  sleepWithContext,
	}, nil
}

// Allow consumes one call of the channel's budget for the current second.
func (r *RedisRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	key := normalizeKey(channel)
	if key == "" {
		return false, fmt.Errorf("rate limit channel is required")
	}

	windowKey := fmt.Sprintf("%s:%s:%d", keyPrefix, key, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{windowKey}, r.limits.forKey(key), windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit for %s: %w", key, err)
	}
	return result == 1, nil
}

// Wait blocks with a linear backoff until the channel has budget or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel string) error {
	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, channel)
		if err != nil || allowed {
			return err
		}
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff+backoffStep, backoffMax)
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

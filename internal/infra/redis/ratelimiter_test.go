package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllowPerChannelBudget(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, Limits{Default: 2, PerChannel: map[string]int{"Manual": 1}})
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	calls := []struct {
		channel string
		want    bool
	}{
		{channel: "api", want: true},
		{channel: "api", want: true},
		{channel: "api", want: false},
		{channel: "manual", want: true},
		{channel: "manual", want: false},
		{channel: "email", want: true},
	}
	for i, call := range calls {
		got, err := limiter.Allow(context.Background(), call.channel)
		if err != nil {
			t.Fatalf("call %d Allow(%s) error = %v", i, call.channel, err)
		}
		if got != call.want {
			t.Fatalf("call %d Allow(%s) = %v, want %v", i, call.channel, got, call.want)
		}
	}

	now = now.Add(time.Second)
	if got, _ := limiter.Allow(context.Background(), "api"); !got {
		t.Fatal("Allow(api) in a new window = false, want true")
	}
}

func TestRedisRateLimiterWindowKey(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestLimiter(t, Limits{})
	limiter.now = func() time.Time { return time.Unix(1_700_000_400, 0) }

	if _, err := limiter.Allow(context.Background(), " API "); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !mr.Exists("letters:ratelimit:api:1700000400") {
		t.Fatalf("window key missing, keys = %v", mr.Keys())
	}
	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("Allow() with a blank channel should fail")
	}
}

func TestRedisRateLimiterWaitSleepsUntilNextWindow(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, Limits{Default: 1})
	now := time.Unix(1_700_000_200, 0)
	limiter.now = func() time.Time { return now }

	sleeps := 0
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		now = now.Add(time.Second)
		return nil
	}

	if _, err := limiter.Allow(context.Background(), "manual"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "manual"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if sleeps != 1 {
		t.Fatalf("sleeps = %d, want 1", sleeps)
	}
}

func TestRedisRateLimiterWaitHonoursDeadline(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, Limits{Default: 1})
	limiter.now = func() time.Time { return time.Unix(1_700_000_300, 0) }

	if _, err := limiter.Allow(context.Background(), "api"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "api"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewRedisRateLimiterRejectsNegativeLimit(t *testing.T) {
	t.Parallel()

	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })

	if _, err := NewRedisRateLimiter(rdb, Limits{PerChannel: map[string]int{"api": -1}}); err == nil {
		t.Fatal("NewRedisRateLimiter() with a negative limit should fail")
	}
	if _, err := NewRedisRateLimiter(nil, Limits{}); err == nil {
		t.Fatal("NewRedisRateLimiter(nil) should fail")
	}
}

func newTestLimiter(t *testing.T, limits Limits) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()

	rdb, mr := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, limits)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	return limiter, mr
}

func newTestRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	rdb, _ := newTestRedis(t)
	return rdb
}

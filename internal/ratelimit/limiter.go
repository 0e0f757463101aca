package ratelimit

import "context"

// RateLimiter bounds dispatch throughput per key. The dispatcher keys it by
// channel so a burst of due submissions cannot flood one university endpoint
// class across every worker instance.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

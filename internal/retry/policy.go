package retry

import (
	"math/rand"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

const (
	DefaultBaseDelay = 60 * time.Second
	DefaultMaxDelay  = 6 * time.Hour
	DefaultJitter    = 0.1
)

// Action is the outcome of a policy decision.
type Action string

const (
	ActionRetry   Action = "retry"
	ActionExhaust Action = "exhaust"
)

// Decision tells the caller whether to reschedule and after how long.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy maps (retry count, failure kind) to a retry decision.
// It holds no state besides its configuration and random source.
type Policy struct {
	base       time.Duration
	max        time.Duration
	jitter     float64
	maxRetries int
	randFloat  func() float64
}

func NewPolicy(base, maxDelay time.Duration, jitter float64, maxRetries int) *Policy {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay < base {
		maxDelay = max(DefaultMaxDelay, base)
	}
	if jitter < 0 || jitter >= 1 {
		jitter = DefaultJitter
	}
	if maxRetries < 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	return &Policy{
		base:       base,
		max:        maxDelay,
		jitter:     jitter,
		maxRetries: maxRetries,
		randFloat:  rand.Float64,
	}
}

// MaxRetries is the default budget applied to submissions that carry none.
func (p *Policy) MaxRetries() int { return p.maxRetries }

// Next decides what happens after a failure observed at retryCount.
// maxRetries = 0 means no retries; a negative value falls back to the policy
// default.
func (p *Policy) Next(retryCount, maxRetries int, kind domain.FailureKind) Decision {
	if kind != domain.FailureTransient {
		return Decision{Action: ActionExhaust}
	}
	if maxRetries < 0 {
		maxRetries = p.maxRetries
	}
	if retryCount >= maxRetries {
		return Decision{Action: ActionExhaust}
	}
	return Decision{Action: ActionRetry, Delay: p.Delay(retryCount)}
}

// Delay returns base * 2^retryCount with jitter, never above the cap.
// Below the cap the jitter is +/- and a larger retryCount always yields a
// strictly larger delay because the band is narrower than the doubling.
// At the cap the jitter only pulls the delay down, so capped retries spread
// over [max*(1-jitter), max] instead of piling up on max.
func (p *Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := p.base
	capped := delay >= p.max
	for i := 0; i < retryCount && !capped; i++ {
		delay *= 2
		if delay >= p.max {
			delay = p.max
			capped = true
		}
	}
	if capped {
		delay = p.max
	}

	if p.jitter > 0 && p.randFloat != nil {
		r := p.randFloat()
		factor := 1 + p.jitter*(2*r-1)
		if capped {
			factor = 1 - p.jitter*r
		}
		delay = time.Duration(float64(delay) * factor)
	}

	// Upward jitter overshooting the cap folds back below it.
	if delay > p.max {
		delay = p.max - (delay - p.max)
	}
	return delay
}

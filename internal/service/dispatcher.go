package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/observability"
	"github.com/kursadbilgin/letter-dispatch/internal/provider"
	"github.com/kursadbilgin/letter-dispatch/internal/ratelimit"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultDispatchTimeout = 30 * time.Second

	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
	breakerInterval            = 60 * time.Second
)

// Dispatcher invokes the channel adapter for one submission and interprets
// the outcome. Each channel sits behind its own circuit breaker so a failing
// university endpoint class does not stall the other channels.
type Dispatcher struct {
	adapters    *provider.Registry
	rateLimiter ratelimit.RateLimiter
	loadContext provider.ContextLoader
	breakers    map[domain.Channel]*gobreaker.CircuitBreaker[*provider.DeliveryResponse]
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewDispatcher(
	adapters *provider.Registry,
	rateLimiter ratelimit.RateLimiter,
	loadContext provider.ContextLoader,
	timeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if adapters == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if loadContext == nil {
		loadContext = provider.MinimalContext
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		adapters:    adapters,
		rateLimiter: rateLimiter,
		loadContext: loadContext,
		breakers:    make(map[domain.Channel]*gobreaker.CircuitBreaker[*provider.DeliveryResponse]),
		timeout:     timeout,
		logger:      logger,
		now:         time.Now,
	}
	for _, channel := range domain.Channels() {
		d.breakers[channel] = d.newBreaker(channel)
	}
	return d, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *Dispatcher) newBreaker(channel domain.Channel) *gobreaker.CircuitBreaker[*provider.DeliveryResponse] {
	return gobreaker.NewCircuitBreaker[*provider.DeliveryResponse](gobreaker.Settings{
		Name:        "channel-" + channel.String(),
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		// A rejected payload says nothing about endpoint health.
		IsSuccessful: func(err error) bool {
			return err == nil || !provider.IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			d.logger.Warn("channel circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Dispatch never returns an error: every failure is folded into the result
// with its failure kind so the caller can apply the retry policy.
func (d *Dispatcher) Dispatch(ctx context.Context, submission domain.Submission) domain.DeliveryResult {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := d.now()
	resp, err := d.send(callCtx, submission)
	duration := d.now().Sub(start)
	if d.metrics != nil {
		d.metrics.ObserveDispatchDuration(submission.Channel.String(), duration)
	}

	if err != nil {
		kind := provider.Classify(err)
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = fmt.Sprintf("channel call timed out after %s: %v", d.timeout, err)
		}
		observability.WithContextLogger(d.logger, ctx).Debug("channel call failed",
			zap.String("channel", submission.Channel.String()),
			zap.String("failureKind", kind.String()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.DeliveryResult{
			FailureKind: kind,
			Message:     message,
			Duration:    duration,
		}
	}

	result := domain.DeliveryResult{OK: true, Duration: duration}
	if resp != nil {
		result.Confirmed = resp.Confirmed
		result.ExternalReference = strings.TrimSpace(resp.ExternalReference)
	}
	return result
}

func (d *Dispatcher) send(ctx context.Context, submission domain.Submission) (*provider.DeliveryResponse, error) {
	adapter, err := d.adapters.Adapter(submission.Channel)
	if err != nil {
		return nil, err
	}

	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, submission.Channel.String()); err != nil {
			return nil, &provider.ProviderError{Message: "rate limiter wait failed", Transient: true, Cause: err}
		}
	}

	app, err := d.loadContext(ctx, submission)
	if err != nil {
		return nil, &provider.ProviderError{Message: "failed to load application context", Transient: true, Cause: err}
	}

	breaker, ok := d.breakers[submission.Channel]
	if !ok {
		return adapter.Send(ctx, submission, app)
	}

	resp, err := breaker.Execute(func() (*provider.DeliveryResponse, error) {
		return adapter.Send(ctx, submission, app)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &provider.ProviderError{
			Message:   fmt.Sprintf("%s channel circuit open", submission.Channel),
			Transient: true,
			Cause:     err,
		}
	}
	return resp, err
}

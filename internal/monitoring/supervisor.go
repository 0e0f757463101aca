package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Loop is a long-running component stopped by cancelling its context.
type Loop interface {
	Start(ctx context.Context) error
}

// LoopFunc adapts a function to Loop.
type LoopFunc func(ctx context.Context) error

func (f LoopFunc) Start(ctx context.Context) error { return f(ctx) }

// Supervisor owns the background loops of the process: queue processor,
// rule engine, error log purger and confirmation consumer.
type Supervisor struct {
	loops  map[string]Loop
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewSupervisor(loops map[string]Loop, logger *zap.Logger) (*Supervisor, error) {
	if len(loops) == 0 {
		return nil, fmt.Errorf("at least one loop is required")
	}
	for name, loop := range loops {
		if loop == nil {
			return nil, fmt.Errorf("loop %q is nil", name)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{loops: loops, logger: logger}, nil
}

// Start launches every loop. A loop returning an error stops the others.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("supervisor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for name, loop := range s.loops {
		name, loop := name, loop
		group.Go(func() error {
			s.logger.Info("loop started", zap.String("loop", name))
			err := loop.Start(groupCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("loop stopped with error", zap.String("loop", name), zap.Error(err))
				return fmt.Errorf("%s: %w", name, err)
			}
			s.logger.Info("loop stopped", zap.String("loop", name))
			return nil
		})
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		err := group.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// Done is closed once every loop has returned.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop cancels the loops and waits for them to drain or for ctx to expire.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("loops did not stop in time: %w", ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

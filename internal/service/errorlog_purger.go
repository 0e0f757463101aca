package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPurgeInterval  = time.Hour
	defaultErrorRetention = 30 * 24 * time.Hour
)

// ErrorLogPurger periodically deletes resolved error log entries past retention.
type ErrorLogPurger struct {
	errorLogs *ErrorLogService
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
}

func NewErrorLogPurger(
	errorLogs *ErrorLogService,
	interval time.Duration,
	retention time.Duration,
	logger *zap.Logger,
) (*ErrorLogPurger, error) {
	if errorLogs == nil {
		return nil, fmt.Errorf("error log service is required")
	}
	if interval <= 0 {
		interval = defaultPurgeInterval
	}
	if retention <= 0 {
		retention = defaultErrorRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ErrorLogPurger{
		errorLogs: errorLogs,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}, nil
}

func (p *ErrorLogPurger) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := p.purge(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("error log initial purge failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.purge(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("error log purge failed", zap.Error(err))
			}
		}
	}
}

func (p *ErrorLogPurger) purge(ctx context.Context) error {
	purged, err := p.errorLogs.Purge(ctx, p.retention)
	if err != nil {
		return fmt.Errorf("failed to purge resolved error logs: %w", err)
	}
	if purged > 0 {
		p.logger.Info("purged resolved error log entries", zap.Int64("purged", purged))
	}
	return nil
}

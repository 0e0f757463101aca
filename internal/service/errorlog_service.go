package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"github.com/kursadbilgin/letter-dispatch/internal/repository"
	"go.uber.org/zap"
)

const maxBulkResolve = 1000

// ErrorLogService records and manages failure entries from every component.
type ErrorLogService struct {
	entries repository.ErrorLogRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewErrorLogService(entries repository.ErrorLogRepository, logger *zap.Logger) (*ErrorLogService, error) {
	if entries == nil {
		return nil, fmt.Errorf("error log repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ErrorLogService{
		entries: entries,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Record persists a new unresolved entry stamped with the current time.
func (s *ErrorLogService) Record(
	ctx context.Context,
	level domain.Level,
	category domain.Category,
	message string,
	fields map[string]any,
) (*domain.ErrorLogEntry, error) {
	entry := &domain.ErrorLogEntry{
		ID:         uuid.NewString(),
		Level:      level,
		Category:   category,
		Message:    strings.TrimSpace(message),
		Context:    fields,
		OccurredAt: s.now().UTC(),
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record error log entry: %w", err)
	}
	return entry, nil
}

func (s *ErrorLogService) Get(ctx context.Context, id string) (*domain.ErrorLogEntry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: error log id is required", domain.ErrValidation)
	}
	return s.entries.GetByID(ctx, strings.TrimSpace(id))
}

func (s *ErrorLogService) List(
	ctx context.Context,
	params repository.ErrorLogListParams,
) ([]domain.ErrorLogEntry, int64, error) {
	return s.entries.List(ctx, params)
}

// Resolve marks a single entry resolved. Resolving an already resolved entry
// is a no-op that returns the stored entry.
func (s *ErrorLogService) Resolve(ctx context.Context, id string, resolvedBy string) (*domain.ErrorLogEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Resolved {
		return entry, nil
	}

	if _, err := s.BulkResolve(ctx, []string{entry.ID}, resolvedBy); err != nil {
		return nil, err
	}
	return s.entries.GetByID(ctx, entry.ID)
}

// BulkResolve resolves every unresolved entry in ids and returns how many changed.
func (s *ErrorLogService) BulkResolve(ctx context.Context, ids []string, resolvedBy string) (int64, error) {
	resolvedBy = strings.TrimSpace(resolvedBy)
	if resolvedBy == "" {
		return 0, fmt.Errorf("%w: resolvedBy is required", domain.ErrValidation)
	}

	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return 0, fmt.Errorf("%w: error log ids must not be empty", domain.ErrValidation)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return 0, fmt.Errorf("%w: at least one error log id is required", domain.ErrValidation)
	}
	if len(unique) > maxBulkResolve {
		return 0, fmt.Errorf("%w: cannot resolve more than %d entries at once", domain.ErrValidation, maxBulkResolve)
	}

	resolved, err := s.entries.Resolve(ctx, unique, resolvedBy, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to resolve error log entries: %w", err)
	}

	s.logger.Info("error log entries resolved",
		zap.Int("requested", len(unique)),
		zap.Int64("resolved", resolved),
		zap.String("resolvedBy", resolvedBy),
	)
	return resolved, nil
}

// Purge deletes resolved entries older than retention.
func (s *ErrorLogService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", domain.ErrValidation)
	}
	return s.entries.PurgeResolvedBefore(ctx, s.now().UTC().Add(-retention))
}

func (s *ErrorLogService) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return s.entries.CountSince(ctx, since)
}

func (s *ErrorLogService) ListRecent(ctx context.Context, limit int) ([]domain.ErrorLogEntry, error) {
	return s.entries.ListRecent(ctx, limit)
}

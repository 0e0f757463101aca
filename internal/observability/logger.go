package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "letter-dispatch"

// NewLogger builds the JSON production logger tagged with the service name.
// An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}
	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]any{"service": serviceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Component names the subsystem emitting a log line, e.g. "queue_processor".
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("component", name))
}

type scopeKey struct{}

// scope is the log context carried through a request or a dispatch.
type scope struct {
	correlationID string
	submissionID  string
	universityID  string
}

func scopeFrom(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func withScope(ctx context.Context, s scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithCorrelationID tags ctx with the id of the HTTP request or broker
// message that started the work.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	s := scopeFrom(ctx)
	s.correlationID = correlationID
	return withScope(ctx, s)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).correlationID
	return id, id != ""
}

// WithSubmission tags ctx with the submission being dispatched.
func WithSubmission(ctx context.Context, submissionID string, universityID string) context.Context {
	s := scopeFrom(ctx)
	s.submissionID = submissionID
	s.universityID = universityID
	return withScope(ctx, s)
}

func SubmissionIDFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).submissionID
	return id, id != ""
}

// WithContextLogger adds the scope fields present in ctx to logger.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	s := scopeFrom(ctx)
	fields := make([]zap.Field, 0, 3)
	if s.correlationID != "" {
		fields = append(fields, zap.String("correlationId", s.correlationID))
	}
	if s.submissionID != "" {
		fields = append(fields, zap.String("submissionId", s.submissionID))
	}
	if s.universityID != "" {
		fields = append(fields, zap.String("universityId", s.universityID))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

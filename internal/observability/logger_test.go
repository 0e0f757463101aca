package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		level        string
		debugEnabled bool
		wantErr      bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "INFO", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
		{name: "unknown level", level: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.level)
			if tt.wantErr {
				if err == nil || logger != nil {
					t.Fatalf("NewLogger(%q) = %v, %v, want nil logger and error", tt.level, logger, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
			}
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.debugEnabled {
				t.Fatalf("debug enabled = %v, want %v", got, tt.debugEnabled)
			}
		})
	}
}

func TestScopeHelpersKeepEarlierFields(t *testing.T) {
	t.Parallel()

	ctx := WithCorrelationID(context.Background(), "req-1")
	ctx = WithSubmission(ctx, "sub-1", "state-u")

	if id, ok := CorrelationIDFromContext(ctx); !ok || id != "req-1" {
		t.Fatalf("CorrelationIDFromContext() = %q, %v, want req-1", id, ok)
	}
	if id, ok := SubmissionIDFromContext(ctx); !ok || id != "sub-1" {
		t.Fatalf("SubmissionIDFromContext() = %q, %v, want sub-1", id, ok)
	}
	if _, ok := SubmissionIDFromContext(context.Background()); ok {
		t.Fatal("SubmissionIDFromContext() found an id in an empty context")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  context.Context
		want map[string]any
	}{
		{
			name: "empty context adds nothing",
			ctx:  context.Background(),
			want: map[string]any{},
		},
		{
			name: "request scope",
			ctx:  WithCorrelationID(context.Background(), "req-9"),
			want: map[string]any{"correlationId": "req-9"},
		},
		{
			name: "dispatch scope",
			ctx:  WithSubmission(context.Background(), "sub-2", "state-u"),
			want: map[string]any{"submissionId": "sub-2", "universityId": "state-u"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.InfoLevel)
			WithContextLogger(zap.New(core), tt.ctx).Info("scoped")

			entries := recorded.All()
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			got := entries[0].ContextMap()
			if len(got) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("field %s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestWithContextLogger_NilLogger(t *testing.T) {
	t.Parallel()

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("WithContextLogger(nil) should return nil")
	}
}

func TestComponent(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	Component(zap.New(core), "rule_engine").Info("tick")

	if got := recorded.All()[0].ContextMap()["component"]; got != "rule_engine" {
		t.Fatalf("component = %v, want rule_engine", got)
	}
	if Component(nil, "x") == nil {
		t.Fatal("Component(nil) should return a no-op logger")
	}
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of an error log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

func (l Level) String() string { return string(l) }

func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

func ParseLevelFromString(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", fmt.Errorf("%w: invalid level %q", ErrValidation, s)
	}
	return l, nil
}

// Category groups error log entries by the part of the pipeline that failed.
type Category string

const (
	CategorySubmission     Category = "submission"
	CategoryIntegration    Category = "integration"
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategorySystem         Category = "system"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategorySubmission, CategoryIntegration, CategoryValidation, CategoryAuthentication, CategorySystem:
		return true
	}
	return false
}

func ParseCategoryFromString(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return c, nil
}

// ContextSubmissionID is the context key linking an entry to a submission.
const ContextSubmissionID = "submission_id"

// ErrorLogEntry is one failure occurrence. Only the resolution fields are mutable.
type ErrorLogEntry struct {
	ID         string
	Level      Level
	Category   Category
	Message    string
	Context    map[string]any
	OccurredAt time.Time
	Resolved   bool
	ResolvedBy *string
	ResolvedAt *time.Time
}

func (e *ErrorLogEntry) Validate() error {
	if !e.Level.IsValid() {
		return fmt.Errorf("%w: invalid level %q", ErrValidation, e.Level)
	}
	if !e.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, e.Category)
	}
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return nil
}

// SubmissionID returns the linked submission, if any.
func (e *ErrorLogEntry) SubmissionID() (string, bool) {
	if e.Context == nil {
		return "", false
	}
	id, ok := e.Context[ContextSubmissionID].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a submission.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSubmitted  Status = "submitted"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSubmitted, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransition reports whether the queue or dispatcher may move a submission
// from one status to another. Operator retry (failed -> pending) and the stale
// sweep (processing -> pending) are the only backwards edges.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusPending || to == StatusSubmitted || to == StatusConfirmed || to == StatusFailed
	case StatusSubmitted:
		return to == StatusConfirmed || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	}
	return false
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelAPI    Channel = "api"
	ChannelEmail  Channel = "email"
	ChannelManual Channel = "manual"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelAPI, ChannelEmail, ChannelManual:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Channels lists every supported channel.
func Channels() []Channel {
	return []Channel{ChannelAPI, ChannelEmail, ChannelManual}
}

// Priority bounds. Lower values are more urgent.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
	PriorityDefault = 5
)

const DefaultMaxRetries = 5

// MaxRetriesUnset asks enqueue to apply the configured default retry budget.
// Zero is a real budget: a single attempt and no retries.
const MaxRetriesUnset = -1

// Submission is one (application, university) delivery obligation.
type Submission struct {
	ID                  string
	ApplicationID       string
	UniversityID        string
	Channel             Channel
	Status              Status
	Priority            int
	RetryCount          int
	MaxRetries          int
	NextAttemptAt       *time.Time
	ProcessingStartedAt *time.Time
	SubmittedAt         *time.Time
	ConfirmedAt         *time.Time
	LastError           *string
	ExternalReference   *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (s *Submission) Validate() error {
	if strings.TrimSpace(s.ApplicationID) == "" {
		return fmt.Errorf("%w: application id is required", ErrValidation)
	}
	if strings.TrimSpace(s.UniversityID) == "" {
		return fmt.Errorf("%w: university id is required", ErrValidation)
	}
	if !s.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, s.Channel)
	}
	if s.Priority < PriorityHighest || s.Priority > PriorityLowest {
		return fmt.Errorf("%w: priority must be between %d and %d (got %d)", ErrValidation, PriorityHighest, PriorityLowest, s.Priority)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrValidation)
	}
	if s.RetryCount > s.MaxRetries {
		return fmt.Errorf("%w: retry count %d exceeds max retries %d", ErrValidation, s.RetryCount, s.MaxRetries)
	}
	return nil
}

// IsDue reports whether a pending submission may be dispatched at now.
func (s *Submission) IsDue(now time.Time) bool {
	if s.Status != StatusPending {
		return false
	}
	return s.NextAttemptAt == nil || !s.NextAttemptAt.After(now)
}

// SubmissionAttempt records a single dispatch attempt for a submission.
type SubmissionAttempt struct {
	ID            string
	SubmissionID  string
	UniversityID  string
	Channel       Channel
	AttemptNumber int
	Success       bool
	FailureKind   *FailureKind
	// DurationMillis is the channel call time; ProcessingMillis is measured
	// from submission creation to the end of this attempt.
	DurationMillis   int64
	ProcessingMillis int64
	Error            *string
	CreatedAt        time.Time
}

// FailureKind classifies a delivery failure for the retry policy.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

func (k FailureKind) String() string { return string(k) }

func (k FailureKind) IsValid() bool {
	return k == FailureTransient || k == FailurePermanent
}

// DeliveryResult is the interpreted outcome of one dispatch.
type DeliveryResult struct {
	OK                bool
	Confirmed         bool
	ExternalReference string
	FailureKind       FailureKind
	Message           string
	Duration          time.Duration
}

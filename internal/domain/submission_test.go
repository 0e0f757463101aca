package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "pending", want: StatusPending},
		{name: "valid uppercase with spaces", input: " CONFIRMED ", want: StatusConfirmed},
		{name: "invalid", input: "delivered", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseChannelFromString(" Email ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() unexpected error = %v", err)
	}
	if got != ChannelEmail {
		t.Fatalf("ParseChannelFromString() = %s, want %s", got, ChannelEmail)
	}

	_, err = ParseChannelFromString("fax")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseChannelFromString() error = %v, want ErrValidation", err)
	}
}

func TestCanTransitionIsMonotonic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusConfirmed, false},
		{StatusProcessing, StatusSubmitted, true},
		{StatusProcessing, StatusPending, true},
		{StatusSubmitted, StatusConfirmed, true},
		{StatusSubmitted, StatusPending, false},
		{StatusConfirmed, StatusPending, false},
		{StatusConfirmed, StatusFailed, false},
		{StatusFailed, StatusConfirmed, false},
		{StatusFailed, StatusPending, true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSubmissionValidate(t *testing.T) {
	t.Parallel()

	valid := Submission{
		ApplicationID: "app-1",
		UniversityID:  "state-u",
		Channel:       ChannelAPI,
		Priority:      PriorityDefault,
		MaxRetries:    DefaultMaxRetries,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(s *Submission)
	}{
		{name: "missing application", mutate: func(s *Submission) { s.ApplicationID = " " }},
		{name: "missing university", mutate: func(s *Submission) { s.UniversityID = "" }},
		{name: "invalid channel", mutate: func(s *Submission) { s.Channel = "fax" }},
		{name: "priority too low", mutate: func(s *Submission) { s.Priority = 0 }},
		{name: "priority too high", mutate: func(s *Submission) { s.Priority = 11 }},
		{name: "retry count above max", mutate: func(s *Submission) { s.RetryCount = 6 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := valid
			tt.mutate(&s)
			if err := s.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSubmissionIsDue(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	if !(&Submission{Status: StatusPending, NextAttemptAt: &past}).IsDue(now) {
		t.Fatal("pending submission with past next attempt should be due")
	}
	if !(&Submission{Status: StatusPending, NextAttemptAt: &now}).IsDue(now) {
		t.Fatal("pending submission due exactly now should be due")
	}
	if (&Submission{Status: StatusPending, NextAttemptAt: &future}).IsDue(now) {
		t.Fatal("pending submission with future next attempt should not be due")
	}
	if (&Submission{Status: StatusProcessing, NextAttemptAt: &past}).IsDue(now) {
		t.Fatal("processing submission should never be due")
	}
}

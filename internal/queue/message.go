package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

// DeliveryTask hands an email or manual submission to its external worker.
// Workers must treat SubmissionID as the idempotency key.
type DeliveryTask struct {
	SubmissionID  string         `json:"submissionId"`
	ApplicationID string         `json:"applicationId"`
	UniversityID  string         `json:"universityId"`
	Channel       domain.Channel `json:"channel"`
	Priority      int            `json:"priority"`
	Attempt       int            `json:"attempt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (m DeliveryTask) Validate() error {
	if strings.TrimSpace(m.SubmissionID) == "" {
		return fmt.Errorf("submissionId is required")
	}
	if m.Channel != domain.ChannelEmail && m.Channel != domain.ChannelManual {
		return fmt.Errorf("invalid handoff channel %q", m.Channel)
	}
	if m.Priority < domain.PriorityHighest || m.Priority > domain.PriorityLowest {
		return fmt.Errorf("invalid priority %d", m.Priority)
	}
	return nil
}

func (m DeliveryTask) MessageID() string { return fmt.Sprintf("%s:%d", m.SubmissionID, m.Attempt) }

func (m DeliveryTask) PriorityValue() uint8 { return PriorityValue(m.Priority) }

// ConfirmationMessage reports that a university received a submission.
type ConfirmationMessage struct {
	SubmissionID      string     `json:"submissionId"`
	ExternalReference string     `json:"externalReference"`
	ConfirmedAt       *time.Time `json:"confirmedAt,omitempty"`
}

func (m ConfirmationMessage) Validate() error {
	if strings.TrimSpace(m.SubmissionID) == "" {
		return fmt.Errorf("submissionId is required")
	}
	if strings.TrimSpace(m.ExternalReference) == "" {
		return fmt.Errorf("externalReference is required")
	}
	return nil
}

func (m ConfirmationMessage) MessageID() string { return m.SubmissionID }

func (m ConfirmationMessage) PriorityValue() uint8 { return 0 }

// AlertEmailMessage asks the mail sender to render Template for Recipients.
type AlertEmailMessage struct {
	EventID    string          `json:"eventId"`
	RuleID     string          `json:"ruleId"`
	Severity   domain.Severity `json:"severity"`
	Recipients []string        `json:"recipients"`
	Template   string          `json:"template"`
	Data       map[string]any  `json:"data,omitempty"`
}

func (m AlertEmailMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if len(m.Recipients) == 0 {
		return fmt.Errorf("recipients are required")
	}
	if strings.TrimSpace(m.Template) == "" {
		return fmt.Errorf("template is required")
	}
	return nil
}

func (m AlertEmailMessage) MessageID() string { return m.EventID }

func (m AlertEmailMessage) PriorityValue() uint8 {
	switch m.Severity {
	case domain.SeverityCritical:
		return 10
	case domain.SeverityHigh:
		return 7
	case domain.SeverityMedium:
		return 4
	default:
		return 1
	}
}

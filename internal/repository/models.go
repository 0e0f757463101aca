package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
	"gorm.io/datatypes"
)

// SubmissionModel is the persistence model for the submissions table.
type SubmissionModel struct {
	ID                  string         `gorm:"type:uuid;primaryKey"`
	ApplicationID       string         `gorm:"type:varchar(64);not null"`
	UniversityID        string         `gorm:"type:varchar(64);not null"`
	Channel             domain.Channel `gorm:"type:varchar(10);not null"`
	Status              domain.Status  `gorm:"type:varchar(20);not null"`
	Priority            int            `gorm:"type:smallint;not null;default:5"`
	RetryCount          int            `gorm:"not null;default:0"`
	MaxRetries          int            `gorm:"not null"`
	NextAttemptAt       *time.Time     `gorm:"type:timestamptz"`
	ProcessingStartedAt *time.Time     `gorm:"type:timestamptz"`
	SubmittedAt         *time.Time     `gorm:"type:timestamptz"`
	ConfirmedAt         *time.Time     `gorm:"type:timestamptz"`
	LastError           *string        `gorm:"type:text"`
	ExternalReference   *string        `gorm:"type:varchar(255)"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (SubmissionModel) TableName() string {
	return "submissions"
}

// SubmissionAttemptModel is the persistence model for submission_attempts.
type SubmissionAttemptModel struct {
	ID               string              `gorm:"type:uuid;primaryKey"`
	SubmissionID     string              `gorm:"type:uuid;not null"`
	UniversityID     string              `gorm:"type:varchar(64);not null"`
	Channel          domain.Channel      `gorm:"type:varchar(10);not null"`
	AttemptNumber    int                 `gorm:"not null"`
	Success          bool                `gorm:"not null"`
	FailureKind      *domain.FailureKind `gorm:"type:varchar(20)"`
	DurationMillis   int64               `gorm:"not null;default:0"`
	ProcessingMillis int64               `gorm:"not null;default:0"`
	Error            *string             `gorm:"type:text"`
	CreatedAt        time.Time
}

func (SubmissionAttemptModel) TableName() string {
	return "submission_attempts"
}

// ErrorLogModel is the persistence model for error_logs.
type ErrorLogModel struct {
	ID         string          `gorm:"type:uuid;primaryKey"`
	Level      domain.Level    `gorm:"type:varchar(10);not null"`
	Category   domain.Category `gorm:"type:varchar(20);not null"`
	Message    string          `gorm:"type:text;not null"`
	Context    datatypes.JSON  `gorm:"type:jsonb"`
	OccurredAt time.Time       `gorm:"type:timestamptz;not null"`
	Resolved   bool            `gorm:"not null;default:false"`
	ResolvedBy *string         `gorm:"type:varchar(255)"`
	ResolvedAt *time.Time      `gorm:"type:timestamptz"`
}

func (ErrorLogModel) TableName() string {
	return "error_logs"
}

// NotificationRuleModel stores conditions and actions as jsonb so new rule
// types need no schema change.
type NotificationRuleModel struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	Name            string          `gorm:"type:varchar(255);not null"`
	Type            domain.RuleType `gorm:"type:varchar(32);not null"`
	Enabled         bool            `gorm:"not null;default:true"`
	Conditions      datatypes.JSON  `gorm:"type:jsonb;not null"`
	Actions         datatypes.JSON  `gorm:"type:jsonb;not null"`
	CooldownMinutes int             `gorm:"not null;default:30"`
	LastTriggeredAt *time.Time      `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (NotificationRuleModel) TableName() string {
	return "notification_rules"
}

// NotificationEventModel is the persistence model for notification_events.
type NotificationEventModel struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	RuleID         string          `gorm:"type:uuid;not null"`
	Severity       domain.Severity `gorm:"type:varchar(10);not null"`
	Title          string          `gorm:"type:varchar(255);not null"`
	Message        string          `gorm:"type:text;not null"`
	Data           datatypes.JSON  `gorm:"type:jsonb"`
	TriggeredAt    time.Time       `gorm:"type:timestamptz;not null"`
	Acknowledged   bool            `gorm:"not null;default:false"`
	AcknowledgedBy *string         `gorm:"type:varchar(255)"`
	AcknowledgedAt *time.Time      `gorm:"type:timestamptz"`
}

func (NotificationEventModel) TableName() string {
	return "notification_events"
}

func submissionModelFromDomain(s *domain.Submission) *SubmissionModel {
	if s == nil {
		return nil
	}

	return &SubmissionModel{
		ID:                  s.ID,
		ApplicationID:       s.ApplicationID,
		UniversityID:        s.UniversityID,
		Channel:             s.Channel,
		Status:              s.Status,
		Priority:            s.Priority,
		RetryCount:          s.RetryCount,
		MaxRetries:          s.MaxRetries,
		NextAttemptAt:       s.NextAttemptAt,
		ProcessingStartedAt: s.ProcessingStartedAt,
		SubmittedAt:         s.SubmittedAt,
		ConfirmedAt:         s.ConfirmedAt,
		LastError:           s.LastError,
		ExternalReference:   s.ExternalReference,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func submissionModelToDomain(m *SubmissionModel) *domain.Submission {
	if m == nil {
		return nil
	}

	return &domain.Submission{
		ID:                  m.ID,
		ApplicationID:       m.ApplicationID,
		UniversityID:        m.UniversityID,
		Channel:             m.Channel,
		Status:              m.Status,
		Priority:            m.Priority,
		RetryCount:          m.RetryCount,
		MaxRetries:          m.MaxRetries,
		NextAttemptAt:       m.NextAttemptAt,
		ProcessingStartedAt: m.ProcessingStartedAt,
		SubmittedAt:         m.SubmittedAt,
		ConfirmedAt:         m.ConfirmedAt,
		LastError:           m.LastError,
		ExternalReference:   m.ExternalReference,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.SubmissionAttempt) *SubmissionAttemptModel {
	if a == nil {
		return nil
	}

	return &SubmissionAttemptModel{
		ID:               a.ID,
		SubmissionID:     a.SubmissionID,
		UniversityID:     a.UniversityID,
		Channel:          a.Channel,
		AttemptNumber:    a.AttemptNumber,
		Success:          a.Success,
		FailureKind:      a.FailureKind,
		DurationMillis:   a.DurationMillis,
		ProcessingMillis: a.ProcessingMillis,
		Error:            a.Error,
		CreatedAt:        a.CreatedAt,
	}
}

func attemptModelToDomain(m *SubmissionAttemptModel) *domain.SubmissionAttempt {
	if m == nil {
		return nil
	}

	return &domain.SubmissionAttempt{
		ID:               m.ID,
		SubmissionID:     m.SubmissionID,
		UniversityID:     m.UniversityID,
		Channel:          m.Channel,
		AttemptNumber:    m.AttemptNumber,
		Success:          m.Success,
		FailureKind:      m.FailureKind,
		DurationMillis:   m.DurationMillis,
		ProcessingMillis: m.ProcessingMillis,
		Error:            m.Error,
		CreatedAt:        m.CreatedAt,
	}
}

func errorLogModelFromDomain(e *domain.ErrorLogEntry) (*ErrorLogModel, error) {
	if e == nil {
		return nil, nil
	}

	ctxJSON, err := marshalJSONMap(e.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to encode error context: %w", err)
	}

	return &ErrorLogModel{
		ID:         e.ID,
		Level:      e.Level,
		Category:   e.Category,
		Message:    e.Message,
		Context:    ctxJSON,
		OccurredAt: e.OccurredAt,
		Resolved:   e.Resolved,
		ResolvedBy: e.ResolvedBy,
		ResolvedAt: e.ResolvedAt,
	}, nil
}

func errorLogModelToDomain(m *ErrorLogModel) *domain.ErrorLogEntry {
	if m == nil {
		return nil
	}

	return &domain.ErrorLogEntry{
		ID:         m.ID,
		Level:      m.Level,
		Category:   m.Category,
		Message:    m.Message,
		Context:    unmarshalJSONMap(m.Context),
		OccurredAt: m.OccurredAt,
		Resolved:   m.Resolved,
		ResolvedBy: m.ResolvedBy,
		ResolvedAt: m.ResolvedAt,
	}
}

func ruleModelFromDomain(r *domain.NotificationRule) (*NotificationRuleModel, error) {
	if r == nil {
		return nil, nil
	}

	conditions, err := domain.EncodeCondition(r.Condition)
	if err != nil {
		return nil, err
	}
	actions, err := domain.EncodeActions(r.Actions)
	if err != nil {
		return nil, err
	}

	return &NotificationRuleModel{
		ID:              r.ID,
		Name:            r.Name,
		Type:            r.Type,
		Enabled:         r.Enabled,
		Conditions:      datatypes.JSON(conditions),
		Actions:         datatypes.JSON(actions),
		CooldownMinutes: r.CooldownMinutes,
		LastTriggeredAt: r.LastTriggeredAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

// ruleModelToDomain decodes the stored blobs into their typed variants.
func ruleModelToDomain(m *NotificationRuleModel) (*domain.NotificationRule, error) {
	if m == nil {
		return nil, nil
	}

	condition, err := domain.DecodeCondition(m.Type, m.Conditions)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", m.ID, err)
	}
	actions, err := domain.DecodeActions(m.Actions)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", m.ID, err)
	}

	return &domain.NotificationRule{
		ID:              m.ID,
		Name:            m.Name,
		Type:            m.Type,
		Enabled:         m.Enabled,
		Condition:       condition,
		Actions:         actions,
		CooldownMinutes: m.CooldownMinutes,
		LastTriggeredAt: m.LastTriggeredAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

func eventModelFromDomain(e *domain.NotificationEvent) (*NotificationEventModel, error) {
	if e == nil {
		return nil, nil
	}

	data, err := marshalJSONMap(e.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event data: %w", err)
	}

	return &NotificationEventModel{
		ID:             e.ID,
		RuleID:         e.RuleID,
		Severity:       e.Severity,
		Title:          e.Title,
		Message:        e.Message,
		Data:           data,
		TriggeredAt:    e.TriggeredAt,
		Acknowledged:   e.Acknowledged,
		AcknowledgedBy: e.AcknowledgedBy,
		AcknowledgedAt: e.AcknowledgedAt,
	}, nil
}

func eventModelToDomain(m *NotificationEventModel) *domain.NotificationEvent {
	if m == nil {
		return nil
	}

	return &domain.NotificationEvent{
		ID:             m.ID,
		RuleID:         m.RuleID,
		Severity:       m.Severity,
		Title:          m.Title,
		Message:        m.Message,
		Data:           unmarshalJSONMap(m.Data),
		TriggeredAt:    m.TriggeredAt,
		Acknowledged:   m.Acknowledged,
		AcknowledgedBy: m.AcknowledgedBy,
		AcknowledgedAt: m.AcknowledgedAt,
	}
}

func marshalJSONMap(v map[string]any) (datatypes.JSON, error) {
	if len(v) == 0 {
		return datatypes.JSON("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalJSONMap(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

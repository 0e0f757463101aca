package analytics

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

// Alert is an ad hoc condition derived from a snapshot. It is never persisted;
// the dashboard merges it with stored notification events.
type Alert struct {
	Key       string          `json:"key"`
	Severity  domain.Severity `json:"severity"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      map[string]any  `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DeriveAlerts turns the abnormal parts of a snapshot into alerts.
func DeriveAlerts(s *HealthSnapshot) []Alert {
	if s == nil {
		return nil
	}

	var alerts []Alert
	switch s.Status {
	case domain.HealthCritical:
		alerts = append(alerts, systemAlert(s, domain.SeverityCritical))
	case domain.HealthWarning:
		alerts = append(alerts, systemAlert(s, domain.SeverityMedium))
	}

	for _, u := range s.PerUniversity {
		switch u.Status {
		case domain.UniversityDown:
			alerts = append(alerts, Alert{
				Key:      "university_down:" + u.UniversityID,
				Severity: domain.SeverityCritical,
				Title:    fmt.Sprintf("University %s is down", u.UniversityID),
				Message: fmt.Sprintf("%d of %d attempts failed in the last %d minutes",
					u.Failures, u.Attempts, s.WindowMinutes),
				Data:      universityData(u),
				CreatedAt: s.GeneratedAt,
			})
		case domain.UniversityDegraded:
			alerts = append(alerts, Alert{
				Key:      "university_degraded:" + u.UniversityID,
				Severity: domain.SeverityMedium,
				Title:    fmt.Sprintf("University %s is degraded", u.UniversityID),
				Message: fmt.Sprintf("success rate %.0f%%, average processing %.0fs",
					u.SuccessRate*100, u.AvgProcessingSeconds),
				Data:      universityData(u),
				CreatedAt: s.GeneratedAt,
			})
		}
	}
	return alerts
}

func systemAlert(s *HealthSnapshot, severity domain.Severity) Alert {
	return Alert{
		Key:      "system_health",
		Severity: severity,
		Title:    fmt.Sprintf("System health is %s", s.Status),
		Message: fmt.Sprintf("success rate %.0f%% over %d attempts, backlog %d",
			s.Throughput.SuccessRate*100, s.Throughput.Attempts, s.Backlog.Total),
		Data: map[string]any{
			"successRate": s.Throughput.SuccessRate,
			"attempts":    s.Throughput.Attempts,
			"backlog":     s.Backlog.Total,
		},
		CreatedAt: s.GeneratedAt,
	}
}

func universityData(u UniversityPerformance) map[string]any {
	return map[string]any{
		"universityId":         u.UniversityID,
		"attempts":             u.Attempts,
		"failures":             u.Failures,
		"successRate":          u.SuccessRate,
		"avgProcessingSeconds": u.AvgProcessingSeconds,
		"consecutiveFailures":  u.ConsecutiveFailures,
	}
}

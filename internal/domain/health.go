package domain

import (
	"fmt"
	"strings"
	"time"
)

// HealthStatus is the overall system classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

func (h HealthStatus) String() string { return string(h) }

func (h HealthStatus) IsValid() bool {
	switch h {
	case HealthHealthy, HealthWarning, HealthCritical:
		return true
	}
	return false
}

// Rank orders statuses so callers can compare severity.
func (h HealthStatus) Rank() int {
	switch h {
	case HealthWarning:
		return 1
	case HealthCritical:
		return 2
	}
	return 0
}

func ParseHealthStatusFromString(s string) (HealthStatus, error) {
	h := HealthStatus(strings.ToLower(strings.TrimSpace(s)))
	if !h.IsValid() {
		return "", fmt.Errorf("%w: invalid health status %q", ErrValidation, s)
	}
	return h, nil
}

// UniversityStatus is the per-university delivery classification.
type UniversityStatus string

const (
	UniversityHealthy  UniversityStatus = "healthy"
	UniversityDegraded UniversityStatus = "degraded"
	UniversityDown     UniversityStatus = "down"
)

func (u UniversityStatus) String() string { return string(u) }

func (u UniversityStatus) IsValid() bool {
	switch u {
	case UniversityHealthy, UniversityDegraded, UniversityDown:
		return true
	}
	return false
}

// UniversityAttemptStats aggregates one university's dispatch attempts in a
// window. ConsecutiveFailures counts the latest attempts that failed in a
// row; it is only tracked up to the depth the caller asked for.
type UniversityAttemptStats struct {
	UniversityID            string
	Attempts                int
	Successes               int
	SuccessProcessingMillis int64
	LastAttemptAt           time.Time
	ConsecutiveFailures     int
}

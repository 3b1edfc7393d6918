package integration

import "time"

// HealthStatus classifies the observed health of an integration.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// IsValid returns true if the health status is valid.
func (s HealthStatus) IsValid() bool {
	switch s {
	case HealthHealthy, HealthDegraded, HealthUnhealthy:
		return true
	}
	return false
}

// String returns the string representation of the health status.
func (s HealthStatus) String() string {
	return string(s)
}

// IssueKind classifies a health issue.
type IssueKind string

const (
	IssueWarning IssueKind = "warning"
	IssueError   IssueKind = "error"
)

// Issue describes one problem observed during a health check.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Health is the latest health snapshot for an integration. Each check
// overwrites the previous snapshot.
type Health struct {
	IntegrationID ID
	Status        HealthStatus
	LastCheck     time.Time
	ResponseTime  time.Duration
	ErrorRate     float64
	Uptime        float64
	Issues        []Issue
}

// NewHealthySnapshot builds a healthy snapshot from a successful probe.
func NewHealthySnapshot(id ID, checkedAt time.Time, responseTime time.Duration, errorRate, uptime float64) Health {
	return Health{
		IntegrationID: id,
		Status:        HealthHealthy,
		LastCheck:     checkedAt,
		ResponseTime:  responseTime,
		ErrorRate:     errorRate,
		Uptime:        uptime,
	}
}

// NewDegradedSnapshot builds a degraded snapshot with a warning issue.
func NewDegradedSnapshot(id ID, checkedAt time.Time, responseTime time.Duration, errorRate, uptime float64, message string) Health {
	return Health{
		IntegrationID: id,
		Status:        HealthDegraded,
		LastCheck:     checkedAt,
		ResponseTime:  responseTime,
		ErrorRate:     errorRate,
		Uptime:        uptime,
		Issues: []Issue{{
			Kind:      IssueWarning,
			Message:   message,
			Timestamp: checkedAt,
		}},
	}
}

// NewUnhealthySnapshot builds an unhealthy snapshot from a failed probe.
func NewUnhealthySnapshot(id ID, checkedAt time.Time, responseTime time.Duration, message string) Health {
	return Health{
		IntegrationID: id,
		Status:        HealthUnhealthy,
		LastCheck:     checkedAt,
		ResponseTime:  responseTime,
		ErrorRate:     1.0,
		Uptime:        0,
		Issues: []Issue{{
			Kind:      IssueError,
			Message:   message,
			Timestamp: checkedAt,
		}},
	}
}

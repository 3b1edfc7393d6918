package webhook

import "time"

// Outcome classifies a single delivery attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// IsValid returns true if the outcome is valid.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeTimeout:
		return true
	}
	return false
}

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// Delivery is an append-only record of one delivery attempt.
type Delivery struct {
	ID           ID
	WebhookID    ID
	EventID      ID
	Attempt      int
	Outcome      Outcome
	ResponseTime time.Duration
	StatusCode   *int
	Error        string
	Timestamp    time.Time
}

// Stats aggregates a webhook's delivery history.
type Stats struct {
	TotalEvents         int           `json:"total_events"`
	SuccessRate         float64       `json:"success_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	Last24Hours         WindowStats   `json:"last_24_hours"`
}

// WindowStats counts activity inside a rolling window.
type WindowStats struct {
	Events    int `json:"events"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// Package webhook provides domain entities for outbound webhook delivery.
package webhook

import (
	"math"
	"time"

	"github.com/haulcrm/integrations/pkg/domain/shared"
)

// ID is a type alias for shared.ID.
type ID = shared.ID

// NewID generates a new webhook ID.
func NewID() ID {
	return shared.NewID()
}

// ParseID parses a string into a webhook ID.
func ParseID(s string) (ID, error) {
	return shared.IDFromString(s)
}

// Status represents the webhook status.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// IsValid returns true if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusError:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// RetryPolicy controls how failed deliveries are retried.
type RetryPolicy struct {
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy is applied when a webhook is created without one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		RetryDelay:        time.Second,
		BackoffMultiplier: 2.0,
	}
}

// IsValid returns true if the policy values are usable.
func (p RetryPolicy) IsValid() bool {
	return p.MaxRetries >= 0 && p.RetryDelay > 0 && p.BackoffMultiplier >= 1.0
}

// Backoff returns the delay before the retry that follows the given
// attempt number. Attempt 1 waits RetryDelay, each subsequent attempt
// multiplies by BackoffMultiplier.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.RetryDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Webhook represents an outgoing webhook subscription.
type Webhook struct {
	id              ID
	integrationID   ID
	name            string
	url             string
	events          []string
	secret          string
	status          Status
	headers         map[string]string
	retryPolicy     RetryPolicy
	successCount    int
	failureCount    int
	lastTriggeredAt *time.Time
	createdAt       time.Time
	updatedAt       time.Time
}

// NewWebhook creates a new active webhook.
func NewWebhook(id, integrationID ID, name, url string, events []string, secret string) *Webhook {
	now := time.Now()
	return &Webhook{
		id:            id,
		integrationID: integrationID,
		name:          name,
		url:           url,
		events:        events,
		secret:        secret,
		status:        StatusActive,
		headers:       map[string]string{},
		retryPolicy:   DefaultRetryPolicy(),
		createdAt:     now,
		updatedAt:     now,
	}
}

// Reconstruct creates a Webhook from stored data.
func Reconstruct(
	id, integrationID ID,
	name, url string,
	events []string,
	secret string,
	status Status,
	headers map[string]string,
	retryPolicy RetryPolicy,
	successCount, failureCount int,
	lastTriggeredAt *time.Time,
	createdAt, updatedAt time.Time,
) *Webhook {
	if headers == nil {
		headers = map[string]string{}
	}
	return &Webhook{
		id:              id,
		integrationID:   integrationID,
		name:            name,
		url:             url,
		events:          events,
		secret:          secret,
		status:          status,
		headers:         headers,
		retryPolicy:     retryPolicy,
		successCount:    successCount,
		failureCount:    failureCount,
		lastTriggeredAt: lastTriggeredAt,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// --- Getters ---

func (w *Webhook) ID() ID                      { return w.id }
func (w *Webhook) IntegrationID() ID           { return w.integrationID }
func (w *Webhook) Name() string                { return w.name }
func (w *Webhook) URL() string                 { return w.url }
func (w *Webhook) Events() []string            { return w.events }
func (w *Webhook) Secret() string              { return w.secret }
func (w *Webhook) Status() Status              { return w.status }
func (w *Webhook) Headers() map[string]string  { return w.headers }
func (w *Webhook) RetryPolicy() RetryPolicy    { return w.retryPolicy }
func (w *Webhook) SuccessCount() int           { return w.successCount }
func (w *Webhook) FailureCount() int           { return w.failureCount }
func (w *Webhook) LastTriggeredAt() *time.Time { return w.lastTriggeredAt }
func (w *Webhook) CreatedAt() time.Time        { return w.createdAt }
func (w *Webhook) UpdatedAt() time.Time        { return w.updatedAt }

// IsActive returns true if the webhook accepts new events.
func (w *Webhook) IsActive() bool {
	return w.status == StatusActive
}

// Subscribes returns true if the webhook is subscribed to the event name.
func (w *Webhook) Subscribes(event string) bool {
	for _, e := range w.events {
		if e == event {
			return true
		}
	}
	return false
}

// --- Setters ---

func (w *Webhook) SetName(name string)  { w.name = name; w.updatedAt = time.Now() }
func (w *Webhook) SetURL(url string)    { w.url = url; w.updatedAt = time.Now() }
func (w *Webhook) SetEvents(ev []string) { w.events = ev; w.updatedAt = time.Now() }
func (w *Webhook) SetSecret(s string)   { w.secret = s; w.updatedAt = time.Now() }
func (w *Webhook) SetHeaders(h map[string]string) {
	if h == nil {
		h = map[string]string{}
	}
	w.headers = h
	w.updatedAt = time.Now()
}
func (w *Webhook) SetRetryPolicy(p RetryPolicy) { w.retryPolicy = p; w.updatedAt = time.Now() }

// Activate enables the webhook.
func (w *Webhook) Activate() {
	w.status = StatusActive
	w.updatedAt = time.Now()
}

// Deactivate disables the webhook without deleting its history.
func (w *Webhook) Deactivate() {
	w.status = StatusInactive
	w.updatedAt = time.Now()
}

// RecordSuccess updates counters after a successful delivery. A webhook
// that was in error state recovers to active.
func (w *Webhook) RecordSuccess(at time.Time) {
	w.successCount++
	w.lastTriggeredAt = &at
	if w.status == StatusError {
		w.status = StatusActive
	}
	w.updatedAt = at
}

// RecordFailure updates counters after a failed delivery attempt.
func (w *Webhook) RecordFailure(at time.Time) {
	w.failureCount++
	if w.status == StatusActive {
		w.status = StatusError
	}
	w.updatedAt = at
}

package webhook

import "time"

// EventStatus represents the delivery state of a webhook event.
type EventStatus string

const (
	// EventPending - event is queued and has not been attempted.
	EventPending EventStatus = "pending"

	// EventSent - a delivery attempt succeeded. Terminal.
	EventSent EventStatus = "sent"

	// EventFailed - the last attempt failed and no retry is scheduled. Terminal.
	EventFailed EventStatus = "failed"

	// EventRetrying - the last attempt failed and a retry is scheduled.
	EventRetrying EventStatus = "retrying"
)

// IsValid returns true if the event status is valid.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventPending, EventSent, EventFailed, EventRetrying:
		return true
	}
	return false
}

// String returns the string representation of the event status.
func (s EventStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further attempts will be made.
func (s EventStatus) IsTerminal() bool {
	return s == EventSent || s == EventFailed
}

// Response captures the endpoint's reply to a delivery attempt.
type Response struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// Event represents one occurrence of a subscribed event and its delivery
// state machine.
type Event struct {
	id            ID
	webhookID     ID
	event         string
	payload       map[string]any
	status        EventStatus
	attempts      int
	lastAttemptAt *time.Time
	nextRetryAt   *time.Time
	response      *Response
	errorMessage  string
	createdAt     time.Time
	updatedAt     time.Time
}

// NewEvent creates a pending event for the given webhook.
func NewEvent(id, webhookID ID, event string, payload map[string]any, now time.Time) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{
		id:        id,
		webhookID: webhookID,
		event:     event,
		payload:   payload,
		status:    EventPending,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstructEvent creates an Event from stored data.
func ReconstructEvent(
	id, webhookID ID,
	event string,
	payload map[string]any,
	status EventStatus,
	attempts int,
	lastAttemptAt, nextRetryAt *time.Time,
	response *Response,
	errorMessage string,
	createdAt, updatedAt time.Time,
) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{
		id:            id,
		webhookID:     webhookID,
		event:         event,
		payload:       payload,
		status:        status,
		attempts:      attempts,
		lastAttemptAt: lastAttemptAt,
		nextRetryAt:   nextRetryAt,
		response:      response,
		errorMessage:  errorMessage,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// --- Getters ---

func (e *Event) ID() ID                    { return e.id }
func (e *Event) WebhookID() ID             { return e.webhookID }
func (e *Event) Event() string             { return e.event }
func (e *Event) Payload() map[string]any   { return e.payload }
func (e *Event) Status() EventStatus       { return e.status }
func (e *Event) Attempts() int             { return e.attempts }
func (e *Event) LastAttemptAt() *time.Time { return e.lastAttemptAt }
func (e *Event) NextRetryAt() *time.Time   { return e.nextRetryAt }
func (e *Event) Response() *Response       { return e.response }
func (e *Event) ErrorMessage() string      { return e.errorMessage }
func (e *Event) CreatedAt() time.Time      { return e.createdAt }
func (e *Event) UpdatedAt() time.Time      { return e.updatedAt }

// --- State transitions ---

// MarkSent records a successful delivery attempt. Terminal.
func (e *Event) MarkSent(now time.Time, resp Response) {
	e.attempts++
	e.status = EventSent
	e.lastAttemptAt = &now
	e.nextRetryAt = nil
	e.response = &resp
	e.errorMessage = ""
	e.updatedAt = now
}

// MarkFailed records a failed attempt. If the policy still allows a
// retry the event moves to retrying with the backoff applied, otherwise
// it becomes terminally failed. A maxBackoff > 0 caps the delay, so the
// stored nextRetryAt always matches the schedule the dispatcher runs.
func (e *Event) MarkFailed(now time.Time, errMsg string, policy RetryPolicy, maxBackoff time.Duration) {
	e.attempts++
	e.lastAttemptAt = &now
	e.errorMessage = errMsg
	e.updatedAt = now

	if e.attempts < policy.MaxRetries {
		delay := policy.Backoff(e.attempts)
		if maxBackoff > 0 && delay > maxBackoff {
			delay = maxBackoff
		}
		next := now.Add(delay)
		e.status = EventRetrying
		e.nextRetryAt = &next
	} else {
		e.status = EventFailed
		e.nextRetryAt = nil
	}
}

// ResetForRetry requeues a terminally failed event with a clean attempt
// counter.
func (e *Event) ResetForRetry(now time.Time) {
	e.status = EventPending
	e.attempts = 0
	e.errorMessage = ""
	e.nextRetryAt = nil
	e.updatedAt = now
}

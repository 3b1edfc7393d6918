package webhook

import (
	"context"
	"time"
)

// Filter represents filtering options for listing webhooks.
type Filter struct {
	IntegrationID *ID
	Status        *Status
	Event         string
	Search        string
	Page          int
	PerPage       int
	SortBy        string
	SortOrder     string
}

// NewFilter creates a new filter with defaults.
func NewFilter() Filter {
	return Filter{
		Page:      1,
		PerPage:   20,
		SortBy:    "updated_at",
		SortOrder: "desc",
	}
}

// ListResult represents a paginated list of webhooks.
type ListResult struct {
	Data       []*Webhook
	Total      int64
	Page       int
	PerPage    int
	TotalPages int
}

// Repository defines the interface for webhook persistence.
type Repository interface {
	Create(ctx context.Context, w *Webhook) error
	GetByID(ctx context.Context, id ID) (*Webhook, error)
	List(ctx context.Context, filter Filter) (ListResult, error)
	ListByIntegration(ctx context.Context, integrationID ID) ([]*Webhook, error)
	Update(ctx context.Context, w *Webhook) error

	// Delete removes the webhook and its events and deliveries in one
	// transaction.
	Delete(ctx context.Context, id ID) error
}

// EventRepository defines the interface for webhook event persistence.
type EventRepository interface {
	Create(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id ID) (*Event, error)
	Update(ctx context.Context, e *Event) error
	ListByWebhook(ctx context.Context, webhookID ID, limit int) ([]*Event, error)
	ListByStatus(ctx context.Context, webhookID ID, status EventStatus) ([]*Event, error)

	// ListIncomplete returns every event still in a non-terminal state
	// (pending or retrying) across all webhooks, oldest first. Used to
	// resume delivery chains after a restart.
	ListIncomplete(ctx context.Context) ([]*Event, error)
	CountSince(ctx context.Context, webhookID ID, since time.Time) (int, error)
	CountTotal(ctx context.Context, webhookID ID) (int, error)
}

// DeliveryRepository defines the interface for the delivery ledger.
// Records are append-only; there is no update.
type DeliveryRepository interface {
	Append(ctx context.Context, d Delivery) error
	ListByWebhook(ctx context.Context, webhookID ID, limit int) ([]Delivery, error)
	ListByEvent(ctx context.Context, eventID ID) ([]Delivery, error)
	Stats(ctx context.Context, webhookID ID, since time.Time) (Stats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

package integration

import (
	"context"
)

// Filter represents filters for listing integrations.
type Filter struct {
	Category  *Category
	Status    *Status
	Search    string
	Page      int
	PerPage   int
	SortBy    string
	SortOrder string
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

// ListResult represents a paginated list result.
type ListResult struct {
	Data       []*Integration
	Total      int64
	Page       int
	PerPage    int
	TotalPages int
}

// Repository defines the interface for integration persistence.
type Repository interface {
	// CRUD operations
	Create(ctx context.Context, i *Integration) error
	GetByID(ctx context.Context, id ID) (*Integration, error)
	Update(ctx context.Context, i *Integration) error

	// Delete removes the integration and all dependent rows (webhooks,
	// events, deliveries, sync results, health) in one transaction.
	Delete(ctx context.Context, id ID) error

	// List operations
	List(ctx context.Context, filter Filter) (ListResult, error)
	ListByStatus(ctx context.Context, status Status) ([]*Integration, error)
}

// SyncResultRepository defines the interface for sync result persistence.
type SyncResultRepository interface {
	// Append stores a result and trims the integration's history to
	// MaxSyncHistory entries, oldest first.
	Append(ctx context.Context, result SyncResult) error
	ListByIntegration(ctx context.Context, integrationID ID, limit int) ([]SyncResult, error)
	DeleteOlderThan(ctx context.Context, integrationID ID, keep int) (int64, error)
}

// HealthRepository defines the interface for health snapshot persistence.
type HealthRepository interface {
	Upsert(ctx context.Context, health Health) error
	GetByIntegration(ctx context.Context, integrationID ID) (Health, error)
	List(ctx context.Context) ([]Health, error)
}

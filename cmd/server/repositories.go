package main

import (
	"github.com/haulcrm/integrations/internal/infra/postgres"
)

// Repositories holds all repository instances.
type Repositories struct {
	// Integrations
	Integration *postgres.IntegrationRepository
	SyncResult  *postgres.SyncResultRepository
	Health      *postgres.HealthRepository

	// Webhooks
	Webhook  *postgres.WebhookRepository
	Event    *postgres.EventRepository
	Delivery *postgres.DeliveryRepository
}

// NewRepositories initializes all repositories.
func NewRepositories(db *postgres.DB) *Repositories {
	return &Repositories{
		// Integrations
		Integration: postgres.NewIntegrationRepository(db),
		SyncResult:  postgres.NewSyncResultRepository(db),
		Health:      postgres.NewHealthRepository(db),

		// Webhooks
		Webhook:  postgres.NewWebhookRepository(db),
		Event:    postgres.NewEventRepository(db),
		Delivery: postgres.NewDeliveryRepository(db),
	}
}

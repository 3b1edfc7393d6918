package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/logger"
	"github.com/haulcrm/integrations/pkg/validator"
)

// serviceFixture wires every service against in-memory repositories and
// a fake provider adapter.
type serviceFixture struct {
	catalog      *integration.Catalog
	integrations *memIntegrationRepo
	syncResults  *memSyncResultRepo
	health       *memHealthRepo
	webhooks     *memWebhookRepo
	events       *memEventRepo
	deliveries   *memDeliveryRepo
	adapter      *fakeAdapter
	sender       *fakeSender
	clock        *fakeClock
	dispatcher   *Dispatcher

	integrationSvc *IntegrationService
	syncSvc        *SyncService
	healthSvc      *HealthService
	webhookSvc     *WebhookService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	catalog, err := integration.DefaultCatalog()
	require.NoError(t, err)

	events := newMemEventRepo()
	deliveries := newMemDeliveryRepo(events)
	webhooks := newMemWebhookRepo(events, deliveries)
	integrations := newMemIntegrationRepo()
	syncResults := newMemSyncResultRepo()
	health := newMemHealthRepo()
	integrations.webhooks = webhooks
	integrations.syncResults = syncResults
	integrations.health = health

	adapter := newFakeAdapter()
	registry := transport.NewRegistry(adapter)
	sender := newFakeSender(deliveryOK())
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := logger.NewNop()

	deliveryCfg := config.DeliveryConfig{
		AttemptTimeout: 5 * time.Second,
		MaxBackoff:     5 * time.Minute,
		RetentionDays:  30,
	}
	healthCfg := config.HealthConfig{
		ProbeTimeout:      5 * time.Second,
		DegradedThreshold: 2 * time.Second,
		Concurrency:       4,
	}

	dispatcher := NewDispatcher(webhooks, events, deliveries, sender, clock, deliveryCfg, log)
	endpoints := validator.NewEndpointValidator()

	return &serviceFixture{
		catalog:      catalog,
		integrations: integrations,
		syncResults:  syncResults,
		health:       health,
		webhooks:     webhooks,
		events:       events,
		deliveries:   deliveries,
		adapter:      adapter,
		sender:       sender,
		clock:        clock,
		dispatcher:   dispatcher,

		integrationSvc: NewIntegrationService(catalog, integrations, registry, dispatcher, log),
		syncSvc:        NewSyncService(integrations, syncResults, registry, nil, healthCfg, log),
		healthSvc:      NewHealthService(integrations, health, registry, healthCfg, log),
		webhookSvc: NewWebhookService(webhooks, events, deliveries, integrations,
			dispatcher, sender, endpoints, clock, log),
	}
}

// createIntegration provisions a stripe integration through the service,
// connected by the fake adapter's default probe.
func (f *serviceFixture) createIntegration(t *testing.T) *integration.Integration {
	t.Helper()
	intg, err := f.integrationSvc.CreateIntegration(context.Background(), CreateIntegrationInput{
		TemplateID: "stripe",
		Config: map[string]string{
			"publishable_key": "pk_test_abc",
			"secret_key":      "sk_test_abc",
		},
	})
	require.NoError(t, err)
	return intg
}

package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

func TestIntegrationService_ListTemplates(t *testing.T) {
	f := newServiceFixture(t)

	templates, err := f.integrationSvc.ListTemplates("")
	require.NoError(t, err)
	assert.Len(t, templates, 7)

	payments, err := f.integrationSvc.ListTemplates("payment")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "stripe", payments[0].ID)

	_, err = f.integrationSvc.ListTemplates("gaming")
	assert.ErrorIs(t, err, integration.ErrInvalidCategory)
}

func TestIntegrationService_CreateIntegration_Connects(t *testing.T) {
	f := newServiceFixture(t)

	intg := f.createIntegration(t)

	assert.Equal(t, "stripe", intg.TemplateID())
	assert.Equal(t, integration.StatusConnected, intg.Status())
	assert.Empty(t, intg.ErrorMessage())
	assert.Equal(t, integration.SyncNever, intg.SyncState())

	stored, err := f.integrations.GetByID(context.Background(), intg.ID())
	require.NoError(t, err)
	assert.Equal(t, integration.StatusConnected, stored.Status())
}

func TestIntegrationService_CreateIntegration_ProbeFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.adapter.setProbe(&transport.ProbeResult{Success: false, Message: "invalid credentials"})

	intg, err := f.integrationSvc.CreateIntegration(context.Background(), CreateIntegrationInput{
		TemplateID: "stripe",
		Config: map[string]string{
			"publishable_key": "pk_test_abc",
			"secret_key":      "sk_bad",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, integration.StatusError, intg.Status())
	assert.Equal(t, "invalid credentials", intg.ErrorMessage())
}

func TestIntegrationService_CreateIntegration_UnknownTemplate(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.integrationSvc.CreateIntegration(context.Background(), CreateIntegrationInput{
		TemplateID: "fax-machine",
	})
	assert.ErrorIs(t, err, integration.ErrTemplateNotFound)
}

func TestIntegrationService_CreateIntegration_MissingConfig(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.integrationSvc.CreateIntegration(context.Background(), CreateIntegrationInput{
		TemplateID: "stripe",
		Config:     map[string]string{"publishable_key": "pk_test_abc"},
	})
	require.ErrorIs(t, err, integration.ErrMissingConfigField)
	assert.Contains(t, err.Error(), "secret_key")
}

func TestIntegrationService_GetIntegration_InvalidID(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.integrationSvc.GetIntegration(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestIntegrationService_UpdateIntegration_Partial(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	name := "Billing (EU)"
	updated, err := f.integrationSvc.UpdateIntegration(context.Background(), intg.ID().String(), UpdateIntegrationInput{
		Name:       &name,
		RateLimits: &RateLimitsInput{RequestsPerMinute: 30, RequestsPerDay: 5000},
	})
	require.NoError(t, err)
	assert.Equal(t, "Billing (EU)", updated.Name())
	assert.Equal(t, 30, updated.RateLimits().RequestsPerMinute)
	// Untouched fields survive.
	assert.Equal(t, "pk_test_abc", updated.Config()["publishable_key"])
}

func TestIntegrationService_UpdateIntegration_ConfigRevalidated(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	_, err := f.integrationSvc.UpdateIntegration(context.Background(), intg.ID().String(), UpdateIntegrationInput{
		Config: map[string]string{"publishable_key": "pk_new"},
	})
	assert.ErrorIs(t, err, integration.ErrMissingConfigField)
}

func TestIntegrationService_DeleteIntegration_CancelsRetriesAndCascades(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	// A webhook with a retry pending against this integration.
	wh, err := f.webhookSvc.CreateWebhook(context.Background(), CreateWebhookInput{
		IntegrationID: intg.ID().String(),
		Name:          "invoices",
		URL:           "https://receiver.example.com/hooks",
		Events:        []string{"invoice.paid"},
	})
	require.NoError(t, err)

	f.sender.mu.Lock()
	f.sender.results = []*transport.DeliveryResult{deliveryFail()}
	f.sender.mu.Unlock()

	_, err = f.webhookSvc.TriggerWebhook(context.Background(), wh.ID().String(), "invoice.paid", map[string]any{"invoice_id": "INV-9"})
	require.NoError(t, err)
	waitFor(t, "retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })

	require.NoError(t, f.integrationSvc.DeleteIntegration(context.Background(), intg.ID().String()))

	assert.Equal(t, 0, f.clock.pendingTimers())
	_, err = f.integrations.GetByID(context.Background(), intg.ID())
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.webhooks.GetByID(context.Background(), wh.ID())
	assert.True(t, errors.Is(err, webhook.ErrWebhookNotFound) || errors.Is(err, shared.ErrNotFound))
	assert.Equal(t, 0, f.deliveries.count())
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/crypto"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

func (f *serviceFixture) createWebhook(t *testing.T, integrationID string, events ...string) *webhook.Webhook {
	t.Helper()
	if len(events) == 0 {
		events = []string{"load.created", "invoice.paid"}
	}
	w, err := f.webhookSvc.CreateWebhook(context.Background(), CreateWebhookInput{
		IntegrationID: integrationID,
		Name:          "dispatch feed",
		URL:           "https://receiver.example.com/hooks/loads",
		Events:        events,
	})
	require.NoError(t, err)
	return w
}

func TestWebhookService_CreateWebhook_GeneratesSecret(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	w := f.createWebhook(t, intg.ID().String())

	assert.Len(t, w.Secret(), 64) // 32 random bytes, hex encoded
	assert.Equal(t, webhook.StatusActive, w.Status())
	assert.Equal(t, webhook.DefaultRetryPolicy(), w.RetryPolicy())

	// The generated secret signs and verifies round trip.
	payload := []byte(`{"load_id":"L-1"}`)
	sig := crypto.Sign(w.Secret(), payload)
	assert.True(t, crypto.Verify(w.Secret(), payload, sig))
}

func TestWebhookService_CreateWebhook_Validation(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	_, err := f.webhookSvc.CreateWebhook(context.Background(), CreateWebhookInput{
		IntegrationID: intg.ID().String(),
		Name:          "no events",
		URL:           "https://receiver.example.com/hooks",
		Events:        nil,
	})
	assert.ErrorIs(t, err, webhook.ErrNoEvents)

	_, err = f.webhookSvc.CreateWebhook(context.Background(), CreateWebhookInput{
		IntegrationID: intg.ID().String(),
		Name:          "ssrf",
		URL:           "http://169.254.169.254/latest/meta-data",
		Events:        []string{"load.created"},
	})
	assert.ErrorIs(t, err, webhook.ErrInvalidURL)

	_, err = f.webhookSvc.CreateWebhook(context.Background(), CreateWebhookInput{
		IntegrationID: shared.NewID().String(),
		Name:          "orphan",
		URL:           "https://receiver.example.com/hooks",
		Events:        []string{"load.created"},
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.webhookSvc.CreateWebhook(context.Background(), CreateWebhookInput{
		IntegrationID: intg.ID().String(),
		Name:          "bad policy",
		URL:           "https://receiver.example.com/hooks",
		Events:        []string{"load.created"},
		RetryPolicy:   &RetryPolicyInput{MaxRetries: 3, RetryDelayMs: 1000, BackoffMultiplier: 0.5},
	})
	assert.ErrorIs(t, err, webhook.ErrInvalidRetryPolicy)
}

func TestWebhookService_TriggerWebhook_DeliversAsync(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)
	w := f.createWebhook(t, intg.ID().String())

	ev, err := f.webhookSvc.TriggerWebhook(context.Background(), w.ID().String(), "load.created",
		map[string]any{"load_id": "L-77"})
	require.NoError(t, err)
	assert.Equal(t, webhook.EventPending, ev.Status())

	waitFor(t, "event sent", func() bool { return f.events.status(ev.ID()) == webhook.EventSent })
	assert.Equal(t, 1, f.sender.callCount())
}

func TestWebhookService_TriggerWebhook_Rejections(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)
	w := f.createWebhook(t, intg.ID().String(), "load.created")

	_, err := f.webhookSvc.TriggerWebhook(context.Background(), w.ID().String(), "driver.assigned", nil)
	assert.ErrorIs(t, err, webhook.ErrEventNotSubscribed)

	inactive := false
	_, err = f.webhookSvc.UpdateWebhook(context.Background(), w.ID().String(), UpdateWebhookInput{Active: &inactive})
	require.NoError(t, err)

	_, err = f.webhookSvc.TriggerWebhook(context.Background(), w.ID().String(), "load.created", nil)
	assert.ErrorIs(t, err, webhook.ErrWebhookNotActive)
}

func TestWebhookService_RetryFailedEvents(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	w, err := f.webhookSvc.CreateWebhook(context.Background(), CreateWebhookInput{
		IntegrationID: intg.ID().String(),
		Name:          "flaky receiver",
		URL:           "https://receiver.example.com/hooks",
		Events:        []string{"load.created"},
		RetryPolicy:   &RetryPolicyInput{MaxRetries: 1, RetryDelayMs: 1000, BackoffMultiplier: 2},
	})
	require.NoError(t, err)

	f.sender.mu.Lock()
	f.sender.results = []*transport.DeliveryResult{deliveryFail(), deliveryFail(), deliveryOK(), deliveryOK()}
	f.sender.mu.Unlock()

	var failed []*webhook.Event
	for range 2 {
		ev, err := f.webhookSvc.TriggerWebhook(context.Background(), w.ID().String(), "load.created", nil)
		require.NoError(t, err)
		failed = append(failed, ev)
	}
	for _, ev := range failed {
		waitFor(t, "event failed", func() bool { return f.events.status(ev.ID()) == webhook.EventFailed })
	}

	requeued, err := f.webhookSvc.RetryFailedEvents(context.Background(), w.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)

	for _, ev := range failed {
		waitFor(t, "requeued event sent", func() bool { return f.events.status(ev.ID()) == webhook.EventSent })
		got, err := f.events.GetByID(context.Background(), ev.ID())
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts())
	}
}

func TestWebhookService_GetWebhookStats(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)
	w := f.createWebhook(t, intg.ID().String())

	f.sender.mu.Lock()
	f.sender.results = []*transport.DeliveryResult{deliveryOK(), deliveryFail(), deliveryOK()}
	f.sender.mu.Unlock()

	var evs []*webhook.Event
	for range 3 {
		ev, err := f.webhookSvc.TriggerWebhook(context.Background(), w.ID().String(), "load.created", nil)
		require.NoError(t, err)
		evs = append(evs, ev)
		waitFor(t, "event terminal or retrying", func() bool {
			s := f.events.status(ev.ID())
			return s == webhook.EventSent || s == webhook.EventRetrying
		})
	}

	stats, err := f.webhookSvc.GetWebhookStats(context.Background(), w.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEvents)
	// Two of three events delivered successfully.
	assert.InDelta(t, 66.6, stats.SuccessRate, 1.0)
	assert.Equal(t, 3, stats.Last24Hours.Events)
	assert.Equal(t, 2, stats.Last24Hours.Successes)
	assert.Equal(t, 1, stats.Last24Hours.Failures)
	assert.Greater(t, stats.AverageResponseTime, time.Duration(0))
}

func TestWebhookService_DeleteWebhook_CancelsRetries(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)
	w := f.createWebhook(t, intg.ID().String())

	f.sender.mu.Lock()
	f.sender.results = []*transport.DeliveryResult{deliveryFail()}
	f.sender.mu.Unlock()

	ev, err := f.webhookSvc.TriggerWebhook(context.Background(), w.ID().String(), "load.created", nil)
	require.NoError(t, err)
	waitFor(t, "retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })

	require.NoError(t, f.webhookSvc.DeleteWebhook(context.Background(), w.ID().String()))
	assert.Equal(t, 0, f.clock.pendingTimers())

	_, err = f.events.GetByID(context.Background(), ev.ID())
	assert.ErrorIs(t, err, webhook.ErrEventNotFound)
	assert.Equal(t, 0, f.deliveries.count())
}

func TestWebhookService_TestWebhook_NoPersistedRecords(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)
	w := f.createWebhook(t, intg.ID().String())

	result, err := f.webhookSvc.TestWebhook(context.Background(), w.ID().String())
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, 0, f.deliveries.count())
	total, err := f.events.CountTotal(context.Background(), w.ID())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestWebhookService_GenerateSecret(t *testing.T) {
	f := newServiceFixture(t)

	first, err := f.webhookSvc.GenerateSecret()
	require.NoError(t, err)
	second, err := f.webhookSvc.GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, first, 64) // 32 random bytes, hex encoded
	assert.NotEqual(t, first, second)
}

func TestWebhookService_VerifySignature(t *testing.T) {
	f := newServiceFixture(t)

	secret, err := f.webhookSvc.GenerateSecret()
	require.NoError(t, err)

	payload := []byte(`{"load_id":"L-1042"}`)
	sig := crypto.Sign(secret, payload)

	assert.True(t, f.webhookSvc.VerifySignature(secret, payload, sig))
	assert.False(t, f.webhookSvc.VerifySignature(secret, []byte(`{"load_id":"L-9999"}`), sig))
	assert.False(t, f.webhookSvc.VerifySignature("0000", payload, sig))
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
	"github.com/haulcrm/integrations/pkg/logger"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	webhooks   *memWebhookRepo
	events     *memEventRepo
	deliveries *memDeliveryRepo
	sender     *fakeSender
	clock      *fakeClock
}

func newDispatcherFixture(sender *fakeSender) *dispatcherFixture {
	events := newMemEventRepo()
	deliveries := newMemDeliveryRepo(events)
	webhooks := newMemWebhookRepo(events, deliveries)
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	cfg := config.DeliveryConfig{
		AttemptTimeout: 5 * time.Second,
		MaxBackoff:     5 * time.Minute,
		RetentionDays:  30,
	}
	d := NewDispatcher(webhooks, events, deliveries, sender, clock, cfg, logger.NewNop())

	return &dispatcherFixture{
		dispatcher: d,
		webhooks:   webhooks,
		events:     events,
		deliveries: deliveries,
		sender:     sender,
		clock:      clock,
	}
}

// seedWebhook registers a webhook with a 1s/2x retry policy.
func (f *dispatcherFixture) seedWebhook(t *testing.T, maxRetries int) *webhook.Webhook {
	t.Helper()
	w := webhook.NewWebhook(webhook.NewID(), shared.NewID(), "orders feed", "https://receiver.example.com/hook",
		[]string{"load.created"}, "53cr3t")
	w.SetRetryPolicy(webhook.RetryPolicy{
		MaxRetries:        maxRetries,
		RetryDelay:        time.Second,
		BackoffMultiplier: 2.0,
	})
	require.NoError(t, f.webhooks.Create(context.Background(), w))
	return w
}

func (f *dispatcherFixture) seedEvent(t *testing.T, w *webhook.Webhook) *webhook.Event {
	t.Helper()
	ev := webhook.NewEvent(webhook.NewID(), w.ID(), "load.created",
		map[string]any{"load_id": "L-1042"}, f.clock.Now())
	require.NoError(t, f.events.Create(context.Background(), ev))
	return ev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatcher_FirstAttemptSucceeds(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryOK()))
	w := f.seedWebhook(t, 3)
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "event sent", func() bool { return f.events.status(ev.ID()) == webhook.EventSent })

	assert.Equal(t, 1, f.sender.callCount())
	assert.Equal(t, 0, f.clock.pendingTimers())

	records, err := f.deliveries.ListByEvent(context.Background(), ev.ID())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, webhook.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, 1, records[0].Attempt)

	waitFor(t, "success counter", func() bool {
		got, err := f.webhooks.GetByID(context.Background(), w.ID())
		return err == nil && got.SuccessCount() == 1
	})
}

func TestDispatcher_RetriesWithExponentialBackoff(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryFail(), deliveryFail(), deliveryOK()))
	w := f.seedWebhook(t, 3)
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "first retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })
	assert.Equal(t, webhook.EventRetrying, f.events.status(ev.ID()))
	assert.Equal(t, 1, f.sender.callCount())

	// First retry waits the base delay. Half of it is not enough.
	f.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, f.sender.callCount())

	f.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 2, f.sender.callCount())
	assert.Equal(t, webhook.EventRetrying, f.events.status(ev.ID()))

	// Second retry backs off to 2x the base delay.
	f.clock.Advance(time.Second)
	assert.Equal(t, 2, f.sender.callCount())
	f.clock.Advance(time.Second)
	assert.Equal(t, 3, f.sender.callCount())
	assert.Equal(t, webhook.EventSent, f.events.status(ev.ID()))

	records, err := f.deliveries.ListByEvent(context.Background(), ev.ID())
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Attempt)
	}
	assert.Equal(t, webhook.OutcomeFailed, records[0].Outcome)
	assert.Equal(t, webhook.OutcomeFailed, records[1].Outcome)
	assert.Equal(t, webhook.OutcomeSuccess, records[2].Outcome)
}

func TestDispatcher_ExhaustsRetriesAndFailsTerminally(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryFail()))
	w := f.seedWebhook(t, 2)
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })

	f.clock.Advance(time.Second)
	assert.Equal(t, 2, f.sender.callCount())
	assert.Equal(t, webhook.EventFailed, f.events.status(ev.ID()))
	assert.Equal(t, 0, f.clock.pendingTimers())

	got, err := f.events.GetByID(context.Background(), ev.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts())
	assert.Nil(t, got.NextRetryAt())
	assert.NotEmpty(t, got.ErrorMessage())
}

func TestDispatcher_MaxBackoffCapsDelay(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryFail()))
	w := f.seedWebhook(t, 5)
	// 1 minute base with 10x growth would put the second retry at 10
	// minutes, past the fixture's 5 minute cap.
	w.SetRetryPolicy(webhook.RetryPolicy{
		MaxRetries:        5,
		RetryDelay:        time.Minute,
		BackoffMultiplier: 10.0,
	})
	require.NoError(t, f.webhooks.Update(context.Background(), w))
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })

	f.clock.Advance(time.Minute)
	assert.Equal(t, 2, f.sender.callCount())

	// Uncapped this retry would not fire for 10 minutes.
	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 3, f.sender.callCount())
}

func TestDispatcher_RecoverReschedulesInterruptedRetry(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryOK()))
	w := f.seedWebhook(t, 3)

	// An event the previous process left mid-chain: one failed attempt,
	// retry stored a second out, no timer in this process.
	ev := f.seedEvent(t, w)
	ev.MarkFailed(f.clock.Now(), "connection refused", w.RetryPolicy(), 0)
	require.NoError(t, f.events.Update(context.Background(), ev))

	n, err := f.dispatcher.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.clock.pendingTimers())
	assert.Equal(t, 0, f.sender.callCount())

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.sender.callCount())
	assert.Equal(t, webhook.EventSent, f.events.status(ev.ID()))
}

func TestDispatcher_RecoverAttemptsDueAndPendingEvents(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryOK()))
	w := f.seedWebhook(t, 3)

	// Past-due retry: its stored next retry time elapsed while the
	// process was down.
	overdue := f.seedEvent(t, w)
	overdue.MarkFailed(f.clock.Now().Add(-time.Minute), "connection refused", w.RetryPolicy(), 0)
	require.NoError(t, f.events.Update(context.Background(), overdue))

	// Pending event handed off just before the process died, never
	// attempted.
	stranded := f.seedEvent(t, w)

	n, err := f.dispatcher.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	waitFor(t, "overdue event sent", func() bool { return f.events.status(overdue.ID()) == webhook.EventSent })
	waitFor(t, "stranded event sent", func() bool { return f.events.status(stranded.ID()) == webhook.EventSent })
	assert.Equal(t, 2, f.sender.callCount())
	assert.Equal(t, 0, f.clock.pendingTimers())
}

func TestDispatcher_RecoverSkipsTerminalEvents(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryOK()))
	w := f.seedWebhook(t, 1)

	done := f.seedEvent(t, w)
	done.MarkSent(f.clock.Now(), webhook.Response{StatusCode: 200, Body: "ok"})
	require.NoError(t, f.events.Update(context.Background(), done))

	exhausted := f.seedEvent(t, w)
	exhausted.MarkFailed(f.clock.Now(), "down", w.RetryPolicy(), 0)
	require.NoError(t, f.events.Update(context.Background(), exhausted))
	require.Equal(t, webhook.EventFailed, exhausted.Status())

	n, err := f.dispatcher.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, f.sender.callCount())
	assert.Equal(t, 0, f.clock.pendingTimers())
}

func TestDispatcher_CancelForWebhook(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryFail()))
	w := f.seedWebhook(t, 3)
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })

	canceled := f.dispatcher.CancelForWebhook(w.ID())
	assert.Equal(t, 1, canceled)
	assert.Equal(t, 0, f.clock.pendingTimers())

	// Nothing fires after cancellation.
	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.sender.callCount())
	assert.Equal(t, webhook.EventRetrying, f.events.status(ev.ID()))
}

func TestDispatcher_CancelForIntegration(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryFail()))
	integrationID := shared.NewID()

	var events []*webhook.Event
	for _, name := range []string{"hook a", "hook b"} {
		w := webhook.NewWebhook(webhook.NewID(), integrationID, name, "https://receiver.example.com/"+name,
			[]string{"load.created"}, "53cr3t")
		require.NoError(t, f.webhooks.Create(context.Background(), w))
		ev := f.seedEvent(t, w)
		events = append(events, ev)
		f.dispatcher.Enqueue(w, ev)
	}
	waitFor(t, "both retries scheduled", func() bool { return f.clock.pendingTimers() == 2 })

	canceled, err := f.dispatcher.CancelForIntegration(context.Background(), integrationID)
	require.NoError(t, err)
	assert.Equal(t, 2, canceled)
	assert.Equal(t, 0, f.clock.pendingTimers())

	f.clock.Advance(time.Hour)
	assert.Equal(t, 2, f.sender.callCount())
	for _, ev := range events {
		assert.Equal(t, webhook.EventRetrying, f.events.status(ev.ID()))
	}
}

func TestDispatcher_AbandonsChainWhenWebhookDeleted(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryFail()))
	w := f.seedWebhook(t, 3)
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })

	// Webhook row disappears without going through the dispatcher. The
	// timer still fires but the chain stops at the reload.
	require.NoError(t, f.webhooks.Delete(context.Background(), w.ID()))

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.sender.callCount())
}

func TestDispatcher_WebhookStatusFollowsDeliveries(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryFail(), deliveryOK()))
	w := f.seedWebhook(t, 3)
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "failure recorded", func() bool {
		got, err := f.webhooks.GetByID(context.Background(), w.ID())
		return err == nil && got.FailureCount() == 1
	})
	got, err := f.webhooks.GetByID(context.Background(), w.ID())
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusError, got.Status())

	waitFor(t, "retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })
	f.clock.Advance(time.Second)

	got, err = f.webhooks.GetByID(context.Background(), w.ID())
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusActive, got.Status())
	assert.Equal(t, 1, got.SuccessCount())
	require.NotNil(t, got.LastTriggeredAt())
}

func TestDispatcher_ShutdownStopsPendingRetries(t *testing.T) {
	f := newDispatcherFixture(newFakeSender(deliveryFail()))
	w := f.seedWebhook(t, 3)
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "retry scheduled", func() bool { return f.clock.pendingTimers() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Shutdown(ctx))
	assert.Equal(t, 0, f.clock.pendingTimers())

	// Enqueue after shutdown is a no-op.
	ev2 := f.seedEvent(t, w)
	f.dispatcher.Enqueue(w, ev2)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.sender.callCount())
}

func TestDispatcher_TimeoutClassifiedInLedger(t *testing.T) {
	timeoutResult := &transport.DeliveryResult{
		Success:      false,
		Error:        "context deadline exceeded",
		ResponseTime: 5 * time.Second,
	}
	f := newDispatcherFixture(newFakeSender(timeoutResult))
	w := f.seedWebhook(t, 1)
	ev := f.seedEvent(t, w)

	f.dispatcher.Enqueue(w, ev)
	waitFor(t, "event failed", func() bool { return f.events.status(ev.ID()) == webhook.EventFailed })

	records, err := f.deliveries.ListByEvent(context.Background(), ev.ID())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, webhook.OutcomeTimeout, records[0].Outcome)
}

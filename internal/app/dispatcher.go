package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/internal/metrics"
	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
	"github.com/haulcrm/integrations/pkg/logger"
)

// Dispatcher delivers webhook events asynchronously. Each triggered event
// runs its delivery chain on its own goroutine: attempt, and on failure a
// scheduled retry with exponential backoff until the webhook's retry
// policy is exhausted. Attempts within one chain are serialized; chains
// for different events run independently.
//
// Scheduled retries are tracked per webhook so that deleting a webhook
// (or its integration) cancels them synchronously.
type Dispatcher struct {
	webhooks   webhook.Repository
	events     webhook.EventRepository
	deliveries webhook.DeliveryRepository
	sender     transport.Sender
	clock      Clock
	logger     *logger.Logger

	// attemptBudget bounds one attempt end to end, including the
	// repository round trips around the HTTP call.
	attemptBudget time.Duration
	maxBackoff    time.Duration

	mu     sync.Mutex
	timers map[webhook.ID]map[webhook.ID]Timer // webhook ID -> event ID -> pending retry
	closed bool
	wg     sync.WaitGroup

	counterMu sync.Mutex
	counters  map[webhook.ID]*sync.Mutex
}

// NewDispatcher creates a dispatcher. The clock is injectable so tests
// can drive retry schedules deterministically; pass NewClock() in
// production wiring.
func NewDispatcher(
	webhooks webhook.Repository,
	events webhook.EventRepository,
	deliveries webhook.DeliveryRepository,
	sender transport.Sender,
	clock Clock,
	cfg config.DeliveryConfig,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		webhooks:      webhooks,
		events:        events,
		deliveries:    deliveries,
		sender:        sender,
		clock:         clock,
		logger:        log.With("component", "dispatcher"),
		attemptBudget: cfg.AttemptTimeout + 10*time.Second,
		maxBackoff:    cfg.MaxBackoff,
		timers:        make(map[webhook.ID]map[webhook.ID]Timer),
		counters:      make(map[webhook.ID]*sync.Mutex),
	}
}

// Enqueue starts the delivery chain for a pending event and returns
// immediately.
func (d *Dispatcher) Enqueue(wh *webhook.Webhook, ev *webhook.Event) {
	d.startChain(wh.ID(), ev.ID())
}

// startChain runs the next attempt on a fresh goroutine. No-op after
// shutdown.
func (d *Dispatcher) startChain(webhookID, eventID webhook.ID) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.attempt(webhookID, eventID)
	}()
}

// Recover reloads events a previous process left mid-chain and resumes
// their delivery chains: pending events are attempted immediately,
// retrying events are rescheduled at their stored next retry time (or
// attempted at once when it has already passed). Called on startup,
// before the dispatcher accepts new work.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	events, err := d.events.ListIncomplete(ctx)
	if err != nil {
		return 0, err
	}

	now := d.clock.Now()
	recovered := 0
	for _, ev := range events {
		if next := ev.NextRetryAt(); ev.Status() == webhook.EventRetrying && next != nil && next.After(now) {
			d.scheduleRetry(ev.WebhookID(), ev.ID(), next.Sub(now))
		} else {
			d.startChain(ev.WebhookID(), ev.ID())
		}
		recovered++
	}

	if recovered > 0 {
		d.logger.Info("resumed interrupted delivery chains", "count", recovered)
	}
	return recovered, nil
}

// attempt performs one delivery attempt and schedules the next retry if
// the event ends up in retrying state. Webhook and event are reloaded on
// every attempt: a webhook deleted mid-chain abandons the chain, and URL
// or header edits take effect on the next attempt.
func (d *Dispatcher) attempt(webhookID, eventID webhook.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), d.attemptBudget)
	defer cancel()

	wh, err := d.webhooks.GetByID(ctx, webhookID)
	if err != nil {
		d.logger.Debug("delivery chain abandoned, webhook gone",
			"webhook_id", webhookID.String(), "event_id", eventID.String())
		return
	}
	ev, err := d.events.GetByID(ctx, eventID)
	if err != nil {
		return
	}
	if ev.Status().IsTerminal() {
		return
	}

	result, err := d.sender.Deliver(ctx, wh, ev.Event(), ev.Payload())
	if err != nil {
		result = &transport.DeliveryResult{Success: false, Error: err.Error()}
	}
	now := d.clock.Now()

	outcome := webhook.OutcomeSuccess
	if !result.Success {
		outcome = classifyFailure(result.Error)
	}
	d.recordDelivery(ctx, wh.ID(), ev, result, outcome, now)

	if result.Success {
		ev.MarkSent(now, webhook.Response{StatusCode: result.StatusCode, Body: result.Body})
	} else {
		ev.MarkFailed(now, result.Error, wh.RetryPolicy(), d.maxBackoff)
	}
	if err := d.events.Update(ctx, ev); err != nil {
		d.logger.Error("failed to update event state",
			"event_id", ev.ID().String(), "error", err)
	}
	metrics.WebhookEventsTotal.WithLabelValues(ev.Status().String()).Inc()

	d.updateWebhookCounters(ctx, wh.ID(), result.Success, now)

	switch ev.Status() {
	case webhook.EventSent:
		d.logger.Debug("event delivered",
			"webhook_id", wh.ID().String(),
			"event_id", ev.ID().String(),
			"attempts", ev.Attempts(),
		)
	case webhook.EventRetrying:
		// MarkFailed stored the capped retry time; schedule off it so the
		// persisted timestamp and the timer always agree.
		delay := time.Duration(0)
		if next := ev.NextRetryAt(); next != nil {
			delay = next.Sub(now)
		}
		d.scheduleRetry(wh.ID(), ev.ID(), delay)
	case webhook.EventFailed:
		d.logger.Warn("event delivery exhausted retries",
			"webhook_id", wh.ID().String(),
			"event_id", ev.ID().String(),
			"attempts", ev.Attempts(),
			"error", ev.ErrorMessage(),
		)
	}
}

func (d *Dispatcher) recordDelivery(ctx context.Context, webhookID webhook.ID, ev *webhook.Event, result *transport.DeliveryResult, outcome webhook.Outcome, now time.Time) {
	var statusCode *int
	if result.StatusCode != 0 {
		code := result.StatusCode
		statusCode = &code
	}
	del := webhook.Delivery{
		ID:           webhook.NewID(),
		WebhookID:    webhookID,
		EventID:      ev.ID(),
		Attempt:      ev.Attempts() + 1,
		Outcome:      outcome,
		ResponseTime: result.ResponseTime,
		StatusCode:   statusCode,
		Error:        result.Error,
		Timestamp:    now,
	}
	if err := d.deliveries.Append(ctx, del); err != nil {
		d.logger.Error("failed to append delivery record",
			"event_id", ev.ID().String(), "error", err)
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(outcome.String()).Inc()
	metrics.WebhookDeliveryDuration.WithLabelValues(outcome.String()).Observe(result.ResponseTime.Seconds())
}

// updateWebhookCounters applies a load-modify-store on the webhook's
// success/failure counters under a per-webhook lock so concurrent event
// chains do not lose updates.
func (d *Dispatcher) updateWebhookCounters(ctx context.Context, webhookID webhook.ID, success bool, now time.Time) {
	lock := d.counterLock(webhookID)
	lock.Lock()
	defer lock.Unlock()

	wh, err := d.webhooks.GetByID(ctx, webhookID)
	if err != nil {
		return
	}
	if success {
		wh.RecordSuccess(now)
	} else {
		wh.RecordFailure(now)
	}
	if err := d.webhooks.Update(ctx, wh); err != nil {
		d.logger.Error("failed to update webhook counters",
			"webhook_id", webhookID.String(), "error", err)
	}
}

func (d *Dispatcher) counterLock(webhookID webhook.ID) *sync.Mutex {
	d.counterMu.Lock()
	defer d.counterMu.Unlock()
	lock, ok := d.counters[webhookID]
	if !ok {
		lock = &sync.Mutex{}
		d.counters[webhookID] = lock
	}
	return lock
}

func (d *Dispatcher) scheduleRetry(webhookID, eventID webhook.ID, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.wg.Add(1)
	timer := d.clock.AfterFunc(delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if pending := d.timers[webhookID]; pending != nil {
			delete(pending, eventID)
			if len(pending) == 0 {
				delete(d.timers, webhookID)
			}
		}
		d.mu.Unlock()
		metrics.WebhookRetryTimersActive.Dec()
		d.attempt(webhookID, eventID)
	})
	if d.timers[webhookID] == nil {
		d.timers[webhookID] = make(map[webhook.ID]Timer)
	}
	d.timers[webhookID][eventID] = timer

	metrics.WebhookRetriesScheduled.Inc()
	metrics.WebhookRetryTimersActive.Inc()
	d.logger.Debug("retry scheduled",
		"webhook_id", webhookID.String(),
		"event_id", eventID.String(),
		"delay", delay.String(),
	)
}

// CancelForWebhook stops every retry scheduled for the webhook and
// returns how many were canceled. Timers that already fired are left to
// finish; their chains will abandon themselves once the webhook row is
// gone.
func (d *Dispatcher) CancelForWebhook(webhookID webhook.ID) int {
	d.mu.Lock()
	pending := d.timers[webhookID]
	delete(d.timers, webhookID)
	d.mu.Unlock()

	canceled := 0
	for _, timer := range pending {
		if timer.Stop() {
			d.wg.Done()
			canceled++
			metrics.WebhookRetriesCanceled.Inc()
			metrics.WebhookRetryTimersActive.Dec()
		}
	}

	d.counterMu.Lock()
	delete(d.counters, webhookID)
	d.counterMu.Unlock()

	if canceled > 0 {
		d.logger.Info("canceled scheduled retries",
			"webhook_id", webhookID.String(), "count", canceled)
	}
	return canceled
}

// CancelForIntegration cancels scheduled retries for every webhook that
// belongs to the integration. Called before the integration's cascade
// delete so no timer fires against deleted rows.
func (d *Dispatcher) CancelForIntegration(ctx context.Context, integrationID webhook.ID) (int, error) {
	hooks, err := d.webhooks.ListByIntegration(ctx, integrationID)
	if err != nil {
		return 0, err
	}
	canceled := 0
	for _, wh := range hooks {
		canceled += d.CancelForWebhook(wh.ID())
	}
	return canceled, nil
}

// Shutdown stops accepting work, cancels pending retries and waits for
// in-flight attempts to finish or the context to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	all := d.timers
	d.timers = make(map[webhook.ID]map[webhook.ID]Timer)
	d.mu.Unlock()

	for _, pending := range all {
		for _, timer := range pending {
			if timer.Stop() {
				d.wg.Done()
				metrics.WebhookRetryTimersActive.Dec()
			}
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyFailure distinguishes timeouts from other failures for the
// delivery ledger.
func classifyFailure(errMsg string) webhook.Outcome {
	lower := strings.ToLower(errMsg)
	if strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "timeout") {
		return webhook.OutcomeTimeout
	}
	return webhook.OutcomeFailed
}

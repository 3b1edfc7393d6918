package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

// In-memory repositories backing the service tests. All of them are
// mutex-guarded because the dispatcher touches them from its own
// goroutines.

type memIntegrationRepo struct {
	mu    sync.Mutex
	items map[string]*integration.Integration

	// linked stores for cascade deletes, mirroring the SQL repository
	webhooks    *memWebhookRepo
	syncResults *memSyncResultRepo
	health      *memHealthRepo
}

var _ integration.Repository = (*memIntegrationRepo)(nil)

func newMemIntegrationRepo() *memIntegrationRepo {
	return &memIntegrationRepo{items: make(map[string]*integration.Integration)}
}

func (m *memIntegrationRepo) Create(_ context.Context, i *integration.Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[i.ID().String()] = i
	return nil
}

func (m *memIntegrationRepo) GetByID(_ context.Context, id integration.ID) (*integration.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.items[id.String()]
	if !ok {
		return nil, integration.ErrIntegrationNotFound
	}
	return i, nil
}

func (m *memIntegrationRepo) Update(_ context.Context, i *integration.Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[i.ID().String()]; !ok {
		return integration.ErrIntegrationNotFound
	}
	m.items[i.ID().String()] = i
	return nil
}

func (m *memIntegrationRepo) Delete(ctx context.Context, id integration.ID) error {
	m.mu.Lock()
	if _, ok := m.items[id.String()]; !ok {
		m.mu.Unlock()
		return integration.ErrIntegrationNotFound
	}
	delete(m.items, id.String())
	m.mu.Unlock()

	if m.webhooks != nil {
		hooks, _ := m.webhooks.ListByIntegration(ctx, id)
		for _, w := range hooks {
			_ = m.webhooks.Delete(ctx, w.ID())
		}
	}
	if m.syncResults != nil {
		_, _ = m.syncResults.DeleteOlderThan(ctx, id, 0)
	}
	if m.health != nil {
		m.health.mu.Lock()
		delete(m.health.snapshots, id.String())
		m.health.mu.Unlock()
	}
	return nil
}

func (m *memIntegrationRepo) List(_ context.Context, filter integration.Filter) (integration.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*integration.Integration
	for _, i := range m.items {
		if filter.Status != nil && i.Status() != *filter.Status {
			continue
		}
		if filter.Category != nil && i.Category() != *filter.Category {
			continue
		}
		out = append(out, i)
	}
	return integration.ListResult{
		Data:    out,
		Total:   int64(len(out)),
		Page:    filter.Page,
		PerPage: filter.PerPage,
	}, nil
}

func (m *memIntegrationRepo) ListByStatus(_ context.Context, status integration.Status) ([]*integration.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*integration.Integration
	for _, i := range m.items {
		if i.Status() == status {
			out = append(out, i)
		}
	}
	return out, nil
}

type memSyncResultRepo struct {
	mu      sync.Mutex
	results map[string][]integration.SyncResult
}

var _ integration.SyncResultRepository = (*memSyncResultRepo)(nil)

func newMemSyncResultRepo() *memSyncResultRepo {
	return &memSyncResultRepo{results: make(map[string][]integration.SyncResult)}
}

func (m *memSyncResultRepo) Append(_ context.Context, r integration.SyncResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.IntegrationID.String()
	m.results[key] = append(m.results[key], r)
	if excess := len(m.results[key]) - integration.MaxSyncHistory; excess > 0 {
		m.results[key] = m.results[key][excess:]
	}
	return nil
}

func (m *memSyncResultRepo) ListByIntegration(_ context.Context, id integration.ID, limit int) ([]integration.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := m.results[id.String()]
	out := make([]integration.SyncResult, len(results))
	copy(out, results)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSyncResultRepo) DeleteOlderThan(_ context.Context, id integration.ID, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := id.String()
	if excess := len(m.results[key]) - keep; excess > 0 {
		m.results[key] = m.results[key][excess:]
		return int64(excess), nil
	}
	return 0, nil
}

type memHealthRepo struct {
	mu        sync.Mutex
	snapshots map[string]integration.Health
}

var _ integration.HealthRepository = (*memHealthRepo)(nil)

func newMemHealthRepo() *memHealthRepo {
	return &memHealthRepo{snapshots: make(map[string]integration.Health)}
}

func (m *memHealthRepo) Upsert(_ context.Context, h integration.Health) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[h.IntegrationID.String()] = h
	return nil
}

func (m *memHealthRepo) GetByIntegration(_ context.Context, id integration.ID) (integration.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.snapshots[id.String()]
	if !ok {
		return integration.Health{}, integration.ErrHealthNotFound
	}
	return h, nil
}

func (m *memHealthRepo) List(_ context.Context) ([]integration.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]integration.Health, 0, len(m.snapshots))
	for _, h := range m.snapshots {
		out = append(out, h)
	}
	return out, nil
}

type memWebhookRepo struct {
	mu    sync.Mutex
	items map[string]*webhook.Webhook

	// linked event/delivery stores for cascade deletes
	events     *memEventRepo
	deliveries *memDeliveryRepo
}

var _ webhook.Repository = (*memWebhookRepo)(nil)

func newMemWebhookRepo(events *memEventRepo, deliveries *memDeliveryRepo) *memWebhookRepo {
	return &memWebhookRepo{
		items:      make(map[string]*webhook.Webhook),
		events:     events,
		deliveries: deliveries,
	}
}

func (m *memWebhookRepo) Create(_ context.Context, w *webhook.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[w.ID().String()] = w
	return nil
}

func (m *memWebhookRepo) GetByID(_ context.Context, id webhook.ID) (*webhook.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.items[id.String()]
	if !ok {
		return nil, webhook.ErrWebhookNotFound
	}
	return w, nil
}

func (m *memWebhookRepo) List(_ context.Context, filter webhook.Filter) (webhook.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhook.Webhook
	for _, w := range m.items {
		if filter.IntegrationID != nil && w.IntegrationID() != *filter.IntegrationID {
			continue
		}
		if filter.Status != nil && w.Status() != *filter.Status {
			continue
		}
		out = append(out, w)
	}
	return webhook.ListResult{Data: out, Total: int64(len(out)), Page: filter.Page, PerPage: filter.PerPage}, nil
}

func (m *memWebhookRepo) ListByIntegration(_ context.Context, integrationID webhook.ID) ([]*webhook.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhook.Webhook
	for _, w := range m.items {
		if w.IntegrationID() == integrationID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memWebhookRepo) Update(_ context.Context, w *webhook.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[w.ID().String()]; !ok {
		return webhook.ErrWebhookNotFound
	}
	m.items[w.ID().String()] = w
	return nil
}

func (m *memWebhookRepo) Delete(_ context.Context, id webhook.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id.String()]; !ok {
		return webhook.ErrWebhookNotFound
	}
	delete(m.items, id.String())
	if m.events != nil {
		m.events.deleteByWebhook(id)
	}
	if m.deliveries != nil {
		m.deliveries.deleteByWebhook(id)
	}
	return nil
}

type memEventRepo struct {
	mu    sync.Mutex
	items map[string]*webhook.Event
}

var _ webhook.EventRepository = (*memEventRepo)(nil)

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{items: make(map[string]*webhook.Event)}
}

func (m *memEventRepo) Create(_ context.Context, e *webhook.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[e.ID().String()] = e
	return nil
}

func (m *memEventRepo) GetByID(_ context.Context, id webhook.ID) (*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id.String()]
	if !ok {
		return nil, webhook.ErrEventNotFound
	}
	return e, nil
}

func (m *memEventRepo) Update(_ context.Context, e *webhook.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[e.ID().String()]; !ok {
		return webhook.ErrEventNotFound
	}
	m.items[e.ID().String()] = e
	return nil
}

func (m *memEventRepo) ListByWebhook(_ context.Context, webhookID webhook.ID, limit int) ([]*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhook.Event
	for _, e := range m.items {
		if e.WebhookID() == webhookID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEventRepo) ListByStatus(_ context.Context, webhookID webhook.ID, status webhook.EventStatus) ([]*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhook.Event
	for _, e := range m.items {
		if e.WebhookID() == webhookID && e.Status() == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEventRepo) ListIncomplete(_ context.Context) ([]*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhook.Event
	for _, e := range m.items {
		if !e.Status().IsTerminal() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

func (m *memEventRepo) CountSince(_ context.Context, webhookID webhook.ID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.items {
		if e.WebhookID() == webhookID && !e.CreatedAt().Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memEventRepo) CountTotal(_ context.Context, webhookID webhook.ID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.items {
		if e.WebhookID() == webhookID {
			n++
		}
	}
	return n, nil
}

func (m *memEventRepo) deleteByWebhook(webhookID webhook.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.items {
		if e.WebhookID() == webhookID {
			delete(m.items, key)
		}
	}
}

// status reads an event's status under the repo lock, for polling from
// tests while dispatcher goroutines are running.
func (m *memEventRepo) status(id webhook.ID) webhook.EventStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id.String()]
	if !ok {
		return ""
	}
	return e.Status()
}

type memDeliveryRepo struct {
	mu      sync.Mutex
	records []webhook.Delivery
	events  *memEventRepo
}

var _ webhook.DeliveryRepository = (*memDeliveryRepo)(nil)

func newMemDeliveryRepo(events *memEventRepo) *memDeliveryRepo {
	return &memDeliveryRepo{events: events}
}

func (m *memDeliveryRepo) Append(_ context.Context, d webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, d)
	return nil
}

func (m *memDeliveryRepo) ListByWebhook(_ context.Context, webhookID webhook.ID, limit int) ([]webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range m.records {
		if d.WebhookID == webhookID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDeliveryRepo) ListByEvent(_ context.Context, eventID webhook.ID) ([]webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range m.records {
		if d.EventID == eventID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (m *memDeliveryRepo) Stats(ctx context.Context, webhookID webhook.ID, since time.Time) (webhook.Stats, error) {
	m.mu.Lock()
	var (
		successes int
		totalTime time.Duration
		count     int
		window    webhook.WindowStats
	)
	for _, d := range m.records {
		if d.WebhookID != webhookID {
			continue
		}
		count++
		totalTime += d.ResponseTime
		if d.Outcome == webhook.OutcomeSuccess {
			successes++
		}
		if !d.Timestamp.Before(since) {
			window.Events++
			if d.Outcome == webhook.OutcomeSuccess {
				window.Successes++
			} else {
				window.Failures++
			}
		}
	}
	m.mu.Unlock()

	totalEvents, err := m.events.CountTotal(ctx, webhookID)
	if err != nil {
		return webhook.Stats{}, err
	}

	stats := webhook.Stats{TotalEvents: totalEvents, Last24Hours: window}
	if totalEvents > 0 {
		stats.SuccessRate = float64(successes) / float64(totalEvents) * 100
	}
	if count > 0 {
		stats.AverageResponseTime = totalTime / time.Duration(count)
	}
	return stats, nil
}

func (m *memDeliveryRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var removed int64
	for _, d := range m.records {
		if d.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	m.records = kept
	return removed, nil
}

func (m *memDeliveryRepo) deleteByWebhook(webhookID webhook.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, d := range m.records {
		if d.WebhookID != webhookID {
			kept = append(kept, d)
		}
	}
	m.records = kept
}

func (m *memDeliveryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// fakeClock drives retry schedules manually. Advance fires due timer
// callbacks synchronously on the caller's goroutine, so after an Advance
// the resulting delivery attempts have completed.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

var _ Clock = (*fakeClock)(nil)

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and fires every timer that comes due,
// including timers scheduled by the callbacks themselves if they fall
// inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		timer := c.nextDue()
		if timer == nil {
			return
		}
		timer.f()
	}
}

func (c *fakeClock) nextDue() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.when.After(c.now) {
			t.fired = true
			return t
		}
	}
	return nil
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// fakeSender returns scripted delivery results in order, then repeats
// the last one.
type fakeSender struct {
	mu      sync.Mutex
	results []*transport.DeliveryResult
	calls   int
}

var _ transport.Sender = (*fakeSender)(nil)

func newFakeSender(results ...*transport.DeliveryResult) *fakeSender {
	return &fakeSender{results: results}
}

func (s *fakeSender) Deliver(_ context.Context, _ *webhook.Webhook, _ string, _ map[string]any) (*transport.DeliveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx], nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func deliveryOK() *transport.DeliveryResult {
	return &transport.DeliveryResult{Success: true, StatusCode: 200, Body: `{"ok":true}`, ResponseTime: 20 * time.Millisecond}
}

func deliveryFail() *transport.DeliveryResult {
	return &transport.DeliveryResult{Success: false, StatusCode: 502, Body: "bad gateway", Error: "endpoint returned status 502", ResponseTime: 15 * time.Millisecond}
}

// fakeAdapter implements transport.Adapter with settable outcomes.
type fakeAdapter struct {
	mu      sync.Mutex
	probe   *transport.ProbeResult
	sync    *transport.SyncOutcome
	syncErr error
	execRes map[string]any
	execErr error
}

var _ transport.Adapter = (*fakeAdapter)(nil)

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		probe:   &transport.ProbeResult{Success: true, ResponseTime: 30 * time.Millisecond},
		sync:    &transport.SyncOutcome{RecordsProcessed: 10, RecordsCreated: 6, RecordsUpdated: 4},
		execRes: map[string]any{"ok": true},
	}
}

func (a *fakeAdapter) setProbe(p *transport.ProbeResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probe = p
}

func (a *fakeAdapter) TestConnection(_ context.Context, _ *integration.Integration) (*transport.ProbeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.probe, nil
}

func (a *fakeAdapter) Sync(_ context.Context, _ *integration.Integration, _ string) (*transport.SyncOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.syncErr != nil {
		return nil, a.syncErr
	}
	return a.sync, nil
}

func (a *fakeAdapter) Execute(_ context.Context, _ *integration.Integration, _ string, _ map[string]any) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.execErr != nil {
		return nil, a.execErr
	}
	return a.execRes, nil
}

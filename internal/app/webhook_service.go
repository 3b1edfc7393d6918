package app

import (
	"context"
	"fmt"
	"time"

	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/internal/metrics"
	"github.com/haulcrm/integrations/pkg/crypto"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
	"github.com/haulcrm/integrations/pkg/logger"
	"github.com/haulcrm/integrations/pkg/validator"
)

// statsWindow is the rolling window reported in webhook stats.
const statsWindow = 24 * time.Hour

// WebhookService manages webhook registrations and delivery history, and
// hands triggered events to the Dispatcher.
type WebhookService struct {
	webhooks     webhook.Repository
	events       webhook.EventRepository
	deliveries   webhook.DeliveryRepository
	integrations integration.Repository
	dispatcher   *Dispatcher
	sender       transport.Sender
	endpoints    *validator.EndpointValidator
	clock        Clock
	statsCache   StatsCache
	logger       *logger.Logger
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(
	webhooks webhook.Repository,
	events webhook.EventRepository,
	deliveries webhook.DeliveryRepository,
	integrations integration.Repository,
	dispatcher *Dispatcher,
	sender transport.Sender,
	endpoints *validator.EndpointValidator,
	clock Clock,
	log *logger.Logger,
) *WebhookService {
	return &WebhookService{
		webhooks:     webhooks,
		events:       events,
		deliveries:   deliveries,
		integrations: integrations,
		dispatcher:   dispatcher,
		sender:       sender,
		endpoints:    endpoints,
		clock:        clock,
		logger:       log.With("service", "webhook"),
	}
}

// RetryPolicyInput carries retry tuning for create and update.
type RetryPolicyInput struct {
	MaxRetries        int     `json:"max_retries" validate:"min=0,max=10"`
	RetryDelayMs      int     `json:"retry_delay_ms" validate:"min=1"`
	BackoffMultiplier float64 `json:"backoff_multiplier" validate:"min=1"`
}

func (in RetryPolicyInput) toPolicy() webhook.RetryPolicy {
	return webhook.RetryPolicy{
		MaxRetries:        in.MaxRetries,
		RetryDelay:        time.Duration(in.RetryDelayMs) * time.Millisecond,
		BackoffMultiplier: in.BackoffMultiplier,
	}
}

// CreateWebhookInput represents input for creating a webhook.
type CreateWebhookInput struct {
	IntegrationID string            `json:"integration_id" validate:"required,uuid"`
	Name          string            `json:"name" validate:"required,min=1,max=255"`
	URL           string            `json:"url" validate:"required,url,max=1000"`
	Events        []string          `json:"events" validate:"required,min=1"`
	Secret        string            `json:"secret" validate:"omitempty,max=500"`
	Headers       map[string]string `json:"headers"`
	RetryPolicy   *RetryPolicyInput `json:"retry_policy"`
}

// CreateWebhook registers a webhook under an integration. A signing
// secret is generated when none is supplied.
func (s *WebhookService) CreateWebhook(ctx context.Context, input CreateWebhookInput) (*webhook.Webhook, error) {
	integrationID, err := shared.IDFromString(input.IntegrationID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}
	if len(input.Events) == 0 {
		return nil, webhook.ErrNoEvents
	}
	if err := s.endpoints.ValidateEndpoint(input.URL); err != nil {
		return nil, fmt.Errorf("%w: %s", webhook.ErrInvalidURL, err.Error())
	}

	// The integration must exist; its cascade delete owns this webhook's
	// lifetime.
	if _, err := s.integrations.GetByID(ctx, integrationID); err != nil {
		return nil, err
	}

	secret := input.Secret
	if secret == "" {
		secret, err = crypto.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	}

	w := webhook.NewWebhook(webhook.NewID(), integrationID, input.Name, input.URL, input.Events, secret)
	if len(input.Headers) > 0 {
		w.SetHeaders(input.Headers)
	}
	if input.RetryPolicy != nil {
		policy := input.RetryPolicy.toPolicy()
		if !policy.IsValid() {
			return nil, webhook.ErrInvalidRetryPolicy
		}
		w.SetRetryPolicy(policy)
	}

	if err := s.webhooks.Create(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("webhook created",
		"id", w.ID().String(),
		"integration_id", integrationID.String(),
		"url", w.URL(),
		"events", len(w.Events()),
	)

	return w, nil
}

// GetWebhook retrieves a webhook by ID.
func (s *WebhookService) GetWebhook(ctx context.Context, id string) (*webhook.Webhook, error) {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}
	return s.webhooks.GetByID(ctx, webhookID)
}

// ListWebhooksInput represents input for listing webhooks.
type ListWebhooksInput struct {
	IntegrationID string `json:"integration_id" validate:"omitempty,uuid"`
	Status        string `json:"status"`
	Event         string `json:"event"`
	Search        string `json:"search"`
	Page          int    `json:"page"`
	PerPage       int    `json:"per_page"`
	SortBy        string `json:"sort_by"`
	SortOrder     string `json:"sort_order"`
}

// ListWebhooks retrieves a paginated list of webhooks.
func (s *WebhookService) ListWebhooks(ctx context.Context, input ListWebhooksInput) (webhook.ListResult, error) {
	filter := webhook.NewFilter()
	filter.Event = input.Event
	filter.Search = input.Search

	if input.IntegrationID != "" {
		integrationID, err := shared.IDFromString(input.IntegrationID)
		if err != nil {
			return webhook.ListResult{}, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
		}
		filter.IntegrationID = &integrationID
	}
	if input.Status != "" {
		status := webhook.Status(input.Status)
		if !status.IsValid() {
			return webhook.ListResult{}, fmt.Errorf("%w: invalid webhook status: %s", shared.ErrValidation, input.Status)
		}
		filter.Status = &status
	}
	if input.Page > 0 {
		filter.Page = input.Page
	}
	if input.PerPage > 0 {
		filter.PerPage = input.PerPage
	}
	if input.SortBy != "" {
		filter.SortBy = input.SortBy
	}
	if input.SortOrder != "" {
		filter.SortOrder = input.SortOrder
	}

	return s.webhooks.List(ctx, filter)
}

// GetWebhooksForIntegration returns every webhook registered under an
// integration, most recently updated first.
func (s *WebhookService) GetWebhooksForIntegration(ctx context.Context, integrationID string) ([]*webhook.Webhook, error) {
	id, err := shared.IDFromString(integrationID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}
	return s.webhooks.ListByIntegration(ctx, id)
}

// UpdateWebhookInput represents input for updating a webhook. Nil fields
// are left unchanged.
type UpdateWebhookInput struct {
	Name        *string           `json:"name" validate:"omitempty,min=1,max=255"`
	URL         *string           `json:"url" validate:"omitempty,url,max=1000"`
	Events      []string          `json:"events"`
	Secret      *string           `json:"secret" validate:"omitempty,max=500"`
	Headers     map[string]string `json:"headers"`
	RetryPolicy *RetryPolicyInput `json:"retry_policy"`
	Active      *bool             `json:"active"`
}

// UpdateWebhook applies a partial update.
func (s *WebhookService) UpdateWebhook(ctx context.Context, id string, input UpdateWebhookInput) (*webhook.Webhook, error) {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}

	w, err := s.webhooks.GetByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		w.SetName(*input.Name)
	}
	if input.URL != nil {
		if err := s.endpoints.ValidateEndpoint(*input.URL); err != nil {
			return nil, fmt.Errorf("%w: %s", webhook.ErrInvalidURL, err.Error())
		}
		w.SetURL(*input.URL)
	}
	if input.Events != nil {
		if len(input.Events) == 0 {
			return nil, webhook.ErrNoEvents
		}
		w.SetEvents(input.Events)
	}
	if input.Secret != nil && *input.Secret != "" {
		w.SetSecret(*input.Secret)
	}
	if input.Headers != nil {
		w.SetHeaders(input.Headers)
	}
	if input.RetryPolicy != nil {
		policy := input.RetryPolicy.toPolicy()
		if !policy.IsValid() {
			return nil, webhook.ErrInvalidRetryPolicy
		}
		w.SetRetryPolicy(policy)
	}
	if input.Active != nil {
		if *input.Active {
			w.Activate()
		} else {
			w.Deactivate()
		}
	}

	if err := s.webhooks.Update(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("webhook updated", "id", w.ID().String())
	return w, nil
}

// DeleteWebhook cancels the webhook's scheduled retries, then removes it
// with its events and deliveries in one transaction.
func (s *WebhookService) DeleteWebhook(ctx context.Context, id string) error {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}

	canceled := s.dispatcher.CancelForWebhook(webhookID)

	if err := s.webhooks.Delete(ctx, webhookID); err != nil {
		return err
	}

	s.logger.Info("webhook deleted",
		"id", webhookID.String(),
		"retries_canceled", canceled,
	)
	return nil
}

// TriggerWebhook records a pending event and hands it to the dispatcher.
// Delivery happens asynchronously; the call returns as soon as the event
// is persisted.
func (s *WebhookService) TriggerWebhook(ctx context.Context, id, event string, payload map[string]any) (*webhook.Event, error) {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}

	w, err := s.webhooks.GetByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if !w.IsActive() {
		return nil, webhook.ErrWebhookNotActive
	}
	if !w.Subscribes(event) {
		return nil, fmt.Errorf("%w: %s", webhook.ErrEventNotSubscribed, event)
	}

	ev := webhook.NewEvent(webhook.NewID(), w.ID(), event, payload, s.clock.Now())
	if err := s.events.Create(ctx, ev); err != nil {
		return nil, err
	}
	metrics.WebhookEventsTotal.WithLabelValues(ev.Status().String()).Inc()

	s.dispatcher.Enqueue(w, ev)

	s.logger.Debug("webhook triggered",
		"webhook_id", w.ID().String(),
		"event_id", ev.ID().String(),
		"event", event,
	)

	return ev, nil
}

// TestWebhook sends a one-off probe payload to the webhook endpoint. No
// event or delivery record is persisted.
func (s *WebhookService) TestWebhook(ctx context.Context, id string) (*transport.DeliveryResult, error) {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}

	w, err := s.webhooks.GetByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"test":       true,
		"webhook_id": w.ID().String(),
	}
	return s.sender.Deliver(ctx, w, "webhook.test", payload)
}

// RetryFailedEvents requeues every terminally failed event of a webhook
// with a clean attempt counter and returns how many were requeued.
func (s *WebhookService) RetryFailedEvents(ctx context.Context, id string) (int, error) {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}

	w, err := s.webhooks.GetByID(ctx, webhookID)
	if err != nil {
		return 0, err
	}

	failed, err := s.events.ListByStatus(ctx, webhookID, webhook.EventFailed)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, ev := range failed {
		ev.ResetForRetry(s.clock.Now())
		if err := s.events.Update(ctx, ev); err != nil {
			s.logger.Error("failed to requeue event",
				"event_id", ev.ID().String(), "error", err)
			continue
		}
		s.dispatcher.Enqueue(w, ev)
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("failed events requeued",
			"webhook_id", webhookID.String(), "count", requeued)
	}
	return requeued, nil
}

// GetWebhookEvents returns recent events for a webhook, newest first.
func (s *WebhookService) GetWebhookEvents(ctx context.Context, id string, limit int) ([]*webhook.Event, error) {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}
	if _, err := s.webhooks.GetByID(ctx, webhookID); err != nil {
		return nil, err
	}
	return s.events.ListByWebhook(ctx, webhookID, limit)
}

// GetWebhookDeliveries returns recent delivery attempts, newest first.
func (s *WebhookService) GetWebhookDeliveries(ctx context.Context, id string, limit int) ([]webhook.Delivery, error) {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}
	if _, err := s.webhooks.GetByID(ctx, webhookID); err != nil {
		return nil, err
	}
	return s.deliveries.ListByWebhook(ctx, webhookID, limit)
}

// GetEventDeliveries returns the full attempt trail of one event in
// attempt order.
func (s *WebhookService) GetEventDeliveries(ctx context.Context, eventID string) ([]webhook.Delivery, error) {
	id, err := shared.IDFromString(eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid event ID", shared.ErrValidation)
	}
	if _, err := s.events.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.deliveries.ListByEvent(ctx, id)
}

// StatsCache is a read-through cache for delivery stats. Aggregating the
// ledger is the most expensive query in the service, so the handler path
// tolerates slightly stale numbers.
type StatsCache interface {
	GetOrSet(ctx context.Context, key string, loader func(ctx context.Context) (*webhook.Stats, error)) (*webhook.Stats, error)
}

// SetStatsCache attaches an optional stats cache.
func (s *WebhookService) SetStatsCache(c StatsCache) {
	s.statsCache = c
}

// GetWebhookStats aggregates the webhook's delivery history, including a
// rolling 24 hour window.
func (s *WebhookService) GetWebhookStats(ctx context.Context, id string) (webhook.Stats, error) {
	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return webhook.Stats{}, fmt.Errorf("%w: invalid webhook ID", shared.ErrValidation)
	}
	if _, err := s.webhooks.GetByID(ctx, webhookID); err != nil {
		return webhook.Stats{}, err
	}
	if s.statsCache != nil {
		stats, err := s.statsCache.GetOrSet(ctx, webhookID.String(), func(ctx context.Context) (*webhook.Stats, error) {
			st, err := s.deliveries.Stats(ctx, webhookID, s.clock.Now().Add(-statsWindow))
			if err != nil {
				return nil, err
			}
			return &st, nil
		})
		if err != nil {
			return webhook.Stats{}, err
		}
		return *stats, nil
	}
	return s.deliveries.Stats(ctx, webhookID, s.clock.Now().Add(-statsWindow))
}

// GenerateSecret returns a fresh webhook signing secret.
func (s *WebhookService) GenerateSecret() (string, error) {
	return crypto.GenerateSecret()
}

// VerifySignature reports whether signature matches payload under the
// given secret.
func (s *WebhookService) VerifySignature(secret string, payload []byte, signature string) bool {
	return crypto.Verify(secret, payload, signature)
}

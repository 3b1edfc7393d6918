package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haulcrm/integrations/internal/app"
	"github.com/haulcrm/integrations/pkg/apierror"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
	"github.com/haulcrm/integrations/pkg/logger"
	"github.com/haulcrm/integrations/pkg/pagination"
	"github.com/haulcrm/integrations/pkg/validator"
)

// WebhookHandler handles HTTP requests for webhook management.
type WebhookHandler struct {
	service   *app.WebhookService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc *app.WebhookService, v *validator.Validator, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:   svc,
		validator: v,
		logger:    log,
	}
}

// --- Request/Response Types ---

// RetryPolicyBody represents a retry policy in requests and responses.
type RetryPolicyBody struct {
	MaxRetries        int     `json:"max_retries" validate:"min=0,max=10"`
	RetryDelayMs      int     `json:"retry_delay_ms" validate:"min=1,max=3600000"`
	BackoffMultiplier float64 `json:"backoff_multiplier" validate:"min=1,max=10"`
}

// CreateWebhookRequest represents the request to create a webhook.
type CreateWebhookRequest struct {
	IntegrationID string            `json:"integration_id" validate:"required,uuid"`
	Name          string            `json:"name" validate:"required,min=1,max=255"`
	URL           string            `json:"url" validate:"required,url,max=1000"`
	Events        []string          `json:"events" validate:"required,min=1,max=50"`
	Secret        string            `json:"secret" validate:"omitempty,max=500"`
	Headers       map[string]string `json:"headers"`
	RetryPolicy   *RetryPolicyBody  `json:"retry_policy"`
}

// UpdateWebhookRequest represents the request to update a webhook.
type UpdateWebhookRequest struct {
	Name        *string           `json:"name" validate:"omitempty,min=1,max=255"`
	URL         *string           `json:"url" validate:"omitempty,url,max=1000"`
	Events      []string          `json:"events" validate:"omitempty,max=50"`
	Secret      *string           `json:"secret" validate:"omitempty,max=500"`
	Headers     map[string]string `json:"headers"`
	RetryPolicy *RetryPolicyBody  `json:"retry_policy"`
	Active      *bool             `json:"active"`
}

// TriggerWebhookRequest represents the request to trigger a webhook event.
type TriggerWebhookRequest struct {
	Event   string         `json:"event" validate:"required,min=1,max=100"`
	Payload map[string]any `json:"payload"`
}

// WebhookResponse represents a webhook in the response. The signing
// secret is returned only on creation.
type WebhookResponse struct {
	ID              string            `json:"id"`
	IntegrationID   string            `json:"integration_id"`
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Events          []string          `json:"events"`
	Secret          string            `json:"secret,omitempty"`
	Status          string            `json:"status"`
	Headers         map[string]string `json:"headers,omitempty"`
	RetryPolicy     RetryPolicyBody   `json:"retry_policy"`
	SuccessCount    int               `json:"success_count"`
	FailureCount    int               `json:"failure_count"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EventResponse represents a webhook event in the response.
type EventResponse struct {
	ID            string            `json:"id"`
	WebhookID     string            `json:"webhook_id"`
	Event         string            `json:"event"`
	Payload       map[string]any    `json:"payload,omitempty"`
	Status        string            `json:"status"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time        `json:"next_retry_at,omitempty"`
	Response      *webhook.Response `json:"response,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// DeliveryResponse represents one delivery attempt in the response.
type DeliveryResponse struct {
	ID             string    `json:"id"`
	WebhookID      string    `json:"webhook_id"`
	EventID        string    `json:"event_id"`
	Attempt        int       `json:"attempt"`
	Outcome        string    `json:"outcome"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	StatusCode     *int      `json:"status_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// TestWebhookResponse represents the outcome of a test delivery.
type TestWebhookResponse struct {
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// VerifySignatureRequest represents the request body for verifying a
// received webhook signature.
type VerifySignatureRequest struct {
	Secret    string `json:"secret" validate:"required"`
	Payload   string `json:"payload" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// --- Handlers ---

// Create handles POST /api/v1/webhooks
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		h.handleValidationError(w, err)
		return
	}

	input := app.CreateWebhookInput{
		IntegrationID: req.IntegrationID,
		Name:          req.Name,
		URL:           req.URL,
		Events:        req.Events,
		Secret:        req.Secret,
		Headers:       req.Headers,
	}
	if req.RetryPolicy != nil {
		input.RetryPolicy = &app.RetryPolicyInput{
			MaxRetries:        req.RetryPolicy.MaxRetries,
			RetryDelayMs:      req.RetryPolicy.RetryDelayMs,
			BackoffMultiplier: req.RetryPolicy.BackoffMultiplier,
		}
	}

	wh, err := h.service.CreateWebhook(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	// The only response that carries the signing secret.
	resp := toWebhookResponse(wh)
	resp.Secret = wh.Secret()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// List handles GET /api/v1/webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := pagination.FromQuery(query.Get("page"), query.Get("per_page"))
	input := app.ListWebhooksInput{
		IntegrationID: query.Get("integration_id"),
		Status:        query.Get("status"),
		Event:         query.Get("event"),
		Search:        query.Get("search"),
		Page:          page.Page,
		PerPage:       page.PerPage,
		SortBy:        query.Get("sort"),
		SortOrder:     query.Get("order"),
	}

	result, err := h.service.ListWebhooks(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]WebhookResponse, len(result.Data))
	for i, wh := range result.Data {
		data[i] = toWebhookResponse(wh)
	}

	response := ListResponse[WebhookResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// Get handles GET /api/v1/webhooks/{id}
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	wh, err := h.service.GetWebhook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toWebhookResponse(wh))
}

// Update handles PATCH /api/v1/webhooks/{id}
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		h.handleValidationError(w, err)
		return
	}

	input := app.UpdateWebhookInput{
		Name:    req.Name,
		URL:     req.URL,
		Events:  req.Events,
		Secret:  req.Secret,
		Headers: req.Headers,
		Active:  req.Active,
	}
	if req.RetryPolicy != nil {
		input.RetryPolicy = &app.RetryPolicyInput{
			MaxRetries:        req.RetryPolicy.MaxRetries,
			RetryDelayMs:      req.RetryPolicy.RetryDelayMs,
			BackoffMultiplier: req.RetryPolicy.BackoffMultiplier,
		}
	}

	wh, err := h.service.UpdateWebhook(r.Context(), id, input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toWebhookResponse(wh))
}

// Delete handles DELETE /api/v1/webhooks/{id}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Trigger handles POST /api/v1/webhooks/{id}/trigger
func (h *WebhookHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TriggerWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		h.handleValidationError(w, err)
		return
	}

	ev, err := h.service.TriggerWebhook(r.Context(), id, req.Event, req.Payload)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(toEventResponse(ev))
}

// Test handles POST /api/v1/webhooks/{id}/test
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.TestWebhook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TestWebhookResponse{
		Success:        result.Success,
		StatusCode:     result.StatusCode,
		ResponseTimeMs: result.ResponseTime.Milliseconds(),
		Error:          result.Error,
	})
}

// RetryFailed handles POST /api/v1/webhooks/{id}/retry-failed
func (h *WebhookHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	requeued, err := h.service.RetryFailedEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"requeued": requeued})
}

// ListEvents handles GET /api/v1/webhooks/{id}/events
func (h *WebhookHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseQueryInt(r.URL.Query().Get("limit"), 50)

	events, err := h.service.GetWebhookEvents(r.Context(), id, limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]EventResponse, len(events))
	for i, ev := range events {
		data[i] = toEventResponse(ev)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  data,
		"total": len(data),
	})
}

// ListDeliveries handles GET /api/v1/webhooks/{id}/deliveries
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseQueryInt(r.URL.Query().Get("limit"), 50)

	deliveries, err := h.service.GetWebhookDeliveries(r.Context(), id, limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeDeliveries(w, deliveries)
}

// ListEventDeliveries handles GET /api/v1/webhook-events/{id}/deliveries
func (h *WebhookHandler) ListEventDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.service.GetEventDeliveries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeDeliveries(w, deliveries)
}

// Stats handles GET /api/v1/webhooks/{id}/stats
func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetWebhookStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_events":             stats.TotalEvents,
		"success_rate":             stats.SuccessRate,
		"average_response_time_ms": stats.AverageResponseTime.Milliseconds(),
		"last_24_hours":            stats.Last24Hours,
	})
}

// GenerateSecret handles POST /api/v1/webhooks/secret
func (h *WebhookHandler) GenerateSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.service.GenerateSecret()
	if err != nil {
		h.logger.Error("failed to generate webhook secret", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"secret": secret})
}

// VerifySignature handles POST /api/v1/webhooks/verify-signature
func (h *WebhookHandler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var req VerifySignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		h.handleValidationError(w, err)
		return
	}

	valid := h.service.VerifySignature(req.Secret, []byte(req.Payload), req.Signature)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
}

// --- Helpers ---

func (h *WebhookHandler) writeDeliveries(w http.ResponseWriter, deliveries []webhook.Delivery) {
	data := make([]DeliveryResponse, len(deliveries))
	for i := range deliveries {
		data[i] = toDeliveryResponse(&deliveries[i])
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  data,
		"total": len(data),
	})
}

func toWebhookResponse(wh *webhook.Webhook) WebhookResponse {
	policy := wh.RetryPolicy()
	return WebhookResponse{
		ID:            wh.ID().String(),
		IntegrationID: wh.IntegrationID().String(),
		Name:          wh.Name(),
		URL:           wh.URL(),
		Events:        wh.Events(),
		Status:        wh.Status().String(),
		Headers:       wh.Headers(),
		RetryPolicy: RetryPolicyBody{
			MaxRetries:        policy.MaxRetries,
			RetryDelayMs:      int(policy.RetryDelay.Milliseconds()),
			BackoffMultiplier: policy.BackoffMultiplier,
		},
		SuccessCount:    wh.SuccessCount(),
		FailureCount:    wh.FailureCount(),
		LastTriggeredAt: wh.LastTriggeredAt(),
		CreatedAt:       wh.CreatedAt(),
		UpdatedAt:       wh.UpdatedAt(),
	}
}

func toEventResponse(ev *webhook.Event) EventResponse {
	return EventResponse{
		ID:            ev.ID().String(),
		WebhookID:     ev.WebhookID().String(),
		Event:         ev.Event(),
		Payload:       ev.Payload(),
		Status:        ev.Status().String(),
		Attempts:      ev.Attempts(),
		LastAttemptAt: ev.LastAttemptAt(),
		NextRetryAt:   ev.NextRetryAt(),
		Response:      ev.Response(),
		ErrorMessage:  ev.ErrorMessage(),
		CreatedAt:     ev.CreatedAt(),
		UpdatedAt:     ev.UpdatedAt(),
	}
}

func toDeliveryResponse(d *webhook.Delivery) DeliveryResponse {
	return DeliveryResponse{
		ID:             d.ID.String(),
		WebhookID:      d.WebhookID.String(),
		EventID:        d.EventID.String(),
		Attempt:        d.Attempt,
		Outcome:        d.Outcome.String(),
		ResponseTimeMs: d.ResponseTime.Milliseconds(),
		StatusCode:     d.StatusCode,
		Error:          d.Error,
		Timestamp:      d.Timestamp,
	}
}

func (h *WebhookHandler) handleValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		apiErrors := make([]apierror.ValidationError, len(validationErrors))
		for i, ve := range validationErrors {
			apiErrors[i] = apierror.ValidationError{
				Field:   ve.Field,
				Message: ve.Message,
			}
		}
		apierror.ValidationFailed("Validation failed", apiErrors).WriteJSON(w)
		return
	}
	apierror.BadRequest("Validation error").WriteJSON(w)
}

func (h *WebhookHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrWebhookNotFound):
		apierror.NotFound("Webhook").WriteJSON(w)
	case errors.Is(err, webhook.ErrEventNotFound):
		apierror.NotFound("Webhook event").WriteJSON(w)
	case shared.IsNotFound(err):
		apierror.NotFound("").WriteJSON(w)
	case errors.Is(err, webhook.ErrWebhookNotActive):
		apierror.Conflict(err.Error()).WriteJSON(w)
	case shared.IsValidation(err):
		apierror.BadRequest(err.Error()).WriteJSON(w)
	default:
		h.logger.Error("webhook service error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
	}
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haulcrm/integrations/internal/app"
	"github.com/haulcrm/integrations/pkg/apierror"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/logger"
	"github.com/haulcrm/integrations/pkg/pagination"
	"github.com/haulcrm/integrations/pkg/validator"
)

// IntegrationHandler handles HTTP requests for integration management.
type IntegrationHandler struct {
	service   *app.IntegrationService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewIntegrationHandler creates a new IntegrationHandler.
func NewIntegrationHandler(svc *app.IntegrationService, v *validator.Validator, log *logger.Logger) *IntegrationHandler {
	return &IntegrationHandler{
		service:   svc,
		validator: v,
		logger:    log,
	}
}

// --- Request/Response Types ---

// CreateIntegrationRequest represents the request to create an integration.
type CreateIntegrationRequest struct {
	TemplateID string            `json:"template_id" validate:"required,min=1,max=100"`
	Name       string            `json:"name" validate:"omitempty,min=1,max=255"`
	Config     map[string]string `json:"config"`
}

// UpdateIntegrationRequest represents the request to update an integration.
type UpdateIntegrationRequest struct {
	Name       *string           `json:"name" validate:"omitempty,min=1,max=255"`
	Config     map[string]string `json:"config"`
	RateLimits *RateLimitsBody   `json:"rate_limits"`
}

// RateLimitsBody represents per-integration request budgets.
type RateLimitsBody struct {
	RequestsPerMinute int `json:"requests_per_minute" validate:"min=0,max=100000"`
	RequestsPerDay    int `json:"requests_per_day" validate:"min=0,max=10000000"`
}

// IntegrationResponse represents an integration in the response.
// Config values are never echoed back; only the configured keys are.
type IntegrationResponse struct {
	ID           string         `json:"id"`
	TemplateID   string         `json:"template_id"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Category     string         `json:"category"`
	Status       string         `json:"status"`
	SyncState    string         `json:"sync_state"`
	ConfigKeys   []string       `json:"config_keys"`
	Capabilities []string       `json:"capabilities"`
	RateLimits   RateLimitsBody `json:"rate_limits"`
	LastSyncAt   *time.Time     `json:"last_sync_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// --- Handlers ---

// Create handles POST /api/v1/integrations
func (h *IntegrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		h.handleValidationError(w, err)
		return
	}

	input := app.CreateIntegrationInput{
		TemplateID: req.TemplateID,
		Name:       req.Name,
		Config:     req.Config,
	}

	intg, err := h.service.CreateIntegration(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toIntegrationResponse(intg))
}

// List handles GET /api/v1/integrations
func (h *IntegrationHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := pagination.FromQuery(query.Get("page"), query.Get("per_page"))
	input := app.ListIntegrationsInput{
		Category:  query.Get("category"),
		Status:    query.Get("status"),
		Search:    query.Get("search"),
		Page:      page.Page,
		PerPage:   page.PerPage,
		SortBy:    query.Get("sort"),
		SortOrder: query.Get("order"),
	}

	result, err := h.service.ListIntegrations(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]IntegrationResponse, len(result.Data))
	for i, intg := range result.Data {
		data[i] = toIntegrationResponse(intg)
	}

	response := ListResponse[IntegrationResponse]{
		Data:       data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// Get handles GET /api/v1/integrations/{id}
func (h *IntegrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	intg, err := h.service.GetIntegration(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toIntegrationResponse(intg))
}

// Update handles PATCH /api/v1/integrations/{id}
func (h *IntegrationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		h.handleValidationError(w, err)
		return
	}

	input := app.UpdateIntegrationInput{
		Name:   req.Name,
		Config: req.Config,
	}
	if req.RateLimits != nil {
		input.RateLimits = &app.RateLimitsInput{
			RequestsPerMinute: req.RateLimits.RequestsPerMinute,
			RequestsPerDay:    req.RateLimits.RequestsPerDay,
		}
	}

	intg, err := h.service.UpdateIntegration(r.Context(), id, input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toIntegrationResponse(intg))
}

// Delete handles DELETE /api/v1/integrations/{id}
func (h *IntegrationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteIntegration(r.Context(), id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func toIntegrationResponse(i *integration.Integration) IntegrationResponse {
	keys := make([]string, 0, len(i.Config()))
	for k := range i.Config() {
		keys = append(keys, k)
	}

	return IntegrationResponse{
		ID:           i.ID().String(),
		TemplateID:   i.TemplateID(),
		Name:         i.Name(),
		Provider:     i.Provider(),
		Category:     i.Category().String(),
		Status:       i.Status().String(),
		SyncState:    i.SyncState().String(),
		ConfigKeys:   keys,
		Capabilities: i.Capabilities(),
		RateLimits: RateLimitsBody{
			RequestsPerMinute: i.RateLimits().RequestsPerMinute,
			RequestsPerDay:    i.RateLimits().RequestsPerDay,
		},
		LastSyncAt:   i.LastSyncAt(),
		ErrorMessage: i.ErrorMessage(),
		CreatedAt:    i.CreatedAt(),
		UpdatedAt:    i.UpdatedAt(),
	}
}

func (h *IntegrationHandler) handleValidationError(w http.ResponseWriter, err error) {
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

func (h *IntegrationHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, integration.ErrTemplateNotFound):
		apierror.NotFound("Integration template").WriteJSON(w)
	case errors.Is(err, integration.ErrIntegrationNotFound):
		apierror.NotFound("Integration").WriteJSON(w)
	case shared.IsConflict(err):
		apierror.SafeConflict(err).WriteJSON(w)
	case shared.IsValidation(err):
		apierror.BadRequest(err.Error()).WriteJSON(w)
	default:
		h.logger.Error("integration service error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
	}
}

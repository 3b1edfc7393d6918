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
	"github.com/haulcrm/integrations/pkg/validator"
)

// SyncHandler handles connection tests, sync runs and provider operations.
type SyncHandler struct {
	service   *app.SyncService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(svc *app.SyncService, v *validator.Validator, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		service:   svc,
		validator: v,
		logger:    log,
	}
}

// --- Request/Response Types ---

// SyncRequest represents the request to start a sync run.
type SyncRequest struct {
	Operation string `json:"operation" validate:"omitempty,min=1,max=100"`
}

// ExecuteOperationRequest carries provider operation parameters.
type ExecuteOperationRequest struct {
	Params map[string]any `json:"params"`
}

// TestConnectionResponse represents the outcome of a connection probe.
type TestConnectionResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// SyncResultResponse represents one sync run in the response.
type SyncResultResponse struct {
	ID               string                    `json:"id"`
	IntegrationID    string                    `json:"integration_id"`
	Operation        string                    `json:"operation"`
	Status           string                    `json:"status"`
	RecordsProcessed int                       `json:"records_processed"`
	RecordsCreated   int                       `json:"records_created"`
	RecordsUpdated   int                       `json:"records_updated"`
	RecordsFailed    int                       `json:"records_failed"`
	Errors           []integration.RecordError `json:"errors,omitempty"`
	DurationMs       int64                     `json:"duration_ms"`
	Timestamp        time.Time                 `json:"timestamp"`
}

// --- Handlers ---

// TestConnection handles POST /api/v1/integrations/{id}/test
func (h *SyncHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.TestConnection(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TestConnectionResponse{
		Success:        result.Success,
		Message:        result.Message,
		ResponseTimeMs: result.ResponseTime.Milliseconds(),
	})
}

// Sync handles POST /api/v1/integrations/{id}/sync
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SyncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierror.BadRequest("Invalid request body").WriteJSON(w)
			return
		}
		if err := h.validator.Validate(req); err != nil {
			h.handleValidationError(w, err)
			return
		}
	}
	if req.Operation == "" {
		req.Operation = "full_sync"
	}

	result, err := h.service.SyncIntegration(r.Context(), id, req.Operation)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(toSyncResultResponse(result))
}

// ExecuteOperation handles POST /api/v1/integrations/{id}/operations/{operation}
func (h *SyncHandler) ExecuteOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	operation := chi.URLParam(r, "operation")

	var req ExecuteOperationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierror.BadRequest("Invalid request body").WriteJSON(w)
			return
		}
	}

	result, err := h.service.ExecuteOperation(r.Context(), id, operation, req.Params)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// ListSyncResults handles GET /api/v1/integrations/{id}/sync-results
func (h *SyncHandler) ListSyncResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseQueryInt(r.URL.Query().Get("limit"), integration.MaxSyncHistory)

	results, err := h.service.GetSyncResults(r.Context(), id, limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]SyncResultResponse, len(results))
	for i := range results {
		data[i] = toSyncResultResponse(&results[i])
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  data,
		"total": len(data),
	})
}

// --- Helpers ---

func toSyncResultResponse(r *integration.SyncResult) SyncResultResponse {
	return SyncResultResponse{
		ID:               r.ID.String(),
		IntegrationID:    r.IntegrationID.String(),
		Operation:        r.Operation,
		Status:           r.Status.String(),
		RecordsProcessed: r.RecordsProcessed,
		RecordsCreated:   r.RecordsCreated,
		RecordsUpdated:   r.RecordsUpdated,
		RecordsFailed:    r.RecordsFailed,
		Errors:           r.Errors,
		DurationMs:       r.Duration.Milliseconds(),
		Timestamp:        r.Timestamp,
	}
}

func (h *SyncHandler) handleValidationError(w http.ResponseWriter, err error) {
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

func (h *SyncHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, integration.ErrIntegrationNotFound):
		apierror.NotFound("Integration").WriteJSON(w)
	case errors.Is(err, integration.ErrNotConnected):
		apierror.UnprocessableEntity(err.Error()).WriteJSON(w)
	case errors.Is(err, integration.ErrRateLimited):
		apierror.TooManyRequests(err.Error()).WriteJSON(w)
	case shared.IsValidation(err):
		apierror.BadRequest(err.Error()).WriteJSON(w)
	default:
		h.logger.Error("sync service error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
	}
}

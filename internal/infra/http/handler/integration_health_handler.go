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
)

// IntegrationHealthHandler serves integration health snapshots.
type IntegrationHealthHandler struct {
	service *app.HealthService
	logger  *logger.Logger
}

// NewIntegrationHealthHandler creates a new IntegrationHealthHandler.
func NewIntegrationHealthHandler(svc *app.HealthService, log *logger.Logger) *IntegrationHealthHandler {
	return &IntegrationHealthHandler{
		service: svc,
		logger:  log,
	}
}

// IssueResponse represents one health issue in the response.
type IssueResponse struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthSnapshotResponse represents an integration health snapshot.
type HealthSnapshotResponse struct {
	IntegrationID  string          `json:"integration_id"`
	Status         string          `json:"status"`
	LastCheck      time.Time       `json:"last_check"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	ErrorRate      float64         `json:"error_rate"`
	Uptime         float64         `json:"uptime"`
	Issues         []IssueResponse `json:"issues,omitempty"`
}

// Get handles GET /api/v1/integrations/{id}/health
func (h *IntegrationHealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.GetIntegrationHealth(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toHealthSnapshotResponse(snapshot))
}

// Check handles POST /api/v1/integrations/{id}/health/check
func (h *IntegrationHealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.CheckHealth(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toHealthSnapshotResponse(snapshot))
}

// List handles GET /api/v1/health/integrations
func (h *IntegrationHealthHandler) List(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.service.ListIntegrationHealth(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	data := make([]HealthSnapshotResponse, len(snapshots))
	for i, s := range snapshots {
		data[i] = toHealthSnapshotResponse(s)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  data,
		"total": len(data),
	})
}

func toHealthSnapshotResponse(s integration.Health) HealthSnapshotResponse {
	resp := HealthSnapshotResponse{
		IntegrationID:  s.IntegrationID.String(),
		Status:         s.Status.String(),
		LastCheck:      s.LastCheck,
		ResponseTimeMs: s.ResponseTime.Milliseconds(),
		ErrorRate:      s.ErrorRate,
		Uptime:         s.Uptime,
	}
	for _, issue := range s.Issues {
		resp.Issues = append(resp.Issues, IssueResponse{
			Kind:      string(issue.Kind),
			Message:   issue.Message,
			Timestamp: issue.Timestamp,
		})
	}
	return resp
}

func (h *IntegrationHealthHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, integration.ErrIntegrationNotFound):
		apierror.NotFound("Integration").WriteJSON(w)
	case errors.Is(err, integration.ErrHealthNotFound):
		apierror.NotFound("Integration health").WriteJSON(w)
	case shared.IsValidation(err):
		apierror.BadRequest(err.Error()).WriteJSON(w)
	default:
		h.logger.Error("health service error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
	}
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haulcrm/integrations/internal/app"
	"github.com/haulcrm/integrations/pkg/apierror"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/logger"
)

// TemplateHandler serves the read-only integration template catalog.
type TemplateHandler struct {
	service *app.IntegrationService
	logger  *logger.Logger
}

// NewTemplateHandler creates a new TemplateHandler.
func NewTemplateHandler(svc *app.IntegrationService, log *logger.Logger) *TemplateHandler {
	return &TemplateHandler{
		service: svc,
		logger:  log,
	}
}

// TemplateListResponse wraps the catalog listing.
type TemplateListResponse struct {
	Data  []integration.Template `json:"data"`
	Total int                    `json:"total"`
}

// List handles GET /api/v1/templates
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.URL.Query().Get("category"))
	if err != nil {
		if errors.Is(err, integration.ErrInvalidCategory) {
			apierror.BadRequest(err.Error()).WriteJSON(w)
			return
		}
		h.logger.Error("template list error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TemplateListResponse{
		Data:  templates,
		Total: len(templates),
	})
}

// Get handles GET /api/v1/templates/{id}
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.service.GetTemplate(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, integration.ErrTemplateNotFound) {
			apierror.NotFound("Integration template").WriteJSON(w)
			return
		}
		h.logger.Error("template get error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tpl)
}

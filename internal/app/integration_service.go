package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/logger"
)

// IntegrationService manages the integration catalog and registry.
type IntegrationService struct {
	catalog    *integration.Catalog
	repo       integration.Repository
	adapters   *transport.Registry
	dispatcher *Dispatcher
	logger     *logger.Logger
}

// NewIntegrationService creates a new IntegrationService.
func NewIntegrationService(
	catalog *integration.Catalog,
	repo integration.Repository,
	adapters *transport.Registry,
	dispatcher *Dispatcher,
	log *logger.Logger,
) *IntegrationService {
	return &IntegrationService{
		catalog:    catalog,
		repo:       repo,
		adapters:   adapters,
		dispatcher: dispatcher,
		logger:     log.With("service", "integration"),
	}
}

// ListTemplates returns the active catalog templates, optionally filtered
// by category.
func (s *IntegrationService) ListTemplates(category string) ([]integration.Template, error) {
	if category == "" {
		return s.catalog.List(), nil
	}
	cat := integration.Category(category)
	if !cat.IsValid() {
		return nil, fmt.Errorf("%w: %s", integration.ErrInvalidCategory, category)
	}
	return s.catalog.ByCategory(cat), nil
}

// GetTemplate returns a single catalog template by its slug.
func (s *IntegrationService) GetTemplate(templateID string) (integration.Template, error) {
	return s.catalog.Get(templateID)
}

// CreateIntegrationInput represents input for creating an integration.
type CreateIntegrationInput struct {
	TemplateID string            `json:"template_id" validate:"required,min=1,max=100"`
	Name       string            `json:"name" validate:"omitempty,min=1,max=255"`
	Config     map[string]string `json:"config"`
}

// CreateIntegration instantiates a template, persists the integration in
// pending state and immediately runs a connectivity test so the returned
// record reflects connected or error.
func (s *IntegrationService) CreateIntegration(ctx context.Context, input CreateIntegrationInput) (*integration.Integration, error) {
	tpl, err := s.catalog.Get(input.TemplateID)
	if err != nil {
		return nil, err
	}

	if missing := tpl.MissingFields(input.Config); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", integration.ErrMissingConfigField, strings.Join(missing, ", "))
	}

	intg := integration.NewIntegration(integration.NewID(), tpl, input.Config)
	if input.Name != "" {
		intg.SetName(input.Name)
	}

	if err := s.repo.Create(ctx, intg); err != nil {
		return nil, err
	}

	s.logger.Info("integration created",
		"id", intg.ID().String(),
		"template", tpl.ID,
		"provider", tpl.Provider,
	)

	// Probe failures land in the status/error fields, never in the error
	// return.
	s.testConnection(ctx, intg)
	if err := s.repo.Update(ctx, intg); err != nil {
		return nil, err
	}

	return intg, nil
}

// testConnection probes the provider and moves the integration to
// connected or error accordingly. The entity is mutated in place; the
// caller persists it.
func (s *IntegrationService) testConnection(ctx context.Context, intg *integration.Integration) *transport.ProbeResult {
	adapter, err := s.adapters.ForTemplate(intg.TemplateID())
	if err != nil {
		intg.SetError(err.Error())
		return &transport.ProbeResult{Success: false, Message: err.Error()}
	}

	result, err := adapter.TestConnection(ctx, intg)
	if err != nil {
		result = &transport.ProbeResult{Success: false, Message: err.Error()}
	}

	if result.Success {
		intg.SetConnected()
	} else {
		intg.SetError(result.Message)
	}
	return result
}

// GetIntegration retrieves an integration by ID.
func (s *IntegrationService) GetIntegration(ctx context.Context, id string) (*integration.Integration, error) {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}
	return s.repo.GetByID(ctx, intgID)
}

// ListIntegrationsInput represents input for listing integrations.
type ListIntegrationsInput struct {
	Category  string `json:"category"`
	Status    string `json:"status"`
	Search    string `json:"search"`
	Page      int    `json:"page"`
	PerPage   int    `json:"per_page"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

// ListIntegrations retrieves a paginated list of integrations.
func (s *IntegrationService) ListIntegrations(ctx context.Context, input ListIntegrationsInput) (integration.ListResult, error) {
	filter := integration.NewFilter()
	filter.Search = input.Search

	if input.Category != "" {
		cat := integration.Category(input.Category)
		if !cat.IsValid() {
			return integration.ListResult{}, fmt.Errorf("%w: %s", integration.ErrInvalidCategory, input.Category)
		}
		filter.Category = &cat
	}
	if input.Status != "" {
		status := integration.Status(input.Status)
		if !status.IsValid() {
			return integration.ListResult{}, fmt.Errorf("%w: %s", integration.ErrInvalidStatus, input.Status)
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

	return s.repo.List(ctx, filter)
}

// UpdateIntegrationInput represents input for updating an integration.
// Nil fields are left unchanged.
type UpdateIntegrationInput struct {
	Name       *string           `json:"name" validate:"omitempty,min=1,max=255"`
	Config     map[string]string `json:"config"`
	RateLimits *RateLimitsInput  `json:"rate_limits"`
}

// RateLimitsInput carries per-integration request budgets.
type RateLimitsInput struct {
	RequestsPerMinute int `json:"requests_per_minute" validate:"min=0"`
	RequestsPerDay    int `json:"requests_per_day" validate:"min=0"`
}

// UpdateIntegration applies a partial update. Changing the config re-runs
// the required-field check against the template.
func (s *IntegrationService) UpdateIntegration(ctx context.Context, id string, input UpdateIntegrationInput) (*integration.Integration, error) {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}

	intg, err := s.repo.GetByID(ctx, intgID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		intg.SetName(*input.Name)
	}
	if input.Config != nil {
		tpl, err := s.catalog.Get(intg.TemplateID())
		if err == nil {
			if missing := tpl.MissingFields(input.Config); len(missing) > 0 {
				return nil, fmt.Errorf("%w: %s", integration.ErrMissingConfigField, strings.Join(missing, ", "))
			}
		}
		intg.SetConfig(input.Config)
	}
	if input.RateLimits != nil {
		intg.SetRateLimits(integration.RateLimits{
			RequestsPerMinute: input.RateLimits.RequestsPerMinute,
			RequestsPerDay:    input.RateLimits.RequestsPerDay,
		})
	}

	if err := s.repo.Update(ctx, intg); err != nil {
		return nil, err
	}

	s.logger.Info("integration updated", "id", intg.ID().String())
	return intg, nil
}

// DeleteIntegration cancels scheduled webhook retries for the
// integration, then removes it and all dependent rows in one
// transaction.
func (s *IntegrationService) DeleteIntegration(ctx context.Context, id string) error {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}

	// Timers first: nothing may fire against rows the cascade is about
	// to remove.
	canceled, err := s.dispatcher.CancelForIntegration(ctx, intgID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, intgID); err != nil {
		return err
	}

	s.logger.Info("integration deleted",
		"id", intgID.String(),
		"retries_canceled", canceled,
	)
	return nil
}

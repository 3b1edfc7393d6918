package integration

import (
	"fmt"

	"github.com/haulcrm/integrations/pkg/domain/shared"
)

// Domain errors for integration.
var (
	// Not found errors
	ErrTemplateNotFound    = fmt.Errorf("%w: integration template not found", shared.ErrNotFound)
	ErrIntegrationNotFound = fmt.Errorf("%w: integration not found", shared.ErrNotFound)
	ErrHealthNotFound      = fmt.Errorf("%w: integration health not found", shared.ErrNotFound)

	// Validation errors
	ErrInvalidCategory    = fmt.Errorf("%w: invalid integration category", shared.ErrValidation)
	ErrInvalidStatus      = fmt.Errorf("%w: invalid integration status", shared.ErrValidation)
	ErrMissingConfigField = fmt.Errorf("%w: missing required config field", shared.ErrValidation)

	// State errors
	ErrNotConnected = fmt.Errorf("%w: integration is not connected", shared.ErrConflict)
	ErrRateLimited  = fmt.Errorf("%w: integration rate limit exceeded", shared.ErrUnavailable)
)

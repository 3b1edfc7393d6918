package webhook

import (
	"fmt"

	"github.com/haulcrm/integrations/pkg/domain/shared"
)

// Domain errors for webhooks.
var (
	// Not found errors
	ErrWebhookNotFound = fmt.Errorf("%w: webhook not found", shared.ErrNotFound)
	ErrEventNotFound   = fmt.Errorf("%w: webhook event not found", shared.ErrNotFound)

	// Validation errors
	ErrNoEvents           = fmt.Errorf("%w: webhook must subscribe to at least one event", shared.ErrValidation)
	ErrInvalidRetryPolicy = fmt.Errorf("%w: invalid retry policy", shared.ErrValidation)
	ErrInvalidURL         = fmt.Errorf("%w: invalid webhook url", shared.ErrValidation)

	// State errors
	ErrWebhookNotActive   = fmt.Errorf("%w: webhook is not active", shared.ErrConflict)
	ErrEventNotSubscribed = fmt.Errorf("%w: event is not configured for this webhook", shared.ErrValidation)
)

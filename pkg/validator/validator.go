// Package validator provides struct validation utilities with custom validators.
package validator

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

// slugRegex validates slugs: lowercase letters, numbers, hyphens
// Must start and end with alphanumeric, no consecutive hyphens
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// eventNameRegex validates event names: dot-separated lowercase segments,
// e.g. "load.created", "invoice.paid"
var eventNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*(?:\.[a-z][a-z0-9_]*)+$`)

// hexSecretRegex validates hex-encoded webhook secrets (32 bytes).
var hexSecretRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators for the integration domain
	_ = v.RegisterValidation("integration_category", validateIntegrationCategory)
	_ = v.RegisterValidation("integration_status", validateIntegrationStatus)
	_ = v.RegisterValidation("sync_state", validateSyncState)

	// Register custom validators for the webhook domain
	_ = v.RegisterValidation("webhook_status", validateWebhookStatus)
	_ = v.RegisterValidation("event_status", validateEventStatus)
	_ = v.RegisterValidation("event_name", validateEventName)
	_ = v.RegisterValidation("hex_secret", validateHexSecret)

	// Template IDs are slugs
	_ = v.RegisterValidation("slug", validateSlug)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatErrorMessage(e),
		})
	}

	return result
}

// validateIntegrationCategory validates that a string is a valid Category.
func validateIntegrationCategory(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return integration.Category(value).IsValid()
}

// validateIntegrationStatus validates that a string is a valid integration Status.
func validateIntegrationStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return integration.Status(value).IsValid()
}

// validateSyncState validates that a string is a valid SyncState.
func validateSyncState(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return integration.SyncState(value).IsValid()
}

// validateWebhookStatus validates that a string is a valid webhook Status.
func validateWebhookStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return webhook.Status(value).IsValid()
}

// validateEventStatus validates that a string is a valid EventStatus.
func validateEventStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return webhook.EventStatus(value).IsValid()
}

// validateEventName validates that a string is a well-formed event name.
func validateEventName(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return eventNameRegex.MatchString(value)
}

// validateHexSecret validates that a string is a 32-byte hex secret.
func validateHexSecret(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return hexSecretRegex.MatchString(value)
}

// validateSlug validates that a string is a valid URL slug.
// Valid: lowercase letters, numbers, hyphens. Must start/end with alphanumeric.
// Examples: "quickbooks-online", "stripe"
func validateSlug(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return slugRegex.MatchString(value)
}

// formatErrorMessage converts validation errors to human-readable messages.
func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "url":
		return "must be a valid URL"
	case "integration_category":
		return fmt.Sprintf("must be one of: %s", formatCategories())
	case "integration_status":
		return "must be one of: pending, connected, disconnected, error"
	case "sync_state":
		return "must be one of: never, pending, success, error"
	case "webhook_status":
		return "must be one of: active, inactive, error"
	case "event_status":
		return "must be one of: pending, sent, failed, retrying"
	case "event_name":
		return "must be a dot-separated event name (e.g., load.created)"
	case "hex_secret":
		return "must be a 64-character hex string"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "uuid":
		return "must be a valid UUID"
	case "slug":
		return "must be a valid slug (lowercase letters, numbers, hyphens only)"
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

// formatCategories returns a comma-separated list of valid categories.
func formatCategories() string {
	categories := integration.AllCategories()
	strs := make([]string, len(categories))
	for i, c := range categories {
		strs[i] = string(c)
	}
	return strings.Join(strs, ", ")
}

package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createWebhookInput struct {
	Name   string   `validate:"required,min=1,max=255"`
	URL    string   `validate:"required,url"`
	Events []string `validate:"required,min=1,dive,event_name"`
	Secret string   `validate:"omitempty,hex_secret"`
}

type createIntegrationInput struct {
	TemplateID string `validate:"required,slug"`
	Category   string `validate:"omitempty,integration_category"`
}

func TestValidateCreateWebhookInput(t *testing.T) {
	v := New()

	err := v.Validate(createWebhookInput{
		Name:   "ops hook",
		URL:    "https://example.com/hooks",
		Events: []string{"load.created", "invoice.paid"},
	})
	assert.NoError(t, err)

	err = v.Validate(createWebhookInput{
		Name:   "ops hook",
		URL:    "not a url",
		Events: []string{"LOAD CREATED"},
	})
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	assert.Len(t, verrs, 2)
}

func TestValidateHexSecret(t *testing.T) {
	v := New()

	ok := createWebhookInput{
		Name:   "n",
		URL:    "https://example.com",
		Events: []string{"load.created"},
		Secret: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	}
	assert.NoError(t, v.Validate(ok))

	bad := ok
	bad.Secret = "xyz"
	assert.Error(t, v.Validate(bad))
}

func TestValidateIntegrationCategory(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(createIntegrationInput{TemplateID: "stripe", Category: "payment"}))
	assert.Error(t, v.Validate(createIntegrationInput{TemplateID: "stripe", Category: "fintech"}))
	assert.Error(t, v.Validate(createIntegrationInput{TemplateID: "Not A Slug"}))
}

func TestValidationErrorsFormatting(t *testing.T) {
	v := New()

	err := v.Validate(createWebhookInput{})
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)

	fields := make(map[string]string)
	for _, e := range verrs {
		fields[e.Field] = e.Message
	}
	assert.Equal(t, "is required", fields["name"])
	assert.Contains(t, fields, "url")
	assert.Contains(t, fields, "events")
}

func TestEndpointValidator(t *testing.T) {
	v := NewEndpointValidator()

	assert.NoError(t, v.ValidateEndpoint("https://example.com/hooks"))
	assert.Error(t, v.ValidateEndpoint("ftp://example.com"))
	assert.Error(t, v.ValidateEndpoint("https://localhost:8080/hook"))
	assert.Error(t, v.ValidateEndpoint("http://127.0.0.1/hook"))
	assert.Error(t, v.ValidateEndpoint("http://169.254.169.254/latest/meta-data"))
	assert.Error(t, v.ValidateEndpoint("http://10.0.0.5/hook"))

	dev := NewEndpointValidator(WithAllowLocalhost(true), WithAllowInternalIPs(true))
	assert.NoError(t, dev.ValidateEndpoint("http://localhost:9000/hook"))
	assert.NoError(t, dev.ValidateEndpoint("http://10.0.0.5/hook"))
}

package integration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/pkg/domain/shared"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	templates := c.List()
	require.Len(t, templates, 7)

	tpl, err := c.Get("stripe")
	require.NoError(t, err)
	assert.Equal(t, "Stripe", tpl.Name)
	assert.Equal(t, CategoryPayment, tpl.Category)
	assert.Contains(t, tpl.Capabilities, "payments")
}

func TestCatalogUnknownTemplate(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	_, err = c.Get("does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.True(t, shared.IsNotFound(err))
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]Template{
		{ID: "a", Category: CategoryCustom},
		{ID: "a", Category: CategoryCustom},
	})
	require.Error(t, err)
}

func TestTemplateMissingFields(t *testing.T) {
	tpl := Template{
		ID:       "stripe",
		Category: CategoryPayment,
		RequiredFields: []ConfigField{
			{Key: "publishable_key", Required: true},
			{Key: "secret_key", Required: true},
			{Key: "webhook_secret", Required: false},
		},
	}

	missing := tpl.MissingFields(map[string]string{"publishable_key": "pk_test"})
	assert.Equal(t, []string{"secret_key"}, missing)

	missing = tpl.MissingFields(map[string]string{
		"publishable_key": "pk_test",
		"secret_key":      "sk_test",
	})
	assert.Empty(t, missing)
}

func TestIntegrationStateTransitions(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	tpl, err := c.Get("quickbooks-online")
	require.NoError(t, err)

	i := NewIntegration(NewID(), tpl, map[string]string{"client_id": "x"})
	assert.Equal(t, StatusPending, i.Status())
	assert.Equal(t, SyncNever, i.SyncState())

	i.SetError("auth failed")
	assert.Equal(t, StatusError, i.Status())
	assert.Equal(t, "auth failed", i.ErrorMessage())

	i.SetConnected()
	assert.Equal(t, StatusConnected, i.Status())
	assert.Empty(t, i.ErrorMessage())
	assert.True(t, i.IsConnected())

	i.BeginSync()
	assert.Equal(t, SyncPending, i.SyncState())
	i.FinishSync(true)
	assert.Equal(t, SyncSuccess, i.SyncState())
	require.NotNil(t, i.LastSyncAt())

	i.FinishSync(false)
	assert.Equal(t, SyncError, i.SyncState())
}

func TestIntegrationNotFoundSentinel(t *testing.T) {
	assert.True(t, errors.Is(ErrIntegrationNotFound, shared.ErrNotFound))
	assert.True(t, errors.Is(ErrMissingConfigField, shared.ErrValidation))
	assert.True(t, errors.Is(ErrNotConnected, shared.ErrConflict))
}

package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/pkg/domain/integration"
)

func restIntegration(t *testing.T) *integration.Integration {
	t.Helper()
	catalog, err := integration.DefaultCatalog()
	require.NoError(t, err)
	tpl, err := catalog.Get("anthropic")
	require.NoError(t, err)
	return integration.NewIntegration(integration.NewID(), tpl, map[string]string{"api_key": "sk-test"})
}

func TestRESTAdapterTestConnection(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := NewRESTAdapter(srv.URL, 5*time.Second)
	result, err := adapter.TestConnection(t.Context(), restIntegration(t))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestRESTAdapterSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/pull_invoices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"processed":10,"created":7,"updated":2,"failed":[{"record_id":"rec_9","message":"missing amount"}]}`))
	}))
	defer srv.Close()

	adapter := NewRESTAdapter(srv.URL, 5*time.Second)
	outcome, err := adapter.Sync(t.Context(), restIntegration(t), "pull_invoices")
	require.NoError(t, err)

	assert.Equal(t, 10, outcome.RecordsProcessed)
	assert.Equal(t, 7, outcome.RecordsCreated)
	assert.Equal(t, 2, outcome.RecordsUpdated)
	assert.Equal(t, 1, outcome.RecordsFailed)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "rec_9", outcome.Errors[0].RecordID)
}

func TestRESTAdapterExecuteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	adapter := NewRESTAdapter(srv.URL, 5*time.Second)
	_, err := adapter.Execute(t.Context(), restIntegration(t), "create_invoice", map[string]any{"amount": 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

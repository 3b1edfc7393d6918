package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/pkg/crypto"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

func TestHTTPSenderDeliver(t *testing.T) {
	secret, err := crypto.GenerateSecret()
	require.NoError(t, err)

	var gotSignature, gotHeader string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		gotHeader = r.Header.Get("X-Trace-Id")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	wh := webhook.NewWebhook(webhook.NewID(), webhook.NewID(), "billing", srv.URL, []string{"invoice.paid"}, secret)
	wh.SetHeaders(map[string]string{"X-Trace-Id": "abc123"})

	sender := NewHTTPSender(5 * time.Second)
	result, err := sender.Deliver(t.Context(), wh, "invoice.paid", map[string]any{"invoice_id": "inv_42"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, `{"received":true}`, result.Body)
	assert.Equal(t, "abc123", gotHeader)

	// Signature must verify against the exact bytes on the wire.
	assert.True(t, crypto.Verify(secret, gotBody, gotSignature))

	var env struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, "invoice.paid", env.Event)
	assert.Equal(t, "inv_42", env.Data["invoice_id"])
}

func TestHTTPSenderDeliverNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	wh := webhook.NewWebhook(webhook.NewID(), webhook.NewID(), "ops", srv.URL, []string{"load.created"}, "secret")

	sender := NewHTTPSender(5 * time.Second)
	result, err := sender.Deliver(t.Context(), wh, "load.created", nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
	assert.Equal(t, "upstream down", result.Body)
	assert.Contains(t, result.Error, "status 502")
}

func TestHTTPSenderDeliverConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	wh := webhook.NewWebhook(webhook.NewID(), webhook.NewID(), "ops", srv.URL, []string{"load.created"}, "secret")

	sender := NewHTTPSender(time.Second)
	result, err := sender.Deliver(t.Context(), wh, "load.created", nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(nil)
	stub := NewStubAdapter()
	reg.Register("stripe", stub)

	a, err := reg.ForTemplate("stripe")
	require.NoError(t, err)
	assert.Same(t, Adapter(stub), a)

	_, err = reg.ForTemplate("unknown")
	assert.Error(t, err)

	withFallback := NewRegistry(stub)
	a, err = withFallback.ForTemplate("unknown")
	require.NoError(t, err)
	assert.Same(t, Adapter(stub), a)
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/haulcrm/integrations/pkg/domain/integration"
)

// TokenSource resolves a short-lived provider token for an integration.
// Implementations return an error when no token is stored; the adapter
// then falls back to the static config credential.
type TokenSource interface {
	GetToken(ctx context.Context, integrationID string) (accessToken, refreshToken string, err error)
}

// RESTAdapter is a generic adapter for REST providers that authenticate
// with a bearer token or API key taken from the integration config.
type RESTAdapter struct {
	baseURL    string
	authHeader string
	configKey  string
	tokens     TokenSource
	httpClient *http.Client
	now        func() time.Time
}

// RESTOption configures a RESTAdapter.
type RESTOption func(*RESTAdapter)

// WithAuthHeader overrides the header the credential is sent in.
// The default is Authorization with a Bearer prefix applied by the caller's
// config value.
func WithAuthHeader(header string) RESTOption {
	return func(a *RESTAdapter) {
		a.authHeader = header
	}
}

// WithCredentialKey overrides which config key holds the credential.
func WithCredentialKey(key string) RESTOption {
	return func(a *RESTAdapter) {
		a.configKey = key
	}
}

// WithTokenSource attaches a store of refreshed OAuth tokens. When set,
// a stored token takes precedence over the static config credential.
func WithTokenSource(src TokenSource) RESTOption {
	return func(a *RESTAdapter) {
		a.tokens = src
	}
}

// NewRESTAdapter creates a generic REST adapter rooted at baseURL.
func NewRESTAdapter(baseURL string, timeout time.Duration, opts ...RESTOption) *RESTAdapter {
	a := &RESTAdapter{
		baseURL:    baseURL,
		authHeader: "Authorization",
		configKey:  "api_key",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TestConnection probes the provider by requesting the API root.
func (a *RESTAdapter) TestConnection(ctx context.Context, intg *integration.Integration) (*ProbeResult, error) {
	start := a.now()
	resp, err := a.do(ctx, intg, http.MethodGet, "/", nil)
	elapsed := a.now().Sub(start)
	if err != nil {
		return &ProbeResult{
			Success:      false,
			ResponseTime: elapsed,
			Message:      err.Error(),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProbeResult{
			Success:      false,
			ResponseTime: elapsed,
			Message:      fmt.Sprintf("provider returned status %d", resp.StatusCode),
		}, nil
	}
	return &ProbeResult{
		Success:      true,
		ResponseTime: elapsed,
		Message:      "connection verified",
	}, nil
}

// Sync posts to the provider's sync endpoint for the operation and decodes
// the per-record counts from the response.
func (a *RESTAdapter) Sync(ctx context.Context, intg *integration.Integration, operation string) (*SyncOutcome, error) {
	resp, err := a.do(ctx, intg, http.MethodPost, "/sync/"+url.PathEscape(operation), nil)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read sync response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sync %s: provider returned status %d", operation, resp.StatusCode)
	}

	var out struct {
		Processed int `json:"processed"`
		Created   int `json:"created"`
		Updated   int `json:"updated"`
		Failed    []struct {
			RecordID string `json:"record_id"`
			Message  string `json:"message"`
		} `json:"failed"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}

	outcome := &SyncOutcome{
		RecordsProcessed: out.Processed,
		RecordsCreated:   out.Created,
		RecordsUpdated:   out.Updated,
		RecordsFailed:    len(out.Failed),
	}
	for _, f := range out.Failed {
		outcome.Errors = append(outcome.Errors, integration.RecordError{
			RecordID: f.RecordID,
			Message:  f.Message,
		})
	}
	return outcome, nil
}

// Execute posts params to the provider's operation endpoint.
func (a *RESTAdapter) Execute(ctx context.Context, intg *integration.Integration, operation string, params map[string]any) (map[string]any, error) {
	var body io.Reader
	if len(params) > 0 {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal operation params: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	resp, err := a.do(ctx, intg, http.MethodPost, "/operations/"+url.PathEscape(operation), body)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read operation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("execute %s: provider returned status %d", operation, resp.StatusCode)
	}

	result := make(map[string]any)
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("decode operation response: %w", err)
		}
	}
	return result, nil
}

func (a *RESTAdapter) do(ctx context.Context, intg *integration.Integration, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	cred := a.credential(ctx, intg)
	if cred != "" {
		if a.authHeader == "Authorization" {
			req.Header.Set(a.authHeader, "Bearer "+cred)
		} else {
			req.Header.Set(a.authHeader, cred)
		}
	}
	return a.httpClient.Do(req)
}

// credential prefers a refreshed OAuth token over the static config value.
func (a *RESTAdapter) credential(ctx context.Context, intg *integration.Integration) string {
	if a.tokens != nil {
		if access, _, err := a.tokens.GetToken(ctx, intg.ID().String()); err == nil && access != "" {
			return access
		}
	}
	return intg.Config()[a.configKey]
}

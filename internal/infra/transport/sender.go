package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haulcrm/integrations/pkg/crypto"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Haulcrm-Signature"

const userAgent = "Haulcrm-Webhooks/1.0"

// DeliveryResult is the outcome of a single webhook delivery attempt.
type DeliveryResult struct {
	Success      bool
	StatusCode   int
	Body         string
	ResponseTime time.Duration
	Error        string
}

// Sender delivers webhook payloads over HTTP.
type Sender interface {
	Deliver(ctx context.Context, wh *webhook.Webhook, event string, payload map[string]any) (*DeliveryResult, error)
}

// HTTPSender implements Sender using a shared http.Client.
type HTTPSender struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPSender creates a sender with the given per-attempt timeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// envelope is the JSON body delivered to webhook endpoints.
type envelope struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Deliver posts the event envelope to the webhook URL. Transport and
// non-2xx failures are reported through DeliveryResult, not the error
// return, so callers can record the attempt before deciding to retry.
func (s *HTTPSender) Deliver(ctx context.Context, wh *webhook.Webhook, event string, payload map[string]any) (*DeliveryResult, error) {
	body, err := json.Marshal(envelope{
		Event:     event,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Data:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(SignatureHeader, crypto.Sign(wh.Secret(), body))
	for k, v := range wh.Headers() {
		req.Header.Set(k, v)
	}

	start := s.now()
	resp, err := s.httpClient.Do(req)
	elapsed := s.now().Sub(start)
	if err != nil {
		return &DeliveryResult{
			Success:      false,
			ResponseTime: elapsed,
			Error:        fmt.Sprintf("send request failed: %v", err),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	// SECURITY: Limit response body to 1MB to prevent memory exhaustion from malicious responses
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	// Accept 2xx status codes as success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryResult{
			Success:      false,
			StatusCode:   resp.StatusCode,
			Body:         string(respBody),
			ResponseTime: elapsed,
			Error:        fmt.Sprintf("endpoint returned status %d", resp.StatusCode),
		}, nil
	}

	return &DeliveryResult{
		Success:      true,
		StatusCode:   resp.StatusCode,
		Body:         string(respBody),
		ResponseTime: elapsed,
	}, nil
}

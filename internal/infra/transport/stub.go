package transport

import (
	"context"
	"time"

	"github.com/haulcrm/integrations/pkg/domain/integration"
)

// StubAdapter is an in-process adapter that reports success without
// contacting any provider. It backs templates with no dedicated adapter
// in development environments.
type StubAdapter struct {
	ResponseTime time.Duration
}

// NewStubAdapter creates a stub adapter with a fixed simulated latency.
func NewStubAdapter() *StubAdapter {
	return &StubAdapter{ResponseTime: 25 * time.Millisecond}
}

func (a *StubAdapter) TestConnection(_ context.Context, _ *integration.Integration) (*ProbeResult, error) {
	return &ProbeResult{
		Success:      true,
		ResponseTime: a.ResponseTime,
		Message:      "connection verified",
	}, nil
}

func (a *StubAdapter) Sync(_ context.Context, _ *integration.Integration, _ string) (*SyncOutcome, error) {
	return &SyncOutcome{}, nil
}

func (a *StubAdapter) Execute(_ context.Context, _ *integration.Integration, operation string, params map[string]any) (map[string]any, error) {
	return map[string]any{
		"operation": operation,
		"params":    params,
		"status":    "ok",
	}, nil
}

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haulcrm/integrations/pkg/domain/integration"
)

// ProbeResult is the outcome of a connectivity probe against a provider.
type ProbeResult struct {
	Success      bool
	ResponseTime time.Duration
	Message      string
}

// SyncOutcome carries per-record counts from a provider sync run.
type SyncOutcome struct {
	RecordsProcessed int
	RecordsCreated   int
	RecordsUpdated   int
	RecordsFailed    int
	Errors           []integration.RecordError
}

// Adapter talks to one external provider on behalf of an integration.
// Implementations are keyed by template ID in the Registry.
type Adapter interface {
	// TestConnection probes provider reachability with the integration's
	// credentials. A failed probe is reported through ProbeResult, not the
	// error return.
	TestConnection(ctx context.Context, intg *integration.Integration) (*ProbeResult, error)

	// Sync runs the named sync operation against the provider.
	Sync(ctx context.Context, intg *integration.Integration, operation string) (*SyncOutcome, error)

	// Execute runs an arbitrary provider operation and returns its result.
	Execute(ctx context.Context, intg *integration.Integration, operation string, params map[string]any) (map[string]any, error)
}

// Registry maps template IDs to provider adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	fallback Adapter
}

// NewRegistry creates a registry. The fallback adapter serves templates
// with no dedicated implementation; pass nil to make unknown templates
// an error.
func NewRegistry(fallback Adapter) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		fallback: fallback,
	}
}

// Register binds an adapter to a template ID, replacing any previous binding.
func (r *Registry) Register(templateID string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[templateID] = a
}

// ForTemplate returns the adapter for the template ID.
func (r *Registry) ForTemplate(templateID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[templateID]; ok {
		return a, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no adapter registered for template %q", templateID)
}

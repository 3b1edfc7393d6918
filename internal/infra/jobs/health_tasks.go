package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/haulcrm/integrations/pkg/logger"
)

// HealthChecker runs a health sweep over connected integrations.
type HealthChecker interface {
	PerformHealthChecks(ctx context.Context) error
}

// HealthTaskHandler handles health sweep tasks.
type HealthTaskHandler struct {
	checker HealthChecker
	logger  *logger.Logger
}

// NewHealthTaskHandler creates a new health task handler.
func NewHealthTaskHandler(checker HealthChecker, log *logger.Logger) *HealthTaskHandler {
	return &HealthTaskHandler{
		checker: checker,
		logger:  log.With("component", "health_tasks"),
	}
}

// RegisterHandlers registers health task handlers on the mux.
func (h *HealthTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeHealthCheckAll, h.HandleHealthCheckAll)
}

// HandleHealthCheckAll probes every connected integration.
func (h *HealthTaskHandler) HandleHealthCheckAll(ctx context.Context, t *asynq.Task) error {
	var payload HealthCheckAllPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal health check payload: %w", err)
	}

	if err := h.checker.PerformHealthChecks(ctx); err != nil {
		h.logger.Error("health sweep failed", "error", err)
		return fmt.Errorf("health sweep: %w", err)
	}
	return nil
}

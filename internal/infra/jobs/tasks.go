package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TypeHealthCheckAll is the task type for a full health sweep over
	// connected integrations.
	TypeHealthCheckAll = "integration:health_check_all"

	// TypePruneDeliveries is the task type for delivery ledger retention
	// and sync history trimming.
	TypePruneDeliveries = "maintenance:prune_deliveries"
)

// HealthCheckAllPayload contains data for the health sweep task.
type HealthCheckAllPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// PruneDeliveriesPayload contains data for the retention task.
type PruneDeliveriesPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewHealthCheckAllTask creates a task that probes every connected
// integration.
func NewHealthCheckAllTask(payload HealthCheckAllPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal health check payload: %w", err)
	}

	return asynq.NewTask(
		TypeHealthCheckAll,
		data,
		asynq.MaxRetry(0), // the next scheduled sweep covers a missed one
		asynq.Timeout(5*time.Minute),
		asynq.Queue("health"),
	), nil
}

// NewPruneDeliveriesTask creates a task that removes delivery records
// past retention and trims sync history.
func NewPruneDeliveriesTask(payload PruneDeliveriesPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal prune payload: %w", err)
	}

	return asynq.NewTask(
		TypePruneDeliveries,
		data,
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("maintenance"),
	), nil
}

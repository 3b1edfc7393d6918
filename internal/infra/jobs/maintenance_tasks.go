package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
	"github.com/haulcrm/integrations/pkg/logger"
)

// MaintenanceTaskHandler prunes the delivery ledger and trims sync
// history past the rolling window.
type MaintenanceTaskHandler struct {
	integrations integration.Repository
	syncResults  integration.SyncResultRepository
	deliveries   webhook.DeliveryRepository
	logger       *logger.Logger
}

// NewMaintenanceTaskHandler creates a new maintenance task handler.
func NewMaintenanceTaskHandler(
	integrations integration.Repository,
	syncResults integration.SyncResultRepository,
	deliveries webhook.DeliveryRepository,
	log *logger.Logger,
) *MaintenanceTaskHandler {
	return &MaintenanceTaskHandler{
		integrations: integrations,
		syncResults:  syncResults,
		deliveries:   deliveries,
		logger:       log.With("component", "maintenance_tasks"),
	}
}

// RegisterHandlers registers maintenance task handlers on the mux.
func (h *MaintenanceTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePruneDeliveries, h.HandlePruneDeliveries)
}

// HandlePruneDeliveries deletes delivery records older than retention
// and trims each integration's sync history.
func (h *MaintenanceTaskHandler) HandlePruneDeliveries(ctx context.Context, t *asynq.Task) error {
	var payload PruneDeliveriesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal prune payload: %w", err)
	}
	if payload.RetentionDays < 1 {
		return fmt.Errorf("invalid retention: %d days", payload.RetentionDays)
	}

	cutoff := time.Now().AddDate(0, 0, -payload.RetentionDays)
	removed, err := h.deliveries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune deliveries: %w", err)
	}

	trimmed := h.trimSyncHistory(ctx)

	h.logger.Info("retention run completed",
		"deliveries_removed", removed,
		"sync_results_trimmed", trimmed,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return nil
}

func (h *MaintenanceTaskHandler) trimSyncHistory(ctx context.Context) int64 {
	var trimmed int64
	for _, status := range []integration.Status{
		integration.StatusPending,
		integration.StatusConnected,
		integration.StatusDisconnected,
		integration.StatusError,
	} {
		list, err := h.integrations.ListByStatus(ctx, status)
		if err != nil {
			h.logger.Error("failed to list integrations for trim",
				"status", status.String(), "error", err)
			continue
		}
		for _, intg := range list {
			n, err := h.syncResults.DeleteOlderThan(ctx, intg.ID(), integration.MaxSyncHistory)
			if err != nil {
				h.logger.Error("failed to trim sync history",
					"id", intg.ID().String(), "error", err)
				continue
			}
			trimmed += n
		}
	}
	return trimmed
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

// DeliveryRepository implements webhook.DeliveryRepository using PostgreSQL.
// The ledger is append-only; rows are never updated.
type DeliveryRepository struct {
	db *DB
}

// NewDeliveryRepository creates a new DeliveryRepository.
func NewDeliveryRepository(db *DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Ensure DeliveryRepository implements webhook.DeliveryRepository
var _ webhook.DeliveryRepository = (*DeliveryRepository)(nil)

const deliveryColumns = `id, webhook_id, event_id, attempt, outcome,
	   response_time_ms, status_code, error, attempted_at`

// Append records one delivery attempt.
func (r *DeliveryRepository) Append(ctx context.Context, d webhook.Delivery) error {
	query := `
		INSERT INTO webhook_deliveries (
			id, webhook_id, event_id, attempt, outcome,
			response_time_ms, status_code, error, attempted_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	var statusCode sql.NullInt64
	if d.StatusCode != nil {
		statusCode = sql.NullInt64{Int64: int64(*d.StatusCode), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		d.ID.String(),
		d.WebhookID.String(),
		d.EventID.String(),
		d.Attempt,
		d.Outcome.String(),
		d.ResponseTime.Milliseconds(),
		statusCode,
		nullString(d.Error),
		d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append delivery: %w", err)
	}
	return nil
}

// ListByWebhook returns the webhook's delivery records, newest first.
func (r *DeliveryRepository) ListByWebhook(ctx context.Context, webhookID webhook.ID, limit int) ([]webhook.Delivery, error) {
	if limit < 1 {
		limit = 50
	}

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE webhook_id = $1 ORDER BY attempted_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, webhookID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDeliveries(rows)
}

// ListByEvent returns the delivery records for one event, oldest first,
// matching attempt order.
func (r *DeliveryRepository) ListByEvent(ctx context.Context, eventID webhook.ID) ([]webhook.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE event_id = $1 ORDER BY attempt ASC`

	rows, err := r.db.QueryContext(ctx, query, eventID.String())
	if err != nil {
		return nil, fmt.Errorf("list deliveries by event: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDeliveries(rows)
}

// Stats aggregates the webhook's delivery history. The success rate is
// successful deliveries over total events; the rolling window counts
// events created and deliveries attempted since the given time.
func (r *DeliveryRepository) Stats(ctx context.Context, webhookID webhook.ID, since time.Time) (webhook.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM webhook_events WHERE webhook_id = $1) AS total_events,
			(SELECT COUNT(*) FROM webhook_deliveries WHERE webhook_id = $1 AND outcome = 'success') AS successes,
			(SELECT COALESCE(AVG(response_time_ms), 0) FROM webhook_deliveries WHERE webhook_id = $1) AS avg_response_ms,
			(SELECT COUNT(*) FROM webhook_events WHERE webhook_id = $1 AND created_at >= $2) AS window_events,
			(SELECT COUNT(*) FROM webhook_deliveries WHERE webhook_id = $1 AND outcome = 'success' AND attempted_at >= $2) AS window_successes,
			(SELECT COUNT(*) FROM webhook_deliveries WHERE webhook_id = $1 AND outcome <> 'success' AND attempted_at >= $2) AS window_failures
	`

	var (
		totalEvents     int
		successes       int
		avgResponseMS   float64
		windowEvents    int
		windowSuccesses int
		windowFailures  int
	)
	err := r.db.QueryRowContext(ctx, query, webhookID.String(), since).Scan(
		&totalEvents, &successes, &avgResponseMS,
		&windowEvents, &windowSuccesses, &windowFailures,
	)
	if err != nil {
		return webhook.Stats{}, fmt.Errorf("aggregate delivery stats: %w", err)
	}

	stats := webhook.Stats{
		TotalEvents:         totalEvents,
		AverageResponseTime: time.Duration(avgResponseMS * float64(time.Millisecond)),
		Last24Hours: webhook.WindowStats{
			Events:    windowEvents,
			Successes: windowSuccesses,
			Failures:  windowFailures,
		},
	}
	if totalEvents > 0 {
		stats.SuccessRate = float64(successes) / float64(totalEvents) * 100
	}
	return stats, nil
}

// DeleteOlderThan removes delivery records attempted before the cutoff.
func (r *DeliveryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old deliveries: %w", err)
	}
	return result.RowsAffected()
}

func collectDeliveries(rows *sql.Rows) ([]webhook.Delivery, error) {
	result := make([]webhook.Delivery, 0)
	for rows.Next() {
		var (
			id             string
			webhookID      string
			eventID        string
			attempt        int
			outcome        string
			responseTimeMS int64
			statusCode     sql.NullInt64
			errMsg         sql.NullString
			attemptedAt    time.Time
		)
		err := rows.Scan(
			&id, &webhookID, &eventID, &attempt, &outcome,
			&responseTimeMS, &statusCode, &errMsg, &attemptedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}

		deliveryID, err := shared.IDFromString(id)
		if err != nil {
			return nil, fmt.Errorf("parse delivery id: %w", err)
		}
		whID, err := shared.IDFromString(webhookID)
		if err != nil {
			return nil, fmt.Errorf("parse webhook id: %w", err)
		}
		evID, err := shared.IDFromString(eventID)
		if err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}

		result = append(result, webhook.Delivery{
			ID:           deliveryID,
			WebhookID:    whID,
			EventID:      evID,
			Attempt:      attempt,
			Outcome:      webhook.Outcome(outcome),
			ResponseTime: time.Duration(responseTimeMS) * time.Millisecond,
			StatusCode:   nullIntValue(statusCode),
			Error:        nullStringValue(errMsg),
			Timestamp:    attemptedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

// EventRepository implements webhook.EventRepository using PostgreSQL.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Ensure EventRepository implements webhook.EventRepository
var _ webhook.EventRepository = (*EventRepository)(nil)

const eventColumns = `id, webhook_id, event, payload, status, attempts,
	   last_attempt_at, next_retry_at, response, error_message, created_at, updated_at`

// Create creates a new webhook event.
func (r *EventRepository) Create(ctx context.Context, e *webhook.Event) error {
	payload, err := toJSONB(e.Payload())
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	response, err := marshalResponse(e.Response())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_events (
			id, webhook_id, event, payload, status, attempts,
			last_attempt_at, next_retry_at, response, error_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		e.ID().String(),
		e.WebhookID().String(),
		e.Event(),
		payload,
		e.Status().String(),
		e.Attempts(),
		nullTime(e.LastAttemptAt()),
		nullTime(e.NextRetryAt()),
		response,
		nullString(e.ErrorMessage()),
		e.CreatedAt(),
		e.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event %s", shared.ErrAlreadyExists, e.ID())
		}
		return fmt.Errorf("create webhook event: %w", err)
	}

	return nil
}

// GetByID retrieves a webhook event by ID.
func (r *EventRepository) GetByID(ctx context.Context, id webhook.ID) (*webhook.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id.String())
	e, err := scanEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", webhook.ErrEventNotFound, id)
		}
		return nil, err
	}
	return e, nil
}

// Update updates a webhook event's delivery state.
func (r *EventRepository) Update(ctx context.Context, e *webhook.Event) error {
	response, err := marshalResponse(e.Response())
	if err != nil {
		return err
	}

	query := `
		UPDATE webhook_events SET
			status = $2,
			attempts = $3,
			last_attempt_at = $4,
			next_retry_at = $5,
			response = $6,
			error_message = $7,
			updated_at = $8
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		e.ID().String(),
		e.Status().String(),
		e.Attempts(),
		nullTime(e.LastAttemptAt()),
		nullTime(e.NextRetryAt()),
		response,
		nullString(e.ErrorMessage()),
		e.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", webhook.ErrEventNotFound, e.ID())
	}

	return nil
}

// ListByWebhook returns the webhook's events, newest first.
func (r *EventRepository) ListByWebhook(ctx context.Context, webhookID webhook.ID, limit int) ([]*webhook.Event, error) {
	if limit < 1 {
		limit = 50
	}

	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE webhook_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, webhookID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectEvents(rows)
}

// ListByStatus returns the webhook's events in the given status, newest first.
func (r *EventRepository) ListByStatus(ctx context.Context, webhookID webhook.ID, status webhook.EventStatus) ([]*webhook.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE webhook_id = $1 AND status = $2 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, webhookID.String(), status.String())
	if err != nil {
		return nil, fmt.Errorf("list webhook events by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectEvents(rows)
}

// ListIncomplete returns events still in a non-terminal state across all
// webhooks, oldest first.
func (r *EventRepository) ListIncomplete(ctx context.Context) ([]*webhook.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE status IN ($1, $2) ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, webhook.EventPending.String(), webhook.EventRetrying.String())
	if err != nil {
		return nil, fmt.Errorf("list incomplete webhook events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectEvents(rows)
}

// CountSince counts events created at or after the given time.
func (r *EventRepository) CountSince(ctx context.Context, webhookID webhook.ID, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM webhook_events WHERE webhook_id = $1 AND created_at >= $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, webhookID.String(), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events since: %w", err)
	}
	return count, nil
}

// CountTotal counts all events for the webhook.
func (r *EventRepository) CountTotal(ctx context.Context, webhookID webhook.ID) (int, error) {
	query := `SELECT COUNT(*) FROM webhook_events WHERE webhook_id = $1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, webhookID.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// marshalResponse keeps the response column NULL until an attempt has
// been made.
func marshalResponse(resp *webhook.Response) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}
	data, err := toJSONB(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return data, nil
}

func collectEvents(rows *sql.Rows) ([]*webhook.Event, error) {
	result := make([]*webhook.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// scanEvent scans a row into an Event. The scan argument works for both
// sql.Row and sql.Rows.
func scanEvent(scan func(dest ...any) error) (*webhook.Event, error) {
	var (
		id            string
		webhookID     string
		event         string
		payloadJSON   []byte
		status        string
		attempts      int
		lastAttemptAt sql.NullTime
		nextRetryAt   sql.NullTime
		responseJSON  []byte
		errorMessage  sql.NullString
		createdAt     time.Time
		updatedAt     time.Time
	)

	err := scan(
		&id, &webhookID, &event, &payloadJSON, &status, &attempts,
		&lastAttemptAt, &nextRetryAt, &responseJSON, &errorMessage, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := fromJSONB(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	var response *webhook.Response
	if len(responseJSON) > 0 {
		response = &webhook.Response{}
		if err := fromJSONB(responseJSON, response); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
	}

	eventID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	whID, err := shared.IDFromString(webhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook id: %w", err)
	}

	return webhook.ReconstructEvent(
		eventID,
		whID,
		event,
		payload,
		webhook.EventStatus(status),
		attempts,
		nullTimeValue(lastAttemptAt),
		nullTimeValue(nextRetryAt),
		response,
		nullStringValue(errorMessage),
		createdAt,
		updatedAt,
	), nil
}

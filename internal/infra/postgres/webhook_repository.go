package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/domain/webhook"
)

// WebhookRepository implements webhook.Repository using PostgreSQL.
type WebhookRepository struct {
	db *DB
}

// NewWebhookRepository creates a new WebhookRepository.
func NewWebhookRepository(db *DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Ensure WebhookRepository implements webhook.Repository
var _ webhook.Repository = (*WebhookRepository)(nil)

const webhookColumns = `id, integration_id, name, url, events, secret, status, headers,
	   retry_max_retries, retry_delay_ms, retry_backoff_multiplier,
	   success_count, failure_count, last_triggered_at, created_at, updated_at`

// Create creates a new webhook.
func (r *WebhookRepository) Create(ctx context.Context, w *webhook.Webhook) error {
	headers, err := toJSONB(w.Headers())
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	query := `
		INSERT INTO webhooks (
			id, integration_id, name, url, events, secret, status, headers,
			retry_max_retries, retry_delay_ms, retry_backoff_multiplier,
			success_count, failure_count, last_triggered_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`

	policy := w.RetryPolicy()
	_, err = r.db.ExecContext(ctx, query,
		w.ID().String(),
		w.IntegrationID().String(),
		w.Name(),
		w.URL(),
		pq.Array(w.Events()),
		w.Secret(),
		w.Status().String(),
		headers,
		policy.MaxRetries,
		policy.RetryDelay.Milliseconds(),
		policy.BackoffMultiplier,
		w.SuccessCount(),
		w.FailureCount(),
		nullTime(w.LastTriggeredAt()),
		w.CreatedAt(),
		w.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: webhook %s", shared.ErrAlreadyExists, w.ID())
		}
		return fmt.Errorf("create webhook: %w", err)
	}

	return nil
}

// GetByID retrieves a webhook by ID.
func (r *WebhookRepository) GetByID(ctx context.Context, id webhook.ID) (*webhook.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id.String())
	w, err := scanWebhook(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", webhook.ErrWebhookNotFound, id)
		}
		return nil, err
	}
	return w, nil
}

// List lists webhooks with filtering and pagination.
func (r *WebhookRepository) List(ctx context.Context, filter webhook.Filter) (webhook.ListResult, error) {
	result := webhook.ListResult{
		Data:    make([]*webhook.Webhook, 0),
		Page:    filter.Page,
		PerPage: filter.PerPage,
	}

	if filter.Page < 1 {
		filter.Page = 1
		result.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = 20
		result.PerPage = 20
	}

	conditions := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if filter.IntegrationID != nil {
		conditions = append(conditions, fmt.Sprintf("integration_id = $%d", argIdx))
		args = append(args, filter.IntegrationID.String())
		argIdx++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status.String())
		argIdx++
	}

	if filter.Event != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(events)", argIdx))
		args = append(args, filter.Event)
		argIdx++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR url ILIKE $%d)", argIdx, argIdx))
		args = append(args, wrapLikePattern(filter.Search))
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM webhooks " + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total); err != nil {
		return result, fmt.Errorf("count webhooks: %w", err)
	}
	result.TotalPages = int((result.Total + int64(filter.PerPage) - 1) / int64(filter.PerPage))

	orderBy := sortFieldUpdatedAt + " " + sortOrderDESC
	if filter.SortBy != "" {
		validSortFields := map[string]bool{
			sortFieldName:      true,
			"status":           true,
			sortFieldCreatedAt: true,
			sortFieldUpdatedAt: true,
		}
		if validSortFields[filter.SortBy] {
			order := sortOrderASC
			if filter.SortOrder == sortOrderDescLower {
				order = sortOrderDESC
			}
			orderBy = filter.SortBy + " " + order
		}
	}

	offset := (filter.Page - 1) * filter.PerPage
	args = append(args, filter.PerPage, offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM webhooks
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, webhookColumns, whereClause, orderBy, argIdx, argIdx+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("list webhooks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		w, err := scanWebhook(rows.Scan)
		if err != nil {
			return result, err
		}
		result.Data = append(result.Data, w)
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// ListByIntegration lists all webhooks for an integration.
func (r *WebhookRepository) ListByIntegration(ctx context.Context, integrationID webhook.ID) ([]*webhook.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE integration_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, integrationID.String())
	if err != nil {
		return nil, fmt.Errorf("list webhooks by integration: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*webhook.Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// Update updates an existing webhook.
func (r *WebhookRepository) Update(ctx context.Context, w *webhook.Webhook) error {
	headers, err := toJSONB(w.Headers())
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	query := `
		UPDATE webhooks SET
			name = $2,
			url = $3,
			events = $4,
			secret = $5,
			status = $6,
			headers = $7,
			retry_max_retries = $8,
			retry_delay_ms = $9,
			retry_backoff_multiplier = $10,
			success_count = $11,
			failure_count = $12,
			last_triggered_at = $13,
			updated_at = $14
		WHERE id = $1
	`

	policy := w.RetryPolicy()
	result, err := r.db.ExecContext(ctx, query,
		w.ID().String(),
		w.Name(),
		w.URL(),
		pq.Array(w.Events()),
		w.Secret(),
		w.Status().String(),
		headers,
		policy.MaxRetries,
		policy.RetryDelay.Milliseconds(),
		policy.BackoffMultiplier,
		w.SuccessCount(),
		w.FailureCount(),
		nullTime(w.LastTriggeredAt()),
		w.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", webhook.ErrWebhookNotFound, w.ID())
	}

	return nil
}

// Delete removes the webhook and its events and deliveries in one transaction.
func (r *WebhookRepository) Delete(ctx context.Context, id webhook.ID) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		deletes := []string{
			`DELETE FROM webhook_deliveries WHERE webhook_id = $1`,
			`DELETE FROM webhook_events WHERE webhook_id = $1`,
		}
		for _, q := range deletes {
			if _, err := tx.ExecContext(ctx, q, id.String()); err != nil {
				return fmt.Errorf("cascade delete webhook: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id.String())
		if err != nil {
			return fmt.Errorf("delete webhook: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("%w: %s", webhook.ErrWebhookNotFound, id)
		}
		return nil
	})
}

// scanWebhook scans a row into a Webhook. The scan argument works for
// both sql.Row and sql.Rows.
func scanWebhook(scan func(dest ...any) error) (*webhook.Webhook, error) {
	var (
		id                string
		integrationID     string
		name              string
		url               string
		events            pq.StringArray
		secret            string
		status            string
		headersJSON       []byte
		maxRetries        int
		retryDelayMS      int64
		backoffMultiplier float64
		successCount      int
		failureCount      int
		lastTriggeredAt   sql.NullTime
		createdAt         time.Time
		updatedAt         time.Time
	)

	err := scan(
		&id, &integrationID, &name, &url, &events, &secret, &status, &headersJSON,
		&maxRetries, &retryDelayMS, &backoffMultiplier,
		&successCount, &failureCount, &lastTriggeredAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var headers map[string]string
	if err := fromJSONB(headersJSON, &headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}

	webhookID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("parse webhook id: %w", err)
	}
	intgID, err := shared.IDFromString(integrationID)
	if err != nil {
		return nil, fmt.Errorf("parse integration id: %w", err)
	}

	return webhook.Reconstruct(
		webhookID,
		intgID,
		name,
		url,
		events,
		secret,
		webhook.Status(status),
		headers,
		webhook.RetryPolicy{
			MaxRetries:        maxRetries,
			RetryDelay:        time.Duration(retryDelayMS) * time.Millisecond,
			BackoffMultiplier: backoffMultiplier,
		},
		successCount,
		failureCount,
		nullTimeValue(lastTriggeredAt),
		createdAt,
		updatedAt,
	), nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
)

// SyncResultRepository implements integration.SyncResultRepository using PostgreSQL.
type SyncResultRepository struct {
	db *DB
}

// NewSyncResultRepository creates a new SyncResultRepository.
func NewSyncResultRepository(db *DB) *SyncResultRepository {
	return &SyncResultRepository{db: db}
}

// Ensure SyncResultRepository implements integration.SyncResultRepository
var _ integration.SyncResultRepository = (*SyncResultRepository)(nil)

// Append stores a sync result and trims the integration's history to
// integration.MaxSyncHistory entries, dropping the oldest rows.
func (r *SyncResultRepository) Append(ctx context.Context, result integration.SyncResult) error {
	errorsJSON, err := toJSONB(result.Errors)
	if err != nil {
		return fmt.Errorf("marshal record errors: %w", err)
	}

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		insert := `
			INSERT INTO sync_results (
				id, integration_id, operation, status,
				records_processed, records_created, records_updated, records_failed,
				errors, duration_ms, executed_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
			)
		`
		_, err := tx.ExecContext(ctx, insert,
			result.ID.String(),
			result.IntegrationID.String(),
			result.Operation,
			result.Status.String(),
			result.RecordsProcessed,
			result.RecordsCreated,
			result.RecordsUpdated,
			result.RecordsFailed,
			errorsJSON,
			result.Duration.Milliseconds(),
			result.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert sync result: %w", err)
		}

		trim := `
			DELETE FROM sync_results
			WHERE integration_id = $1
			  AND id NOT IN (
				SELECT id FROM sync_results
				WHERE integration_id = $1
				ORDER BY executed_at DESC
				LIMIT $2
			  )
		`
		if _, err := tx.ExecContext(ctx, trim, result.IntegrationID.String(), integration.MaxSyncHistory); err != nil {
			return fmt.Errorf("trim sync history: %w", err)
		}
		return nil
	})
}

// ListByIntegration returns the integration's sync history, newest first.
func (r *SyncResultRepository) ListByIntegration(ctx context.Context, integrationID integration.ID, limit int) ([]integration.SyncResult, error) {
	if limit < 1 || limit > integration.MaxSyncHistory {
		limit = integration.MaxSyncHistory
	}

	query := `
		SELECT id, integration_id, operation, status,
			   records_processed, records_created, records_updated, records_failed,
			   errors, duration_ms, executed_at
		FROM sync_results
		WHERE integration_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, integrationID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list sync results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]integration.SyncResult, 0)
	for rows.Next() {
		result, err := scanSyncResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return results, nil
}

// DeleteOlderThan removes all but the newest keep results for the integration.
func (r *SyncResultRepository) DeleteOlderThan(ctx context.Context, integrationID integration.ID, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	query := `
		DELETE FROM sync_results
		WHERE integration_id = $1
		  AND id NOT IN (
			SELECT id FROM sync_results
			WHERE integration_id = $1
			ORDER BY executed_at DESC
			LIMIT $2
		  )
	`

	result, err := r.db.ExecContext(ctx, query, integrationID.String(), keep)
	if err != nil {
		return 0, fmt.Errorf("delete old sync results: %w", err)
	}
	return result.RowsAffected()
}

func scanSyncResult(rows *sql.Rows) (integration.SyncResult, error) {
	var (
		id            string
		integrationID string
		operation     string
		status        string
		processed     int
		created       int
		updated       int
		failed        int
		errorsJSON    []byte
		durationMS    int64
		executedAt    time.Time
	)

	err := rows.Scan(
		&id, &integrationID, &operation, &status,
		&processed, &created, &updated, &failed,
		&errorsJSON, &durationMS, &executedAt,
	)
	if err != nil {
		return integration.SyncResult{}, fmt.Errorf("scan sync result: %w", err)
	}

	var recordErrors []integration.RecordError
	if err := fromJSONB(errorsJSON, &recordErrors); err != nil {
		return integration.SyncResult{}, fmt.Errorf("unmarshal record errors: %w", err)
	}

	resultID, err := shared.IDFromString(id)
	if err != nil {
		return integration.SyncResult{}, fmt.Errorf("parse sync result id: %w", err)
	}
	intgID, err := shared.IDFromString(integrationID)
	if err != nil {
		return integration.SyncResult{}, fmt.Errorf("parse integration id: %w", err)
	}

	return integration.SyncResult{
		ID:               resultID,
		IntegrationID:    intgID,
		Operation:        operation,
		Status:           integration.ResultStatus(status),
		RecordsProcessed: processed,
		RecordsCreated:   created,
		RecordsUpdated:   updated,
		RecordsFailed:    failed,
		Errors:           recordErrors,
		Duration:         time.Duration(durationMS) * time.Millisecond,
		Timestamp:        executedAt,
	}, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
)

// HealthRepository implements integration.HealthRepository using PostgreSQL.
// Each integration holds at most one snapshot; every check overwrites it.
type HealthRepository struct {
	db *DB
}

// NewHealthRepository creates a new HealthRepository.
func NewHealthRepository(db *DB) *HealthRepository {
	return &HealthRepository{db: db}
}

// Ensure HealthRepository implements integration.HealthRepository
var _ integration.HealthRepository = (*HealthRepository)(nil)

// Upsert stores the latest health snapshot for the integration.
func (r *HealthRepository) Upsert(ctx context.Context, health integration.Health) error {
	issuesJSON, err := toJSONB(health.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}

	query := `
		INSERT INTO integration_health (
			integration_id, status, last_check, response_time_ms,
			error_rate, uptime, issues
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (integration_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_check = EXCLUDED.last_check,
			response_time_ms = EXCLUDED.response_time_ms,
			error_rate = EXCLUDED.error_rate,
			uptime = EXCLUDED.uptime,
			issues = EXCLUDED.issues
	`

	_, err = r.db.ExecContext(ctx, query,
		health.IntegrationID.String(),
		health.Status.String(),
		health.LastCheck,
		health.ResponseTime.Milliseconds(),
		health.ErrorRate,
		health.Uptime,
		issuesJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert health snapshot: %w", err)
	}
	return nil
}

// GetByIntegration returns the latest health snapshot for the integration.
func (r *HealthRepository) GetByIntegration(ctx context.Context, integrationID integration.ID) (integration.Health, error) {
	query := `
		SELECT integration_id, status, last_check, response_time_ms,
			   error_rate, uptime, issues
		FROM integration_health
		WHERE integration_id = $1
	`

	row := r.db.QueryRowContext(ctx, query, integrationID.String())
	health, err := scanHealth(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return integration.Health{}, fmt.Errorf("%w: %s", integration.ErrHealthNotFound, integrationID)
		}
		return integration.Health{}, err
	}
	return health, nil
}

// List returns all stored health snapshots.
func (r *HealthRepository) List(ctx context.Context) ([]integration.Health, error) {
	query := `
		SELECT integration_id, status, last_check, response_time_ms,
			   error_rate, uptime, issues
		FROM integration_health
		ORDER BY last_check DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list health snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshots := make([]integration.Health, 0)
	for rows.Next() {
		health, err := scanHealth(rows.Scan)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, health)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return snapshots, nil
}

func scanHealth(scan func(dest ...any) error) (integration.Health, error) {
	var (
		integrationID  string
		status         string
		lastCheck      time.Time
		responseTimeMS int64
		errorRate      float64
		uptime         float64
		issuesJSON     []byte
	)

	err := scan(&integrationID, &status, &lastCheck, &responseTimeMS, &errorRate, &uptime, &issuesJSON)
	if err != nil {
		return integration.Health{}, err
	}

	var issues []integration.Issue
	if err := fromJSONB(issuesJSON, &issues); err != nil {
		return integration.Health{}, fmt.Errorf("unmarshal issues: %w", err)
	}

	intgID, err := shared.IDFromString(integrationID)
	if err != nil {
		return integration.Health{}, fmt.Errorf("parse integration id: %w", err)
	}

	return integration.Health{
		IntegrationID: intgID,
		Status:        integration.HealthStatus(status),
		LastCheck:     lastCheck,
		ResponseTime:  time.Duration(responseTimeMS) * time.Millisecond,
		ErrorRate:     errorRate,
		Uptime:        uptime,
		Issues:        issues,
	}, nil
}

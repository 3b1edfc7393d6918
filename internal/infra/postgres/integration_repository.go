package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haulcrm/integrations/pkg/crypto"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
)

// IntegrationRepository implements integration.Repository using PostgreSQL.
type IntegrationRepository struct {
	db  *DB
	enc crypto.Encryptor
}

// NewIntegrationRepository creates a new IntegrationRepository. Config
// values and stored tokens are written as-is until an encryptor is
// installed with SetEncryptor.
func NewIntegrationRepository(db *DB) *IntegrationRepository {
	return &IntegrationRepository{db: db, enc: crypto.NewNoOpEncryptor()}
}

// SetEncryptor installs at-rest encryption for config values and OAuth
// tokens. Must be called before the repository serves traffic; rows
// written under a different encryptor will fail to decrypt.
func (r *IntegrationRepository) SetEncryptor(enc crypto.Encryptor) {
	r.enc = enc
}

// Ensure IntegrationRepository implements integration.Repository
var _ integration.Repository = (*IntegrationRepository)(nil)

// credentialsRecord is the JSONB layout of stored credential references.
type credentialsRecord struct {
	APIKeyID     string     `json:"api_key_id,omitempty"`
	OAuthToken   string     `json:"oauth_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// rateLimitsRecord is the JSONB layout of per-integration rate limits.
type rateLimitsRecord struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerDay    int `json:"requests_per_day"`
}

const integrationColumns = `id, template_id, name, provider, category, status,
	   config, credentials, capabilities, rate_limits,
	   sync_state, last_sync_at, error_message, created_at, updated_at`

// sealConfig encrypts every config value before it hits the database.
func (r *IntegrationRepository) sealConfig(config map[string]string) (map[string]string, error) {
	sealed := make(map[string]string, len(config))
	for k, v := range config {
		if v == "" {
			sealed[k] = v
			continue
		}
		ev, err := r.enc.EncryptString(v)
		if err != nil {
			return nil, fmt.Errorf("encrypt config value %q: %w", k, err)
		}
		sealed[k] = ev
	}
	return sealed, nil
}

// openConfig reverses sealConfig.
func (r *IntegrationRepository) openConfig(config map[string]string) (map[string]string, error) {
	opened := make(map[string]string, len(config))
	for k, v := range config {
		if v == "" {
			opened[k] = v
			continue
		}
		pv, err := r.enc.DecryptString(v)
		if err != nil {
			return nil, fmt.Errorf("decrypt config value %q: %w", k, err)
		}
		opened[k] = pv
	}
	return opened, nil
}

func (r *IntegrationRepository) sealCredentials(creds integration.CredentialRef) (credentialsRecord, error) {
	rec := credentialsRecord{
		APIKeyID:  creds.APIKeyID,
		ExpiresAt: creds.ExpiresAt,
	}
	var err error
	if creds.OAuthToken != "" {
		if rec.OAuthToken, err = r.enc.EncryptString(creds.OAuthToken); err != nil {
			return credentialsRecord{}, fmt.Errorf("encrypt oauth token: %w", err)
		}
	}
	if creds.RefreshToken != "" {
		if rec.RefreshToken, err = r.enc.EncryptString(creds.RefreshToken); err != nil {
			return credentialsRecord{}, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return rec, nil
}

func (r *IntegrationRepository) openCredentials(rec credentialsRecord) (integration.CredentialRef, error) {
	creds := integration.CredentialRef{
		APIKeyID:  rec.APIKeyID,
		ExpiresAt: rec.ExpiresAt,
	}
	var err error
	if rec.OAuthToken != "" {
		if creds.OAuthToken, err = r.enc.DecryptString(rec.OAuthToken); err != nil {
			return integration.CredentialRef{}, fmt.Errorf("decrypt oauth token: %w", err)
		}
	}
	if rec.RefreshToken != "" {
		if creds.RefreshToken, err = r.enc.DecryptString(rec.RefreshToken); err != nil {
			return integration.CredentialRef{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return creds, nil
}

// Create creates a new integration.
func (r *IntegrationRepository) Create(ctx context.Context, i *integration.Integration) error {
	sealedConfig, err := r.sealConfig(i.Config())
	if err != nil {
		return err
	}
	config, err := toJSONB(sealedConfig)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	sealedCreds, err := r.sealCredentials(i.Credentials())
	if err != nil {
		return err
	}
	credentials, err := toJSONB(sealedCreds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	limits := i.RateLimits()
	rateLimits, err := toJSONB(rateLimitsRecord{
		RequestsPerMinute: limits.RequestsPerMinute,
		RequestsPerDay:    limits.RequestsPerDay,
	})
	if err != nil {
		return fmt.Errorf("marshal rate limits: %w", err)
	}

	query := `
		INSERT INTO integrations (
			id, template_id, name, provider, category, status,
			config, credentials, capabilities, rate_limits,
			sync_state, last_sync_at, error_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		i.ID().String(),
		i.TemplateID(),
		i.Name(),
		i.Provider(),
		i.Category().String(),
		i.Status().String(),
		config,
		credentials,
		pq.Array(i.Capabilities()),
		rateLimits,
		i.SyncState().String(),
		nullTime(i.LastSyncAt()),
		nullString(i.ErrorMessage()),
		i.CreatedAt(),
		i.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: integration %s", shared.ErrAlreadyExists, i.ID())
		}
		return fmt.Errorf("create integration: %w", err)
	}

	return nil
}

// GetByID retrieves an integration by ID.
func (r *IntegrationRepository) GetByID(ctx context.Context, id integration.ID) (*integration.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id.String())
	intg, err := r.scanIntegration(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", integration.ErrIntegrationNotFound, id)
		}
		return nil, err
	}
	return intg, nil
}

// Update updates an existing integration.
func (r *IntegrationRepository) Update(ctx context.Context, i *integration.Integration) error {
	sealedConfig, err := r.sealConfig(i.Config())
	if err != nil {
		return err
	}
	config, err := toJSONB(sealedConfig)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	sealedCreds, err := r.sealCredentials(i.Credentials())
	if err != nil {
		return err
	}
	credentials, err := toJSONB(sealedCreds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	limits := i.RateLimits()
	rateLimits, err := toJSONB(rateLimitsRecord{
		RequestsPerMinute: limits.RequestsPerMinute,
		RequestsPerDay:    limits.RequestsPerDay,
	})
	if err != nil {
		return fmt.Errorf("marshal rate limits: %w", err)
	}

	query := `
		UPDATE integrations SET
			name = $2,
			status = $3,
			config = $4,
			credentials = $5,
			rate_limits = $6,
			sync_state = $7,
			last_sync_at = $8,
			error_message = $9,
			updated_at = $10
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		i.ID().String(),
		i.Name(),
		i.Status().String(),
		config,
		credentials,
		rateLimits,
		i.SyncState().String(),
		nullTime(i.LastSyncAt()),
		nullString(i.ErrorMessage()),
		i.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("update integration: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", integration.ErrIntegrationNotFound, i.ID())
	}

	return nil
}

// Delete removes the integration and all dependent rows in one transaction.
// Webhooks, their events and deliveries, sync history, and the health
// snapshot all go with it.
func (r *IntegrationRepository) Delete(ctx context.Context, id integration.ID) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		deletes := []string{
			`DELETE FROM webhook_deliveries WHERE webhook_id IN (SELECT id FROM webhooks WHERE integration_id = $1)`,
			`DELETE FROM webhook_events WHERE webhook_id IN (SELECT id FROM webhooks WHERE integration_id = $1)`,
			`DELETE FROM webhooks WHERE integration_id = $1`,
			`DELETE FROM sync_results WHERE integration_id = $1`,
			`DELETE FROM integration_health WHERE integration_id = $1`,
		}
		for _, q := range deletes {
			if _, err := tx.ExecContext(ctx, q, id.String()); err != nil {
				return fmt.Errorf("cascade delete integration: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM integrations WHERE id = $1`, id.String())
		if err != nil {
			return fmt.Errorf("delete integration: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("%w: %s", integration.ErrIntegrationNotFound, id)
		}
		return nil
	})
}

// List lists integrations with filtering and pagination.
func (r *IntegrationRepository) List(ctx context.Context, filter integration.Filter) (integration.ListResult, error) {
	result := integration.ListResult{
		Data:    make([]*integration.Integration, 0),
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

	if filter.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIdx))
		args = append(args, filter.Category.String())
		argIdx++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status.String())
		argIdx++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR provider ILIKE $%d)", argIdx, argIdx))
		args = append(args, wrapLikePattern(filter.Search))
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM integrations " + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total); err != nil {
		return result, fmt.Errorf("count integrations: %w", err)
	}
	result.TotalPages = int((result.Total + int64(filter.PerPage) - 1) / int64(filter.PerPage))

	orderBy := sortFieldUpdatedAt + " " + sortOrderDESC
	if filter.SortBy != "" {
		validSortFields := map[string]bool{
			sortFieldName:      true,
			"provider":         true,
			"category":         true,
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
		FROM integrations
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, integrationColumns, whereClause, orderBy, argIdx, argIdx+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("list integrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		intg, err := r.scanIntegration(rows.Scan)
		if err != nil {
			return result, err
		}
		result.Data = append(result.Data, intg)
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// ListByStatus lists all integrations in the given status.
func (r *IntegrationRepository) ListByStatus(ctx context.Context, status integration.Status) ([]*integration.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE status = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, status.String())
	if err != nil {
		return nil, fmt.Errorf("list integrations by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*integration.Integration, 0)
	for rows.Next() {
		intg, err := r.scanIntegration(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, intg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// scanIntegration scans a row into an Integration, decrypting stored
// config values and tokens. The scan argument works for both sql.Row
// and sql.Rows.
func (r *IntegrationRepository) scanIntegration(scan func(dest ...any) error) (*integration.Integration, error) {
	var (
		id              string
		templateID      string
		name            string
		provider        string
		category        string
		status          string
		configJSON      []byte
		credentialsJSON []byte
		capabilities    pq.StringArray
		rateLimitsJSON  []byte
		syncState       string
		lastSyncAt      sql.NullTime
		errorMessage    sql.NullString
		createdAt       time.Time
		updatedAt       time.Time
	)

	err := scan(
		&id, &templateID, &name, &provider, &category, &status,
		&configJSON, &credentialsJSON, &capabilities, &rateLimitsJSON,
		&syncState, &lastSyncAt, &errorMessage, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var sealedConfig map[string]string
	if err := fromJSONB(configJSON, &sealedConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	config, err := r.openConfig(sealedConfig)
	if err != nil {
		return nil, err
	}

	var credsRec credentialsRecord
	if err := fromJSONB(credentialsJSON, &credsRec); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	creds, err := r.openCredentials(credsRec)
	if err != nil {
		return nil, err
	}

	var limits rateLimitsRecord
	if err := fromJSONB(rateLimitsJSON, &limits); err != nil {
		return nil, fmt.Errorf("unmarshal rate limits: %w", err)
	}

	intgID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("parse integration id: %w", err)
	}

	return integration.Reconstruct(
		intgID,
		templateID,
		name,
		provider,
		integration.Category(category),
		integration.Status(status),
		config,
		creds,
		capabilities,
		integration.RateLimits{
			RequestsPerMinute: limits.RequestsPerMinute,
			RequestsPerDay:    limits.RequestsPerDay,
		},
		integration.SyncState(syncState),
		nullTimeValue(lastSyncAt),
		nullStringValue(errorMessage),
		createdAt,
		updatedAt,
	), nil
}

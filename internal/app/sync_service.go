package app

import (
	"context"
	"fmt"
	"time"

	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/internal/infra/redis"
	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/internal/metrics"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/logger"
)

// SyncService orchestrates connectivity tests, sync runs and ad-hoc
// provider operations.
type SyncService struct {
	repo         integration.Repository
	results      integration.SyncResultRepository
	adapters     *transport.Registry
	limiter      *redis.RateLimiter
	probeTimeout time.Duration
	logger       *logger.Logger
}

// NewSyncService creates a new SyncService. The limiter may be nil, in
// which case per-integration rate limits are not enforced.
func NewSyncService(
	repo integration.Repository,
	results integration.SyncResultRepository,
	adapters *transport.Registry,
	limiter *redis.RateLimiter,
	cfg config.HealthConfig,
	log *logger.Logger,
) *SyncService {
	return &SyncService{
		repo:         repo,
		results:      results,
		adapters:     adapters,
		limiter:      limiter,
		probeTimeout: cfg.ProbeTimeout,
		logger:       log.With("service", "sync"),
	}
}

// TestConnectionResult is the caller-facing outcome of a connectivity
// probe. Probe failures are reported here, not as errors.
type TestConnectionResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	ResponseTime time.Duration `json:"response_time"`
}

// TestConnection probes the provider and updates the integration's
// status: connected on success, error with the probe message otherwise.
func (s *SyncService) TestConnection(ctx context.Context, id string) (*TestConnectionResult, error) {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}

	intg, err := s.repo.GetByID(ctx, intgID)
	if err != nil {
		return nil, err
	}

	probe := s.probe(ctx, intg)

	if probe.Success {
		intg.SetConnected()
	} else {
		intg.SetError(probe.Message)
	}
	if err := s.repo.Update(ctx, intg); err != nil {
		return nil, err
	}

	s.logger.Info("connection tested",
		"id", intg.ID().String(),
		"success", probe.Success,
		"response_time", probe.ResponseTime.String(),
	)

	return &TestConnectionResult{
		Success:      probe.Success,
		Message:      probe.Message,
		ResponseTime: probe.ResponseTime,
	}, nil
}

// probe runs the adapter's connectivity test under the probe timeout.
// Transport errors are folded into a failed ProbeResult.
func (s *SyncService) probe(ctx context.Context, intg *integration.Integration) *transport.ProbeResult {
	adapter, err := s.adapters.ForTemplate(intg.TemplateID())
	if err != nil {
		return &transport.ProbeResult{Success: false, Message: err.Error()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	result, err := adapter.TestConnection(probeCtx, intg)
	if err != nil {
		return &transport.ProbeResult{Success: false, Message: err.Error()}
	}
	return result
}

// SyncIntegration runs one sync operation against the provider and
// appends the outcome to the integration's rolling sync history. The
// result is recorded even when the run fails outright.
func (s *SyncService) SyncIntegration(ctx context.Context, id, operation string) (*integration.SyncResult, error) {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}

	intg, err := s.repo.GetByID(ctx, intgID)
	if err != nil {
		return nil, err
	}

	adapter, err := s.adapters.ForTemplate(intg.TemplateID())
	if err != nil {
		return nil, err
	}

	intg.BeginSync()
	if err := s.repo.Update(ctx, intg); err != nil {
		return nil, err
	}

	start := time.Now()
	outcome, runErr := adapter.Sync(ctx, intg, operation)
	duration := time.Since(start)

	result := integration.SyncResult{
		ID:            integration.NewID(),
		IntegrationID: intg.ID(),
		Operation:     operation,
		Duration:      duration,
		Timestamp:     time.Now(),
	}

	if runErr != nil {
		result.Status = integration.ResultError
		result.Errors = []integration.RecordError{{Message: runErr.Error()}}
		intg.FinishSync(false)
		intg.SetError(runErr.Error())
	} else {
		result.RecordsProcessed = outcome.RecordsProcessed
		result.RecordsCreated = outcome.RecordsCreated
		result.RecordsUpdated = outcome.RecordsUpdated
		result.RecordsFailed = outcome.RecordsFailed
		result.Errors = outcome.Errors
		if outcome.RecordsFailed > 0 {
			result.Status = integration.ResultPartial
		} else {
			result.Status = integration.ResultSuccess
		}
		intg.FinishSync(true)
	}

	if err := s.results.Append(ctx, result); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, intg); err != nil {
		return nil, err
	}

	metrics.SyncRunsTotal.WithLabelValues(intg.Provider(), result.Status.String()).Inc()
	metrics.SyncRunDuration.WithLabelValues(intg.Provider()).Observe(duration.Seconds())
	if result.RecordsFailed > 0 {
		metrics.SyncRecordsFailed.WithLabelValues(intg.Provider()).Add(float64(result.RecordsFailed))
	}

	s.logger.Info("sync completed",
		"id", intg.ID().String(),
		"operation", operation,
		"status", result.Status.String(),
		"processed", result.RecordsProcessed,
		"failed", result.RecordsFailed,
		"duration", duration.String(),
	)

	return &result, nil
}

// ExecuteOperation forwards an ad-hoc operation to the provider. The
// integration must be connected, and the call counts against its
// per-minute rate limit.
func (s *SyncService) ExecuteOperation(ctx context.Context, id, operation string, params map[string]any) (map[string]any, error) {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}

	intg, err := s.repo.GetByID(ctx, intgID)
	if err != nil {
		return nil, err
	}
	if !intg.IsConnected() {
		return nil, integration.ErrNotConnected
	}

	if err := s.allowRequest(ctx, intg); err != nil {
		return nil, err
	}

	adapter, err := s.adapters.ForTemplate(intg.TemplateID())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := adapter.Execute(ctx, intg, operation, params)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.OperationsTotal.WithLabelValues(intg.Provider(), operation, status).Inc()
	metrics.OperationDuration.WithLabelValues(intg.Provider(), operation).Observe(duration.Seconds())

	if err != nil {
		return nil, err
	}
	return result, nil
}

// allowRequest enforces the integration's per-minute budget. Redis
// outages fail open with a warning rather than blocking provider calls.
func (s *SyncService) allowRequest(ctx context.Context, intg *integration.Integration) error {
	rpm := intg.RateLimits().RequestsPerMinute
	if s.limiter == nil || rpm <= 0 {
		return nil
	}

	res, err := s.limiter.AllowWithLimit(ctx, intg.ID().String(), rpm)
	if err != nil {
		s.logger.Warn("rate limit check failed, allowing request",
			"id", intg.ID().String(), "error", err)
		return nil
	}
	if !res.Allowed {
		metrics.OperationsRateLimited.WithLabelValues(intg.Provider()).Inc()
		return fmt.Errorf("%w: retry after %s", integration.ErrRateLimited, res.RetryAt.Format(time.RFC3339))
	}
	return nil
}

// GetSyncResults returns the most recent sync runs, newest first.
func (s *SyncService) GetSyncResults(ctx context.Context, id string, limit int) ([]integration.SyncResult, error) {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}

	// Existence check so a bogus ID reads as not found, not empty.
	if _, err := s.repo.GetByID(ctx, intgID); err != nil {
		return nil, err
	}

	return s.results.ListByIntegration(ctx, intgID, limit)
}

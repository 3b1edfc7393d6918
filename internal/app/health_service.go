package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/internal/metrics"
	"github.com/haulcrm/integrations/pkg/domain/integration"
	"github.com/haulcrm/integrations/pkg/domain/shared"
	"github.com/haulcrm/integrations/pkg/logger"
)

// Baseline rates reported for a probe that completes. Per-check history
// is not tracked; a failed probe zeroes both.
const (
	healthyErrorRate = 0.0
	healthyUptime    = 100.0
)

// HealthService monitors integration health.
type HealthService struct {
	repo     integration.Repository
	health   integration.HealthRepository
	adapters *transport.Registry
	cfg      config.HealthConfig
	logger   *logger.Logger
}

// NewHealthService creates a new HealthService.
func NewHealthService(
	repo integration.Repository,
	health integration.HealthRepository,
	adapters *transport.Registry,
	cfg config.HealthConfig,
	log *logger.Logger,
) *HealthService {
	return &HealthService{
		repo:     repo,
		health:   health,
		adapters: adapters,
		cfg:      cfg,
		logger:   log.With("service", "health"),
	}
}

// CheckHealth probes one integration, classifies the result and upserts
// its health snapshot.
func (s *HealthService) CheckHealth(ctx context.Context, id string) (integration.Health, error) {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return integration.Health{}, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}

	intg, err := s.repo.GetByID(ctx, intgID)
	if err != nil {
		return integration.Health{}, err
	}

	return s.check(ctx, intg)
}

func (s *HealthService) check(ctx context.Context, intg *integration.Integration) (integration.Health, error) {
	snapshot := s.classify(ctx, intg)

	if err := s.health.Upsert(ctx, snapshot); err != nil {
		return integration.Health{}, err
	}

	metrics.HealthChecksTotal.WithLabelValues(snapshot.Status.String()).Inc()
	metrics.HealthCheckDuration.Observe(snapshot.ResponseTime.Seconds())

	if snapshot.Status != integration.HealthHealthy {
		s.logger.Warn("integration health degraded",
			"id", intg.ID().String(),
			"status", snapshot.Status.String(),
			"response_time", snapshot.ResponseTime.String(),
		)
	}

	return snapshot, nil
}

// classify runs the probe and maps the outcome onto a snapshot: a hard
// failure is unhealthy with full error rate and zero uptime, a slow
// response is degraded, anything else is healthy.
func (s *HealthService) classify(ctx context.Context, intg *integration.Integration) integration.Health {
	now := time.Now()

	adapter, err := s.adapters.ForTemplate(intg.TemplateID())
	if err != nil {
		return integration.NewUnhealthySnapshot(intg.ID(), now, 0, err.Error())
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	result, err := adapter.TestConnection(probeCtx, intg)
	elapsed := time.Since(start)

	if err != nil {
		return integration.NewUnhealthySnapshot(intg.ID(), now, elapsed, err.Error())
	}
	if !result.Success {
		return integration.NewUnhealthySnapshot(intg.ID(), now, result.ResponseTime, result.Message)
	}
	if result.ResponseTime >= s.cfg.DegradedThreshold {
		msg := fmt.Sprintf("slow response: %s", result.ResponseTime)
		return integration.NewDegradedSnapshot(intg.ID(), now, result.ResponseTime, healthyErrorRate, healthyUptime, msg)
	}
	return integration.NewHealthySnapshot(intg.ID(), now, result.ResponseTime, healthyErrorRate, healthyUptime)
}

// PerformHealthChecks probes every connected integration with bounded
// concurrency. Individual check failures are logged, not returned; the
// sweep continues.
func (s *HealthService) PerformHealthChecks(ctx context.Context) error {
	connected, err := s.repo.ListByStatus(ctx, integration.StatusConnected)
	if err != nil {
		return err
	}
	s.refreshStatusGauge(ctx)

	if len(connected) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, intg := range connected {
		g.Go(func() error {
			if _, err := s.check(gctx, intg); err != nil {
				s.logger.Error("health check failed",
					"id", intg.ID().String(), "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("health sweep completed", "checked", len(connected))
	return nil
}

// refreshStatusGauge republishes the integrations-by-status gauge.
func (s *HealthService) refreshStatusGauge(ctx context.Context) {
	for _, status := range []integration.Status{
		integration.StatusPending,
		integration.StatusConnected,
		integration.StatusDisconnected,
		integration.StatusError,
	} {
		list, err := s.repo.ListByStatus(ctx, status)
		if err != nil {
			return
		}
		metrics.IntegrationsConnected.WithLabelValues(status.String()).Set(float64(len(list)))
	}
}

// GetIntegrationHealth returns the latest snapshot for one integration.
func (s *HealthService) GetIntegrationHealth(ctx context.Context, id string) (integration.Health, error) {
	intgID, err := shared.IDFromString(id)
	if err != nil {
		return integration.Health{}, fmt.Errorf("%w: invalid integration ID", shared.ErrValidation)
	}
	return s.health.GetByIntegration(ctx, intgID)
}

// ListIntegrationHealth returns the latest snapshot for every
// integration that has been checked.
func (s *HealthService) ListIntegrationHealth(ctx context.Context) ([]integration.Health, error) {
	return s.health.List(ctx)
}

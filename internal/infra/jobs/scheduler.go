package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/pkg/logger"
)

// Scheduler enqueues the periodic tasks on fixed intervals: the health
// sweep and the retention run. Asynq delivers them to whichever worker
// picks them up, so multiple server replicas enqueue duplicates at worst
// and both tasks are idempotent.
type Scheduler struct {
	client        *Client
	jobsCfg       config.JobsConfig
	retentionDays int
	logger        *logger.Logger
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewScheduler creates a new Scheduler.
func NewScheduler(client *Client, jobsCfg config.JobsConfig, retentionDays int, log *logger.Logger) *Scheduler {
	return &Scheduler{
		client:        client,
		jobsCfg:       jobsCfg,
		retentionDays: retentionDays,
		logger:        log.With("component", "scheduler"),
		stopCh:        make(chan struct{}),
	}
}

// Start starts the scheduler in background goroutines.
func (s *Scheduler) Start() {
	if !s.jobsCfg.Enabled {
		s.logger.Info("job scheduler is disabled")
		return
	}

	s.logger.Info("starting job scheduler",
		"health_check_interval", s.jobsCfg.HealthCheckInterval,
		"maintenance_interval", s.jobsCfg.MaintenanceInterval,
	)

	s.wg.Add(2)
	go s.loop(s.jobsCfg.HealthCheckInterval, s.enqueueHealthSweep)
	go s.loop(s.jobsCfg.MaintenanceInterval, s.enqueueRetention)
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping job scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("job scheduler stopped")
}

func (s *Scheduler) loop(interval time.Duration, enqueue func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on start
	enqueue()

	for {
		select {
		case <-ticker.C:
			enqueue()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) enqueueHealthSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.client.EnqueueHealthCheckAll(ctx, HealthCheckAllPayload{RequestedAt: time.Now()}); err != nil {
		s.logger.Error("failed to enqueue health sweep", "error", err)
	}
}

func (s *Scheduler) enqueueRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.client.EnqueuePruneDeliveries(ctx, PruneDeliveriesPayload{RetentionDays: s.retentionDays}); err != nil {
		s.logger.Error("failed to enqueue retention run", "error", err)
	}
}

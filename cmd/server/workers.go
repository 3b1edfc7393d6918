package main

import (
	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/internal/infra/jobs"
	"github.com/haulcrm/integrations/pkg/logger"
)

// Workers holds all background worker instances.
type Workers struct {
	JobWorker *jobs.Worker
	Scheduler *jobs.Scheduler
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config    *config.Config
	Log       *logger.Logger
	JobClient *jobs.Client
	Repos     *Repositories
	Services  *Services
}

// NewWorkers initializes the job worker and the periodic scheduler.
// Returns nil when background jobs are disabled.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log

	if !cfg.Jobs.Enabled {
		log.Info("background jobs disabled")
		return nil, nil
	}

	worker, err := jobs.NewWorker(
		jobs.WorkerConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			Concurrency:   cfg.Jobs.Concurrency,
		},
		log,
		jobs.WithHealthHandler(jobs.NewHealthTaskHandler(deps.Services.Health, log)),
		jobs.WithMaintenanceHandler(jobs.NewMaintenanceTaskHandler(
			deps.Repos.Integration,
			deps.Repos.SyncResult,
			deps.Repos.Delivery,
			log,
		)),
	)
	if err != nil {
		return nil, err
	}

	scheduler := jobs.NewScheduler(deps.JobClient, cfg.Jobs, cfg.Delivery.RetentionDays, log)

	return &Workers{
		JobWorker: worker,
		Scheduler: scheduler,
	}, nil
}

// Start starts the job worker and scheduler.
func (w *Workers) Start(log *logger.Logger) {
	go func() {
		log.Info("starting job worker")
		if err := w.JobWorker.Start(); err != nil {
			log.Error("job worker error", "error", err)
		}
	}()
	w.Scheduler.Start()
}

// Stop stops all background workers gracefully.
func (w *Workers) Stop(log *logger.Logger) {
	log.Info("stopping scheduler...")
	w.Scheduler.Stop()
	log.Info("scheduler stopped")

	log.Info("stopping job worker...")
	w.JobWorker.Stop()
	log.Info("job worker stopped")
}

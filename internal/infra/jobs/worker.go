package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/haulcrm/integrations/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

// WorkerOption is a functional option for configuring the Worker.
type WorkerOption func(*Worker)

// Worker processes background jobs.
type Worker struct {
	server             *asynq.Server
	mux                *asynq.ServeMux
	logger             *logger.Logger
	healthHandler      *HealthTaskHandler
	maintenanceHandler *MaintenanceTaskHandler
}

// WithHealthHandler registers the health sweep handler.
func WithHealthHandler(h *HealthTaskHandler) WorkerOption {
	return func(w *Worker) {
		w.healthHandler = h
	}
}

// WithMaintenanceHandler registers the retention handler.
func WithMaintenanceHandler(h *MaintenanceTaskHandler) WorkerOption {
	return func(w *Worker) {
		w.maintenanceHandler = h
	}
}

// NewWorker creates a new background job worker.
func NewWorker(cfg WorkerConfig, log *logger.Logger, opts ...WorkerOption) (*Worker, error) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				"default":     10,
				"health":      5,
				"maintenance": 2,
			},
		},
	)

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		logger: log,
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.healthHandler != nil {
		w.healthHandler.RegisterHandlers(w.mux)
		log.Info("health task handlers registered")
	}
	if w.maintenanceHandler != nil {
		w.maintenanceHandler.RegisterHandlers(w.mux)
		log.Info("maintenance task handlers registered")
	}

	return w, nil
}

// Start starts the worker.
func (w *Worker) Start() error {
	w.logger.Info("starting job worker")
	return w.server.Start(w.mux)
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run runs the worker until shutdown.
func (w *Worker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Start(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
		return nil
	}
}

package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/haulcrm/integrations/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	client := asynq.NewClient(redisOpt)

	return &Client{
		client: client,
		logger: log.With("component", "job_client"),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueHealthCheckAll enqueues a full health sweep.
func (c *Client) EnqueueHealthCheckAll(ctx context.Context, payload HealthCheckAllPayload) error {
	task, err := NewHealthCheckAllTask(payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue health sweep", "error", err)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("health sweep queued",
		"task_id", info.ID,
		"queue", info.Queue,
	)
	return nil
}

// EnqueuePruneDeliveries enqueues a retention run.
func (c *Client) EnqueuePruneDeliveries(ctx context.Context, payload PruneDeliveriesPayload) error {
	task, err := NewPruneDeliveriesTask(payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue retention run",
			"retention_days", payload.RetentionDays,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("retention run queued",
		"task_id", info.ID,
		"retention_days", payload.RetentionDays,
		"queue", info.Queue,
	)
	return nil
}

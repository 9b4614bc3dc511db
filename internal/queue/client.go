package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/slimpdf/slimpdf-api/internal/config"
)

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Client struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewClient returns a client whose job tasks get an asynq timeout one minute
// past timeout. The worker applies the processing timeout itself.
func NewClient(cfg config.RedisConfig, timeout time.Duration) *Client {
	return &Client{
		client:  asynq.NewClient(RedisOpt(cfg)),
		timeout: timeout,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueJob hands a pending job to the worker pool. Jobs are never retried:
// a failure is terminal and recorded on the job row.
func (c *Client) EnqueueJob(ctx context.Context, p JobPayload) error {
	return c.enqueue(ctx, TypeFor(p.Tool), p,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(c.timeout+time.Minute),
		asynq.TaskID(p.JobID.String()),
	)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

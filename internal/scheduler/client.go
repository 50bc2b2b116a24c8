package scheduler

import (
	"context"
	"fmt"

	"stockledger_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const queueDefault = "default"

// Client enqueues pipeline work for the worker binary. The API process
// holds one client; the worker side lives in Worker.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.WorkerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueDefault,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueIngestBatch queues the first run of a submitted batch.
func (c *Client) EnqueueIngestBatch(ctx context.Context, taskID, tenantID uuid.UUID) error {
	task, err := NewIngestBatchTask(IngestBatchPayload{
		TaskID:   taskID.String(),
		TenantID: tenantID.String(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	return err
}

// EnqueueIngestResume queues the continuation of a fully decided batch.
func (c *Client) EnqueueIngestResume(ctx context.Context, taskID, tenantID uuid.UUID) error {
	task, err := NewIngestResumeTask(IngestResumePayload{
		TaskID:   taskID.String(),
		TenantID: tenantID.String(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	return err
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

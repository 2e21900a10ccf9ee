// Package jobs runs the background work of the engine over Asynq:
// periodic backorder availability scans and idempotency key cleanup.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBackorderScan re-checks stock coverage of open backorders.
	TaskBackorderScan = "backorder:scan"
	// TaskIdempotencyCleanup prunes processed operation keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// BackorderScanPayload bounds one scan run.
type BackorderScanPayload struct {
	Limit int `json:"limit"`
}

// NewBackorderScanTask constructs a backorder scan task.
func NewBackorderScanTask(payload BackorderScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBackorderScan, data), nil
}

// IdempotencyCleanupPayload carries the retention window for one run.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueBackorderScan enqueues an immediate backorder scan.
func (c *Client) EnqueueBackorderScan(ctx context.Context, payload BackorderScanPayload) (*asynq.TaskInfo, error) {
	task, err := NewBackorderScanTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

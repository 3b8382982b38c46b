package cache

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const progressKeyPrefix = "kb:upload:progress:"

// TaskProgress is the raw counter snapshot for one batch upload task.
type TaskProgress struct {
	Total     int64
	Completed int64
	Failed    int64
}

// ProgressCache tracks per-task ingestion counters in Redis. Counters are
// advanced with INCR so concurrent document workers never lose updates.
type ProgressCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewProgressCache(client *redisv9.Client, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProgressCache{client: client, ttl: ttl}
}

// InitTask seeds the three counters before any document starts, so progress
// reads never observe a partially created task.
func (c *ProgressCache) InitTask(ctx context.Context, taskID string, total int) error {
	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.key(taskID, "total"), total, c.ttl)
	pipe.Set(ctx, c.key(taskID, "completed"), 0, c.ttl)
	pipe.Set(ctx, c.key(taskID, "failed"), 0, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("init progress counters failed: %w", err)
	}
	return nil
}

func (c *ProgressCache) IncrCompleted(ctx context.Context, taskID string) error {
	if err := c.client.Incr(ctx, c.key(taskID, "completed")).Err(); err != nil {
		return fmt.Errorf("incr completed counter failed: %w", err)
	}
	return nil
}

func (c *ProgressCache) IncrFailed(ctx context.Context, taskID string) error {
	if err := c.client.Incr(ctx, c.key(taskID, "failed")).Err(); err != nil {
		return fmt.Errorf("incr failed counter failed: %w", err)
	}
	return nil
}

// GetTask returns the counter snapshot. found is false when the task is
// unknown or its counters have expired.
func (c *ProgressCache) GetTask(ctx context.Context, taskID string) (TaskProgress, bool, error) {
	var progress TaskProgress

	total, err := c.client.Get(ctx, c.key(taskID, "total")).Int64()
	if err == redisv9.Nil {
		return progress, false, nil
	}
	if err != nil {
		return progress, false, fmt.Errorf("get total counter failed: %w", err)
	}
	progress.Total = total

	completed, err := c.client.Get(ctx, c.key(taskID, "completed")).Int64()
	if err != nil && err != redisv9.Nil {
		return progress, false, fmt.Errorf("get completed counter failed: %w", err)
	}
	progress.Completed = completed

	failed, err := c.client.Get(ctx, c.key(taskID, "failed")).Int64()
	if err != nil && err != redisv9.Nil {
		return progress, false, fmt.Errorf("get failed counter failed: %w", err)
	}
	progress.Failed = failed

	return progress, true, nil
}

func (c *ProgressCache) key(taskID, counter string) string {
	return progressKeyPrefix + taskID + ":" + counter
}

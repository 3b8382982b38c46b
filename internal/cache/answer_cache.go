package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// AnswerCache memoizes generated answers keyed by a hash of the question,
// so repeated questions skip retrieval and generation entirely.
type AnswerCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redisv9.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnswerCache{client: client, ttl: ttl}
}

func (c *AnswerCache) Get(ctx context.Context, question string) (string, bool, error) {
	answer, err := c.client.Get(ctx, c.key(question)).Result()
	if err == redisv9.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get answer failed: %w", err)
	}
	return answer, true, nil
}

func (c *AnswerCache) Set(ctx context.Context, question, answer string) error {
	if err := c.client.Set(ctx, c.key(question), answer, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set answer failed: %w", err)
	}
	return nil
}

func (c *AnswerCache) key(question string) string {
	sum := md5.Sum([]byte(question))
	return "qa:answer:" + hex.EncodeToString(sum[:])
}

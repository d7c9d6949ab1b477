package pool

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultCounterKey is the Redis key shared by every process in a deployment.
const DefaultCounterKey = "receptionist:pool:counter"

// RedisCounter is a counter shared across processes via INCR.
type RedisCounter struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisCounter creates a counter stored under key.
func NewRedisCounter(rdb redis.UniversalClient, key string) *RedisCounter {
	if key == "" {
		key = DefaultCounterKey
	}
	return &RedisCounter{rdb: rdb, key: key}
}

// Next returns the value before the increment, so the first call yields 0.
func (c *RedisCounter) Next(ctx context.Context) (uint64, error) {
	n, err := c.rdb.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", c.key, err)
	}
	return uint64(n - 1), nil
}

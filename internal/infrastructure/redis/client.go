package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultPoolSize = 100

// NewRedisClient connects to addr and pings it once so a bad address fails
// at startup instead of on the first job.
func NewRedisClient(ctx context.Context, addr string, poolSize int) (*redis.Client, error) {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr, // e.g., "localhost:6379"
		PoolSize: poolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

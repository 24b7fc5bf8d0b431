package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

const (
	defaultQueueName = "bounty:queue:jobs"
	// BLPOP takes whole seconds; shorter waits are rounded up by the client.
	defaultPopTimeout = time.Second
)

type RedisQueue struct {
	client     *redis.Client
	queueName  string
	popTimeout time.Duration
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:     client,
		queueName:  defaultQueueName,
		popTimeout: defaultPopTimeout,
	}
}

// Push adds a job to the end of the list
func (q *RedisQueue) Push(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.queueName, payload).Err()
}

// Pop waits up to the pop timeout for a job and removes it from the front of
// the list. The short wait lets workers notice shutdown between polls.
func (q *RedisQueue) Pop(ctx context.Context) (domain.Job, error) {
	result, err := q.client.BLPop(ctx, q.popTimeout, q.queueName).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.Job{}, ports.ErrQueueEmpty
	case err != nil:
		if ctx.Err() != nil {
			return domain.Job{}, ctx.Err()
		}
		return domain.Job{}, err
	}

	// BLPop returns a slice: [QueueName, Element]
	var job domain.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job %q: %w", result[1], err)
	}
	return job, nil
}

// Len reports the number of waiting jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

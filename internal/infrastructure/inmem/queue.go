// Package inmem holds single-process run queue and event bus
// implementations used in development mode and tests.
package inmem

import (
	"context"
	"time"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
)

const (
	defaultCapacity   = 1024
	defaultPopTimeout = time.Second
)

// Queue is a buffered channel of jobs.
type Queue struct {
	jobs       chan domain.Job
	popTimeout time.Duration
}

// NewQueue returns a queue holding up to capacity jobs. Push blocks when it
// is full.
func NewQueue(capacity int, popTimeout time.Duration) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if popTimeout <= 0 {
		popTimeout = defaultPopTimeout
	}
	return &Queue{jobs: make(chan domain.Job, capacity), popTimeout: popTimeout}
}

func (q *Queue) Push(ctx context.Context, job domain.Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Pop(ctx context.Context) (domain.Job, error) {
	timer := time.NewTimer(q.popTimeout)
	defer timer.Stop()

	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	case <-timer.C:
		return domain.Job{}, ports.ErrQueueEmpty
	}
}

// Len reports the number of waiting jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

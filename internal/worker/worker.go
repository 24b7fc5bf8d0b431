package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
	"bounty-orchestrator/internal/metrics"
)

const (
	// popErrorBackoff keeps a worker from spinning while the queue backend is down.
	popErrorBackoff = time.Second

	// busyBackoff delays re-queueing a job whose subject another worker holds.
	busyBackoff = 500 * time.Millisecond

	// leaseTTL outlives any single run. It only matters when a worker dies
	// while holding the lease.
	leaseTTL = 30 * time.Minute
)

type Worker struct {
	workerID   string
	queue      ports.RunQueue
	registry   JobRegistry
	locker     ports.Locker
	maxRetries int
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func NewWorker(q ports.RunQueue, reg JobRegistry, locker ports.Locker, maxRetries int, m *metrics.Metrics, log *slog.Logger) *Worker {
	id := uuid.New().String()
	return &Worker{
		workerID:   id,
		queue:      q,
		registry:   reg,
		locker:     locker,
		maxRetries: maxRetries,
		metrics:    m,
		log:        logging.OrNop(log).With("component", "worker", "worker_id", id),
	}
}

// ProcessNextJob handles exactly ONE job lifecycle
func (w *Worker) ProcessNextJob(ctx context.Context) {
	// 1. POP: Wait until a job is available
	job, err := w.queue.Pop(ctx)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrQueueEmpty), ctx.Err() != nil:
		default:
			w.log.Error("failed to pop from queue", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(popErrorBackoff):
			}
		}
		return
	}
	log := w.log.With("kind", job.Kind, "instance_id", job.InstanceID, "attempt", job.Attempt)

	// 2. DISPATCH: Find the right function for the job kind
	handler, exists := w.registry[job.Kind]
	if !exists {
		log.Error("unknown job kind")
		w.metrics.JobProcessed(string(job.Kind), "unknown")
		return
	}

	// 3. CLAIM: only one worker may run a given instance or repository
	token, ok, err := w.locker.TryLock(ctx, job.LockKey(), leaseTTL)
	if err != nil {
		log.Error("failed to claim job", "error", err)
		w.requeue(ctx, job, log)
		return
	}
	if !ok {
		log.Debug("job subject busy, re-queueing", "lock", job.LockKey())
		w.requeue(ctx, job, log)
		w.metrics.JobProcessed(string(job.Kind), "busy")
		return
	}
	defer func() {
		if err := w.locker.Unlock(context.WithoutCancel(ctx), job.LockKey(), token); err != nil {
			log.Warn("failed to release job lease", "error", err)
		}
	}()

	// 4. EXECUTE: run it, re-queueing retryable failures while attempts remain
	if err := handler(ctx, job); err != nil {
		if domain.IsRetryable(err) && job.CanRetry(w.maxRetries) {
			log.Warn("job failed, retrying", "error", err, "max_retries", w.maxRetries)
			if pushErr := w.queue.Push(ctx, job.Retry()); pushErr != nil {
				log.Error("failed to re-queue job", "error", pushErr)
			}
			w.metrics.JobProcessed(string(job.Kind), "retried")
			return
		}
		log.Error("job failed", "error", err)
		w.metrics.JobProcessed(string(job.Kind), "failed")
		return
	}

	// 5. COMPLETE
	w.metrics.JobProcessed(string(job.Kind), "ok")
	log.Debug("job done")
}

// requeue puts job back unchanged after a short pause. The job is pushed
// even during shutdown so it is not lost.
func (w *Worker) requeue(ctx context.Context, job domain.Job, log *slog.Logger) {
	select {
	case <-ctx.Done():
	case <-time.After(busyBackoff):
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), popErrorBackoff)
	defer cancel()
	if err := w.queue.Push(pushCtx, job); err != nil {
		log.Error("failed to re-queue job", "error", err)
	}
}

// StartPool runs concurrency worker loops and returns once all of them
// stopped after ctx is done.
func (w *Worker) StartPool(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	w.log.Info("starting worker pool", "concurrency", concurrency)

	var wg conc.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Go(func() {
			w.log.Debug("worker loop started", "thread", i)
			for {
				select {
				case <-ctx.Done():
					w.log.Debug("worker loop shutting down", "thread", i)
					return
				default:
					w.ProcessNextJob(ctx)
				}
			}
		})
	}
	wg.Wait()
	w.log.Info("worker pool stopped")
}

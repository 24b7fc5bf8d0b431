package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/engine"
	"bounty-orchestrator/internal/infrastructure/inmem"
	"bounty-orchestrator/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	mu      sync.Mutex
	runs    map[string]int
	fails   map[string][]error
	active  map[string]int
	overlap int
	delay   time.Duration
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{runs: map[string]int{}, fails: map[string][]error{}, active: map[string]int{}}
}

func (r *fakeRunner) Run(_ context.Context, id string) (engine.RunResult, error) {
	r.mu.Lock()
	r.active[id]++
	if r.active[id] > 1 {
		r.overlap++
	}
	delay := r.delay
	r.mu.Unlock()

	time.Sleep(delay)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id]--
	r.runs[id]++
	if errs := r.fails[id]; len(errs) > 0 {
		r.fails[id] = errs[1:]
		return engine.RunResult{}, errs[0]
	}
	return engine.RunResult{InstanceID: id, Suspended: true}, nil
}

func (r *fakeRunner) overlaps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlap
}

func (r *fakeRunner) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

type fakeSyncer struct {
	mu   sync.Mutex
	refs []string
}

func (s *fakeSyncer) Sync(_ context.Context, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
	return ref, nil
}

func (s *fakeSyncer) synced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refs...)
}

var retryable = &domain.ExecutionFailure{Kind: domain.FailureTimeout, Err: context.DeadlineExceeded}

func TestWorker_PoolProcessesJobs(t *testing.T) {
	q := inmem.NewQueue(16, 10*time.Millisecond)
	runner, syncer := newFakeRunner(), &fakeSyncer{}
	w := NewWorker(q, InitRegistry(runner, syncer, nil), inmem.NewLocker(), 0, metrics.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.StartPool(ctx, 3)
		close(done)
	}()

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		require.NoError(t, q.Push(ctx, domain.NewRunJob(id)))
	}
	require.NoError(t, q.Push(ctx, domain.NewSyncJob("octo/widgets")))

	assert.Eventually(t, func() bool {
		return runner.count("b-1") == 1 && runner.count("b-2") == 1 && runner.count("b-3") == 1 &&
			len(syncer.synced()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestWorker_SameInstanceNeverRunsTwiceAtOnce(t *testing.T) {
	q := inmem.NewQueue(16, 10*time.Millisecond)
	runner := newFakeRunner()
	runner.delay = 50 * time.Millisecond
	locker := inmem.NewLocker()
	a := NewWorker(q, InitRegistry(runner, &fakeSyncer{}, nil), locker, 0, nil, nil)
	b := NewWorker(q, InitRegistry(runner, &fakeSyncer{}, nil), locker, 0, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, w := range []*Worker{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.StartPool(ctx, 2)
		}()
	}

	// the same approval delivered more than once
	for range 3 {
		require.NoError(t, q.Push(ctx, domain.NewRunJob("b-1")))
	}
	require.NoError(t, q.Push(ctx, domain.NewRunJob("b-2")))

	assert.Eventually(t, func() bool {
		return runner.count("b-1") == 3 && runner.count("b-2") == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, runner.overlaps())

	cancel()
	wg.Wait()
}

func TestWorker_BusySubjectIsRequeued(t *testing.T) {
	ctx := context.Background()
	q := inmem.NewQueue(4, 10*time.Millisecond)
	runner := newFakeRunner()
	locker := inmem.NewLocker()
	w := NewWorker(q, InitRegistry(runner, &fakeSyncer{}, nil), locker, 0, metrics.New(), nil)

	token, ok, err := locker.TryLock(ctx, "run:b-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	job := domain.NewRunJob("b-1")
	require.NoError(t, q.Push(ctx, job))
	w.ProcessNextJob(ctx)
	assert.Zero(t, runner.count("b-1"))
	require.Equal(t, 1, q.Len())

	require.NoError(t, locker.Unlock(ctx, "run:b-1", token))
	w.ProcessNextJob(ctx)
	assert.Equal(t, 1, runner.count("b-1"))
	assert.Zero(t, q.Len())

	_, ok, err = locker.TryLock(ctx, "run:b-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "the lease is released after the job")
}

func TestWorker_RetriesRetryableFailures(t *testing.T) {
	ctx := context.Background()
	q := inmem.NewQueue(4, 10*time.Millisecond)
	runner := newFakeRunner()
	runner.fails["b-1"] = []error{retryable}
	w := NewWorker(q, InitRegistry(runner, &fakeSyncer{}, nil), inmem.NewLocker(), 1, nil, nil)

	require.NoError(t, q.Push(ctx, domain.NewRunJob("b-1")))
	w.ProcessNextJob(ctx)
	require.Equal(t, 1, q.Len(), "failed job is re-queued")

	w.ProcessNextJob(ctx)
	assert.Equal(t, 2, runner.count("b-1"))
	assert.Zero(t, q.Len())
}

func TestWorker_DoesNotRetry(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		err        error
		maxRetries int
	}{
		{"retries disabled", retryable, 0},
		{"not retryable", errors.New("checkpoint store down"), 3},
		{"canceled", &domain.ExecutionFailure{Kind: domain.FailureCanceled, Err: context.Canceled}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := inmem.NewQueue(4, 10*time.Millisecond)
			runner := newFakeRunner()
			runner.fails["b-1"] = []error{tt.err}
			w := NewWorker(q, InitRegistry(runner, &fakeSyncer{}, nil), inmem.NewLocker(), tt.maxRetries, nil, nil)

			require.NoError(t, q.Push(ctx, domain.NewRunJob("b-1")))
			w.ProcessNextJob(ctx)
			assert.Equal(t, 1, runner.count("b-1"))
			assert.Zero(t, q.Len())
		})
	}
}

func TestWorker_UnknownAndInvalidJobs(t *testing.T) {
	ctx := context.Background()
	q := inmem.NewQueue(4, 10*time.Millisecond)
	runner := newFakeRunner()
	w := NewWorker(q, InitRegistry(runner, &fakeSyncer{}, nil), inmem.NewLocker(), 3, nil, nil)

	require.NoError(t, q.Push(ctx, domain.Job{Kind: "send_email"}))
	require.NoError(t, q.Push(ctx, domain.Job{Kind: domain.JobRunWorkflow}))
	w.ProcessNextJob(ctx)
	w.ProcessNextJob(ctx)

	assert.Zero(t, q.Len())
	assert.Empty(t, runner.runs)
}

func TestWorker_EmptyQueueReturns(t *testing.T) {
	q := inmem.NewQueue(1, 5*time.Millisecond)
	w := NewWorker(q, InitRegistry(newFakeRunner(), &fakeSyncer{}, nil), inmem.NewLocker(), 0, nil, nil)

	start := time.Now()
	w.ProcessNextJob(context.Background())
	assert.Less(t, time.Since(start), time.Second)
}

package executor

import (
	"context"
	"errors"
	"time"

	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/metrics"
)

// Instrumented records call counts and latency for another executor.
type Instrumented struct {
	next    ports.Executor
	metrics *metrics.Metrics
}

func NewInstrumented(next ports.Executor, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: m}
}

func (i *Instrumented) Execute(ctx context.Context, req domain.ExecRequest) (domain.ExecResult, error) {
	start := time.Now()
	res, err := i.next.Execute(ctx, req)

	result := "ok"
	if err != nil {
		result = "error"
		var ef *domain.ExecutionFailure
		if errors.As(err, &ef) {
			result = string(ef.Kind)
		}
	}
	i.metrics.ObserveExecutorCall(result, time.Since(start))
	return res, err
}

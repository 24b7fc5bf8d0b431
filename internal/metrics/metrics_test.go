package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveNode("analyze", "ok", 10*time.Millisecond)
	m.ObserveNode("analyze", "ok", 20*time.Millisecond)
	m.ObserveNode("execute", "error", time.Second)
	m.ObserveExecutorCall("timeout", time.Second)
	m.JobProcessed("run_workflow", "ok")
	m.Suspended()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.nodeRuns.WithLabelValues("analyze", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeRuns.WithLabelValues("execute", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executorCalls.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("run_workflow", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.suspended))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveNode("analyze", "ok", time.Millisecond)
		m.ObserveExecutorCall("ok", time.Millisecond)
		m.JobProcessed("sync_repo", "error")
		m.Suspended()
	})
}

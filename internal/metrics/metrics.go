// Package metrics exposes Prometheus collectors for the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing,
// which keeps tests and CLI commands free of registry setup.
type Metrics struct {
	Registry *prometheus.Registry

	nodeRuns        *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	executorCalls   *prometheus.CounterVec
	executorLatency prometheus.Histogram
	jobs            *prometheus.CounterVec
	suspended       prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		nodeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "node_runs_total",
			Help:      "Workflow node executions by node and result.",
		}, []string{"node", "result"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bounty",
			Name:      "node_duration_seconds",
			Help:      "Workflow node execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"node"}),
		executorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "executor_calls_total",
			Help:      "Executor requests by result.",
		}, []string{"result"}),
		executorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bounty",
			Name:      "executor_call_duration_seconds",
			Help:      "Executor request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "jobs_total",
			Help:      "Run queue jobs processed by kind and result.",
		}, []string{"kind", "result"}),
		suspended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bounty",
			Name:      "approval_suspensions_total",
			Help:      "Instances parked at the approval gate.",
		}),
	}
	reg.MustRegister(
		m.nodeRuns, m.nodeDuration,
		m.executorCalls, m.executorLatency,
		m.jobs, m.suspended,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveNode(node, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeRuns.WithLabelValues(node, result).Inc()
	m.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

func (m *Metrics) ObserveExecutorCall(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.executorCalls.WithLabelValues(result).Inc()
	m.executorLatency.Observe(d.Seconds())
}

func (m *Metrics) JobProcessed(kind, result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Suspended() {
	if m == nil {
		return
	}
	m.suspended.Inc()
}

package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements MetricsRecorder on a Prometheus registry.
// Expose the registry with promhttp.HandlerFor to serve /metrics.
type PrometheusMetrics struct {
	nodeExecutions *prometheus.CounterVec
	nodeLatency    *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runLatency     *prometheus.HistogramVec
	loopIterations *prometheus.HistogramVec
	persistSize    prometheus.Histogram
	persistErrors  prometheus.Counter
}

var _ MetricsRecorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgraph",
			Name:      "node_executions_total",
			Help:      "Node executions by node, tool and outcome.",
		}, []string{"node_id", "tool", "status"}),
		nodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgraph",
			Name:      "node_latency_ms",
			Help:      "Node execution latency in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"node_id", "tool"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgraph",
			Name:      "runs_total",
			Help:      "Runs by terminal status.",
		}, []string{"status"}),
		runLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgraph",
			Name:      "run_latency_ms",
			Help:      "Run latency in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"status"}),
		loopIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgraph",
			Name:      "loop_iterations",
			Help:      "Iterations executed per loop.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}, []string{"loop_id"}),
		persistSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "toolgraph",
			Name:      "persist_size_bytes",
			Help:      "Encoded run size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolgraph",
			Name:      "persist_errors_total",
			Help:      "Failed run saves.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.nodeExecutions, m.nodeLatency, m.runs, m.runLatency,
		m.loopIterations, m.persistSize, m.persistErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordNodeExecution implements MetricsRecorder.
func (m *PrometheusMetrics) RecordNodeExecution(_ context.Context, nodeID, tool string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.nodeExecutions.WithLabelValues(nodeID, tool, status).Inc()
	m.nodeLatency.WithLabelValues(nodeID, tool).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordRun implements MetricsRecorder.
func (m *PrometheusMetrics) RecordRun(_ context.Context, status string, duration time.Duration) {
	m.runs.WithLabelValues(status).Inc()
	m.runLatency.WithLabelValues(status).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordLoopIterations implements MetricsRecorder.
func (m *PrometheusMetrics) RecordLoopIterations(_ context.Context, loopID string, iterations int) {
	m.loopIterations.WithLabelValues(loopID).Observe(float64(iterations))
}

// RecordPersist implements MetricsRecorder.
func (m *PrometheusMetrics) RecordPersist(_ context.Context, sizeBytes int64, err error) {
	if err != nil {
		m.persistErrors.Inc()
		return
	}
	m.persistSize.Observe(float64(sizeBytes))
}

package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records toolgraph metrics.
// Use NewMetricsRecorder() for OTel metrics, NewPrometheusMetrics for a
// Prometheus registry, or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records one node execution. tool is empty for
	// decision nodes and loop exit checks.
	RecordNodeExecution(ctx context.Context, nodeID, tool string, duration time.Duration, err error)

	// RecordRun records a run reaching a terminal status.
	RecordRun(ctx context.Context, status string, duration time.Duration)

	// RecordLoopIterations records how many iterations a loop ran before exiting.
	RecordLoopIterations(ctx context.Context, loopID string, iterations int)

	// RecordPersist records a run save with its encoded size.
	RecordPersist(ctx context.Context, sizeBytes int64, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	loopIterations metric.Int64Histogram
	persistSize    metric.Int64Histogram
	persistErrors  metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the OTel instruments on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("toolgraph"))
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	m := &otelMetrics{}
	var err error

	if m.nodeExecutions, err = meter.Int64Counter("toolgraph.node.executions",
		metric.WithDescription("Number of node executions"),
	); err != nil {
		return nil, err
	}
	if m.nodeLatency, err = meter.Float64Histogram("toolgraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.nodeErrors, err = meter.Int64Counter("toolgraph.node.errors",
		metric.WithDescription("Number of failed node executions"),
	); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("toolgraph.runs",
		metric.WithDescription("Number of runs by terminal status"),
	); err != nil {
		return nil, err
	}
	if m.runLatency, err = meter.Float64Histogram("toolgraph.run.latency_ms",
		metric.WithDescription("Run latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.loopIterations, err = meter.Int64Histogram("toolgraph.loop.iterations",
		metric.WithDescription("Iterations executed per loop"),
	); err != nil {
		return nil, err
	}
	if m.persistSize, err = meter.Int64Histogram("toolgraph.persist.size_bytes",
		metric.WithDescription("Encoded run size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.persistErrors, err = meter.Int64Counter("toolgraph.persist.errors",
		metric.WithDescription("Number of failed run saves"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses the global
// OpenTelemetry meter provider. If initialization fails it returns a no-op
// recorder.
//
// Configure the provider before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter builds a recorder on a specific meter.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	return newOtelMetrics(meter)
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("tool", tool),
	)
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordRun(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (m *otelMetrics) RecordLoopIterations(ctx context.Context, loopID string, iterations int) {
	m.loopIterations.Record(ctx, int64(iterations), metric.WithAttributes(attribute.String("loop_id", loopID)))
}

func (m *otelMetrics) RecordPersist(ctx context.Context, sizeBytes int64, err error) {
	if err != nil {
		m.persistErrors.Add(ctx, 1)
		return
	}
	m.persistSize.Record(ctx, sizeBytes)
}

// MultiMetrics fans out every record to each recorder.
type MultiMetrics []MetricsRecorder

var _ MetricsRecorder = MultiMetrics(nil)

func (mm MultiMetrics) RecordNodeExecution(ctx context.Context, nodeID, tool string, duration time.Duration, err error) {
	for _, m := range mm {
		m.RecordNodeExecution(ctx, nodeID, tool, duration, err)
	}
}

func (mm MultiMetrics) RecordRun(ctx context.Context, status string, duration time.Duration) {
	for _, m := range mm {
		m.RecordRun(ctx, status, duration)
	}
}

func (mm MultiMetrics) RecordLoopIterations(ctx context.Context, loopID string, iterations int) {
	for _, m := range mm {
		m.RecordLoopIterations(ctx, loopID, iterations)
	}
}

func (mm MultiMetrics) RecordPersist(ctx context.Context, sizeBytes int64, err error) {
	for _, m := range mm {
		m.RecordPersist(ctx, sizeBytes, err)
	}
}

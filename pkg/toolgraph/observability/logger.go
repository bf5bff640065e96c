// Package observability provides structured logging, metrics and tracing
// for toolgraph runs.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
// The iteration attribute is only added inside loops (iteration > 0).
func EnrichLogger(logger *slog.Logger, runID, nodeID string, iteration int) *slog.Logger {
	if logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
	}
	if iteration > 0 {
		attrs = append(attrs, slog.Int("iteration", iteration))
	}
	return logger.With(attrs...)
}

// LogRunStart logs the start of a run.
func LogRunStart(logger *slog.Logger, runID, workflowID string) {
	if logger == nil {
		return
	}
	logger.Info("run starting",
		slog.String("run_id", runID),
		slog.String("workflow_id", workflowID),
	)
}

// LogRunComplete logs a run reaching a non-failed terminal status.
func LogRunComplete(logger *slog.Logger, runID, status string, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("run finished",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps", steps),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID, nodeType string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
		slog.String("node_type", nodeType),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogLoopIteration logs the start of a loop body iteration.
func LogLoopIteration(logger *slog.Logger, loopID string, iteration, max int) {
	if logger == nil {
		return
	}
	logger.Info("loop iteration",
		slog.String("loop_id", loopID),
		slog.Int("iteration", iteration),
		slog.Int("max_iterations", max),
	)
}

// LogLoopExit logs a loop finishing, either through its exit condition or
// by reaching its iteration cap.
func LogLoopExit(logger *slog.Logger, loopID string, iterations int, reason string) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if reason != "condition" {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "loop exited",
		slog.String("loop_id", loopID),
		slog.Int("iterations", iterations),
		slog.String("reason", reason),
	)
}

// LogPersist logs a successful run save.
func LogPersist(logger *slog.Logger, runID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("run saved",
		slog.String("run_id", runID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogPersistError logs a failed run save (non-fatal unless configured).
func LogPersistError(logger *slog.Logger, runID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("run save failed",
		slog.String("run_id", runID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}

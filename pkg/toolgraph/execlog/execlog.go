// Package execlog records the step-by-step trace of a run.
//
// A Log is append-only: records are never modified or removed once written,
// and each record is mirrored to a structured logger as it is appended.
package execlog

import (
	"log/slog"
	"sync"
	"time"
)

// Step is one record in a run's trace.
type Step struct {
	Sequence     int            `json:"sequence"`
	NodeID       string         `json:"node_id"`
	NodeType     string         `json:"node_type"`
	LoopID       string         `json:"loop_id,omitempty"`
	Iteration    int            `json:"iteration,omitempty"`
	Tool         string         `json:"tool,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Condition    *bool          `json:"condition,omitempty"`
	StateVersion int            `json:"state_version"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMs   float64        `json:"duration_ms"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
}

// Bool returns a pointer to b, for Step.Condition.
func Bool(b bool) *bool {
	return &b
}

// Log is an append-only trace. It is safe for concurrent use.
type Log struct {
	mu     sync.RWMutex
	steps  []Step
	logger *slog.Logger
	now    func() time.Time
}

// New creates an empty Log. A nil logger disables mirroring.
func New(logger *slog.Logger) *Log {
	return &Log{logger: logger, now: time.Now}
}

// Restore creates a Log that continues after previously persisted steps.
func Restore(logger *slog.Logger, steps []Step) *Log {
	l := New(logger)
	l.steps = append(l.steps, steps...)
	return l
}

// Append assigns the next sequence number and a timestamp (if unset), stores
// the step and returns the stored copy.
func (l *Log) Append(s Step) Step {
	l.mu.Lock()
	s.Sequence = len(l.steps) + 1
	if s.Timestamp.IsZero() {
		s.Timestamp = l.now().UTC()
	}
	l.steps = append(l.steps, s)
	l.mu.Unlock()

	l.mirror(s)
	return s
}

// Steps returns a copy of all records in append order.
func (l *Log) Steps() []Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.steps)
}

// Last returns the most recent record.
func (l *Log) Last() (Step, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.steps) == 0 {
		return Step{}, false
	}
	return l.steps[len(l.steps)-1], true
}

// ForNode returns the records written for nodeID.
func (l *Log) ForNode(nodeID string) []Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Step
	for _, s := range l.steps {
		if s.NodeID == nodeID {
			out = append(out, s)
		}
	}
	return out
}

// Failures returns the unsuccessful records.
func (l *Log) Failures() []Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Step
	for _, s := range l.steps {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

func (l *Log) mirror(s Step) {
	if l.logger == nil {
		return
	}
	attrs := []any{
		slog.Int("sequence", s.Sequence),
		slog.String("node_id", s.NodeID),
		slog.String("node_type", s.NodeType),
		slog.Int("state_version", s.StateVersion),
		slog.Float64("duration_ms", s.DurationMs),
	}
	if s.Tool != "" {
		attrs = append(attrs, slog.String("tool", s.Tool))
	}
	if s.LoopID != "" {
		attrs = append(attrs, slog.String("loop_id", s.LoopID), slog.Int("iteration", s.Iteration))
	}
	if s.Condition != nil {
		attrs = append(attrs, slog.Bool("condition", *s.Condition))
	}
	if !s.Success {
		attrs = append(attrs, slog.String("error", s.Error), slog.String("error_kind", s.ErrorKind))
		l.logger.Error("step failed", attrs...)
		return
	}
	l.logger.Info("step completed", attrs...)
}

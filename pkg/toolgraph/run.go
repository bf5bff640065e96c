package toolgraph

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/execlog"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/state"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses. A run moves from pending to running and then to exactly one
// terminal status.
const (
	StatusPending              Status = "pending"
	StatusRunning              Status = "running"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
	StatusMaxIterationsReached Status = "max_iterations_reached"
	StatusCancelled            Status = "cancelled"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusMaxIterationsReached, StatusCancelled:
		return true
	}
	return false
}

// Run is one execution of a compiled graph. It owns the run's state, loop
// counters and trace. All accessors are safe to call while the run is
// being driven.
type Run struct {
	mu sync.RWMutex

	id         string
	workflowID string
	status     Status
	state      *state.Manager
	iterations map[string]int
	log        *execlog.Log

	currentNode string
	createdAt   time.Time
	startedAt   time.Time
	endedAt     time.Time
	err         string
	errKind     ErrorKind
	summary     *Summary
	seq         int64
}

// Summary is computed when a run reaches a terminal status.
type Summary struct {
	Steps      int     `json:"steps"`
	Failures   int     `json:"failures"`
	Iterations int     `json:"iterations"`
	LastNode   string  `json:"last_node,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// RunSnapshot is a point-in-time copy of a run, used for API responses and
// as the persisted form.
type RunSnapshot struct {
	RunID        string         `json:"run_id"`
	WorkflowID   string         `json:"workflow_id"`
	Status       Status         `json:"status"`
	State        map[string]any `json:"state"`
	StateVersion int            `json:"state_version"`
	Iterations   map[string]int `json:"iterations"`
	CurrentNode  string         `json:"current_node,omitempty"`
	Trace        []execlog.Step `json:"trace"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	Summary      *Summary       `json:"summary,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    time.Time      `json:"started_at,omitzero"`
	EndedAt      time.Time      `json:"ended_at,omitzero"`
}

// NewRun creates a pending run for workflowID with a fresh id.
// The initial state is normalized to JSON shapes.
func NewRun(workflowID string, initial map[string]any) (*Run, error) {
	return NewRunWithID(uuid.NewString(), workflowID, initial)
}

// NewRunWithID is like NewRun with a caller-chosen id.
func NewRunWithID(id, workflowID string, initial map[string]any) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}
	mgr, err := state.New(initial)
	if err != nil {
		return nil, err
	}
	return &Run{
		id:         id,
		workflowID: workflowID,
		status:     StatusPending,
		state:      mgr,
		iterations: make(map[string]int),
		log:        execlog.New(nil),
		createdAt:  time.Now().UTC(),
	}, nil
}

// DecodeRunSnapshot decodes a persisted run.
func DecodeRunSnapshot(data []byte) (RunSnapshot, error) {
	var snap RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return RunSnapshot{}, fmt.Errorf("decode run snapshot: %w", err)
	}
	if snap.Iterations == nil {
		snap.Iterations = map[string]int{}
	}
	if snap.State == nil {
		snap.State = map[string]any{}
	}
	return snap, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// WorkflowID returns the workflow the run belongs to.
func (r *Run) WorkflowID() string { return r.workflowID }

// Status returns the current status.
func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// State returns a deep copy of the current state.
func (r *Run) State() state.State {
	return r.state.Snapshot()
}

// Iterations returns a copy of the per-loop iteration counters.
func (r *Run) Iterations() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.iterations)
}

// Trace returns a copy of the step records.
func (r *Run) Trace() []execlog.Step {
	r.mu.RLock()
	log := r.log
	r.mu.RUnlock()
	return log.Steps()
}

// Err returns the failure message of a failed or cancelled run.
func (r *Run) Err() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// ErrorKind returns the failure classification, empty unless failed or cancelled.
func (r *Run) ErrorKind() ErrorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errKind
}

// Summary returns the terminal summary, nil while the run is in flight.
func (r *Run) Summary() *Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.summary == nil {
		return nil
	}
	s := *r.summary
	return &s
}

// Snapshot returns a consistent copy of the whole run.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() RunSnapshot {
	snap := RunSnapshot{
		RunID:        r.id,
		WorkflowID:   r.workflowID,
		Status:       r.status,
		State:        r.state.Snapshot(),
		StateVersion: r.state.Version(),
		Iterations:   maps.Clone(r.iterations),
		CurrentNode:  r.currentNode,
		Trace:        r.log.Steps(),
		Error:        r.err,
		ErrorKind:    r.errKind,
		CreatedAt:    r.createdAt,
		StartedAt:    r.startedAt,
		EndedAt:      r.endedAt,
	}
	if r.summary != nil {
		s := *r.summary
		snap.Summary = &s
	}
	return snap
}

// begin moves a pending run to running and attaches logger to its trace.
func (r *Run) begin(logger *slog.Logger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrRunNotPending, r.id, r.status)
	}
	r.status = StatusRunning
	r.startedAt = time.Now().UTC()
	r.log = execlog.Restore(logger, r.log.Steps())
	return nil
}

// finish records the terminal status. err is nil for completed and
// max_iterations_reached.
func (r *Run) finish(status Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.endedAt = time.Now().UTC()
	if err != nil {
		r.err = err.Error()
		r.errKind = KindOf(err)
	}

	total := 0
	for _, n := range r.iterations {
		total += n
	}
	r.summary = &Summary{
		Steps:      r.log.Len(),
		Failures:   len(r.log.Failures()),
		Iterations: total,
		LastNode:   r.currentNode,
		DurationMs: float64(r.endedAt.Sub(r.startedAt).Microseconds()) / 1000,
	}
}

func (r *Run) setCurrent(nodeID string) {
	r.mu.Lock()
	r.currentNode = nodeID
	r.mu.Unlock()
}

func (r *Run) appendStep(s execlog.Step) execlog.Step {
	r.mu.RLock()
	log := r.log
	r.mu.RUnlock()
	return log.Append(s)
}

// nextIteration advances loopID's counter. It returns false, leaving the
// counter unchanged, once max iterations have already run.
func (r *Run) nextIteration(loopID string, max int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.iterations[loopID] >= max {
		return r.iterations[loopID], false
	}
	r.iterations[loopID]++
	return r.iterations[loopID], true
}

// snapshotForSave returns the next save sequence with a snapshot taken
// under the same lock.
func (r *Run) snapshotForSave() (int64, RunSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, r.snapshotLocked()
}

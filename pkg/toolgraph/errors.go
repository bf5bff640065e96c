package toolgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
)

// ErrConfig matches every *ConfigError with errors.Is.
var ErrConfig = errors.New("invalid graph definition")

// Sentinel errors for definition parsing and compilation. A *ConfigError
// wraps one or more of these.
var (
	// ErrInvalidNodeID indicates an empty node id or one containing whitespace.
	ErrInvalidNodeID = errors.New("invalid node id")

	// ErrDuplicateNode indicates two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrUnknownNodeType indicates a node type outside normal, loop, decision, terminal.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrNodeNotFound indicates an edge or start references a node that is not in scope.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoStartNode indicates no unique start node could be determined.
	ErrNoStartNode = errors.New("no start node")

	// ErrMissingTool indicates a normal node without a tool.
	ErrMissingTool = errors.New("normal node requires a tool")

	// ErrInvalidDecision indicates a decision node without a condition or
	// without exactly one true and one false edge.
	ErrInvalidDecision = errors.New("invalid decision node")

	// ErrInvalidLoop indicates a loop without a body, without an exit
	// condition, or with max_iterations outside 0..100.
	ErrInvalidLoop = errors.New("invalid loop node")

	// ErrNestedLoop indicates a loop inside a loop body.
	ErrNestedLoop = errors.New("nested loops are not supported")

	// ErrInvalidCondition indicates a condition that does not parse.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrInvalidEdge indicates a malformed edge (bad branch, branch on a non-decision).
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrCycle indicates a cycle that does not pass through a loop node.
	ErrCycle = errors.New("cycle without a loop node")

	// ErrUnreachable indicates a top-level node not reachable from the start node.
	ErrUnreachable = errors.New("node unreachable from start")

	// ErrDeadEnd indicates a non-terminal top-level node with no outgoing edge.
	ErrDeadEnd = errors.New("non-terminal node has no outgoing edge")

	// ErrNoTerminal indicates no terminal node is reachable from the start node.
	ErrNoTerminal = errors.New("no terminal node reachable from start")

	// ErrInvalidNodeConfig indicates a node config with malformed input or output mappings.
	ErrInvalidNodeConfig = errors.New("invalid node config")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Run() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilRun indicates Run() was called without a run record.
	ErrNilRun = errors.New("run cannot be nil")

	// ErrRunNotPending indicates Run() was called on a run that already started.
	ErrRunNotPending = errors.New("run is not pending")

	// ErrNoViableTransition indicates no outgoing edge could be taken.
	ErrNoViableTransition = errors.New("no viable transition")
)

// ConfigError reports every problem found while compiling a definition.
type ConfigError struct {
	Problems []error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("%s: %s", ErrConfig, strings.Join(msgs, "; "))
}

// Unwrap exposes ErrConfig and each problem to errors.Is/As.
func (e *ConfigError) Unwrap() []error {
	return append([]error{ErrConfig}, e.Problems...)
}

// NodeError wraps an error with node context.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed ("execute", "apply", "route").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// TransitionError reports that no edge out of a node could be followed.
type TransitionError struct {
	// FromNode is the node whose outgoing edges were evaluated.
	FromNode string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("no viable transition from node %s", e.FromNode)
}

// Unwrap returns ErrNoViableTransition for errors.Is support.
func (e *TransitionError) Unwrap() error {
	return ErrNoViableTransition
}

// CancellationError captures where execution was cancelled.
type CancellationError struct {
	// NodeID is the node that was about to execute or was executing.
	NodeID string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
	// WasExecuting is true if cancellation occurred during node execution.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// PersistError wraps a failed run save. It is only returned from Run when
// WithPersistFailureFatal(true) is set.
type PersistError struct {
	RunID string
	// Op is the operation that failed ("encode", "save").
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("persist run %s: %s: %v", e.RunID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies failures in step records and runs.
type ErrorKind string

// Error kinds.
const (
	KindConfig             ErrorKind = "config"
	KindToolNotFound       ErrorKind = "tool_not_found"
	KindToolInput          ErrorKind = "tool_input"
	KindToolExecution      ErrorKind = "tool_execution"
	KindNoViableTransition ErrorKind = "no_viable_transition"
	KindCancelled          ErrorKind = "cancelled"
	KindPersist            ErrorKind = "persist"
)

// KindOf classifies err. It returns "" for nil.
func KindOf(err error) ErrorKind {
	var (
		inputErr  *registry.InputError
		execErr   *registry.ExecutionError
		cancelErr *CancellationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cancelErr):
		return KindCancelled
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, registry.ErrToolNotFound):
		return KindToolNotFound
	case errors.As(err, &inputErr):
		return KindToolInput
	case errors.Is(err, ErrNoViableTransition):
		return KindNoViableTransition
	case errors.As(err, &execErr):
		return KindToolExecution
	case errors.As(err, new(*PersistError)):
		return KindPersist
	}
	return KindToolExecution
}

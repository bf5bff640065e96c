package toolgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to the engine and, through the plain
// context.Context it embeds, to tools.
//
// Context is immutable after creation. The engine derives a context per
// node with the node id, loop iteration and an enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// RunID returns the identifier used for logging and tracing.
	RunID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger *slog.Logger
	runID  string
	nodeID string
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// RunID returns the run identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with run_id, node_id and iteration during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID will be auto-generated. Run replaces it with the
// id of the run being driven.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := toolgraph.NewContext(context.Background(),
//	    toolgraph.WithLogger(myLogger))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// asExecutionContext copies ctx into an executionContext bound to runID.
func asExecutionContext(ctx Context, runID string) *executionContext {
	logger := ctx.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	return &executionContext{
		Context: ctx,
		logger:  logger,
		runID:   runID,
	}
}

type iterationKey struct{}

// withNode returns a derived context for one node. iteration is the
// enclosing loop's counter, zero outside loops.
func (c *executionContext) withNode(std context.Context, nodeID string, iteration int) *executionContext {
	logger := c.logger.With("run_id", c.runID, "node_id", nodeID)
	if iteration > 0 {
		logger = logger.With("iteration", iteration)
		std = context.WithValue(std, iterationKey{}, iteration)
	}
	return &executionContext{
		Context: std,
		logger:  logger,
		runID:   c.runID,
		nodeID:  nodeID,
	}
}

// LoopIteration returns the 1-based iteration of the loop enclosing the
// node being executed, or 0 outside loops. Tools use it to vary behavior
// across iterations.
func LoopIteration(ctx context.Context) int {
	n, _ := ctx.Value(iterationKey{}).(int)
	return n
}

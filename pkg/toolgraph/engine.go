package toolgraph

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/execlog"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/expr"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/observability"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/state"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/store"
	"go.opentelemetry.io/otel/attribute"
)

// Run drives run from the start node until it reaches a terminal status.
//
// Run returns nil when the run completes or a loop reaches its iteration
// cap (status max_iterations_reached). Otherwise it returns the error that
// failed or cancelled the run; the run record holds the same error along
// with the full trace and the last applied state.
//
// Execution flow:
//  1. Check for cancellation
//  2. Execute the current node (tool, decision or loop body)
//  3. Append a step and persist the run if a store is configured
//  4. Select the next node through the outgoing edges
//  5. Repeat until a terminal node or a terminal status
//
// Example:
//
//	run, _ := toolgraph.NewRun("review", map[string]any{"code": src})
//	ctx := toolgraph.NewContext(context.Background())
//	err := compiled.Run(ctx, run, toolgraph.WithRegistry(reg))
func (c *Compiled) Run(ctx Context, run *Run, opts ...RunOption) (runErr error) {
	if ctx == nil {
		return ErrNilContext
	}
	if run == nil {
		return ErrNilRun
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ec := asExecutionContext(ctx, run.ID())
	if err := run.begin(ec.logger); err != nil {
		return err
	}

	elapsed := observability.TimedOperation()
	started := time.Now()
	observability.LogRunStart(ec.logger, run.ID(), run.WorkflowID())

	spanCtx, runSpan := cfg.spans.StartRunSpan(ec, run.WorkflowID(), run.ID())

	x := &execution{
		compiled: c,
		cfg:      &cfg,
		run:      run,
		ec:       ec,
		spanCtx:  spanCtx,
	}

	var status Status
	if err := x.persist(); err != nil {
		status, runErr = StatusFailed, err
	} else {
		status, runErr = x.walk(c.top, c.start, nil, 0)
	}

	run.finish(status, runErr)
	if err := x.persist(); err != nil && runErr == nil {
		runErr = err
	}

	cfg.metrics.RecordRun(spanCtx, string(status), time.Since(started))
	cfg.spans.EndSpanWithError(runSpan, runErr)

	if runErr != nil {
		observability.LogRunError(ec.logger, run.ID(), runErr, elapsed(), run.Summary().LastNode)
		return runErr
	}
	observability.LogRunComplete(ec.logger, run.ID(), string(status), elapsed(), len(run.Trace()))
	return nil
}

// execution is the per-call state of Run.
type execution struct {
	compiled *Compiled
	cfg      *runConfig
	run      *Run
	ec       *executionContext
	spanCtx  context.Context
}

// walk drives sc from id. loop is the enclosing loop node when sc is a
// body, and iteration its current counter.
//
// At top level walk returns the terminal status. In a body an empty
// status with a nil error means the iteration ended normally.
func (x *execution) walk(sc *scope, id string, loop *node, iteration int) (Status, error) {
	for {
		if err := x.ec.Err(); err != nil {
			return StatusCancelled, &CancellationError{NodeID: id, Cause: err}
		}

		n := x.compiled.nodes[id]
		x.run.setCurrent(id)

		var outcome *bool
		switch n.typ {
		case NodeTerminal:
			if loop == nil {
				return StatusCompleted, nil
			}
			return "", nil

		case NodeNormal:
			if err := x.execNormal(n, loop, iteration); err != nil {
				return statusFor(err), err
			}

		case NodeDecision:
			result, err := x.execDecision(n, loop, iteration)
			if err != nil {
				return statusFor(err), err
			}
			outcome = &result

		case NodeLoop:
			if status, err := x.execLoop(n); status != "" || err != nil {
				return status, err
			}
		}

		next, ok := sc.next(id, outcome, x.run.State())
		if !ok {
			if loop != nil && !sc.hasEdges(id) {
				return "", nil
			}
			err := &TransitionError{FromNode: id}
			observability.LogNodeError(x.ec.logger, id, err)
			return StatusFailed, err
		}
		id = next
	}
}

func statusFor(err error) Status {
	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) {
		return StatusCancelled
	}
	return StatusFailed
}

// execNormal invokes the node's tool, applies its patch and records a step.
// A failed tool records a failed step and leaves the state untouched.
func (x *execution) execNormal(n *node, loop *node, iteration int) error {
	nodeSpanCtx, span := x.cfg.spans.StartNodeSpan(x.spanCtx, n.id, string(n.typ))
	nctx := x.ec.withNode(nodeSpanCtx, n.id, iteration)
	observability.LogNodeStart(nctx.logger, n.id, string(n.typ))

	started := time.Now()
	elapsed := observability.TimedOperation()
	inputs, patch, err := invokeTool(nctx, x.cfg.tools, n, x.run.State())

	step := execlog.Step{
		NodeID:    n.id,
		NodeType:  string(n.typ),
		Tool:      n.tool,
		Input:     inputs,
		Timestamp: started.UTC(),
	}
	if loop != nil {
		step.LoopID = loop.id
		step.Iteration = iteration
	}

	if err == nil {
		output, applyErr := state.Normalize(patch)
		if applyErr == nil {
			step.StateVersion, applyErr = x.run.state.Apply(state.Patch(output))
		}
		if applyErr != nil {
			err = &NodeError{NodeID: n.id, Op: "apply", Err: applyErr}
		} else {
			step.Output = output
		}
	} else if cause := x.ec.Err(); cause != nil {
		err = &CancellationError{NodeID: n.id, Cause: cause, WasExecuting: true}
	} else {
		err = &NodeError{NodeID: n.id, Op: "execute", Err: err}
	}
	step.DurationMs = elapsed()

	x.cfg.metrics.RecordNodeExecution(nodeSpanCtx, n.id, n.tool, time.Since(started), err)
	x.cfg.spans.EndSpanWithError(span, err)

	if err != nil {
		step.StateVersion = x.run.state.Version()
		step.Error = err.Error()
		step.ErrorKind = string(KindOf(err))
		observability.LogNodeError(nctx.logger, n.id, err)
		if recErr := x.record(step); recErr != nil {
			return errors.Join(err, recErr)
		}
		return err
	}

	step.Success = true
	observability.LogNodeComplete(nctx.logger, n.id, step.DurationMs)
	return x.record(step)
}

// execDecision evaluates the node's condition and records the result.
func (x *execution) execDecision(n *node, loop *node, iteration int) (bool, error) {
	nodeSpanCtx, span := x.cfg.spans.StartNodeSpan(x.spanCtx, n.id, string(n.typ))
	nctx := x.ec.withNode(nodeSpanCtx, n.id, iteration)
	observability.LogNodeStart(nctx.logger, n.id, string(n.typ))

	started := time.Now()
	result := expr.Evaluate(n.cond, x.run.State())
	x.cfg.spans.AddSpanEvent(nodeSpanCtx, "decision", attribute.Bool("result", result))
	x.cfg.metrics.RecordNodeExecution(nodeSpanCtx, n.id, "", time.Since(started), nil)
	x.cfg.spans.EndSpanWithError(span, nil)

	step := execlog.Step{
		NodeID:       n.id,
		NodeType:     string(n.typ),
		Condition:    execlog.Bool(result),
		StateVersion: x.run.state.Version(),
		Timestamp:    started.UTC(),
		Success:      true,
	}
	if loop != nil {
		step.LoopID = loop.id
		step.Iteration = iteration
	}
	observability.LogNodeComplete(nctx.logger, n.id, 0)
	return result, x.record(step)
}

// execLoop runs the body until the exit condition holds or the iteration
// cap is reached. It returns an empty status when the loop exits through
// its condition.
func (x *execution) execLoop(n *node) (Status, error) {
	limit := n.maxIter
	if limit == 0 {
		limit = x.cfg.defaultMaxIterations
	}
	logger := x.ec.withNode(x.spanCtx, n.id, 0).logger

	for {
		if err := x.ec.Err(); err != nil {
			return StatusCancelled, &CancellationError{NodeID: n.id, Cause: err}
		}

		count, ok := x.run.nextIteration(n.id, limit)
		if !ok {
			observability.LogLoopExit(logger, n.id, count, "max_iterations")
			x.cfg.metrics.RecordLoopIterations(x.spanCtx, n.id, count)
			x.cfg.spans.AddSpanEvent(x.spanCtx, "loop.max_iterations",
				attribute.String("loop_id", n.id), attribute.Int("iterations", count))
			return StatusMaxIterationsReached, nil
		}
		observability.LogLoopIteration(logger, n.id, count, limit)

		if status, err := x.walk(n.body, n.body.start, n, count); status != "" || err != nil {
			return status, err
		}

		x.run.setCurrent(n.id)
		exit := expr.Evaluate(n.exit, x.run.State())
		step := execlog.Step{
			NodeID:       n.id,
			NodeType:     string(NodeLoop),
			LoopID:       n.id,
			Iteration:    count,
			Condition:    execlog.Bool(exit),
			StateVersion: x.run.state.Version(),
			Success:      true,
		}
		if err := x.record(step); err != nil {
			return StatusFailed, err
		}

		if exit {
			observability.LogLoopExit(logger, n.id, count, "condition")
			x.cfg.metrics.RecordLoopIterations(x.spanCtx, n.id, count)
			return "", nil
		}
	}
}

// record appends step to the trace and persists the run.
func (x *execution) record(step execlog.Step) error {
	x.run.appendStep(step)
	return x.persist()
}

// persist saves the run when a store is configured. Failures are logged and
// swallowed unless persistFailureFatal is set.
func (x *execution) persist() error {
	if x.cfg.store == nil {
		return nil
	}
	seq, snap := x.run.snapshotForSave()

	// The cancelled status must still be stored.
	ctx := context.WithoutCancel(x.spanCtx)

	data, err := json.Marshal(snap)
	if err != nil {
		return x.persistFailed(ctx, "encode", err, 0)
	}

	err = x.cfg.store.SaveRun(ctx, store.RunRecord{
		ID:         snap.RunID,
		WorkflowID: snap.WorkflowID,
		Status:     string(snap.Status),
		Data:       data,
		Sequence:   seq,
		CreatedAt:  snap.CreatedAt,
	})
	if err != nil {
		return x.persistFailed(ctx, "save", err, len(data))
	}

	x.cfg.metrics.RecordPersist(ctx, int64(len(data)), nil)
	observability.LogPersist(x.ec.logger, snap.RunID, len(data))
	return nil
}

func (x *execution) persistFailed(ctx context.Context, op string, err error, size int) error {
	x.cfg.metrics.RecordPersist(ctx, int64(size), err)
	if x.cfg.persistFailureFatal {
		return &PersistError{RunID: x.run.ID(), Op: op, Err: err}
	}
	observability.LogPersistError(x.ec.logger, x.run.ID(), op, err)
	return nil
}

/*
Package toolgraph executes declarative workflow graphs whose nodes invoke
registered tools over a shared key/value state.

# Overview

A workflow is a Definition: nodes, edges and an optional start node, usually
loaded from JSON or YAML. Compile validates it and returns an immutable
Compiled graph. Each execution is a Run, which owns its state, loop
counters and an append-only trace of steps.

Four node types exist:
  - normal: invokes a tool; its output fields are merged into the state
  - decision: evaluates a condition and follows its "true" or "false" edge
  - loop: runs a body subgraph until an exit condition holds or the
    iteration cap is reached
  - terminal: finishes the run as completed

# Basic Usage

	reg := registry.New()
	reg.MustRegister("increment", registry.ToolFunc(increment), registry.Spec{})
	reg.Freeze()

	def, err := toolgraph.ParseDefinitionFile("workflow.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	compiled, err := toolgraph.Compile(def)
	if err != nil {
	    log.Fatal(err) // *ConfigError lists every problem
	}

	run, _ := toolgraph.NewRun(def.Name, map[string]any{"counter": 0})
	ctx := toolgraph.NewContext(context.Background())
	if err := compiled.Run(ctx, run, toolgraph.WithRegistry(reg)); err != nil {
	    log.Fatal(err)
	}
	fmt.Println(run.Status(), run.State()["counter"])

# Conditions

Edge guards, decision conditions and loop exit conditions use the expr
package. Both a string form and a structured form are accepted:

	quality_score >= 7 and length(issues) < 3

	{"type": "AND", "conditions": [{"field": "quality_score", "operator": ">=", "value": 7}]}

An edge without a guard is the fallback: the first guard that holds wins,
otherwise the first unguarded edge is taken.

# Loops

A loop body is its own scope. Without body edges the body nodes run in
declaration order. An iteration ends at a body terminal node or at a node
with no outgoing body edge. Loops cannot be nested. A loop that hits its
cap ends the run with status max_iterations_reached, which is not an error.

Tools can read the current iteration with LoopIteration(ctx).

# Persistence

With WithStore the run is saved after every step and every status change.
Saves are at-least-once and carry an increasing sequence so stores can
discard stale writes.

# Observability

Logging uses log/slog through the Context's logger. Metrics (OpenTelemetry
or Prometheus) and tracing are opt-in through WithMetrics, WithSpanManager
and WithTracing.
*/
package toolgraph

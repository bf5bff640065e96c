package toolgraph

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/expr"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
	"github.com/stretchr/testify/require"
)

// Helper tools

// errToolFailed is returned by the failing tool.
var errToolFailed = errors.New("boom")

// bump adds 1 to the field named by the "field" input, defaulting to quality_score.
func bump(_ context.Context, in map[string]any) (map[string]any, error) {
	field := "quality_score"
	if f, ok := in["field"].(string); ok {
		field = f
	}
	n, _ := expr.ToFloat64(in[field])
	return map[string]any{field: n + 1}, nil
}

// increment adds 1 to counter.
func increment(_ context.Context, in map[string]any) (map[string]any, error) {
	n, _ := expr.ToFloat64(in["counter"])
	return map[string]any{"counter": n + 1}, nil
}

// noop produces nothing.
func noop(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func failing(context.Context, map[string]any) (map[string]any, error) {
	return nil, errToolFailed
}

// testRegistry returns a frozen registry with the helper tools plus extra.
func testRegistry(t *testing.T, extra map[string]registry.Tool) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register("bump", registry.ToolFunc(bump), registry.Spec{}))
	require.NoError(t, reg.Register("increment", registry.ToolFunc(increment), registry.Spec{
		Inputs:  []registry.Field{{Name: "counter"}},
		Outputs: []string{"counter"},
	}))
	require.NoError(t, reg.Register("noop", registry.ToolFunc(noop), registry.Spec{}))
	require.NoError(t, reg.Register("failing", registry.ToolFunc(failing), registry.Spec{}))
	require.NoError(t, reg.Register("set_score", registry.ToolFunc(func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"quality_score": 10}, nil
	}), registry.Spec{}))
	for name, tool := range extra {
		require.NoError(t, reg.Register(name, tool, registry.Spec{}))
	}
	reg.Freeze()
	return reg
}

// mustCompile parses a YAML definition and compiles it.
func mustCompile(t *testing.T, src string) *Compiled {
	t.Helper()
	def, err := ParseDefinition([]byte(src), FormatYAML)
	require.NoError(t, err)
	compiled, err := Compile(def)
	require.NoError(t, err)
	return compiled
}

// runGraph compiles src and drives a fresh run with initial state.
func runGraph(t *testing.T, src string, initial map[string]any, opts ...RunOption) (*Run, error) {
	t.Helper()
	compiled := mustCompile(t, src)
	run, err := NewRun("test", initial)
	require.NoError(t, err)
	err = compiled.Run(NewContext(context.Background()), run, opts...)
	return run, err
}

// loopGraph is a score loop: bump quality_score until the exit condition holds.
func loopGraph(exit string, limit int) string {
	return `
name: bounded
nodes:
  - id: improve
    type: loop
    max_iterations: ` + strconv.Itoa(limit) + `
    exit_condition: "` + exit + `"
    body:
      nodes:
        - id: bump
          tool: bump
  - id: end
    type: terminal
edges:
  - from: improve
    to: end
`
}

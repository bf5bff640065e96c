package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/expr"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/tools/codereview"
)

// benchRegistry holds the review tools plus a trivial "add" tool.
func benchRegistry() *registry.Registry {
	reg := registry.New()
	if err := codereview.RegisterAll(reg); err != nil {
		panic(err)
	}
	reg.MustRegister("add", registry.ToolFunc(func(_ context.Context, in map[string]any) (map[string]any, error) {
		v, _ := in["value"].(float64)
		return map[string]any{"value": v + 1}, nil
	}), registry.Spec{Inputs: []registry.Field{{Name: "value"}}, Outputs: []string{"value"}})
	reg.Freeze()
	return reg
}

// linearDefinition chains n "add" nodes into a terminal.
func linearDefinition(n int) *toolgraph.Definition {
	def := &toolgraph.Definition{Name: fmt.Sprintf("linear-%d", n)}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("node%d", i)
		def.Nodes = append(def.Nodes, toolgraph.NodeDef{ID: id, Tool: "add"})
		next := "end"
		if i < n-1 {
			next = fmt.Sprintf("node%d", i+1)
		}
		def.Edges = append(def.Edges, toolgraph.EdgeDef{From: id, To: next})
	}
	def.Nodes = append(def.Nodes, toolgraph.NodeDef{ID: "end", Type: toolgraph.NodeTerminal})
	return def
}

func branchingDefinition() *toolgraph.Definition {
	return &toolgraph.Definition{
		Name: "branching",
		Nodes: []toolgraph.NodeDef{
			{ID: "check", Type: toolgraph.NodeDecision, Condition: "value >= 5"},
			{ID: "high", Tool: "add"},
			{ID: "low", Tool: "add"},
			{ID: "end", Type: toolgraph.NodeTerminal},
		},
		Edges: []toolgraph.EdgeDef{
			{From: "check", To: "high", Branch: "true"},
			{From: "check", To: "low", Branch: "false"},
			{From: "high", To: "end"},
			{From: "low", To: "end"},
		},
	}
}

func loopDefinition(iterations int) *toolgraph.Definition {
	return &toolgraph.Definition{
		Name: "loop",
		Nodes: []toolgraph.NodeDef{
			{
				ID:            "repeat",
				Type:          toolgraph.NodeLoop,
				MaxIterations: 100,
				ExitCondition: fmt.Sprintf("value >= %d", iterations),
				Body:          &toolgraph.BodyDef{Nodes: []toolgraph.NodeDef{{ID: "step", Tool: "add"}}},
			},
			{ID: "end", Type: toolgraph.NodeTerminal},
		},
		Edges: []toolgraph.EdgeDef{{From: "repeat", To: "end"}},
	}
}

func mustCompile(def *toolgraph.Definition) *toolgraph.Compiled {
	compiled, err := toolgraph.Compile(def)
	if err != nil {
		panic(err)
	}
	return compiled
}

// BenchmarkCompile_Linear_10 measures compiling a 10-node graph.
func BenchmarkCompile_Linear_10(b *testing.B) {
	def := linearDefinition(10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = toolgraph.Compile(def)
	}
}

// BenchmarkCompile_Linear_100 measures compiling a 100-node graph.
func BenchmarkCompile_Linear_100(b *testing.B) {
	def := linearDefinition(100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = toolgraph.Compile(def)
	}
}

// BenchmarkCompile_CodeReview measures compiling the built-in workflow.
func BenchmarkCompile_CodeReview(b *testing.B) {
	def := codereview.Workflow()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = toolgraph.Compile(def)
	}
}

// BenchmarkParseDefinition_JSON measures decoding a definition document.
func BenchmarkParseDefinition_JSON(b *testing.B) {
	data, err := codereview.Workflow().JSON()
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = toolgraph.ParseDefinition(data, toolgraph.FormatJSON)
	}
}

// BenchmarkExpr_Parse measures parsing a compound condition.
func BenchmarkExpr_Parse(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = expr.ParseString("quality_score >= 8 and (issues.count < 3 or done == true)")
	}
}

// BenchmarkExpr_Evaluate measures evaluating a compound condition.
func BenchmarkExpr_Evaluate(b *testing.B) {
	e := expr.MustParse("quality_score >= 8 and (issues.count < 3 or done == true)")
	vars := map[string]any{
		"quality_score": 7.5,
		"issues":        map[string]any{"count": 2.0},
		"done":          false,
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = expr.Evaluate(e, vars)
	}
}

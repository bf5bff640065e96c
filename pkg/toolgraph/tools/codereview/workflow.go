package codereview

import (
	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
)

// WorkflowName is the name of the built-in review workflow.
const WorkflowName = "Code Review Mini-Agent"

// Quality threshold and iteration cap of the built-in workflow's loop.
const (
	TargetQuality        = 8
	WorkflowMaxIteration = 15
)

type toolDef struct {
	name string
	fn   registry.ToolFunc
	spec registry.Spec
}

func inputs(names ...string) []registry.Field {
	fields := make([]registry.Field, len(names))
	for i, n := range names {
		fields[i] = registry.Field{Name: n}
	}
	return fields
}

var tools = []toolDef{
	{"extract_functions", ExtractFunctions, registry.Spec{
		Description: "Parse Python code and describe every function",
		Inputs:      inputs("code"),
		Outputs:     []string{"functions", "syntax_errors"},
	}},
	{"check_complexity", CheckComplexity, registry.Spec{
		Description: "Score the cyclomatic complexity of each function",
		Inputs:      inputs("code", "functions"),
		Outputs:     []string{"complexity_scores"},
	}},
	{"detect_issues", DetectIssues, registry.Spec{
		Description: "Report functions that are too long, too complex, undocumented or take too many parameters",
		Inputs:      inputs("functions", "complexity_scores", "improved_functions"),
		Outputs:     []string{"issues"},
	}},
	{"calculate_quality", CalculateQuality, registry.Spec{
		Description: "Compute a 0-10 quality score from the detected issues",
		Inputs:      inputs("issues"),
		Outputs:     []string{"quality_score"},
	}},
	{"suggest_improvements", SuggestImprovements, registry.Spec{
		Description: "Suggest one improvement per issue",
		Inputs:      inputs("issues"),
		Outputs:     []string{"suggestions"},
	}},
	{"apply_suggestions", ApplySuggestions, registry.Spec{
		Description: "Simulate applying suggestions and update the function metrics",
		Inputs:      inputs("suggestions", "issues", "functions", "complexity_scores", "improved_functions", "improvements_applied"),
		Outputs:     []string{"functions", "complexity_scores", "issues", "improved_functions", "improvements_applied"},
	}},
	{"increment", Increment, registry.Spec{
		Description: "Add one to count",
		Inputs:      inputs("count"),
		Outputs:     []string{"count"},
	}},
	{"quality_check", QualityCheck, registry.Spec{
		Description: "Derive quality_score from count",
		Inputs:      inputs("count"),
		Outputs:     []string{"quality_score"},
	}},
}

// RegisterAll registers every review tool with reg.
func RegisterAll(reg *registry.Registry) error {
	for _, t := range tools {
		if err := reg.Register(t.name, t.fn, t.spec); err != nil {
			return err
		}
	}
	return nil
}

// Workflow returns the built-in review workflow: extract functions once,
// then check, score, suggest and apply in a loop until the quality score
// reaches TargetQuality.
func Workflow() *toolgraph.Definition {
	body := []toolgraph.NodeDef{
		{ID: "check_complexity", Tool: "check_complexity"},
		{ID: "detect_issues", Tool: "detect_issues"},
		{ID: "calculate_quality", Tool: "calculate_quality"},
		{ID: "suggest_improvements", Tool: "suggest_improvements"},
		{ID: "apply_suggestions", Tool: "apply_suggestions"},
	}

	return &toolgraph.Definition{
		Name:        WorkflowName,
		Description: "Automated code review with iterative quality improvement",
		Nodes: []toolgraph.NodeDef{
			{ID: "extract_functions", Tool: "extract_functions"},
			{
				ID:            "improvement_loop",
				Type:          toolgraph.NodeLoop,
				Body:          &toolgraph.BodyDef{Nodes: body},
				MaxIterations: WorkflowMaxIteration,
				ExitCondition: map[string]any{
					"field":    "quality_score",
					"operator": ">=",
					"value":    TargetQuality,
				},
			},
			{ID: "end", Type: toolgraph.NodeTerminal},
		},
		Edges: []toolgraph.EdgeDef{
			{From: "extract_functions", To: "improvement_loop"},
			{From: "improvement_loop", To: "end"},
		},
		InitialStateSchema: map[string]string{
			"code":                 "str",
			"functions":            "list",
			"complexity_scores":    "dict",
			"issues":               "list",
			"quality_score":        "float",
			"suggestions":          "list",
			"improvements_applied": "int",
		},
	}
}

package codereview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
)

// Review thresholds.
const (
	MaxLines      = 50
	MaxComplexity = 10
	MaxParameters = 5

	// BaseScore is the quality score of code with no issues.
	BaseScore = 10.0
)

// Severity ranks an issue.
type Severity string

// Severities.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weight is the quality deduction for one issue of this severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 0.5
	}
	return 0
}

// Issue types.
const (
	IssueLongFunction      = "long_function"
	IssueHighComplexity    = "high_complexity"
	IssueMissingDocstring  = "missing_docstring"
	IssueTooManyParameters = "too_many_parameters"
)

// Issue is one detected problem.
type Issue struct {
	Type         string   `json:"type"`
	Function     string   `json:"function"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	CurrentValue int      `json:"current_value"`
	Threshold    int      `json:"threshold"`
}

// Suggestion is a remediation for an issue.
type Suggestion struct {
	Type       string   `json:"type"`
	Function   string   `json:"function"`
	Suggestion string   `json:"suggestion"`
	Priority   Severity `json:"priority"`
}

var suggestionTemplates = map[string]string{
	IssueLongFunction:      "Break down function '%s' into smaller, focused functions",
	IssueHighComplexity:    "Simplify function '%s' by extracting complex logic into separate functions",
	IssueMissingDocstring:  "Add a docstring to function '%s' explaining its purpose, parameters, and return value",
	IssueTooManyParameters: "Reduce parameters in function '%s' by grouping related parameters into objects",
}

// ExtractFunctions parses inputs["code"] and returns "functions". Code that
// does not parse yields no functions and a "syntax_errors" entry.
func ExtractFunctions(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	code, _ := inputs["code"].(string)
	if code == "" {
		return map[string]any{"functions": []Function{}}, nil
	}

	src, err := parse(ctx, code)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if msg := src.syntaxError(); msg != "" {
		loggerFrom(ctx).Warn("code does not parse", "error", msg)
		return map[string]any{
			"functions":     []Function{},
			"syntax_errors": []string{msg},
		}, nil
	}

	nodes := src.functions()
	functions := make([]Function, 0, len(nodes))
	for _, n := range nodes {
		functions = append(functions, src.describe(n))
	}
	loggerFrom(ctx).Info("extracted functions", "count", len(functions))
	return map[string]any{"functions": functions}, nil
}

// CheckComplexity scores every function listed in inputs["functions"]
// against inputs["code"] and returns "complexity_scores".
func CheckComplexity(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	var functions []Function
	if err := decode(inputs, "functions", &functions); err != nil {
		return nil, err
	}
	scores := make(map[string]int, len(functions))

	code, _ := inputs["code"].(string)
	if code == "" || len(functions) == 0 {
		return map[string]any{"complexity_scores": scores}, nil
	}

	src, err := parse(ctx, code)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	wanted := make(map[string]bool, len(functions))
	for _, f := range functions {
		wanted[f.Name] = true
	}
	for _, n := range src.functions() {
		name := src.text(n.ChildByFieldName("name"))
		if _, seen := scores[name]; seen || !wanted[name] {
			continue
		}
		scores[name] = complexity(n)
	}
	loggerFrom(ctx).Info("scored complexity", "functions", len(scores))
	return map[string]any{"complexity_scores": scores}, nil
}

// DetectIssues checks each function against the review thresholds and
// returns "issues". Functions listed in inputs["improved_functions"] are
// not reported for missing docstrings.
func DetectIssues(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	var (
		functions []Function
		scores    map[string]int
		improved  []string
	)
	if err := decode(inputs, "functions", &functions); err != nil {
		return nil, err
	}
	if err := decode(inputs, "complexity_scores", &scores); err != nil {
		return nil, err
	}
	if err := decode(inputs, "improved_functions", &improved); err != nil {
		return nil, err
	}

	issues := []Issue{}
	for _, f := range functions {
		if f.CodeLineCount > MaxLines {
			issues = append(issues, Issue{
				Type:         IssueLongFunction,
				Function:     f.Name,
				Severity:     SeverityMedium,
				Message:      fmt.Sprintf("Function '%s' has %d lines (max: %d)", f.Name, f.CodeLineCount, MaxLines),
				CurrentValue: f.CodeLineCount,
				Threshold:    MaxLines,
			})
		}

		if c := scores[f.Name]; c > MaxComplexity {
			issues = append(issues, Issue{
				Type:         IssueHighComplexity,
				Function:     f.Name,
				Severity:     SeverityHigh,
				Message:      fmt.Sprintf("Function '%s' has complexity %d (max: %d)", f.Name, c, MaxComplexity),
				CurrentValue: c,
				Threshold:    MaxComplexity,
			})
		}

		if !f.HasDocstring && !slices.Contains(improved, f.Name) {
			issues = append(issues, Issue{
				Type:         IssueMissingDocstring,
				Function:     f.Name,
				Severity:     SeverityLow,
				Message:      fmt.Sprintf("Function '%s' is missing a docstring", f.Name),
				CurrentValue: 0,
				Threshold:    1,
			})
		}

		if f.ParameterCount > MaxParameters {
			issues = append(issues, Issue{
				Type:         IssueTooManyParameters,
				Function:     f.Name,
				Severity:     SeverityMedium,
				Message:      fmt.Sprintf("Function '%s' has %d parameters (max: %d)", f.Name, f.ParameterCount, MaxParameters),
				CurrentValue: f.ParameterCount,
				Threshold:    MaxParameters,
			})
		}
	}
	loggerFrom(ctx).Info("detected issues", "count", len(issues))
	return map[string]any{"issues": issues}, nil
}

// CalculateQuality returns "quality_score": BaseScore minus the severity
// weight of every issue, floored at zero.
func CalculateQuality(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	var issues []Issue
	if err := decode(inputs, "issues", &issues); err != nil {
		return nil, err
	}
	score := qualityScore(issues)
	loggerFrom(ctx).Info("calculated quality", "score", score, "issues", len(issues))
	return map[string]any{"quality_score": score}, nil
}

func qualityScore(issues []Issue) float64 {
	score := BaseScore
	for _, i := range issues {
		score -= i.Severity.Weight()
	}
	return max(0, score)
}

// SuggestImprovements returns one "suggestions" entry per distinct
// (function, issue type) pair.
func SuggestImprovements(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	var issues []Issue
	if err := decode(inputs, "issues", &issues); err != nil {
		return nil, err
	}

	type key struct{ function, typ string }
	seen := make(map[key]bool)
	suggestions := []Suggestion{}
	for _, i := range issues {
		tmpl, ok := suggestionTemplates[i.Type]
		if !ok {
			continue
		}
		k := key{i.Function, i.Type}
		if seen[k] {
			continue
		}
		seen[k] = true
		suggestions = append(suggestions, Suggestion{
			Type:       i.Type,
			Function:   i.Function,
			Suggestion: fmt.Sprintf(tmpl, i.Function),
			Priority:   i.Severity,
		})
	}
	loggerFrom(ctx).Info("generated suggestions", "count", len(suggestions))
	return map[string]any{"suggestions": suggestions}, nil
}

// ApplySuggestions simulates refactoring. High and medium issues with a
// matching suggestion are fixed; low ones only from the second loop
// iteration on. Every improved function has its metrics reduced.
func ApplySuggestions(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	var (
		suggestions []Suggestion
		issues      []Issue
		functions   []Function
		scores      map[string]int
		improved    []string
		applied     int
	)
	for field, out := range map[string]any{
		"suggestions":          &suggestions,
		"issues":               &issues,
		"functions":            &functions,
		"complexity_scores":    &scores,
		"improved_functions":   &improved,
		"improvements_applied": &applied,
	} {
		if err := decode(inputs, field, out); err != nil {
			return nil, err
		}
	}

	logger := loggerFrom(ctx)
	if len(suggestions) == 0 {
		logger.Info("no suggestions to apply")
		return map[string]any{"improvements_applied": applied}, nil
	}

	suggested := make(map[string]map[string]bool)
	for _, s := range suggestions {
		if suggested[s.Function] == nil {
			suggested[s.Function] = make(map[string]bool)
		}
		suggested[s.Function][s.Type] = true
	}

	iteration := toolgraph.LoopIteration(ctx)
	fixed := 0
	remaining := []Issue{}
	for _, i := range issues {
		if suggested[i.Function][i.Type] {
			fix := i.Severity == SeverityHigh || i.Severity == SeverityMedium ||
				(i.Severity == SeverityLow && iteration >= 2)
			if fix {
				fixed++
				if !slices.Contains(improved, i.Function) {
					improved = append(improved, i.Function)
				}
				logger.Debug("fixed issue", "type", i.Type, "function", i.Function)
				continue
			}
		}
		remaining = append(remaining, i)
	}
	slices.Sort(improved)

	for idx := range functions {
		f := &functions[idx]
		if !slices.Contains(improved, f.Name) {
			continue
		}
		f.CodeLineCount = max(10, f.CodeLineCount-5)
		f.ParameterCount = max(2, f.ParameterCount-1)
		f.HasDocstring = true
	}
	if scores == nil {
		scores = map[string]int{}
	}
	for _, name := range improved {
		if c, ok := scores[name]; ok {
			scores[name] = max(1, c-2)
		}
	}

	logger.Info("applied improvements", "fixed", fixed, "remaining", len(remaining))
	return map[string]any{
		"functions":            functions,
		"complexity_scores":    scores,
		"issues":               remaining,
		"improved_functions":   improved,
		"improvements_applied": applied + fixed,
	}, nil
}

// Increment adds one to "count".
func Increment(_ context.Context, inputs map[string]any) (map[string]any, error) {
	var count int
	if err := decode(inputs, "count", &count); err != nil {
		return nil, err
	}
	return map[string]any{"count": count + 1}, nil
}

// QualityCheck returns "quality_score" as twice "count", capped at BaseScore.
func QualityCheck(_ context.Context, inputs map[string]any) (map[string]any, error) {
	var count int
	if err := decode(inputs, "count", &count); err != nil {
		return nil, err
	}
	return map[string]any{"quality_score": min(BaseScore, float64(count)*2)}, nil
}

// decode converts the JSON-shaped state value inputs[field] into out.
// A missing or null field leaves out untouched.
func decode(inputs map[string]any, field string, out any) error {
	v, ok := inputs[field]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	return nil
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if tc, ok := ctx.(toolgraph.Context); ok {
		return tc.Logger()
	}
	return slog.Default()
}

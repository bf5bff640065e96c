package codereview

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Function describes one Python function definition.
type Function struct {
	Name           string   `json:"name"`
	LineCount      int      `json:"line_count"`
	CodeLineCount  int      `json:"code_line_count"`
	Parameters     []string `json:"parameters"`
	ParameterCount int      `json:"parameter_count"`
	HasDocstring   bool     `json:"has_docstring"`
	StartLine      int      `json:"start_line"`
	EndLine        int      `json:"end_line"`
}

// source is a parsed Python module. Close releases the tree.
type source struct {
	content []byte
	tree    *sitter.Tree
}

// parse parses Python code. A new parser is created per call because
// parsers are not safe for concurrent use.
func parse(ctx context.Context, code string) (*source, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	return &source{content: content, tree: tree}, nil
}

func (s *source) Close() {
	s.tree.Close()
}

// syntaxError returns a description of the first syntax error, or "".
func (s *source) syntaxError() string {
	root := s.tree.RootNode()
	if !root.HasError() {
		return ""
	}
	bad := firstError(root)
	if bad == nil {
		return "invalid syntax"
	}
	line := int(bad.StartPoint().Row) + 1
	if bad.IsMissing() {
		return fmt.Sprintf("invalid syntax at line %d: missing %q", line, bad.Type())
	}
	return fmt.Sprintf("invalid syntax at line %d", line)
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstError(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

// functions returns every function definition in source order, including
// methods and nested functions.
func (s *source) functions() []*sitter.Node {
	var out []*sitter.Node
	walk(s.tree.RootNode(), func(n *sitter.Node) {
		if n.Type() == "function_definition" {
			out = append(out, n)
		}
	})
	return out
}

func (s *source) describe(fn *sitter.Node) Function {
	start := int(fn.StartPoint().Row) + 1
	end := int(fn.EndPoint().Row) + 1
	if fn.EndPoint().Column == 0 && end > start {
		// the range ends just past a trailing newline
		end--
	}

	params := s.parameters(fn)
	return Function{
		Name:           s.text(fn.ChildByFieldName("name")),
		LineCount:      end - start + 1,
		CodeLineCount:  s.codeLines(start, end),
		Parameters:     params,
		ParameterCount: len(params),
		HasDocstring:   hasDocstring(fn),
		StartLine:      start,
		EndLine:        end,
	}
}

func (s *source) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(s.content)
}

// parameters returns the positional parameter names. Parameters after a
// bare "*" or "*args" are keyword-only and are not counted, and neither
// are "*args" and "**kwargs" themselves.
func (s *source) parameters(fn *sitter.Node) []string {
	list := fn.ChildByFieldName("parameters")
	if list == nil {
		return []string{}
	}

	names := []string{}
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		switch p.Type() {
		case "identifier":
			names = append(names, s.text(p))
		case "default_parameter", "typed_default_parameter":
			names = append(names, s.text(p.ChildByFieldName("name")))
		case "typed_parameter":
			if p.NamedChildCount() > 0 && p.NamedChild(0).Type() == "identifier" {
				names = append(names, s.text(p.NamedChild(0)))
			} else {
				// *args: T or **kwargs: T
				return names
			}
		case "list_splat_pattern", "dictionary_splat_pattern", "keyword_separator":
			return names
		}
	}
	return names
}

// codeLines counts lines in [start, end] that are neither blank nor comments.
func (s *source) codeLines(start, end int) int {
	lines := strings.Split(string(s.content), "\n")
	count := 0
	for i := start - 1; i < end && i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			count++
		}
	}
	return count
}

func hasDocstring(fn *sitter.Node) bool {
	body := fn.ChildByFieldName("body")
	if body == nil {
		return false
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" {
			continue
		}
		return stmt.Type() == "expression_statement" &&
			stmt.NamedChildCount() > 0 &&
			stmt.NamedChild(0).Type() == "string"
	}
	return false
}

// complexity scores a function: 1, plus one per branch, loop, except
// clause, conditional expression, boolean operator and list, dict or set
// comprehension. Nested functions count toward their parent.
func complexity(fn *sitter.Node) int {
	score := 1
	walk(fn, func(n *sitter.Node) {
		switch n.Type() {
		case "if_statement", "elif_clause",
			"for_statement", "while_statement",
			"except_clause", "except_group_clause",
			"conditional_expression", "boolean_operator",
			"list_comprehension", "dictionary_comprehension", "set_comprehension":
			score++
		}
	})
	return score
}

func walk(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

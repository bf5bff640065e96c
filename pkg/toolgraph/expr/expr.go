package expr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidExpr indicates a condition could not be parsed.
var ErrInvalidExpr = errors.New("invalid condition")

// Operator is a comparison operator.
type Operator string

// Comparison operators.
const (
	OpEq       Operator = "=="
	OpNe       Operator = "!="
	OpGt       Operator = ">"
	OpGe       Operator = ">="
	OpLt       Operator = "<"
	OpLe       Operator = "<="
	OpContains Operator = "contains"
)

// Valid reports whether op is a known comparison operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpContains:
		return true
	}
	return false
}

// Func is an aggregate applied to the field before comparing.
type Func string

// Aggregates usable on the left side of a comparison.
const (
	FuncNone   Func = ""
	FuncLength Func = "length"
	FuncMax    Func = "max"
	FuncMin    Func = "min"
)

// Valid reports whether f is a known aggregate.
func (f Func) Valid() bool {
	switch f {
	case FuncNone, FuncLength, FuncMax, FuncMin:
		return true
	}
	return false
}

// Expr is a parsed condition.
//
// The set of implementations is closed: Comparison, And, Or and Not.
type Expr interface {
	eval(vars map[string]any) bool
	String() string
}

// Evaluate evaluates e against a state snapshot.
// A nil expression is true, so an unguarded edge always matches.
func Evaluate(e Expr, vars map[string]any) bool {
	if e == nil {
		return true
	}
	return e.eval(vars)
}

// Comparison compares a state field, optionally aggregated, with a literal.
type Comparison struct {
	Field string
	Func  Func
	Op    Operator
	Value any
}

func (c Comparison) eval(vars map[string]any) bool {
	left, ok := Lookup(vars, c.Field)
	if !ok {
		return false
	}
	if c.Func != FuncNone {
		left, ok = aggregate(c.Func, left)
		if !ok {
			return false
		}
	}
	return Compare(left, c.Value, c.Op)
}

// String renders the comparison in string syntax.
func (c Comparison) String() string {
	operand := c.Field
	if c.Func != FuncNone {
		operand = fmt.Sprintf("%s(%s)", c.Func, c.Field)
	}
	return fmt.Sprintf("%s %s %s", operand, c.Op, formatLiteral(c.Value))
}

// And is true when every term is true. An empty And is true.
type And struct {
	Terms []Expr
}

func (a And) eval(vars map[string]any) bool {
	for _, t := range a.Terms {
		if !t.eval(vars) {
			return false
		}
	}
	return true
}

// String renders the conjunction in function form.
func (a And) String() string {
	return "AND(" + joinTerms(a.Terms) + ")"
}

// Or is true when any term is true. An empty Or is false.
type Or struct {
	Terms []Expr
}

func (o Or) eval(vars map[string]any) bool {
	for _, t := range o.Terms {
		if t.eval(vars) {
			return true
		}
	}
	return false
}

// String renders the disjunction in function form.
func (o Or) String() string {
	return "OR(" + joinTerms(o.Terms) + ")"
}

// Not negates a single term.
type Not struct {
	Term Expr
}

func (n Not) eval(vars map[string]any) bool {
	return !n.Term.eval(vars)
}

// String renders the negation in function form.
func (n Not) String() string {
	return "NOT(" + n.Term.String() + ")"
}

func joinTerms(terms []Expr) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func formatLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(val, "'", `\'`) + "'"
	default:
		return fmt.Sprintf("%v", val)
	}
}

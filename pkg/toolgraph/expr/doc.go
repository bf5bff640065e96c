/*
Package expr provides the condition language used by toolgraph for
conditional edges, decision nodes and loop exit conditions.

# Overview

Conditions are parsed once into a small tree of Comparison, And, Or and Not
nodes and evaluated against a state snapshot. Evaluation never fails: an
unresolvable field path or a pair of values that cannot be compared makes the
comparison false. Malformed conditions are rejected by Parse.

# String Syntax

	<expr>       := <and> { 'or' <and> }
	<and>        := <unary> { 'and' <unary> }
	<unary>      := 'not' <unary> | '!' <unary> | <primary>
	<primary>    := 'AND' '(' [<expr> {',' <expr>}] ')'
	              | 'OR' '(' [<expr> {',' <expr>}] ')'
	              | 'NOT' '(' <expr> ')'
	              | '(' <expr> ')'
	              | <operand> <op> <literal>
	<operand>    := path | 'length' '(' path ')' | 'max' '(' path ')' | 'min' '(' path ')'
	<op>         := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains'
	<literal>    := 'string' | "string" | number | true | false | null

Paths are dotted; numeric segments index into lists:

	quality_score >= 8
	length(issues) == 0
	functions.0.name == 'main'
	AND(quality_score >= 8, NOT(length(issues) > 3))
	status == 'ready' and not cancelled == true

# Structured Syntax

Definitions loaded from JSON or YAML may use maps instead of strings:

	{"field": "quality_score", "operator": ">=", "value": 8}
	{"field": "issues", "operator": "length", "comparator": "==", "value": 0}
	{"type": "AND", "conditions": [ ... ]}

# Semantics

  - Numbers of any Go numeric kind compare numerically. A numeric string is
    coerced when the other side is a number.
  - Strings compare lexically with the ordering operators.
  - == and != use numeric equality for numbers and deep equality otherwise.
    Values of incomparable kinds make both false.
  - contains tests list membership, map key presence or substring.
  - length applies to lists, maps and strings; max and min to non-empty
    numeric lists.
  - AND() is true, OR() is false, and both short-circuit left to right.
*/
package expr

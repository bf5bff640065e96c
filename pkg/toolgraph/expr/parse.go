package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parse builds a condition from a string, a structured map, a bool or an
// existing Expr. A nil spec or an empty string yields a nil Expr, which
// Evaluate treats as always true.
func Parse(spec any) (Expr, error) {
	switch s := spec.(type) {
	case nil:
		return nil, nil
	case Expr:
		return s, nil
	case string:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return ParseString(s)
	case bool:
		if s {
			return And{}, nil
		}
		return Or{}, nil
	case map[string]any:
		return parseMap(s)
	case map[any]any:
		m := make(map[string]any, len(s))
		for k, v := range s {
			m[fmt.Sprint(k)] = v
		}
		return parseMap(m)
	}
	return nil, fmt.Errorf("%w: unsupported condition type %T", ErrInvalidExpr, spec)
}

// MustParse is like Parse but panics on error. Intended for tests and
// statically known conditions.
func MustParse(spec any) Expr {
	e, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return e
}

// parseMap handles the structured form.
func parseMap(m map[string]any) (Expr, error) {
	if t, ok := m["type"]; ok {
		name, _ := t.(string)
		return parseCombinator(strings.ToUpper(name), m)
	}

	field, _ := m["field"].(string)
	if strings.TrimSpace(field) == "" {
		return nil, fmt.Errorf("%w: condition field is required", ErrInvalidExpr)
	}
	opName, _ := m["operator"].(string)
	value, hasValue := m["value"]
	if !hasValue {
		return nil, fmt.Errorf("%w: condition on %q has no value", ErrInvalidExpr, field)
	}

	c := Comparison{Field: field, Value: value}
	if fn := Func(strings.ToLower(opName)); fn != FuncNone && fn.Valid() {
		comparator, _ := m["comparator"].(string)
		if comparator == "" {
			return nil, fmt.Errorf("%w: %s on %q requires a comparator", ErrInvalidExpr, fn, field)
		}
		c.Func = fn
		c.Op = Operator(comparator)
	} else {
		c.Op = Operator(opName)
	}
	if !c.Op.Valid() {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidExpr, c.Op)
	}
	return c, nil
}

func parseCombinator(name string, m map[string]any) (Expr, error) {
	raw, ok := m["conditions"]
	if !ok && name == "NOT" {
		raw, ok = m["condition"]
		if ok {
			raw = []any{raw}
		}
	}
	var items []any
	if ok {
		switch r := raw.(type) {
		case []any:
			items = r
		case []map[string]any:
			for _, item := range r {
				items = append(items, item)
			}
		default:
			return nil, fmt.Errorf("%w: %s conditions must be a list", ErrInvalidExpr, name)
		}
	}

	terms := make([]Expr, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("%w: %s condition %d is empty", ErrInvalidExpr, name, i)
		}
		term, err := Parse(item)
		if err != nil {
			return nil, err
		}
		if term == nil {
			return nil, fmt.Errorf("%w: %s condition %d is empty", ErrInvalidExpr, name, i)
		}
		terms = append(terms, term)
	}

	switch name {
	case "AND":
		return And{Terms: terms}, nil
	case "OR":
		return Or{Terms: terms}, nil
	case "NOT":
		if len(terms) != 1 {
			return nil, fmt.Errorf("%w: NOT takes exactly one condition, got %d", ErrInvalidExpr, len(terms))
		}
		return Not{Term: terms[0]}, nil
	}
	return nil, fmt.Errorf("%w: unknown combinator %q", ErrInvalidExpr, name)
}

// ParseString parses the string syntax described in the package docs.
func ParseString(s string) (Expr, error) {
	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	p := &parser{src: s, toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
	return e, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokNot
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c, width := utf8.DecodeRuneInString(s[i:])
		switch {
		case unicode.IsSpace(c):
			i += width
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(s) && s[i+1] == '=' {
				toks = append(toks, token{tokOp, s[i : i+2], i})
				i += 2
				continue
			}
			switch c {
			case '!':
				toks = append(toks, token{tokNot, "!", i})
			case '=':
				return nil, fmt.Errorf("%w: %q at %d: use == for equality", ErrInvalidExpr, s, i)
			default:
				toks = append(toks, token{tokOp, string(c), i})
			}
			i++
		case c == '\'' || c == '"':
			text, n, err := lexString(s[i:])
			if err != nil {
				return nil, fmt.Errorf("%w: %q at %d: %v", ErrInvalidExpr, s, i, err)
			}
			toks = append(toks, token{tokString, text, i})
			i += n
		case c == '-' || c == '+' || isDigit(s[i]):
			start := i
			i++
			for i < len(s) && (isDigit(s[i]) || strings.IndexByte(".eE+-", s[i]) >= 0) {
				if (s[i] == '+' || s[i] == '-') && s[i-1] != 'e' && s[i-1] != 'E' {
					break
				}
				i++
			}
			toks = append(toks, token{tokNumber, s[start:i], start})
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(s) {
				r, w := utf8.DecodeRuneInString(s[i:])
				if r != '_' && r != '.' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += w
			}
			toks = append(toks, token{tokIdent, s[start:i], start})
		default:
			return nil, fmt.Errorf("%w: %q at %d: unexpected character %q", ErrInvalidExpr, s, i, c)
		}
	}
	toks = append(toks, token{tokEOF, "", len(s)})
	return toks, nil
}

func isDigit(b byte) bool {
	return '0' <= b && b <= '9'
}

// lexString reads a quoted literal and returns its value and byte length.
func lexString(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				b.WriteByte(s[i+1])
				i++
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(s[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return fmt.Errorf("%w: %q at %d: %s", ErrInvalidExpr, p.src, tok.pos, fmt.Sprintf(format, args...))
}

func (p *parser) isKeyword(tok token, word string) bool {
	return tok.kind == tokIdent && strings.EqualFold(tok.text, word)
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.isKeyword(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return Or{Terms: terms}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.isKeyword(p.peek(), "and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return And{Terms: terms}, nil
}

func (p *parser) parseUnary() (Expr, error) {
	tok := p.peek()
	if tok.kind == tokNot || (p.isKeyword(tok, "not") && p.peekAt(1).kind != tokLParen) {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Term: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokLParen:
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')'")
		}
		return e, nil
	case tok.kind == tokIdent && p.peekAt(1).kind == tokLParen:
		switch strings.ToUpper(tok.text) {
		case "AND", "OR", "NOT":
			return p.parseCall()
		}
	}
	return p.parseComparison()
}

func (p *parser) parseCall() (Expr, error) {
	name := strings.ToUpper(p.next().text)
	p.next() // (
	var terms []Expr
	if p.peek().kind != tokRParen {
		for {
			term, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, p.errorf(closing, "expected ')' to close %s", name)
	}
	switch name {
	case "AND":
		return And{Terms: terms}, nil
	case "OR":
		return Or{Terms: terms}, nil
	}
	if len(terms) != 1 {
		return nil, fmt.Errorf("%w: %q: NOT takes exactly one argument, got %d", ErrInvalidExpr, p.src, len(terms))
	}
	return Not{Term: terms[0]}, nil
}

func (p *parser) parseComparison() (Expr, error) {
	tok := p.next()
	if tok.kind != tokIdent {
		return nil, p.errorf(tok, "expected field, got %q", tok.text)
	}

	c := Comparison{Field: tok.text}
	if fn := Func(strings.ToLower(tok.text)); fn != FuncNone && fn.Valid() && p.peek().kind == tokLParen {
		p.next()
		field := p.next()
		if field.kind != tokIdent {
			return nil, p.errorf(field, "%s expects a field", fn)
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')' after %s(%s", fn, field.text)
		}
		c.Func = fn
		c.Field = field.text
	}

	opTok := p.next()
	switch {
	case opTok.kind == tokOp:
		c.Op = Operator(opTok.text)
	case p.isKeyword(opTok, "contains"):
		c.Op = OpContains
	default:
		return nil, p.errorf(opTok, "expected operator after %q, got %q", c.Field, opTok.text)
	}
	if !c.Op.Valid() {
		return nil, p.errorf(opTok, "unknown operator %q", opTok.text)
	}

	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	c.Value = lit
	return c, nil
}

func (p *parser) parseLiteral() (any, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokNumber:
		if i, err := strconv.ParseInt(tok.text, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number %q", tok.text)
		}
		return f, nil
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "nil":
			return nil, nil
		}
	}
	return nil, p.errorf(tok, "expected literal, got %q", tok.text)
}

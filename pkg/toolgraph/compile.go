package toolgraph

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/config"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/expr"
)

// MaxLoopIterations is the upper bound for a loop's max_iterations.
const MaxLoopIterations = 100

// Compile validates the definition and creates an executable Compiled graph.
// Every violation is collected and returned together in a *ConfigError.
//
// Validation checks:
//  1. Field shape (struct tags)
//  2. Node ids are non-empty, free of whitespace and globally unique
//  3. Per-type requirements (tool, condition, body, exit condition, bounds)
//  4. Loop bodies contain no loops
//  5. Edge endpoints exist in the edge's own scope; branches only leave decisions
//  6. A unique start node exists
//  7. Every top-level node is reachable from start
//  8. Every non-terminal top-level node has an outgoing edge and a terminal is reachable
//  9. Every condition parses
//
// Every cycle must also pass through a loop node, so loop bodies are acyclic.
func Compile(def *Definition) (*Compiled, error) {
	if def == nil {
		return nil, &ConfigError{Problems: []error{fmt.Errorf("%w: nil definition", ErrConfig)}}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	c := &compiler{
		nodes: make(map[string]*node),
	}

	top := c.compileScope(def.Nodes, def.Edges, "", "")
	start := c.resolveStart(def, top)
	if start != "" {
		c.checkTopLevel(top, start)
	}

	if len(c.problems) > 0 {
		return nil, &ConfigError{Problems: c.problems}
	}

	top.start = start
	return &Compiled{
		def:   def.Clone(),
		start: start,
		top:   top,
		nodes: c.nodes,
	}, nil
}

type compiler struct {
	nodes    map[string]*node
	problems []error
}

func (c *compiler) addf(sentinel error, format string, args ...any) {
	c.problems = append(c.problems, fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)))
}

// compileScope compiles the nodes and edges of one scope. parent is the
// enclosing loop id and bodyStart the declared body start, both empty at
// top level.
func (c *compiler) compileScope(defs []NodeDef, edges []EdgeDef, parent, bodyStart string) *scope {
	sc := &scope{edges: make(map[string][]edge)}
	local := make(map[string]*node, len(defs))

	for i := range defs {
		n := c.compileNode(&defs[i], parent)
		if n == nil {
			continue
		}
		local[n.id] = n
		sc.order = append(sc.order, n.id)
	}

	where := "top level"
	if parent != "" {
		where = "body of " + parent
	}

	for _, e := range edges {
		from, fromOK := local[e.From]
		if !fromOK {
			c.addf(ErrNodeNotFound, "edge %s -> %s: source %q not in %s", e.From, e.To, e.From, where)
		}
		if _, ok := local[e.To]; !ok {
			c.addf(ErrNodeNotFound, "edge %s -> %s: target %q not in %s", e.From, e.To, e.To, where)
		}
		if !fromOK {
			continue
		}

		if e.Branch != "" && e.Branch != "true" && e.Branch != "false" {
			c.addf(ErrInvalidEdge, "edge %s -> %s: branch must be \"true\" or \"false\"", e.From, e.To)
		}
		if e.Branch != "" && from.typ != NodeDecision {
			c.addf(ErrInvalidEdge, "edge %s -> %s: branch is only valid on edges leaving a decision node", e.From, e.To)
		}

		guard, err := expr.Parse(e.Condition)
		if err != nil {
			c.addf(ErrInvalidCondition, "edge %s -> %s: %v", e.From, e.To, err)
		}
		sc.edges[e.From] = append(sc.edges[e.From], edge{to: e.To, guard: guard, branch: e.Branch})
	}

	for _, id := range sc.order {
		if local[id].typ == NodeDecision {
			c.checkDecisionEdges(id, sc.edges[id])
		}
	}
	c.checkCycles(sc, local, where)

	if parent != "" {
		sc.sequential = len(edges) == 0
		switch {
		case bodyStart == "" && len(sc.order) > 0:
			sc.start = sc.order[0]
		case bodyStart != "":
			if _, ok := local[bodyStart]; !ok {
				c.addf(ErrNodeNotFound, "loop %s: body start %q not in body", parent, bodyStart)
			}
			sc.start = bodyStart
		}
	}
	return sc
}

func (c *compiler) compileNode(def *NodeDef, parent string) *node {
	id := def.ID
	if id == "" || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		c.addf(ErrInvalidNodeID, "%q", id)
		return nil
	}
	if _, dup := c.nodes[id]; dup {
		c.addf(ErrDuplicateNode, "%s", id)
		return nil
	}

	typ := def.Type
	if typ == "" {
		typ = NodeNormal
	}
	if !typ.Valid() {
		c.addf(ErrUnknownNodeType, "node %s: %q", id, typ)
		return nil
	}

	n := &node{id: id, typ: typ, tool: def.Tool, parentID: parent}
	c.nodes[id] = n

	if def.Condition != nil && typ != NodeDecision {
		c.addf(ErrInvalidNodeConfig, "node %s: condition is only valid on decision nodes", id)
	}
	if (def.Body != nil || def.ExitCondition != nil) && typ != NodeLoop {
		c.addf(ErrInvalidNodeConfig, "node %s: body and exit_condition are only valid on loop nodes", id)
	}

	switch typ {
	case NodeNormal:
		if def.Tool == "" {
			c.addf(ErrMissingTool, "node %s", id)
		}
		c.compileMappings(n, def.Config)

	case NodeDecision:
		if def.Condition == nil {
			c.addf(ErrInvalidDecision, "node %s: condition is required", id)
		} else if cond, err := expr.Parse(def.Condition); err != nil {
			c.addf(ErrInvalidCondition, "node %s: %v", id, err)
		} else if cond == nil {
			c.addf(ErrInvalidDecision, "node %s: condition is empty", id)
		} else {
			n.cond = cond
		}

	case NodeLoop:
		if parent != "" {
			c.addf(ErrNestedLoop, "loop %s inside body of %s", id, parent)
			return n
		}
		if def.MaxIterations < 0 || def.MaxIterations > MaxLoopIterations {
			c.addf(ErrInvalidLoop, "loop %s: max_iterations %d outside 0..%d", id, def.MaxIterations, MaxLoopIterations)
		}
		n.maxIter = def.MaxIterations

		if def.ExitCondition == nil {
			c.addf(ErrInvalidLoop, "loop %s: exit_condition is required", id)
		} else if exit, err := expr.Parse(def.ExitCondition); err != nil {
			c.addf(ErrInvalidCondition, "loop %s: %v", id, err)
		} else if exit == nil {
			c.addf(ErrInvalidLoop, "loop %s: exit_condition is empty", id)
		} else {
			n.exit = exit
		}

		if def.Body == nil || len(def.Body.Nodes) == 0 {
			c.addf(ErrInvalidLoop, "loop %s: body must contain at least one node", id)
			n.body = &scope{edges: map[string][]edge{}, sequential: true}
		} else {
			n.body = c.compileScope(def.Body.Nodes, def.Body.Edges, id, def.Body.Start)
		}
	}
	return n
}

// compileMappings reads config.inputs and config.outputs.
func (c *compiler) compileMappings(n *node, raw map[string]any) {
	cfg := config.New(raw)
	if cfg.Has("inputs") {
		if n.inputs = cfg.StringMap("inputs", nil); n.inputs == nil {
			c.addf(ErrInvalidNodeConfig, "node %s: inputs must map tool fields to state paths", n.id)
		}
	}
	if cfg.Has("outputs") {
		if n.outputs = cfg.StringMap("outputs", nil); n.outputs == nil {
			c.addf(ErrInvalidNodeConfig, "node %s: outputs must map tool fields to state fields", n.id)
		}
	}
}

func (c *compiler) checkDecisionEdges(id string, edges []edge) {
	var trues, falses, other int
	for _, e := range edges {
		switch e.branch {
		case "true":
			trues++
		case "false":
			falses++
		default:
			other++
		}
	}
	if trues != 1 || falses != 1 || other != 0 {
		c.addf(ErrInvalidDecision, "node %s: needs exactly one true and one false edge (got %d true, %d false, %d unbranched)",
			id, trues, falses, other)
	}
}

// resolveStart returns the declared start or the unique top-level node
// without incoming edges.
func (c *compiler) resolveStart(def *Definition, top *scope) string {
	if def.Start != "" {
		if n, ok := c.nodes[def.Start]; !ok || n.parentID != "" {
			c.addf(ErrNodeNotFound, "start node %q not at top level", def.Start)
			return ""
		}
		return def.Start
	}

	incoming := make(map[string]bool)
	for _, edges := range top.edges {
		for _, e := range edges {
			incoming[e.to] = true
		}
	}
	var candidates []string
	for _, id := range top.order {
		if !incoming[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) != 1 {
		c.addf(ErrNoStartNode, "need exactly one top-level node without incoming edges, found %d %v", len(candidates), candidates)
		return ""
	}
	return candidates[0]
}

// checkCycles rejects every cycle in the scope that does not pass through a
// loop node. Loop nodes bound their own repetition, so removing them from the
// graph must leave it acyclic.
func (c *compiler) checkCycles(sc *scope, local map[string]*node, where string) {
	const (
		unvisited = iota
		active
		done
	)
	color := make(map[string]int, len(sc.order))
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = active
		stack = append(stack, id)
		for _, e := range sc.edges[id] {
			next, ok := local[e.to]
			if !ok || next.typ == NodeLoop {
				continue
			}
			switch color[e.to] {
			case active:
				i := len(stack) - 1
				for stack[i] != e.to {
					i--
				}
				path := append(append([]string{}, stack[i:]...), e.to)
				c.addf(ErrCycle, "%s in %s does not pass through a loop node", strings.Join(path, " -> "), where)
			case unvisited:
				visit(e.to)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = done
	}

	for _, id := range sc.order {
		if local[id].typ != NodeLoop && color[id] == unvisited {
			visit(id)
		}
	}
}

// checkTopLevel verifies reachability, dead ends and terminal reachability.
func (c *compiler) checkTopLevel(top *scope, start string) {
	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range top.edges[current] {
			if _, ok := c.nodes[e.to]; ok && !reachable[e.to] {
				reachable[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}

	terminalReachable := false
	for _, id := range top.order {
		n := c.nodes[id]
		if !reachable[id] {
			c.addf(ErrUnreachable, "%s", id)
		}
		if n.typ == NodeTerminal {
			if reachable[id] {
				terminalReachable = true
			}
			continue
		}
		if !top.hasEdges(id) {
			c.addf(ErrDeadEnd, "%s", id)
		}
	}
	if !terminalReachable {
		c.addf(ErrNoTerminal, "start %s", start)
	}
}

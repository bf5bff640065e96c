package toolgraph

import (
	"slices"
	"sort"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/expr"
)

// Compiled is an immutable, executable graph.
// It is created by calling Compile() on a Definition.
//
// Compiled is safe for concurrent use by multiple Run() calls; each run
// owns its own state and trace.
type Compiled struct {
	def   *Definition
	start string
	top   *scope
	nodes map[string]*node
}

// node is the compiled form of a NodeDef.
type node struct {
	id       string
	typ      NodeType
	tool     string
	inputs   map[string]string // tool input field -> state path
	outputs  map[string]string // tool output field -> state field
	cond     expr.Expr         // decision condition
	exit     expr.Expr         // loop exit condition
	maxIter  int               // 0 means the run's default
	body     *scope
	parentID string // enclosing loop, empty at top level
}

// scope is a set of nodes with edges between them: the top level or one loop body.
type scope struct {
	start      string
	order      []string
	edges      map[string][]edge
	sequential bool // body without edges: run nodes in declaration order
}

type edge struct {
	to     string
	guard  expr.Expr
	branch string
}

// Definition returns a copy of the source definition.
func (c *Compiled) Definition() *Definition {
	return c.def.Clone()
}

// Start returns the start node ID.
func (c *Compiled) Start() string {
	return c.start
}

// NodeIDs returns all node identifiers, including loop body nodes, sorted.
func (c *Compiled) NodeIDs() []string {
	ids := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasNode checks if a node exists anywhere in the graph.
func (c *Compiled) HasNode(id string) bool {
	_, ok := c.nodes[id]
	return ok
}

// NodeType returns the type of a node.
func (c *Compiled) NodeType(id string) (NodeType, bool) {
	n, ok := c.nodes[id]
	if !ok {
		return "", false
	}
	return n.typ, true
}

// Successors returns the targets of a node's outgoing edges in declaration
// order. For nodes in a sequential body it returns the next body node.
func (c *Compiled) Successors(id string) []string {
	n, ok := c.nodes[id]
	if !ok {
		return nil
	}
	sc := c.top
	if n.parentID != "" {
		sc = c.nodes[n.parentID].body
	}
	if sc.sequential {
		i := slices.Index(sc.order, id)
		if i >= 0 && i+1 < len(sc.order) {
			return []string{sc.order[i+1]}
		}
		return nil
	}
	out := make([]string, 0, len(sc.edges[id]))
	for _, e := range sc.edges[id] {
		out = append(out, e.to)
	}
	return out
}

// Loops returns the IDs of loop nodes in declaration order.
func (c *Compiled) Loops() []string {
	var out []string
	for _, id := range c.top.order {
		if c.nodes[id].typ == NodeLoop {
			out = append(out, id)
		}
	}
	return out
}

// Tools returns the distinct tool names used by the graph, sorted.
func (c *Compiled) Tools() []string {
	seen := make(map[string]bool)
	for _, n := range c.nodes {
		if n.tool != "" {
			seen[n.tool] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// next picks the edge to follow out of id. outcome is the decision result
// for decision nodes and nil otherwise. ok is false when the scope has no
// edge to follow; for sequential bodies that means the iteration is over.
func (sc *scope) next(id string, outcome *bool, snapshot map[string]any) (string, bool) {
	if sc.sequential {
		i := slices.Index(sc.order, id)
		if i >= 0 && i+1 < len(sc.order) {
			return sc.order[i+1], true
		}
		return "", false
	}

	edges := sc.edges[id]
	if outcome != nil {
		want := "false"
		if *outcome {
			want = "true"
		}
		for _, e := range edges {
			if e.branch == want {
				return e.to, true
			}
		}
		return "", false
	}

	for _, e := range edges {
		if e.guard != nil && expr.Evaluate(e.guard, snapshot) {
			return e.to, true
		}
	}
	for _, e := range edges {
		if e.guard == nil {
			return e.to, true
		}
	}
	return "", false
}

// hasEdges reports whether id has outgoing edges in this scope.
func (sc *scope) hasEdges(id string) bool {
	return len(sc.edges[id]) > 0
}

package toolgraph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// NodeType selects how a node is executed.
type NodeType string

// Node types.
const (
	NodeNormal   NodeType = "normal"
	NodeLoop     NodeType = "loop"
	NodeDecision NodeType = "decision"
	NodeTerminal NodeType = "terminal"
)

// Valid reports whether t is a known node type. The empty type means normal.
func (t NodeType) Valid() bool {
	switch t {
	case "", NodeNormal, NodeLoop, NodeDecision, NodeTerminal:
		return true
	}
	return false
}

// Definition is a declarative graph: nodes, edges and an optional start.
// It is immutable once compiled.
type Definition struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Start names the start node. When empty, the unique top-level node
	// with no incoming edges is used.
	Start string    `json:"start,omitempty" yaml:"start,omitempty"`
	Nodes []NodeDef `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
	Edges []EdgeDef `json:"edges,omitempty" yaml:"edges,omitempty" validate:"dive"`

	// InitialStateSchema maps state field to type name. Informational only.
	InitialStateSchema map[string]string `json:"initial_state_schema,omitempty" yaml:"initial_state_schema,omitempty"`
}

// NodeDef declares one node.
type NodeDef struct {
	ID   string   `json:"id" yaml:"id" validate:"required"`
	Type NodeType `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=normal loop decision terminal"`
	Tool string   `json:"tool,omitempty" yaml:"tool,omitempty"`

	// Config is static node configuration. "inputs" maps tool input field
	// to a dotted state path; "outputs" maps tool output field to a state field.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Condition is the decision predicate (string or structured form).
	Condition any `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Loop fields.
	Body          *BodyDef `json:"body,omitempty" yaml:"body,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" validate:"min=0,max=100"`
	ExitCondition any      `json:"exit_condition,omitempty" yaml:"exit_condition,omitempty"`
}

// BodyDef is the subgraph run once per loop iteration.
// Without edges the nodes run in declaration order.
type BodyDef struct {
	Start string    `json:"start,omitempty" yaml:"start,omitempty"`
	Nodes []NodeDef `json:"nodes" yaml:"nodes" validate:"dive"`
	Edges []EdgeDef `json:"edges,omitempty" yaml:"edges,omitempty" validate:"dive"`
}

// EdgeDef connects two nodes in the same scope.
type EdgeDef struct {
	From      string `json:"from" yaml:"from" validate:"required"`
	To        string `json:"to" yaml:"to" validate:"required"`
	Condition any    `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Branch is "true" or "false" on edges leaving a decision node.
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty" validate:"omitempty,oneof=true false"`
}

// Format is a definition encoding.
type Format string

// Supported formats. FormatAuto sniffs JSON by its leading brace.
const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ParseDefinition decodes a definition from JSON or YAML and checks its
// shape. Structural graph rules are checked later by Compile.
//
// The legacy wire format (node "name"/"tool_name"/"loop_condition", loop
// "nodes" as a list of node names, edge "from_node"/"to_node", no terminal
// nodes) is accepted and rewritten into the current form.
func ParseDefinition(data []byte, format Format) (*Definition, error) {
	if format == FormatAuto {
		format = FormatYAML
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
			format = FormatJSON
		}
	}

	var raw map[string]any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &ConfigError{Problems: []error{fmt.Errorf("parse json: %w", err)}}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &ConfigError{Problems: []error{fmt.Errorf("parse yaml: %w", err)}}
		}
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}

	return DefinitionFromMap(raw)
}

// ParseDefinitionFile reads a definition, choosing the format by extension.
func ParseDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ParseDefinition(data, FormatJSON)
	case ".yaml", ".yml":
		return ParseDefinition(data, FormatYAML)
	default:
		return nil, fmt.Errorf("unsupported definition file extension: %s", ext)
	}
}

// DefinitionFromMap converts an already decoded document (for example an
// API request body) into a Definition.
func DefinitionFromMap(raw map[string]any) (*Definition, error) {
	if raw == nil {
		return nil, &ConfigError{Problems: []error{errors.New("empty definition")}}
	}
	if isLegacy(raw) {
		raw = upgradeLegacy(raw)
	}
	stringifyBranches(raw)

	// Round-trip through JSON so YAML and JSON documents decode identically.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &ConfigError{Problems: []error{fmt.Errorf("encode definition: %w", err)}}
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &ConfigError{Problems: []error{fmt.Errorf("decode definition: %w", err)}}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks field-level shape with struct tags.
func (d *Definition) Validate() error {
	err := structValidator().Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ConfigError{Problems: []error{err}}
	}
	problems := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return &ConfigError{Problems: problems}
}

// JSON encodes the definition for storage.
func (d *Definition) JSON() ([]byte, error) {
	return json.Marshal(d)
}

// Clone returns a deep copy via JSON.
func (d *Definition) Clone() *Definition {
	data, err := json.Marshal(d)
	if err != nil {
		cp := *d
		return &cp
	}
	var out Definition
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *d
		return &cp
	}
	return &out
}

// stringifyBranches turns YAML booleans in edge branches into the strings
// "true" and "false", in place.
func stringifyBranches(scope map[string]any) {
	edges, _ := scope["edges"].([]any)
	for _, e := range edges {
		if m, ok := e.(map[string]any); ok {
			if b, ok := m["branch"].(bool); ok {
				m["branch"] = fmt.Sprint(b)
			}
		}
	}
	nodes, _ := scope["nodes"].([]any)
	for _, n := range nodes {
		if m, ok := n.(map[string]any); ok {
			if body, ok := m["body"].(map[string]any); ok {
				stringifyBranches(body)
			}
		}
	}
}

func isLegacy(raw map[string]any) bool {
	nodes, _ := raw["nodes"].([]any)
	for _, n := range nodes {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if _, hasID := m["id"]; !hasID {
			if _, hasName := m["name"]; hasName {
				return true
			}
		}
	}
	edges, _ := raw["edges"].([]any)
	for _, e := range edges {
		if m, ok := e.(map[string]any); ok {
			if _, ok := m["from_node"]; ok {
				return true
			}
		}
	}
	return false
}

// legacyEnd is the id of the terminal node added to upgraded definitions.
const legacyEnd = "end"

// upgradeLegacy rewrites the legacy wire format. Loop members listed by
// name are moved into the loop body, and every top-level node left without
// an outgoing edge is connected to an added terminal node, which is how the
// legacy engine finished runs.
func upgradeLegacy(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	nodes, _ := raw["nodes"].([]any)
	byID := make(map[string]map[string]any, len(nodes))
	var order []string
	for _, n := range nodes {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		node := make(map[string]any, len(m))
		for k, v := range m {
			switch k {
			case "name":
				node["id"] = v
			case "tool_name":
				node["tool"] = v
			case "loop_condition":
				node["exit_condition"] = v
			case "on_max_reached":
				// superseded by the max_iterations_reached status
			default:
				node[k] = v
			}
		}
		id, _ := node["id"].(string)
		byID[id] = node
		order = append(order, id)
	}

	members := make(map[string]bool)
	for _, id := range order {
		node := byID[id]
		names, ok := node["nodes"].([]any)
		if !ok {
			continue
		}
		delete(node, "nodes")
		var body []any
		for _, nm := range names {
			name, _ := nm.(string)
			if member, ok := byID[name]; ok {
				body = append(body, member)
				members[name] = true
			} else {
				body = append(body, map[string]any{"id": name})
			}
		}
		node["body"] = map[string]any{"nodes": body}
	}

	var edges []any
	hasOutgoing := make(map[string]bool)
	rawEdges, _ := raw["edges"].([]any)
	for _, e := range rawEdges {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		edge := make(map[string]any, len(m))
		for k, v := range m {
			switch k {
			case "from_node":
				edge["from"] = v
			case "to_node":
				edge["to"] = v
			default:
				edge[k] = v
			}
		}
		from, _ := edge["from"].(string)
		hasOutgoing[from] = true
		edges = append(edges, edge)
	}

	var top []any
	var sinks []string
	for _, id := range order {
		if members[id] {
			continue
		}
		top = append(top, byID[id])
		if !hasOutgoing[id] && byID[id]["type"] != string(NodeTerminal) {
			sinks = append(sinks, id)
		}
	}
	if len(sinks) > 0 && !slices.Contains(order, legacyEnd) {
		top = append(top, map[string]any{"id": legacyEnd, "type": string(NodeTerminal)})
		for _, id := range sinks {
			edges = append(edges, map[string]any{"from": id, "to": legacyEnd})
		}
	}

	out["nodes"] = top
	out["edges"] = edges
	return out
}

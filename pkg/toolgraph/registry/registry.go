package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
)

// Tool is a named capability invoked by normal nodes.
// Implementations receive only the inputs the node maps to them and return
// the fields they produce; they must not retain either map.
type Tool interface {
	Invoke(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Invoke calls f.
func (f ToolFunc) Invoke(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return f(ctx, inputs)
}

// Field declares one tool input.
type Field struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required" yaml:"required"`
}

// Spec is a tool's declared contract.
type Spec struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      []Field  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// InputNames returns the declared input names in declaration order.
func (s Spec) InputNames() []string {
	names := make([]string, len(s.Inputs))
	for i, f := range s.Inputs {
		names[i] = f.Name
	}
	return names
}

type entry struct {
	tool Tool
	spec Spec
}

// Registry is the tool table shared by every run in a process.
type Registry struct {
	tools *Table[string, entry]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: NewTable[string, entry]()}
}

// Register adds a tool under name.
func (r *Registry) Register(name string, tool Tool, spec Spec) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	}
	if tool == nil {
		return fmt.Errorf("%w: %s has no implementation", ErrInvalidTool, name)
	}
	for _, f := range spec.Inputs {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: %s declares an unnamed input", ErrInvalidTool, name)
		}
	}
	spec.Name = name
	spec.Inputs = slices.Clone(spec.Inputs)
	spec.Outputs = slices.Clone(spec.Outputs)

	added, frozen := r.tools.Put(name, entry{tool: tool, spec: spec})
	switch {
	case frozen:
		return fmt.Errorf("%w: cannot register %s", ErrFrozen, name)
	case !added:
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	return nil
}

// MustRegister is like Register but panics on error.
// Intended for static tool sets wired at startup.
func (r *Registry) MustRegister(name string, tool Tool, spec Spec) {
	if err := r.Register(name, tool, spec); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.tools.Freeze()
}

// Frozen reports whether the registry is read-only.
func (r *Registry) Frozen() bool {
	return r.tools.Frozen()
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	e, ok := r.tools.Get(name)
	if !ok {
		return Spec{}, false
	}
	return e.spec, true
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	return r.tools.Has(name)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return r.tools.Len()
}

// List returns every spec sorted by name.
func (r *Registry) List() []Spec {
	specs := make([]Spec, 0, r.tools.Len())
	r.tools.Range(func(_ string, e entry) bool {
		specs = append(specs, e.spec)
		return true
	})
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke runs the named tool after checking its input contract.
// Panics inside the tool are recovered into an *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, inputs map[string]any) (outputs map[string]any, err error) {
	e, ok := r.tools.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var missing []string
	for _, f := range e.spec.Inputs {
		if _, present := inputs[f.Name]; f.Required && !present {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &InputError{Tool: name, Missing: missing}
	}

	defer func() {
		if rec := recover(); rec != nil {
			outputs = nil
			err = &ExecutionError{
				Tool:  name,
				Panic: rec,
				Err:   fmt.Errorf("panic: %v\n%s", rec, debug.Stack()),
			}
		}
	}()

	outputs, err = e.tool.Invoke(ctx, inputs)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}

	if len(e.spec.Outputs) > 0 {
		for field := range outputs {
			if !slices.Contains(e.spec.Outputs, field) {
				return nil, &ExecutionError{
					Tool: name,
					Err:  fmt.Errorf("returned undeclared output field %q", field),
				}
			}
		}
	}
	return outputs, nil
}

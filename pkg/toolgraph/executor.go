package toolgraph

import (
	"context"
	"maps"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/expr"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/state"
)

// invokeTool runs a normal node's tool against snapshot and returns the
// inputs it was given and the patch to apply.
//
// A tool that declares inputs receives those fields, each read from the
// state path in config.inputs or from the state field of the same name.
// A tool that declares none receives the whole snapshot. In both cases
// extra config.inputs entries are added. Output fields are renamed through
// config.outputs before they become the patch.
func invokeTool(ctx context.Context, tools *registry.Registry, n *node, snapshot state.State) (map[string]any, state.Patch, error) {
	inputs := gatherInputs(tools, n, snapshot)

	outputs, err := tools.Invoke(ctx, n.tool, inputs)
	if err != nil {
		return inputs, nil, err
	}

	patch := make(state.Patch, len(outputs))
	for field, v := range outputs {
		if to, ok := n.outputs[field]; ok {
			field = to
		}
		patch[field] = v
	}
	return inputs, patch, nil
}

func gatherInputs(tools *registry.Registry, n *node, snapshot state.State) map[string]any {
	spec, ok := tools.Lookup(n.tool)

	var inputs map[string]any
	if ok && len(spec.Inputs) > 0 {
		inputs = make(map[string]any, len(spec.Inputs))
		for _, f := range spec.Inputs {
			path := f.Name
			if p, mapped := n.inputs[f.Name]; mapped {
				path = p
			}
			if v, found := expr.Lookup(snapshot, path); found {
				inputs[f.Name] = v
			}
		}
	} else {
		inputs = maps.Clone(map[string]any(snapshot))
		if inputs == nil {
			inputs = make(map[string]any)
		}
	}

	for name, path := range n.inputs {
		if v, found := expr.Lookup(snapshot, path); found {
			inputs[name] = v
		}
	}
	return inputs
}

// Package state owns the canonical state of a single run.
//
// State is a JSON-shaped map. Values are normalized on entry (numbers become
// float64, structs become maps, typed slices become []any) so that snapshots,
// persistence and condition evaluation all see the same representation.
package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/expr"
)

// State is a run's shared key/value state.
type State map[string]any

// Patch is a set of top-level fields produced by one node.
type Patch map[string]any

// Keys returns the patch's field names in sorted order.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Manager applies patches to a run's state and hands out snapshots.
// It is safe for concurrent use; readers never observe a half-applied patch.
type Manager struct {
	mu      sync.RWMutex
	state   State
	version int
}

// New creates a Manager seeded with a normalized copy of initial.
func New(initial map[string]any) (*Manager, error) {
	s, err := Normalize(initial)
	if err != nil {
		return nil, fmt.Errorf("normalize initial state: %w", err)
	}
	return &Manager{state: s}, nil
}

// Restore creates a Manager at a known version, used when a run record is
// loaded from storage.
func Restore(s map[string]any, version int) (*Manager, error) {
	m, err := New(s)
	if err != nil {
		return nil, err
	}
	m.version = version
	return m, nil
}

// Snapshot returns a deep copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopy(m.state)
}

// Version returns the number of patches applied so far.
func (m *Manager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Apply overwrites each top-level field named in patch and returns the new
// version. Fields absent from the patch are untouched. Every call produces a
// new version, including an empty patch.
func (m *Manager) Apply(patch Patch) (int, error) {
	normalized, err := Normalize(patch)
	if err != nil {
		return 0, fmt.Errorf("normalize patch: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.state, normalized)
	m.version++
	return m.version, nil
}

// Lookup resolves a dotted path against the current state.
func (m *Manager) Lookup(path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := expr.Lookup(m.state, path)
	if !ok {
		return nil, false
	}
	return deepCopyValue(v), true
}

// Normalize converts a map to JSON-compatible values.
// A nil map normalizes to an empty State.
func Normalize(m map[string]any) (State, error) {
	if len(m) == 0 {
		return State{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// deepCopy copies a normalized state. Only JSON shapes occur after
// normalization, so a structural copy is sufficient.
func deepCopy(s State) State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case State:
		return map[string]any(deepCopy(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

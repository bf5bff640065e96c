package state_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/state"
)

type function struct {
	Name  string `json:"name"`
	Lines int    `json:"line_count"`
}

// TestManager_ApplyOverwritesNamedFields tests the shallow merge law.
func TestManager_ApplyOverwritesNamedFields(t *testing.T) {
	m, err := state.New(map[string]any{"a": 1, "b": "keep", "nested": map[string]any{"x": 1, "y": 2}})
	require.NoError(t, err)

	v, err := m.Apply(state.Patch{"a": 2, "nested": map[string]any{"x": 9}, "c": true})
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	s := m.Snapshot()
	assert.Equal(t, 2.0, s["a"])
	assert.Equal(t, "keep", s["b"])
	assert.Equal(t, true, s["c"])
	// Shallow: the nested map is replaced, not merged.
	assert.Equal(t, map[string]any{"x": 9.0}, s["nested"])
}

// TestManager_ApplyIdempotent tests that applying the same patch twice
// yields the same state with a higher version.
func TestManager_ApplyIdempotent(t *testing.T) {
	m, err := state.New(map[string]any{"count": 4})
	require.NoError(t, err)

	patch := state.Patch{"count": 5, "quality_score": 10}
	v1, err := m.Apply(patch)
	require.NoError(t, err)
	first := m.Snapshot()

	v2, err := m.Apply(patch)
	require.NoError(t, err)
	second := m.Snapshot()

	assert.Equal(t, first, second)
	assert.Greater(t, v2, v1)
}

// TestManager_EmptyPatchBumpsVersion tests that every patch yields a new version.
func TestManager_EmptyPatchBumpsVersion(t *testing.T) {
	m, err := state.New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Version())

	v, err := m.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Empty(t, m.Snapshot())
}

// TestManager_SnapshotIsolation tests that snapshots are copies.
func TestManager_SnapshotIsolation(t *testing.T) {
	m, err := state.New(map[string]any{"items": []any{"a"}, "meta": map[string]any{"k": "v"}})
	require.NoError(t, err)

	snap := m.Snapshot()
	snap["items"] = append(snap["items"].([]any), "b")
	snap["meta"].(map[string]any)["k"] = "changed"
	snap["new"] = 1

	again := m.Snapshot()
	assert.Equal(t, []any{"a"}, again["items"])
	assert.Equal(t, "v", again["meta"].(map[string]any)["k"])
	assert.NotContains(t, again, "new")
}

// TestManager_InitialStateCopied tests that the caller's map is not retained.
func TestManager_InitialStateCopied(t *testing.T) {
	initial := map[string]any{"count": 1}
	m, err := state.New(initial)
	require.NoError(t, err)

	initial["count"] = 100
	assert.Equal(t, 1.0, m.Snapshot()["count"])
}

// TestManager_NormalizesStructs tests that typed values become JSON shapes.
func TestManager_NormalizesStructs(t *testing.T) {
	m, err := state.New(nil)
	require.NoError(t, err)

	_, err = m.Apply(state.Patch{"functions": []function{{Name: "main", Lines: 12}}})
	require.NoError(t, err)

	v, ok := m.Lookup("functions.0.line_count")
	require.True(t, ok)
	assert.Equal(t, 12.0, v)

	v, ok = m.Lookup("functions.0.name")
	require.True(t, ok)
	assert.Equal(t, "main", v)

	_, ok = m.Lookup("functions.3.name")
	assert.False(t, ok)
}

// TestManager_RejectsUnencodable tests that patches must be JSON-encodable.
func TestManager_RejectsUnencodable(t *testing.T) {
	m, err := state.New(nil)
	require.NoError(t, err)

	_, err = m.Apply(state.Patch{"ch": make(chan int)})
	require.Error(t, err)
	assert.Equal(t, 0, m.Version())
}

// TestManager_Restore tests resuming at a persisted version.
func TestManager_Restore(t *testing.T) {
	m, err := state.Restore(map[string]any{"count": 3}, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, m.Version())

	v, err := m.Apply(state.Patch{"count": 4})
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

// TestManager_ConcurrentReaders tests that readers see whole patches only.
func TestManager_ConcurrentReaders(t *testing.T) {
	m, err := state.New(map[string]any{"a": 0, "b": 0})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			_, _ = m.Apply(state.Patch{"a": i, "b": i})
		}
	}()

	for i := 0; i < 200; i++ {
		s := m.Snapshot()
		assert.Equal(t, s["a"], s["b"])
	}
	wg.Wait()
	assert.Equal(t, 200, m.Version())
}

// TestPatch_Keys tests deterministic key ordering.
func TestPatch_Keys(t *testing.T) {
	p := state.Patch{"z": 1, "a": 2, "m": 3}
	assert.Equal(t, []string{"a", "m", "z"}, p.Keys())
}

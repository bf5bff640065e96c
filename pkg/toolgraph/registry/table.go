package registry

import "sync"

// Table is a thread-safe map for read-heavy workloads.
// Once frozen it rejects further writes.
type Table[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	frozen  bool
}

// NewTable creates an empty table.
func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{
		entries: make(map[K]V),
	}
}

// Put adds a value. It returns false if the key exists or the table is frozen.
func (t *Table[K, V]) Put(key K, value V) (added, frozen bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return false, true
	}
	if _, exists := t.entries[key]; exists {
		return false, false
	}
	t.entries[key] = value
	return true, false
}

// Get returns the value for a key and whether it exists.
func (t *Table[K, V]) Get(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[key]
	return v, ok
}

// Has returns true if the key exists.
func (t *Table[K, V]) Has(key K) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[key]
	return ok
}

// Len returns the number of entries.
func (t *Table[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Freeze makes the table read-only.
func (t *Table[K, V]) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Frozen reports whether Freeze has been called.
func (t *Table[K, V]) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// Range calls fn for each entry over a snapshot of the table.
// Iteration stops when fn returns false.
func (t *Table[K, V]) Range(fn func(K, V) bool) {
	t.mu.RLock()
	snapshot := make(map[K]V, len(t.entries))
	for k, v := range t.entries {
		snapshot[k] = v
	}
	t.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-memory store for tests and single-shot runs.
// Data is lost when the process exits.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]WorkflowRecord
	runs      map[string]RunRecord
	closed    bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]WorkflowRecord),
		runs:      make(map[string]RunRecord),
	}
}

// SaveWorkflow implements Store.
func (m *MemoryStore) SaveWorkflow(_ context.Context, w WorkflowRecord) error {
	if err := validateWorkflow(w); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if existing, ok := m.workflows[w.ID]; ok {
		w.CreatedAt = existing.CreatedAt
	}
	w.CreatedAt, w.UpdatedAt = stamp(w.CreatedAt, w.UpdatedAt)
	// Copy data to avoid retaining caller's slice
	w.Definition = slices.Clone(w.Definition)
	m.workflows[w.ID] = w
	return nil
}

// LoadWorkflow implements Store.
func (m *MemoryStore) LoadWorkflow(_ context.Context, id string) (WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return WorkflowRecord{}, ErrStoreClosed
	}

	w, ok := m.workflows[id]
	if !ok {
		return WorkflowRecord{}, ErrNotFound
	}
	w.Definition = slices.Clone(w.Definition)
	return w, nil
}

// ListWorkflows implements Store.
func (m *MemoryStore) ListWorkflows(_ context.Context) ([]WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]WorkflowRecord, 0, len(m.workflows))
	for _, w := range m.workflows {
		w.Definition = slices.Clone(w.Definition)
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveRun implements Store.
func (m *MemoryStore) SaveRun(_ context.Context, r RunRecord) error {
	if err := validateRun(r); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if existing, ok := m.runs[r.ID]; ok {
		if r.Sequence < existing.Sequence {
			return nil
		}
		r.CreatedAt = existing.CreatedAt
	}
	r.CreatedAt, r.UpdatedAt = stamp(r.CreatedAt, r.UpdatedAt)
	r.Data = slices.Clone(r.Data)
	m.runs[r.ID] = r
	return nil
}

// LoadRun implements Store.
func (m *MemoryStore) LoadRun(_ context.Context, id string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return RunRecord{}, ErrStoreClosed
	}

	r, ok := m.runs[id]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	r.Data = slices.Clone(r.Data)
	return r, nil
}

// ListRuns implements Store.
func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]RunRecord, 0)
	for _, r := range m.runs {
		if !filter.matches(r) {
			continue
		}
		r.Data = slices.Clone(r.Data)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.runs, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.workflows = nil
	m.runs = nil
	return nil
}

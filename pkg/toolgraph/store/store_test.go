package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every store implementation available in this environment.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	out := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "toolgraph.db"))
			require.NoError(t, err)
			return s
		},
		"sqlite-memory": func(t *testing.T) Store {
			s, err := NewSQLiteStore(":memory:")
			require.NoError(t, err)
			return s
		},
	}
	if url := os.Getenv("TOOLGRAPH_TEST_POSTGRES_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), url)
			require.NoError(t, err)
			_, err = s.pool.Exec(context.Background(), "TRUNCATE workflows, runs")
			require.NoError(t, err)
			return s
		}
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

// TestStore_Workflows tests workflow save, load, replace and list.
func TestStore_Workflows(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.LoadWorkflow(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		first := WorkflowRecord{
			ID:         "wf-1",
			Name:       "review",
			Definition: []byte(`{"nodes":[]}`),
			CreatedAt:  time.Now().Add(-time.Minute).UTC(),
		}
		require.NoError(t, s.SaveWorkflow(ctx, first))
		require.NoError(t, s.SaveWorkflow(ctx, WorkflowRecord{
			ID:         "wf-2",
			Name:       "other",
			Definition: []byte(`{}`),
		}))

		got, err := s.LoadWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "review", got.Name)
		assert.JSONEq(t, `{"nodes":[]}`, string(got.Definition))

		first.Name = "review v2"
		first.Description = "updated"
		require.NoError(t, s.SaveWorkflow(ctx, first))

		got, err = s.LoadWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "review v2", got.Name)
		assert.Equal(t, "updated", got.Description)

		list, err := s.ListWorkflows(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "wf-1", list[0].ID)
		assert.Equal(t, "wf-2", list[1].ID)
	})
}

// TestStore_RunSequence tests that stale saves never overwrite newer ones.
func TestStore_RunSequence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "r1", WorkflowID: "wf", Status: "running", Data: []byte(`{"n":1}`), Sequence: 1}))
		require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "r1", WorkflowID: "wf", Status: "completed", Data: []byte(`{"n":3}`), Sequence: 3}))
		require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "r1", WorkflowID: "wf", Status: "running", Data: []byte(`{"n":2}`), Sequence: 2}))

		got, err := s.LoadRun(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "completed", got.Status)
		assert.Equal(t, int64(3), got.Sequence)
		assert.JSONEq(t, `{"n":3}`, string(got.Data))
	})
}

// TestStore_ListRuns tests filtering, ordering and limits.
func TestStore_ListRuns(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour).UTC()

		runs := []RunRecord{
			{ID: "a", WorkflowID: "wf-1", Status: "completed", CreatedAt: base},
			{ID: "b", WorkflowID: "wf-1", Status: "failed", CreatedAt: base.Add(time.Minute)},
			{ID: "c", WorkflowID: "wf-2", Status: "completed", CreatedAt: base.Add(2 * time.Minute)},
		}
		for _, r := range runs {
			r.Data = []byte(`{}`)
			require.NoError(t, s.SaveRun(ctx, r))
		}

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"c", "b", "a"}, ids(all))

		byWorkflow, err := s.ListRuns(ctx, RunFilter{WorkflowID: "wf-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, ids(byWorkflow))

		byStatus, err := s.ListRuns(ctx, RunFilter{Status: "completed", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(byStatus))

		none, err := s.ListRuns(ctx, RunFilter{WorkflowID: "nope"})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

// TestStore_DeleteRun tests deletion, including of unknown runs.
func TestStore_DeleteRun(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "r1", WorkflowID: "wf", Status: "completed", Data: []byte(`{}`)}))
		require.NoError(t, s.DeleteRun(ctx, "r1"))
		require.NoError(t, s.DeleteRun(ctx, "r1"))

		_, err := s.LoadRun(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// TestStore_InvalidRecord tests that records without IDs are rejected.
func TestStore_InvalidRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		assert.ErrorIs(t, s.SaveWorkflow(ctx, WorkflowRecord{Name: "x"}), ErrInvalidRecord)
		assert.ErrorIs(t, s.SaveRun(ctx, RunRecord{Status: "running"}), ErrInvalidRecord)
	})
}

// TestStore_Closed tests that operations fail after Close and Close is idempotent.
func TestStore_Closed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		assert.ErrorIs(t, s.SaveRun(ctx, RunRecord{ID: "r"}), ErrStoreClosed)
		_, err := s.LoadRun(ctx, "r")
		assert.ErrorIs(t, err, ErrStoreClosed)
		_, err = s.ListWorkflows(ctx)
		assert.ErrorIs(t, err, ErrStoreClosed)
	})
}

// TestMemoryStore_CopiesData tests that callers cannot mutate stored bytes.
func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	data := []byte(`{"a":1}`)
	require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "r", Data: data}))
	data[2] = 'X'

	got, err := s.LoadRun(ctx, "r")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.Data))

	got.Data[2] = 'Y'
	again, err := s.LoadRun(ctx, "r")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(again.Data))
}

// TestSQLiteStore_Concurrent tests concurrent saves and loads.
func TestSQLiteStore_Concurrent(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			assert.NoError(t, s.SaveRun(ctx, RunRecord{ID: "r", WorkflowID: "wf", Status: "running", Data: []byte(`{}`), Sequence: int64(seq)}))
			_, err := s.LoadRun(ctx, "r")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.LoadRun(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(19), got.Sequence)
}

// TestSQLiteStore_Reopen tests that data survives reopening the file.
func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveWorkflow(ctx, WorkflowRecord{ID: "wf", Name: "n", Definition: []byte(`{}`)}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadWorkflow(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, "n", got.Name)
}

// TestBuildListRunsQuery tests placeholder numbering for the Postgres query.
func TestBuildListRunsQuery(t *testing.T) {
	q, args := buildListRunsQuery(RunFilter{WorkflowID: "wf", Status: "failed", Limit: 5})
	assert.Contains(t, q, "workflow_id = $1")
	assert.Contains(t, q, "status = $2")
	assert.Contains(t, q, "LIMIT $3")
	assert.Equal(t, []any{"wf", "failed", 5}, args)

	q, args = buildListRunsQuery(RunFilter{})
	assert.NotContains(t, q, "LIMIT")
	assert.Empty(t, args)
}

func ids(runs []RunRecord) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}

package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/store"
)

// runRecord builds a record whose payload resembles a run with a long trace.
func runRecord(b *testing.B, steps int) store.RunRecord {
	b.Helper()
	trace := make([]map[string]any, steps)
	for i := range trace {
		trace[i] = map[string]any{
			"sequence": i + 1,
			"node_id":  fmt.Sprintf("node%d", i),
			"output":   map[string]any{"value": float64(i)},
			"success":  true,
		}
	}
	data, err := json.Marshal(map[string]any{
		"run_id": "run-1",
		"state":  map[string]any{"value": float64(steps)},
		"trace":  trace,
	})
	if err != nil {
		b.Fatal(err)
	}
	now := time.Now().UTC()
	return store.RunRecord{
		ID: "run-1", WorkflowID: "wf", Status: "running",
		Data: data, CreatedAt: now, UpdatedAt: now,
	}
}

func benchSave(b *testing.B, st store.Store) {
	rec := runRecord(b, 50)
	ctx := context.Background()
	b.SetBytes(int64(len(rec.Data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec.Sequence = int64(i + 1)
		if err := st.SaveRun(ctx, rec); err != nil {
			b.Fatal(err)
		}
	}
}

func benchLoad(b *testing.B, st store.Store) {
	rec := runRecord(b, 50)
	rec.Sequence = 1
	ctx := context.Background()
	if err := st.SaveRun(ctx, rec); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := st.LoadRun(ctx, rec.ID); err != nil {
			b.Fatal(err)
		}
	}
}

func sqliteStore(b *testing.B) store.Store {
	b.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = st.Close() })
	return st
}

// BenchmarkMemoryStore_SaveRun measures in-memory run saves.
func BenchmarkMemoryStore_SaveRun(b *testing.B) {
	benchSave(b, store.NewMemoryStore())
}

// BenchmarkMemoryStore_LoadRun measures in-memory run loads.
func BenchmarkMemoryStore_LoadRun(b *testing.B) {
	benchLoad(b, store.NewMemoryStore())
}

// BenchmarkSQLiteStore_SaveRun measures SQLite run saves.
func BenchmarkSQLiteStore_SaveRun(b *testing.B) {
	benchSave(b, sqliteStore(b))
}

// BenchmarkSQLiteStore_LoadRun measures SQLite run loads.
func BenchmarkSQLiteStore_LoadRun(b *testing.B) {
	benchLoad(b, sqliteStore(b))
}

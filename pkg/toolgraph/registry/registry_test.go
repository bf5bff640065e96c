package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func incrementTool() Tool {
	return ToolFunc(func(_ context.Context, in map[string]any) (map[string]any, error) {
		n, _ := in["count"].(float64)
		return map[string]any{"count": n + 1}, nil
	})
}

var incrementSpec = Spec{
	Description: "adds one",
	Inputs:      []Field{{Name: "count", Required: true}},
	Outputs:     []string{"count"},
}

// TestRegistry_RegisterAndInvoke tests the basic round trip.
func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("increment", incrementTool(), incrementSpec))

	out, err := r.Invoke(context.Background(), "increment", map[string]any{"count": 4.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 5.0}, out)

	spec, ok := r.Lookup("increment")
	require.True(t, ok)
	assert.Equal(t, "increment", spec.Name)
	assert.Equal(t, []string{"count"}, spec.InputNames())
}

// TestRegistry_RegisterErrors tests rejected registrations.
func TestRegistry_RegisterErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", incrementTool(), Spec{}))

	assert.ErrorIs(t, r.Register("a", incrementTool(), Spec{}), ErrDuplicateTool)
	assert.ErrorIs(t, r.Register(" ", incrementTool(), Spec{}), ErrInvalidTool)
	assert.ErrorIs(t, r.Register("b", nil, Spec{}), ErrInvalidTool)
	assert.ErrorIs(t, r.Register("c", incrementTool(), Spec{Inputs: []Field{{Name: ""}}}), ErrInvalidTool)

	r.Freeze()
	assert.True(t, r.Frozen())
	assert.ErrorIs(t, r.Register("d", incrementTool(), Spec{}), ErrFrozen)
	assert.Equal(t, 1, r.Len())
}

// TestRegistry_MustRegisterPanics tests MustRegister on duplicates.
func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := New()
	r.MustRegister("a", incrementTool(), Spec{})
	assert.Panics(t, func() { r.MustRegister("a", incrementTool(), Spec{}) })
}

// TestRegistry_InvokeErrors tests each invocation error kind.
func TestRegistry_InvokeErrors(t *testing.T) {
	boom := errors.New("boom")
	r := New()
	r.MustRegister("increment", incrementTool(), incrementSpec)
	r.MustRegister("fail", ToolFunc(func(context.Context, map[string]any) (map[string]any, error) {
		return nil, boom
	}), Spec{})
	r.MustRegister("panic", ToolFunc(func(context.Context, map[string]any) (map[string]any, error) {
		panic("kaboom")
	}), Spec{})
	r.MustRegister("leaky", ToolFunc(func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"count": 1, "secret": true}, nil
	}), Spec{Outputs: []string{"count"}})
	r.Freeze()

	ctx := context.Background()

	_, err := r.Invoke(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = r.Invoke(ctx, "increment", map[string]any{})
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, []string{"count"}, inputErr.Missing)

	_, err = r.Invoke(ctx, "fail", nil)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "fail", execErr.Tool)

	_, err = r.Invoke(ctx, "panic", nil)
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "kaboom", execErr.Panic)
	assert.Contains(t, err.Error(), "panicked")

	_, err = r.Invoke(ctx, "leaky", nil)
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "secret")
}

// TestRegistry_NilInputRequired tests that a present nil input satisfies presence.
func TestRegistry_NilInputRequired(t *testing.T) {
	r := New()
	r.MustRegister("echo", ToolFunc(func(_ context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"value": in["value"]}, nil
	}), Spec{Inputs: []Field{{Name: "value", Required: true}}})

	out, err := r.Invoke(context.Background(), "echo", map[string]any{"value": nil})
	require.NoError(t, err)
	assert.Nil(t, out["value"])
}

// TestRegistry_List tests sorted listing.
func TestRegistry_List(t *testing.T) {
	r := New()
	r.MustRegister("zeta", incrementTool(), Spec{})
	r.MustRegister("alpha", incrementTool(), Spec{})
	r.MustRegister("mid", incrementTool(), Spec{})

	specs := r.List()
	require.Len(t, specs, 3)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "mid", specs[1].Name)
	assert.Equal(t, "zeta", specs[2].Name)
}

// TestRegistry_ConcurrentInvoke tests concurrent invocation after freeze.
func TestRegistry_ConcurrentInvoke(t *testing.T) {
	r := New()
	r.MustRegister("increment", incrementTool(), incrementSpec)
	r.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := r.Invoke(context.Background(), "increment", map[string]any{"count": float64(n)})
			assert.NoError(t, err)
			assert.Equal(t, float64(n+1), out["count"])
		}(i)
	}
	wg.Wait()
}

// TestWithRetry_RetriesTransient tests that transient errors are retried.
func TestWithRetry_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	flaky := ToolFunc(func(context.Context, map[string]any) (map[string]any, error) {
		if calls.Add(1) < 3 {
			return nil, Transient(errors.New("temporarily unavailable"))
		}
		return map[string]any{"ok": true}, nil
	})

	tool := WithRetry(flaky, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, BackoffFactor: 2})
	out, err := tool.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

// TestWithRetry_PermanentNotRetried tests that unmarked errors fail immediately.
func TestWithRetry_PermanentNotRetried(t *testing.T) {
	var calls atomic.Int32
	permanent := errors.New("bad input")
	tool := WithRetry(ToolFunc(func(context.Context, map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, permanent
	}), RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond})

	_, err := tool.Invoke(context.Background(), nil)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), calls.Load())
}

// TestWithRetry_ExhaustsAttempts tests the attempt cap.
func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	tool := WithRetry(ToolFunc(func(context.Context, map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, Transient(errors.New("still down"))
	}), RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, BackoffFactor: 2, Jitter: 0.5})

	_, err := tool.Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

// TestWithRetry_ContextCancelled tests that cancellation stops retries.
func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tool := WithRetry(incrementTool(), DefaultRetry)
	_, err := tool.Invoke(ctx, map[string]any{"count": 1.0})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestTable_FreezeAndRange tests the backing table directly.
func TestTable_FreezeAndRange(t *testing.T) {
	tbl := NewTable[string, int]()
	added, frozen := tbl.Put("a", 1)
	assert.True(t, added)
	assert.False(t, frozen)

	added, _ = tbl.Put("a", 2)
	assert.False(t, added)
	v, _ := tbl.Get("a")
	assert.Equal(t, 1, v)

	tbl.Freeze()
	added, frozen = tbl.Put("b", 2)
	assert.False(t, added)
	assert.True(t, frozen)

	count := 0
	tbl.Range(func(string, int) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, tbl.Len())
}

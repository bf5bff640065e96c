package toolgraph

import (
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/observability"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/store"
)

// DefaultMaxIterations applies to loops that do not set max_iterations.
const DefaultMaxIterations = 15

// runConfig holds configuration for graph execution.
type runConfig struct {
	tools                *registry.Registry
	store                store.Store
	persistFailureFatal  bool
	metrics              observability.MetricsRecorder
	spans                observability.SpanManager
	defaultMaxIterations int
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		tools:                registry.New(),
		metrics:              observability.NoopMetrics{},
		spans:                observability.NoopSpanManager{},
		defaultMaxIterations: DefaultMaxIterations,
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithRegistry sets the tool registry used by normal nodes.
// Without it every tool lookup fails with registry.ErrToolNotFound.
func WithRegistry(reg *registry.Registry) RunOption {
	return func(c *runConfig) {
		if reg != nil {
			c.tools = reg
		}
	}
}

// WithStore persists the run after every step and status change.
//
// Example:
//
//	err := compiled.Run(ctx, run,
//	    toolgraph.WithRegistry(reg),
//	    toolgraph.WithStore(store.NewMemoryStore()))
func WithStore(s store.Store) RunOption {
	return func(c *runConfig) {
		c.store = s
	}
}

// WithPersistFailureFatal makes a failed save abort the run with a
// *PersistError. Default: false (failures are logged and execution continues).
func WithPersistFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.persistFailureFatal = fatal
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the span manager used for run and node spans.
func WithSpanManager(sm observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if sm != nil {
			c.spans = sm
		}
	}
}

// WithTracing enables OpenTelemetry spans using the global tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithDefaultMaxIterations sets the bound for loops without max_iterations.
// Default: 15. Values outside 1..100 are ignored.
func WithDefaultMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n >= 1 && n <= MaxLoopIterations {
			c.defaultMaxIterations = n
		}
	}
}

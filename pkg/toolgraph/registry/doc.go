// Package registry maps tool names to implementations and enforces their
// invocation contracts.
//
// A Registry is populated at startup and then frozen; after Freeze it only
// serves lookups and invocations, which are safe for concurrent use by any
// number of runs.
//
// # Registering Tools
//
//	reg := registry.New()
//	err := reg.Register("increment", registry.ToolFunc(increment), registry.Spec{
//	    Description: "Adds one to count",
//	    Inputs:      []registry.Field{{Name: "count", Required: true}},
//	    Outputs:     []string{"count"},
//	})
//	reg.Freeze()
//
// # Invocation Errors
//
// Invoke reports contract violations with distinct errors:
//
//   - ErrToolNotFound: no tool is registered under the name
//   - *InputError: a required input is absent
//   - *ExecutionError: the tool failed, panicked, or returned a field it
//     did not declare
//
// # Retries
//
// The engine never retries a failed tool. A provider that wants internal
// retries wraps its tool with WithRetry; only errors marked Transient are
// retried.
package registry

// Package store provides persistent storage for workflow definitions and runs.
//
// Records are opaque to the store: definitions and runs are handed over
// already encoded, so the store has no dependency on the engine types.
package store

import (
	"context"
	"errors"
	"time"
)

// Store persists workflows and runs.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveWorkflow inserts or replaces a workflow by ID.
	SaveWorkflow(ctx context.Context, w WorkflowRecord) error

	// LoadWorkflow retrieves a workflow.
	// Returns ErrNotFound if the workflow doesn't exist.
	LoadWorkflow(ctx context.Context, id string) (WorkflowRecord, error)

	// ListWorkflows returns all workflows ordered by creation time.
	ListWorkflows(ctx context.Context) ([]WorkflowRecord, error)

	// SaveRun inserts or updates a run. A save whose Sequence is lower than
	// the stored one is ignored.
	SaveRun(ctx context.Context, r RunRecord) error

	// LoadRun retrieves a run.
	// Returns ErrNotFound if the run doesn't exist.
	LoadRun(ctx context.Context, id string) (RunRecord, error)

	// ListRuns returns runs matching the filter, newest first.
	// Returns an empty slice (not error) when nothing matches.
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)

	// DeleteRun removes a run. Returns nil if the run doesn't exist.
	DeleteRun(ctx context.Context, id string) error

	// Close releases any resources (connections, files).
	Close() error
}

// WorkflowRecord is a stored workflow definition.
type WorkflowRecord struct {
	ID          string
	Name        string
	Description string
	Definition  []byte // JSON-encoded definition
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RunRecord is a stored run.
type RunRecord struct {
	ID         string
	WorkflowID string
	Status     string
	Data       []byte // JSON-encoded run snapshot
	Sequence   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	WorkflowID string
	Status     string
	Limit      int
}

func (f RunFilter) matches(r RunRecord) bool {
	if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a workflow or run doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrInvalidRecord indicates a record is missing its ID.
	ErrInvalidRecord = errors.New("invalid record")
)

func validateWorkflow(w WorkflowRecord) error {
	if w.ID == "" {
		return ErrInvalidRecord
	}
	return nil
}

func validateRun(r RunRecord) error {
	if r.ID == "" {
		return ErrInvalidRecord
	}
	return nil
}

func stamp(created, updated time.Time) (time.Time, time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	return created, updated
}

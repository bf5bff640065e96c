// Package service manages stored workflows and background runs.
//
// Workflows are compiled once and cached. StartRun returns as soon as the
// run is recorded; a goroutine waits for a concurrency slot and drives it.
// Callers poll GetRun for progress.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/store"
)

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

// Sentinel errors.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrRunFinished      = errors.New("run already finished")
	ErrShuttingDown     = errors.New("service is shutting down")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Workflow is a stored workflow and its definition.
type Workflow struct {
	ID          string                `json:"workflow_id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Definition  *toolgraph.Definition `json:"definition,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Config configures a Service.
type Config struct {
	Store  store.Store        // required
	Tools  *registry.Registry // required
	Logger *slog.Logger

	// MaxConcurrentRuns bounds runs executing at once. Zero means 8.
	MaxConcurrentRuns int

	// RunOptions are passed to every run, after the store and registry.
	RunOptions []toolgraph.RunOption
}

// Service owns workflows and runs.
type Service struct {
	store  store.Store
	tools  *registry.Registry
	logger *slog.Logger
	slots  *semaphore.Weighted
	opts   []toolgraph.RunOption

	mu       sync.Mutex
	compiled map[string]*toolgraph.Compiled
	active   map[string]*activeRun
	closed   bool
	wg       sync.WaitGroup
}

type activeRun struct {
	run    *toolgraph.Run
	cancel context.CancelFunc
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidRequest)
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("%w: tool registry is required", ErrInvalidRequest)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.MaxConcurrentRuns
	if limit <= 0 {
		limit = 8
	}

	opts := append([]toolgraph.RunOption{
		toolgraph.WithStore(cfg.Store),
		toolgraph.WithRegistry(cfg.Tools),
	}, cfg.RunOptions...)

	return &Service{
		store:    cfg.Store,
		tools:    cfg.Tools,
		logger:   logger,
		slots:    semaphore.NewWeighted(int64(limit)),
		opts:     opts,
		compiled: make(map[string]*toolgraph.Compiled),
		active:   make(map[string]*activeRun),
	}, nil
}

// Tools returns the tool registry runs use.
func (s *Service) Tools() *registry.Registry {
	return s.tools
}

// CreateWorkflow compiles def and stores it under a new id.
func (s *Service) CreateWorkflow(ctx context.Context, def *toolgraph.Definition) (Workflow, error) {
	return s.PutWorkflow(ctx, uuid.NewString(), def)
}

// PutWorkflow compiles def and stores it under id, replacing any workflow
// with that id. Definitions that fail to compile are not stored.
func (s *Service) PutWorkflow(ctx context.Context, id string, def *toolgraph.Definition) (Workflow, error) {
	if id == "" {
		return Workflow{}, fmt.Errorf("%w: workflow id is required", ErrInvalidRequest)
	}
	compiled, err := toolgraph.Compile(def)
	if err != nil {
		return Workflow{}, err
	}
	data, err := def.JSON()
	if err != nil {
		return Workflow{}, fmt.Errorf("encode definition: %w", err)
	}

	rec := store.WorkflowRecord{
		ID:          id,
		Name:        def.Name,
		Description: def.Description,
		Definition:  data,
	}
	if existing, err := s.store.LoadWorkflow(ctx, id); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}
	if err := s.store.SaveWorkflow(ctx, rec); err != nil {
		return Workflow{}, fmt.Errorf("save workflow: %w", err)
	}

	s.mu.Lock()
	s.compiled[id] = compiled
	s.mu.Unlock()

	s.logger.Info("workflow stored", "workflow_id", id, "name", def.Name, "nodes", len(compiled.NodeIDs()))
	return s.GetWorkflow(ctx, id)
}

// GetWorkflow returns a stored workflow with its definition.
func (s *Service) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	rec, err := s.store.LoadWorkflow(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Workflow{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("load workflow: %w", err)
	}
	def, err := toolgraph.ParseDefinition(rec.Definition, toolgraph.FormatJSON)
	if err != nil {
		return Workflow{}, fmt.Errorf("stored workflow %s: %w", id, err)
	}
	w := workflowFromRecord(rec)
	w.Definition = def
	return w, nil
}

// ListWorkflows returns every stored workflow without definitions.
func (s *Service) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	recs, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]Workflow, 0, len(recs))
	for _, rec := range recs {
		out = append(out, workflowFromRecord(rec))
	}
	return out, nil
}

func workflowFromRecord(rec store.WorkflowRecord) Workflow {
	return Workflow{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// compiledWorkflow returns the cached compiled graph, compiling the stored
// definition on a miss.
func (s *Service) compiledWorkflow(ctx context.Context, id string) (*toolgraph.Compiled, error) {
	s.mu.Lock()
	c, ok := s.compiled[id]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	w, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err = toolgraph.Compile(w.Definition)
	if err != nil {
		return nil, fmt.Errorf("stored workflow %s: %w", id, err)
	}

	s.mu.Lock()
	s.compiled[id] = c
	s.mu.Unlock()
	return c, nil
}

// StartRun records a pending run of workflowID and starts it in the
// background. The returned snapshot is the pending run.
func (s *Service) StartRun(ctx context.Context, workflowID string, initial map[string]any) (toolgraph.RunSnapshot, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return toolgraph.RunSnapshot{}, ErrShuttingDown
	}

	compiled, err := s.compiledWorkflow(ctx, workflowID)
	if err != nil {
		return toolgraph.RunSnapshot{}, err
	}
	run, err := toolgraph.NewRun(workflowID, initial)
	if err != nil {
		return toolgraph.RunSnapshot{}, fmt.Errorf("%w: initial state: %v", ErrInvalidRequest, err)
	}

	snap := run.Snapshot()
	if err := s.save(ctx, snap); err != nil {
		return toolgraph.RunSnapshot{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return toolgraph.RunSnapshot{}, ErrShuttingDown
	}
	s.active[run.ID()] = &activeRun{run: run, cancel: cancel}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drive(runCtx, cancel, compiled, run)

	s.logger.Info("run queued", "run_id", run.ID(), "workflow_id", workflowID)
	return snap, nil
}

// drive waits for a slot and executes run. A run cancelled while queued
// is still executed so that it reaches the cancelled status.
func (s *Service) drive(ctx context.Context, cancel context.CancelFunc, compiled *toolgraph.Compiled, run *toolgraph.Run) {
	defer s.wg.Done()
	defer cancel()
	defer func() {
		s.mu.Lock()
		delete(s.active, run.ID())
		s.mu.Unlock()
	}()

	if err := s.slots.Acquire(ctx, 1); err == nil {
		defer s.slots.Release(1)
	}

	tctx := toolgraph.NewContext(ctx, toolgraph.WithLogger(s.logger), toolgraph.WithContextRunID(run.ID()))
	if err := compiled.Run(tctx, run, s.opts...); err != nil {
		s.logger.Warn("run ended with error",
			"run_id", run.ID(),
			"status", run.Status(),
			"error", err,
		)
	}
}

func (s *Service) save(ctx context.Context, snap toolgraph.RunSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	err = s.store.SaveRun(ctx, store.RunRecord{
		ID:         snap.RunID,
		WorkflowID: snap.WorkflowID,
		Status:     string(snap.Status),
		Data:       data,
		CreatedAt:  snap.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun returns the latest view of a run: live for runs this service is
// driving, otherwise the stored snapshot.
func (s *Service) GetRun(ctx context.Context, runID string) (toolgraph.RunSnapshot, error) {
	s.mu.Lock()
	a, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		return a.run.Snapshot(), nil
	}

	rec, err := s.store.LoadRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return toolgraph.RunSnapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return toolgraph.RunSnapshot{}, fmt.Errorf("load run: %w", err)
	}
	return toolgraph.DecodeRunSnapshot(rec.Data)
}

// ListRuns returns stored runs matching filter, newest first. Runs this
// service is driving are reported from their live state.
func (s *Service) ListRuns(ctx context.Context, filter store.RunFilter) ([]toolgraph.RunSnapshot, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	recs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]toolgraph.RunSnapshot, 0, len(recs))
	for _, rec := range recs {
		s.mu.Lock()
		a, live := s.active[rec.ID]
		s.mu.Unlock()
		if live {
			out = append(out, a.run.Snapshot())
			continue
		}

		snap, err := toolgraph.DecodeRunSnapshot(rec.Data)
		if err != nil {
			s.logger.Warn("skipping undecodable run", "run_id", rec.ID, "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// CancelRun requests cancellation of an in-flight run. The run reaches
// the cancelled status asynchronously.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	a, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		if a.run.Status().Terminal() {
			return fmt.Errorf("%w: %s", ErrRunFinished, runID)
		}
		a.cancel()
		s.logger.Info("run cancellation requested", "run_id", runID)
		return nil
	}

	if _, err := s.store.LoadRun(ctx, runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("load run: %w", err)
	}
	return fmt.Errorf("%w: %s", ErrRunFinished, runID)
}

// Wait blocks until every run started so far has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting runs, cancels every in-flight run and waits for
// them to record their final status.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, a := range s.active {
		a.cancel()
	}
	n := len(s.active)
	s.mu.Unlock()

	s.logger.Info("service shutting down", "in_flight", n)
	return s.Wait(ctx)
}

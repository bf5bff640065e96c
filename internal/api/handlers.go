package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/randalmurphal/toolgraph/internal/service"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/execlog"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/store"
)

// CreateWorkflowRequest is the body of POST /graph/create.
type CreateWorkflowRequest struct {
	Name            string          `json:"name" validate:"required,max=255"`
	Description     string          `json:"description" validate:"max=1000"`
	GraphDefinition json.RawMessage `json:"graph_definition" validate:"required"`
}

// CreateWorkflowResponse is returned by POST /graph/create.
type CreateWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	Message    string `json:"message"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	def, err := toolgraph.ParseDefinition(req.GraphDefinition, toolgraph.FormatJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	def.Name = req.Name
	if req.Description != "" {
		def.Description = req.Description
	}

	wf, err := s.svc.CreateWorkflow(r.Context(), def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateWorkflowResponse{
		WorkflowID: wf.ID,
		Message:    fmt.Sprintf("Workflow '%s' created successfully", wf.Name),
	})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListWorkflows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.svc.GetWorkflow(r.Context(), r.PathValue("workflow_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// RunWorkflowRequest is the body of POST /graph/run.
type RunWorkflowRequest struct {
	WorkflowID   string         `json:"workflow_id" validate:"required"`
	InitialState map[string]any `json:"initial_state"`
}

// RunWorkflowResponse is returned by POST /graph/run.
type RunWorkflowResponse struct {
	RunID   string           `json:"run_id"`
	Status  toolgraph.Status `json:"status"`
	Message string           `json:"message"`
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var req RunWorkflowRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.svc.StartRun(r.Context(), req.WorkflowID, req.InitialState)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RunWorkflowResponse{
		RunID:   snap.RunID,
		Status:  snap.Status,
		Message: "Workflow execution started. Use run_id to check status.",
	})
}

// StateResponse is returned by GET /graph/state/{run_id}.
type StateResponse struct {
	RunID          string              `json:"run_id"`
	WorkflowID     string              `json:"workflow_id"`
	Status         toolgraph.Status    `json:"status"`
	CurrentNode    string              `json:"current_node,omitempty"`
	IterationCount int                 `json:"iteration_count"`
	Iterations     map[string]int      `json:"iterations"`
	State          map[string]any      `json:"state"`
	Logs           []execlog.Step      `json:"logs"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	ErrorKind      toolgraph.ErrorKind `json:"error_kind,omitempty"`
	Summary        *toolgraph.Summary  `json:"summary,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	StartedAt      *time.Time          `json:"started_at"`
	CompletedAt    *time.Time          `json:"completed_at"`
}

func stateResponse(snap toolgraph.RunSnapshot) StateResponse {
	total := 0
	for _, n := range snap.Iterations {
		total += n
	}
	logs := snap.Trace
	if logs == nil {
		logs = []execlog.Step{}
	}
	return StateResponse{
		RunID:          snap.RunID,
		WorkflowID:     snap.WorkflowID,
		Status:         snap.Status,
		CurrentNode:    snap.CurrentNode,
		IterationCount: total,
		Iterations:     snap.Iterations,
		State:          snap.State,
		Logs:           logs,
		ErrorMessage:   snap.Error,
		ErrorKind:      snap.ErrorKind,
		Summary:        snap.Summary,
		CreatedAt:      snap.CreatedAt,
		StartedAt:      timePtr(snap.StartedAt),
		CompletedAt:    timePtr(snap.EndedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(snap))
}

// RunSummary is one entry of GET /graph/runs.
type RunSummary struct {
	RunID          string           `json:"run_id"`
	WorkflowID     string           `json:"workflow_id"`
	Status         toolgraph.Status `json:"status"`
	CurrentNode    string           `json:"current_node,omitempty"`
	IterationCount int              `json:"iteration_count"`
	StartedAt      *time.Time       `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		WorkflowID: q.Get("workflow_id"),
		Status:     q.Get("status"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", service.ErrInvalidRequest))
			return
		}
		filter.Limit = limit
	}

	runs, err := s.svc.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]RunSummary, 0, len(runs))
	for _, snap := range runs {
		st := stateResponse(snap)
		out = append(out, RunSummary{
			RunID:          st.RunID,
			WorkflowID:     st.WorkflowID,
			Status:         st.Status,
			CurrentNode:    st.CurrentNode,
			IterationCount: st.IterationCount,
			StartedAt:      st.StartedAt,
			CompletedAt:    st.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := s.svc.CancelRun(r.Context(), runID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  runID,
		"message": "Cancellation requested.",
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Tools().List())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "toolgraph",
		"version": s.version,
	})
}

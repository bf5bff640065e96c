package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/toolgraph/internal/service"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/observability"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/store"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/tools/codereview"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, codereview.RegisterAll(reg))
	reg.MustRegister("block", registry.ToolFunc(func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), registry.Spec{})
	reg.Freeze()

	promReg := prometheus.NewRegistry()
	metrics, err := observability.NewPrometheusMetrics(promReg)
	require.NoError(t, err)
	svc, err := service.New(service.Config{
		Store:      store.NewMemoryStore(),
		Tools:      reg,
		RunOptions: []toolgraph.RunOption{toolgraph.WithMetrics(metrics)},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(New(svc, WithGatherer(promReg), WithVersion("test")).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return srv, svc
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func createWorkflow(t *testing.T, srv *httptest.Server, def *toolgraph.Definition) string {
	t.Helper()
	raw, err := def.JSON()
	require.NoError(t, err)
	status, body := do(t, srv, http.MethodPost, Prefix+"/graph/create", map[string]any{
		"name":             def.Name,
		"description":      "created over http",
		"graph_definition": json.RawMessage(raw),
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var resp CreateWorkflowResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.WorkflowID)
	return resp.WorkflowID
}

func startRun(t *testing.T, srv *httptest.Server, workflowID string, initial map[string]any) string {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, Prefix+"/graph/run", map[string]any{
		"workflow_id":   workflowID,
		"initial_state": initial,
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var resp RunWorkflowResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, toolgraph.StatusPending, resp.Status)
	return resp.RunID
}

func pollState(t *testing.T, srv *httptest.Server, runID string, want toolgraph.Status) StateResponse {
	t.Helper()
	var st StateResponse
	require.Eventually(t, func() bool {
		resp, err := srv.Client().Get(srv.URL + Prefix + "/graph/state/" + runID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		st = StateResponse{}
		return json.NewDecoder(resp.Body).Decode(&st) == nil && st.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

// TestCodeReviewOverHTTP tests the full create, run and poll cycle.
func TestCodeReviewOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	wfID := createWorkflow(t, srv, codereview.Workflow())

	runID := startRun(t, srv, wfID, map[string]any{"code": codereview.SampleCodeBad})
	st := pollState(t, srv, runID, toolgraph.StatusCompleted)

	assert.Equal(t, wfID, st.WorkflowID)
	assert.Equal(t, 2, st.Iterations["improvement_loop"])
	assert.Equal(t, 2, st.IterationCount)
	assert.Equal(t, 9.0, st.State["quality_score"])
	assert.NotEmpty(t, st.Logs)
	assert.Empty(t, st.ErrorMessage)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.CompletedAt)
	require.NotNil(t, st.Summary)

	status, body := do(t, srv, http.MethodGet, Prefix+"/graph/runs?workflow_id="+wfID, nil)
	require.Equal(t, http.StatusOK, status)
	var runs []RunSummary
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, toolgraph.StatusCompleted, runs[0].Status)
}

// TestWorkflowRoutes tests listing and fetching workflows.
func TestWorkflowRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	wfID := createWorkflow(t, srv, codereview.Workflow())

	status, body := do(t, srv, http.MethodGet, Prefix+"/graph/list", nil)
	require.Equal(t, http.StatusOK, status)
	var list []service.Workflow
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, wfID, list[0].ID)
	assert.Equal(t, "created over http", list[0].Description)
	assert.Nil(t, list[0].Definition)

	status, body = do(t, srv, http.MethodGet, Prefix+"/graph/workflows/"+wfID, nil)
	require.Equal(t, http.StatusOK, status)
	var wf service.Workflow
	require.NoError(t, json.Unmarshal(body, &wf))
	require.NotNil(t, wf.Definition)
	assert.Len(t, wf.Definition.Nodes, 3)

	status, _ = do(t, srv, http.MethodGet, Prefix+"/graph/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// TestCreateWorkflow_BadRequests tests validation of create requests.
func TestCreateWorkflow_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"malformed json", "{", "malformed body"},
		{"missing name", map[string]any{"graph_definition": map[string]any{}}, "Name"},
		{"missing definition", map[string]any{"name": "x"}, "GraphDefinition"},
		{
			"dangling edge",
			map[string]any{"name": "x", "graph_definition": map[string]any{
				"nodes": []any{
					map[string]any{"id": "a", "tool": "increment"},
					map[string]any{"id": "end", "type": "terminal"},
				},
				"edges": []any{map[string]any{"from": "a", "to": "ghost"}},
			}},
			"invalid graph definition",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, srv, http.MethodPost, Prefix+"/graph/create", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, string(body), tt.want)
		})
	}
}

// TestRunWorkflow_Errors tests run requests against bad input.
func TestRunWorkflow_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := do(t, srv, http.MethodPost, Prefix+"/graph/run", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodPost, Prefix+"/graph/run", map[string]any{"workflow_id": "missing"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, srv, http.MethodGet, Prefix+"/graph/state/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, srv, http.MethodGet, Prefix+"/graph/runs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// TestCancelRun tests cancelling a running and a finished run.
func TestCancelRun(t *testing.T) {
	srv, _ := newTestServer(t)
	wfID := createWorkflow(t, srv, &toolgraph.Definition{
		Name: "blocking",
		Nodes: []toolgraph.NodeDef{
			{ID: "wait", Tool: "block"},
			{ID: "end", Type: toolgraph.NodeTerminal},
		},
		Edges: []toolgraph.EdgeDef{{From: "wait", To: "end"}},
	})

	runID := startRun(t, srv, wfID, nil)
	pollState(t, srv, runID, toolgraph.StatusRunning)

	status, body := do(t, srv, http.MethodPost, Prefix+"/graph/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, status, string(body))

	st := pollState(t, srv, runID, toolgraph.StatusCancelled)
	assert.Equal(t, toolgraph.KindCancelled, st.ErrorKind)

	status, _ = do(t, srv, http.MethodPost, Prefix+"/graph/runs/"+runID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, srv, http.MethodPost, Prefix+"/graph/runs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// TestToolsHealthMetrics tests the informational routes.
func TestToolsHealthMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := do(t, srv, http.MethodGet, Prefix+"/graph/tools", nil)
	require.Equal(t, http.StatusOK, status)
	var specs []registry.Spec
	require.NoError(t, json.Unmarshal(body, &specs))
	assert.Len(t, specs, 9)

	status, body = do(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"healthy","service":"toolgraph","version":"test"}`, string(body))

	wfID := createWorkflow(t, srv, codereview.Workflow())
	runID := startRun(t, srv, wfID, map[string]any{"code": codereview.SampleCodeGood})
	pollState(t, srv, runID, toolgraph.StatusCompleted)

	status, body = do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "toolgraph_")

	status, _ = do(t, srv, http.MethodGet, Prefix+"/graph/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

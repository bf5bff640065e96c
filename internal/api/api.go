// Package api exposes the workflow service over HTTP.
//
// Workflow and run routes live under /api/v1:
//
//	POST /api/v1/graph/create
//	GET  /api/v1/graph/list
//	GET  /api/v1/graph/workflows/{workflow_id}
//	POST /api/v1/graph/run
//	GET  /api/v1/graph/state/{run_id}
//	GET  /api/v1/graph/runs
//	POST /api/v1/graph/runs/{run_id}/cancel
//	GET  /api/v1/graph/tools
//
// GET /health and GET /metrics are served at the root.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/toolgraph/internal/service"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
)

// Prefix is the path prefix of the workflow routes.
const Prefix = "/api/v1"

const maxRequestBodySize = 4 << 20

// Server serves the HTTP API.
type Server struct {
	svc      *service.Service
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	version  string
	validate *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer sets the registry served on /metrics.
// Defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a Server backed by svc.
func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		logger:   slog.Default(),
		gatherer: prometheus.DefaultGatherer,
		version:  "dev",
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+Prefix+"/graph/create", s.handleCreateWorkflow)
	mux.HandleFunc("GET "+Prefix+"/graph/list", s.handleListWorkflows)
	mux.HandleFunc("GET "+Prefix+"/graph/workflows/{workflow_id}", s.handleGetWorkflow)
	mux.HandleFunc("POST "+Prefix+"/graph/run", s.handleRunWorkflow)
	mux.HandleFunc("GET "+Prefix+"/graph/state/{run_id}", s.handleGetState)
	mux.HandleFunc("GET "+Prefix+"/graph/runs", s.handleListRuns)
	mux.HandleFunc("POST "+Prefix+"/graph/runs/{run_id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET "+Prefix+"/graph/tools", s.handleListTools)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
	})
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := errorResponse{Error: err.Error()}

	var cfgErr *toolgraph.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
		body.Error = "invalid graph definition"
		for _, p := range cfgErr.Problems {
			body.Details = append(body.Details, p.Error())
		}
	case errors.Is(err, toolgraph.ErrConfig), errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrWorkflowNotFound), errors.Is(err, service.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrRunFinished):
		status = http.StatusConflict
	case errors.Is(err, service.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", service.ErrInvalidRequest, err)
	}

	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", service.ErrInvalidRequest, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/toolgraph/internal/api"
	"github.com/randalmurphal/toolgraph/internal/catalog"
	"github.com/randalmurphal/toolgraph/internal/service"
	"github.com/randalmurphal/toolgraph/internal/settings"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/observability"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/tools/codereview"
)

// BuiltinWorkflowID is the id the code review workflow is registered under.
const BuiltinWorkflowID = "code-review"

func serveCmd(g *globalFlags) *cobra.Command {
	var builtin bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.load()
			if err != nil {
				return err
			}
			logger := s.Logger(cmd.ErrOrStderr())
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", s.Addr())
			if err != nil {
				return fmt.Errorf("listen %s: %w", s.Addr(), err)
			}
			return serve(ctx, s, logger, ln, builtin)
		},
	}
	cmd.Flags().BoolVar(&builtin, "builtin", true, "Register the code review workflow as "+BuiltinWorkflowID)
	return cmd
}

// serve runs the API on ln until ctx is done, then drains in-flight
// requests and runs within the shutdown timeout.
func serve(ctx context.Context, s *settings.Settings, logger *slog.Logger, ln net.Listener, builtin bool) error {
	st, err := service.OpenStore(ctx, s.DatabaseURL)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer st.Close()

	tools := registry.New()
	if err := codereview.RegisterAll(tools); err != nil {
		_ = ln.Close()
		return err
	}
	tools.Freeze()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewPrometheusMetrics(promReg)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("register metrics: %w", err)
	}

	svc, err := service.New(service.Config{
		Store:             st,
		Tools:             tools,
		Logger:            logger,
		MaxConcurrentRuns: s.MaxConcurrentRuns,
		RunOptions: []toolgraph.RunOption{
			toolgraph.WithMetrics(metrics),
			toolgraph.WithTracing(true),
			toolgraph.WithDefaultMaxIterations(s.MaxLoopIterations),
		},
	})
	if err != nil {
		_ = ln.Close()
		return err
	}

	if builtin {
		if _, err := svc.PutWorkflow(ctx, BuiltinWorkflowID, codereview.Workflow()); err != nil {
			_ = ln.Close()
			return fmt.Errorf("register builtin workflow: %w", err)
		}
	}

	watchDone := make(chan struct{})
	if s.WorkflowsDir != "" {
		cat := catalog.New(s.WorkflowsDir, svc, catalog.WithLogger(logger))
		n, err := cat.LoadAll(ctx)
		if err != nil {
			logger.Warn("some workflow files failed to load", "dir", s.WorkflowsDir, "error", err)
		}
		logger.Info("workflow catalog loaded", "dir", s.WorkflowsDir, "count", n)
		go func() {
			defer close(watchDone)
			if err := cat.Watch(ctx); err != nil {
				logger.Error("workflow watcher stopped", "error", err)
			}
		}()
	} else {
		close(watchDone)
	}

	srv := &http.Server{
		Handler: api.New(svc,
			api.WithLogger(logger),
			api.WithGatherer(promReg),
			api.WithVersion(Version),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("toolgraph ready", "addr", ln.Addr().String(), "version", Version)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = svc.Shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", s.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("service shutdown: %w", err))
	}
	<-watchDone
	return errors.Join(errs...)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kr/pretty"
	"github.com/margo/rust-builder/agent/database"
	"github.com/margo/rust-builder/agent/monitor"
	"github.com/margo/rust-builder/agent/types"
	"github.com/margo/rust-builder/shared-lib/build"
	"github.com/margo/rust-builder/shared-lib/file"
	httputils "github.com/margo/rust-builder/shared-lib/http"
	"github.com/margo/rust-builder/shared-lib/http/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Agent wires the builder's components together.
type Agent struct {
	log      *zap.SugaredLogger
	options  types.Options
	database database.DatabaseIfc
	server   *monitor.Server
	registry *prometheus.Registry
}

func NewAgent(ctx context.Context, opts types.Options, log *zap.SugaredLogger) (*Agent, error) {
	targets, err := opts.ResolveTargets()
	if err != nil {
		return nil, err
	}
	log.Debugw("Resolved configuration", "options", pretty.Sprint(redacted(opts)), "targets", pretty.Sprint(targets))

	builder, err := build.NewCargoCliClient(opts.CargoPath)
	if err != nil {
		return nil, types.NewAgentError(types.AgentComponentConfig, types.AgentOperationValidatingConfig, err, false)
	}

	httpClient, err := httputils.NewClient(opts.BinServeCA)
	if err != nil {
		return nil, types.NewAgentError(types.AgentComponentConfig, types.AgentOperationValidatingConfig, err, false)
	}
	uploader, err := file.NewUploader(httpClient, opts.BinServeEndpoint, auth.Bearer(opts.BinServeToken), log.Named("uploader"))
	if err != nil {
		return nil, types.NewAgentError(types.AgentComponentConfig, types.AgentOperationValidatingConfig, err, false)
	}

	db, err := database.NewDatabase(opts.StateDir, log.Named("database"))
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server, err := monitor.NewServer(ctx, targets, monitor.Dependencies{
		Registry: monitor.NewRegistry(monitor.GitOpener(opts.GitPath, nil, log.Named("git"))),
		Builder:  builder,
		Uploader: uploader,
		Database: db,
		Metrics:  monitor.NewMetrics(registry),
	}, monitor.Settings{
		PollInterval:       opts.PollInterval,
		MaxBackoff:         opts.MaxBackoff,
		MaxParallelBuilds:  opts.MaxParallelBuilds,
		RetryFailedUploads: opts.RetryFailedUploads,
	}, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Agent{
		log:      log,
		options:  opts,
		database: db,
		server:   server,
		registry: registry,
	}, nil
}

// Run monitors every target until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	defer a.database.Close()

	a.log.Infow("Agent started",
		"targets", len(a.server.Targets()),
		"binServeEndpoint", a.options.BinServeEndpoint,
		"cargoPath", a.options.CargoPath,
		"stateDir", a.options.StateDir,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(gctx)
	})
	if a.options.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(gctx)
		})
	}
	err := g.Wait()

	a.log.Info("Agent stopped")
	return err
}

// RunOnce runs a single cycle of every target and reports whether any failed.
func (a *Agent) RunOnce(ctx context.Context) error {
	defer a.database.Close()

	var failed int
	for _, report := range a.server.RunOnce(ctx) {
		if report.Outcome.Failed() || len(report.FailedUploads()) > 0 {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d target(s) failed", failed)
	}
	return nil
}

func (a *Agent) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              a.options.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.log.Infow("Serving metrics", "addr", a.options.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Errorw("Metrics server failed", "error", err)
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func redacted(opts types.Options) types.Options {
	if opts.BinServeToken != "" {
		opts.BinServeToken = "[REDACTED]"
	}
	return opts
}

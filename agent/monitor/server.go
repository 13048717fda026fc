package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/margo/rust-builder/agent/database"
	"github.com/margo/rust-builder/agent/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrNoTargets is returned when none of the configured targets could be provisioned.
var ErrNoTargets = errors.New("no target could be provisioned")

// Settings tune the server's scheduling.
type Settings struct {
	PollInterval       time.Duration // Wait after a cycle that did not fail
	MaxBackoff         time.Duration // Upper bound of the wait after failed cycles
	MaxParallelBuilds  int
	RetryFailedUploads bool
}

func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = types.DefaultPollInterval
	}
	if s.MaxBackoff < s.PollInterval {
		s.MaxBackoff = s.PollInterval
	}
	if s.MaxParallelBuilds < 1 {
		s.MaxParallelBuilds = types.DefaultMaxParallelBuilds
	}
	return s
}

// Dependencies are the collaborators shared by every target.
type Dependencies struct {
	Registry *Registry
	Builder  Builder
	Uploader Uploader
	Database database.DatabaseIfc
	Metrics  *Metrics // optional
}

// Server supervises one TargetMonitor per provisioned target.
type Server struct {
	monitors []*TargetMonitor
	database database.DatabaseIfc
	metrics  *Metrics
	settings Settings
	log      *zap.SugaredLogger
}

// NewServer provisions the working copy of every target. A target that cannot
// be provisioned is logged and left out; it is an error only when no target
// remains.
func NewServer(ctx context.Context, targets []types.Target, deps Dependencies, settings Settings, log *zap.SugaredLogger) (*Server, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	settings = settings.withDefaults()
	builds := semaphore.NewWeighted(int64(settings.MaxParallelBuilds))

	if deps.Metrics != nil {
		deps.Database.Subscribe(deps.Metrics.ObserveBuildEvent)
	}

	var provisionErrs *multierror.Error
	monitors := make([]*TargetMonitor, 0, len(targets))
	for _, target := range targets {
		targetLog := log.With("repository", target.Path, "branch", target.Branch)

		entry, err := deps.Registry.get(ctx, target)
		if err != nil {
			targetLog.Errorw("Failed to provision target, it will not be monitored", "error", err)
			provisionErrs = multierror.Append(provisionErrs, err)
			continue
		}

		monitors = append(monitors, &TargetMonitor{
			target:             target,
			repo:               entry,
			builder:            deps.Builder,
			uploader:           deps.Uploader,
			database:           deps.Database,
			builds:             builds,
			retryFailedUploads: settings.RetryFailedUploads,
			log:                targetLog,
		})
	}

	if len(monitors) == 0 {
		return nil, multierror.Append(provisionErrs, ErrNoTargets)
	}

	return &Server{
		monitors: monitors,
		database: deps.Database,
		metrics:  deps.Metrics,
		settings: settings,
		log:      log,
	}, nil
}

// Targets returns the targets being monitored, in configuration order.
func (s *Server) Targets() []types.Target {
	targets := make([]types.Target, 0, len(s.monitors))
	for _, m := range s.monitors {
		targets = append(targets, m.target)
	}
	return targets
}

// Run monitors every target until ctx is canceled. Each target runs its
// cycles sequentially in its own goroutine and reports back to Run.
func (s *Server) Run(ctx context.Context) error {
	s.log.Infow("Starting server",
		"targets", len(s.monitors),
		"pollInterval", s.settings.PollInterval,
		"maxBackoff", s.settings.MaxBackoff,
		"maxParallelBuilds", s.settings.MaxParallelBuilds,
	)

	reports := make(chan CycleReport)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for report := range reports {
			s.handleReport(report)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range s.monitors {
		m := m
		g.Go(func() error {
			s.watch(gctx, m, reports)
			return nil
		})
	}

	err := g.Wait()
	close(reports)
	<-done

	s.log.Info("Server stopped")
	return err
}

// RunOnce runs a single cycle of every target, in configuration order.
func (s *Server) RunOnce(ctx context.Context) []CycleReport {
	reports := make([]CycleReport, 0, len(s.monitors))
	for _, m := range s.monitors {
		report := m.RunCycle(ctx)
		s.handleReport(report)
		reports = append(reports, report)
		if report.Outcome == OutcomeCanceled {
			break
		}
	}
	return reports
}

func (s *Server) watch(ctx context.Context, m *TargetMonitor, reports chan<- CycleReport) {
	bo := s.newBackOff()

	for {
		report := m.RunCycle(ctx)
		select {
		case reports <- report:
		case <-ctx.Done():
			return
		}
		if report.Outcome == OutcomeCanceled {
			return
		}

		delay := s.settings.PollInterval
		if report.Outcome.Failed() {
			delay = bo.NextBackOff()
			m.log.Debugw("Backing off", "delay", delay)
		} else {
			bo.Reset()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Server) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.settings.PollInterval
	bo.MaxInterval = s.settings.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (s *Server) handleReport(report CycleReport) {
	log := s.log.With(
		"repository", report.Target.Path,
		"branch", report.Target.Branch,
		"cycleId", report.CycleID,
	)

	switch report.Outcome {
	case OutcomeUnchanged:
		log.Debugw("Already built", "commitHash", report.Commit.String())
	case OutcomeBuilt, OutcomeUploadsRetried:
		failed := report.FailedUploads()
		for _, upload := range failed {
			log.Warnw("Failed to upload binary", "binary", upload.Binary, "statusCode", upload.StatusCode, "error", upload.Err)
		}
		for _, name := range report.Missing {
			log.Warnw("Configured executable missing from build output", "binary", name)
		}
		msg := "Rebuilt target"
		if report.Outcome == OutcomeUploadsRetried {
			msg = "Retried uploads"
		}
		log.Infow(msg,
			"commitHash", report.Commit.String(),
			"uploaded", len(report.Uploads)-len(failed),
			"failedUploads", len(failed),
			"buildDuration", report.BuildDuration,
			"duration", report.Duration,
		)
	case OutcomeFetchFailed:
		log.Warnw("Failed to fetch repository", "error", report.Err)
	case OutcomeResetFailed:
		log.Errorw("Failed to reset repository", "error", report.Err)
	case OutcomeBuildFailed:
		log.Errorw("Failed to rebuild target", "commitHash", report.Commit.String(), "error", report.Err)
	case OutcomeCanceled:
		log.Debugw("Cycle canceled", "error", report.Err)
	}

	if s.metrics != nil {
		s.metrics.ObserveCycle(report)
	}
}

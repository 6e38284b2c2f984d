// Package daemon assembles the fwforge service: project registry, ledger,
// log hub, orchestrator, HTTP API, scheduler, and the optional watcher and
// event publisher, with ordered startup and graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/fwforge/fwforge/internal/api"
	"github.com/fwforge/fwforge/internal/config"
	"github.com/fwforge/fwforge/internal/events"
	"github.com/fwforge/fwforge/internal/forge"
	"github.com/fwforge/fwforge/internal/ledger"
	"github.com/fwforge/fwforge/internal/logfields"
	"github.com/fwforge/fwforge/internal/logstream"
	"github.com/fwforge/fwforge/internal/metrics"
	"github.com/fwforge/fwforge/internal/project"
	"github.com/fwforge/fwforge/internal/toolchain"
)

// Daemon is the long-running fwforge service.
type Daemon struct {
	cfg *config.Config

	projects     *project.Store
	ledger       *ledger.Ledger
	hub          *logstream.Hub
	orchestrator *forge.Orchestrator
	server       *api.Server
	scheduler    *Scheduler
	watcher      *project.Watcher
	publisher    *events.Publisher

	serveErr chan error
	cancel   context.CancelFunc
}

// New builds the daemon from configuration. Nothing is started yet.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	projects, err := project.NewStore(cfg.Projects.Root)
	if err != nil {
		return nil, fmt.Errorf("project store: %w", err)
	}

	store, err := ledger.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("unit store: %w", err)
	}
	ldg, err := ledger.New(ctx, store, cfg.Store.HistoryLimit)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ledger: %w", err)
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var registry *prom.Registry
	if cfg.Metrics.Enabled {
		registry = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	hub := logstream.NewHub(cfg.Logstream.SubscriberBuffer, recorder)
	tool := toolchain.New(cfg.Toolchain.Program, cfg.Toolchain.ExtraEnv)

	var publisher *events.Publisher
	if cfg.Events.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			// The publisher is an optional side channel; a dead broker
			// must not keep builds from running.
			slog.Warn("lifecycle event publisher unavailable", logfields.Error(err))
			publisher = nil
		}
	}

	opts := forge.Options{
		DefaultTarget: cfg.Toolchain.DefaultTarget,
		GracePeriod:   cfg.Toolchain.GracePeriodDuration(),
		Metrics:       recorder,
	}
	if publisher != nil {
		opts.Publisher = publisher
	}
	orchestrator := forge.New(projects, ldg, hub, tool, opts)

	server := api.NewServer(cfg.Server.Addr, projects, orchestrator, ldg, hub, api.Options{
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		Registry:     registry,
	})

	scheduler, err := NewScheduler(orchestrator, cfg.Schedules)
	if err != nil {
		_ = ldg.Close()
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	var watcher *project.Watcher
	if cfg.Projects.Watch {
		watcher, err = project.NewWatcher(projects)
		if err != nil {
			slog.Warn("projects watcher unavailable", logfields.Error(err))
			watcher = nil
		}
	}

	return &Daemon{
		cfg:          cfg,
		projects:     projects,
		ledger:       ldg,
		hub:          hub,
		orchestrator: orchestrator,
		server:       server,
		scheduler:    scheduler,
		watcher:      watcher,
		publisher:    publisher,
		serveErr:     make(chan error, 1),
	}, nil
}

// Start launches the HTTP server, scheduler, and watcher. It returns once
// everything is running; serve errors surface through Wait.
func (d *Daemon) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.watcher != nil {
		d.watcher.Start(runCtx)
	}
	d.scheduler.Start()

	go func() {
		slog.Info("http server listening", slog.String("addr", d.cfg.Server.Addr))
		d.serveErr <- d.server.Start()
	}()

	slog.Info("fwforge daemon started",
		logfields.Path(d.projects.Root()),
		slog.Int("projects", len(d.projects.List())),
		slog.String("toolchain", d.cfg.Toolchain.Program))
	return nil
}

// Wait blocks until the HTTP server stops serving.
func (d *Daemon) Wait() error {
	err := <-d.serveErr
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the daemon down in dependency order: no new work, cancel
// running units, drain HTTP, then close the fan-out and stores.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("stopping fwforge daemon")

	if d.cancel != nil {
		d.cancel()
	}
	if err := d.scheduler.Stop(); err != nil {
		slog.Warn("scheduler stop failed", logfields.Error(err))
	}
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			slog.Warn("watcher close failed", logfields.Error(err))
		}
	}

	if err := d.orchestrator.Shutdown(ctx); err != nil {
		slog.Warn("orchestrator shutdown incomplete", logfields.Error(err))
	}

	if err := d.server.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown failed", logfields.Error(err))
	}

	d.hub.Close()
	if d.publisher != nil {
		d.publisher.Close()
	}
	if err := d.ledger.Close(); err != nil {
		slog.Warn("ledger close failed", logfields.Error(err))
	}

	slog.Info("fwforge daemon stopped")
	return nil
}

// StopTimeout is the default budget for a graceful stop.
const StopTimeout = 30 * time.Second

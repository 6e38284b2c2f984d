package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/fwforge/fwforge/internal/config"
	"github.com/fwforge/fwforge/internal/daemon"
	forgeerrors "github.com/fwforge/fwforge/internal/errors"
	"github.com/fwforge/fwforge/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"fwforge.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the fwforge build service"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Build struct {
		Project string `arg:"" help:"Project identifier"`
		Target  string `short:"t" help:"Chip target (defaults to the project's recorded target)"`
		Timeout string `help:"Abort the build after this duration (e.g. 30m)"`
	} `cmd:"" help:"Run a one-shot build of a project, streaming output to stdout"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	adapter := forgeerrors.NewCLIErrorAdapter(CLI.Verbose, logger)

	switch ctx.Command() {
	case "serve":
		adapter.HandleError(runServe())

	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			adapter.HandleError(err)
		}
		fmt.Printf("Configuration file created: %s\n", CLI.Config)

	case "build <project>":
		adapter.HandleError(runBuild())

	case "version":
		fmt.Printf("fwforge %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)

	default:
		adapter.HandleError(fmt.Errorf("unknown command: %s", ctx.Command()))
	}
}

func runServe() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	applyLogConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return err
	}

	// Run until a signal arrives or the HTTP server dies on its own.
	serveDone := make(chan error, 1)
	go func() { serveDone <- d.Wait() }()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveDone:
		if err != nil {
			slog.Error("http server failed", "error", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), daemon.StopTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// applyLogConfig reapplies logging settings from the config file on top of
// the flag-derived defaults.
func applyLogConfig(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

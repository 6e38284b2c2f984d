package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fwforge/fwforge/internal/config"
	forgeerrors "github.com/fwforge/fwforge/internal/errors"
	"github.com/fwforge/fwforge/internal/forge"
	"github.com/fwforge/fwforge/internal/ledger"
	"github.com/fwforge/fwforge/internal/logstream"
	"github.com/fwforge/fwforge/internal/project"
	"github.com/fwforge/fwforge/internal/toolchain"
)

// runBuild performs a one-shot build without the HTTP server: same
// orchestrator, with the live log printed to stdout. The unit is recorded
// in the configured store, so a later `serve` shows it in history.
func runBuild() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	timeout, err := parseTimeout(CLI.Build.Timeout)
	if err != nil {
		return forgeerrors.ValidationFailed("timeout", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	projects, err := project.NewStore(cfg.Projects.Root)
	if err != nil {
		return err
	}

	store, err := ledger.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return forgeerrors.StorageError("open", err)
	}
	ldg, err := ledger.New(ctx, store, cfg.Store.HistoryLimit)
	if err != nil {
		_ = store.Close()
		return forgeerrors.StorageError("init", err)
	}
	defer ldg.Close()

	hub := logstream.NewHub(cfg.Logstream.SubscriberBuffer, nil)
	defer hub.Close()
	tool := toolchain.New(cfg.Toolchain.Program, cfg.Toolchain.ExtraEnv)

	orchestrator := forge.New(projects, ldg, hub, tool, forge.Options{
		DefaultTarget: cfg.Toolchain.DefaultTarget,
		GracePeriod:   cfg.Toolchain.GracePeriodDuration(),
	})

	// Subscribe before submitting so no output is missed.
	sub := hub.Subscribe()
	defer sub.Close()

	unitID, err := orchestrator.Build(ctx, forge.Submission{
		ProjectID: CLI.Build.Project,
		Target:    CLI.Build.Target,
		Deadline:  timeout,
	})
	if err != nil {
		return err
	}

	if err := streamUnit(ctx, sub, unitID); err != nil {
		// Interrupted: cancel the unit and let the orchestrator finalize
		// it before exiting.
		_ = orchestrator.Cancel(unitID)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = orchestrator.Shutdown(shutdownCtx)

	final, err := ldg.Get(shutdownCtx, unitID)
	if err != nil {
		return forgeerrors.StorageError("get", err)
	}
	if final.Status != ledger.StatusSuccess {
		return forgeerrors.New(forgeerrors.CategoryExecution, forgeerrors.SeverityError, final.Error)
	}

	fmt.Printf("build succeeded, %d artifacts\n", len(final.Artifacts))
	for _, a := range final.Artifacts {
		fmt.Printf("  0x%06x  %-28s %d bytes\n", a.Offset, a.Name, a.Size)
	}
	return nil
}

// streamUnit prints the unit's events until a terminal event arrives. A
// non-nil error means the wait was interrupted, not that the unit failed.
func streamUnit(ctx context.Context, sub *logstream.Subscription, unitID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case event := <-sub.Events():
			if event.UnitID != unitID {
				continue
			}
			switch event.Kind {
			case logstream.KindStderr, logstream.KindError:
				fmt.Fprintln(os.Stderr, event.Text)
			default:
				fmt.Println(event.Text)
			}
			if event.Kind == logstream.KindSuccess || event.Kind == logstream.KindError {
				return nil
			}
		}
	}
}

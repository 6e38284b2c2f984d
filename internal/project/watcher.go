package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fwforge/fwforge/internal/logfields"
)

// Watcher observes the projects root and rescans the registry when project
// directories appear or vanish, so externally unpacked or deleted projects
// are picked up without a restart.
type Watcher struct {
	store        *Store
	watcher      *fsnotify.Watcher
	rescan       chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a watcher over the store's projects root.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(store.Root()); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch projects root %s: %w", store.Root(), err)
	}

	return &Watcher{
		store:        store,
		watcher:      fsw,
		rescan:       make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start runs the watch and rescan loops until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	slog.Info("watching projects root", logfields.Path(w.store.Root()))
	go w.watchLoop(ctx)
	go w.rescanLoop(ctx)
}

// Close releases the underlying file system watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Only structural changes matter; writes inside project
			// directories are build output churn.
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.rescan <- struct{}{}:
			default: // rescan already pending
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("projects watcher error", logfields.Error(err))
		}
	}
}

// rescanLoop debounces bursts of directory events (an unpacking archive
// fires hundreds) into a single registry refresh.
func (w *Watcher) rescanLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.rescan:
		}

		timer := time.NewTimer(w.debounceTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := w.store.Refresh(); err != nil {
			slog.Warn("projects rescan failed", logfields.Error(err))
			continue
		}
		slog.Debug("projects registry rescanned", slog.Int("projects", len(w.store.List())))
	}
}

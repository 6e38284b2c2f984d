// Package ledger is the authoritative record of build units: identity,
// status, transcript, and produced artifacts. The in-memory view serves all
// reads while the process lives; a SQLite store keeps the durable copy so
// history survives restarts.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fwforge/fwforge/internal/artifact"
)

// Status is the lifecycle state of a unit. Units begin running and end in
// exactly one terminal state.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Line is one recorded entry of a unit's transcript.
type Line struct {
	Kind string    `json:"kind"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Unit is a single tracked execution of a build operation.
type Unit struct {
	ID          string
	ProjectID   string
	Op          string
	Target      string
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
	Error       string
	Lines       []Line
	Artifacts   []artifact.Artifact
}

var (
	// ErrNotFound is returned when no unit has the requested ID.
	ErrNotFound = errors.New("unit not found")

	// ErrAlreadyTerminal rejects a second terminal transition. The unit is
	// left exactly as the first transition recorded it.
	ErrAlreadyTerminal = errors.New("unit already in terminal state")
)

// Ledger tracks units in memory and mirrors them to the store. All methods
// are safe for concurrent use; returned units are copies.
type Ledger struct {
	mu           sync.RWMutex
	units        map[string]*Unit
	order        []string // creation order, oldest first
	store        *SQLiteStore
	historyLimit int
}

// New builds a ledger over an optional store. When a store is present,
// units left running by a previous process are failed and recent history is
// rehydrated into memory.
func New(ctx context.Context, store *SQLiteStore, historyLimit int) (*Ledger, error) {
	if historyLimit <= 0 {
		historyLimit = 200
	}
	l := &Ledger{
		units:        map[string]*Unit{},
		store:        store,
		historyLimit: historyLimit,
	}

	if store != nil {
		interrupted, err := store.FailRunning(ctx, "interrupted by shutdown")
		if err != nil {
			return nil, err
		}
		if interrupted > 0 {
			slog.Warn("failed units left running by previous process", "count", interrupted)
		}

		recent, err := store.LoadRecent(ctx, historyLimit)
		if err != nil {
			return nil, err
		}
		for _, u := range recent {
			l.units[u.ID] = u
			l.order = append(l.order, u.ID)
		}
	}

	return l, nil
}

// Create registers a new running unit and returns a copy of it.
func (l *Ledger) Create(ctx context.Context, projectID string, op string, target string) *Unit {
	unit := &Unit{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Op:        op,
		Target:    target,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}

	l.mu.Lock()
	l.units[unit.ID] = unit
	l.order = append(l.order, unit.ID)
	l.evictLocked()
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SaveCreated(ctx, unit); err != nil {
			slog.Warn("unit create not persisted", "unit_id", unit.ID, "error", err)
		}
	}

	return copyUnit(unit)
}

// Get returns a copy of the unit, consulting the store for units evicted
// from memory.
func (l *Ledger) Get(ctx context.Context, id string) (*Unit, error) {
	l.mu.RLock()
	unit, ok := l.units[id]
	var snapshot *Unit
	if ok {
		snapshot = copyUnit(unit)
	}
	l.mu.RUnlock()

	if ok {
		return snapshot, nil
	}

	if l.store != nil {
		stored, err := l.store.LoadUnit(ctx, id)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}

// List returns summaries of the most recently created units, oldest first,
// capped at limit. Transcripts are omitted; fetch a single unit for its log.
func (l *Ledger) List(limit int) []*Unit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.order) {
		limit = len(l.order)
	}

	out := make([]*Unit, 0, limit)
	for _, id := range l.order[len(l.order)-limit:] {
		unit := l.units[id]
		summary := copyUnit(unit)
		summary.Lines = nil
		out = append(out, summary)
	}
	return out
}

// Append records a transcript line. Terminal units reject appends; the
// transcript is frozen with the outcome.
func (l *Ledger) Append(id string, line Line) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	unit, ok := l.units[id]
	if !ok {
		return ErrNotFound
	}
	if unit.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	unit.Lines = append(unit.Lines, line)
	return nil
}

// Complete transitions the unit to success and records its artifacts.
func (l *Ledger) Complete(ctx context.Context, id string, artifacts []artifact.Artifact) error {
	return l.finish(ctx, id, StatusSuccess, "", artifacts)
}

// Fail transitions the unit to failed with a reason.
func (l *Ledger) Fail(ctx context.Context, id string, reason string) error {
	return l.finish(ctx, id, StatusFailed, reason, nil)
}

func (l *Ledger) finish(ctx context.Context, id string, status Status, reason string, artifacts []artifact.Artifact) error {
	l.mu.Lock()
	unit, ok := l.units[id]
	if !ok {
		l.mu.Unlock()
		return ErrNotFound
	}
	if unit.Status.Terminal() {
		l.mu.Unlock()
		return ErrAlreadyTerminal
	}

	now := time.Now()
	unit.Status = status
	unit.CompletedAt = &now
	unit.Error = reason
	unit.Artifacts = artifacts
	snapshot := copyUnit(unit)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SaveTerminal(ctx, snapshot); err != nil {
			slog.Warn("unit outcome not persisted", "unit_id", id, "error", err)
		}
	}

	return nil
}

// Running returns copies of all units currently in flight.
func (l *Ledger) Running() []*Unit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Unit
	for _, id := range l.order {
		if unit := l.units[id]; unit.Status == StatusRunning {
			out = append(out, copyUnit(unit))
		}
	}
	return out
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// evictLocked trims terminal units beyond the history limit from memory.
// Running units are never evicted. Callers hold l.mu.
func (l *Ledger) evictLocked() {
	excess := len(l.order) - l.historyLimit
	if excess <= 0 {
		return
	}
	kept := make([]string, 0, len(l.order))
	for _, id := range l.order {
		if excess > 0 && l.units[id].Status.Terminal() {
			delete(l.units, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
}

func copyUnit(u *Unit) *Unit {
	out := *u
	if u.CompletedAt != nil {
		completed := *u.CompletedAt
		out.CompletedAt = &completed
	}
	if u.Lines != nil {
		out.Lines = make([]Line, len(u.Lines))
		copy(out.Lines, u.Lines)
	}
	if u.Artifacts != nil {
		out.Artifacts = make([]artifact.Artifact, len(u.Artifacts))
		copy(out.Artifacts, u.Artifacts)
	}
	return &out
}

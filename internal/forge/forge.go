// Package forge is the build orchestrator: it accepts operations against
// registered projects, serializes work per project, drives the external
// toolchain through the runner, fans output out to the log hub, and records
// every unit's outcome in the ledger. Submissions return the unit ID
// immediately; completion is observed through the ledger or the hub.
package forge

import (
	"context"
	"fmt"
	"sync"
	"time"

	forgeerrors "github.com/fwforge/fwforge/internal/errors"
	"github.com/fwforge/fwforge/internal/ledger"
	"github.com/fwforge/fwforge/internal/logstream"
	"github.com/fwforge/fwforge/internal/metrics"
	"github.com/fwforge/fwforge/internal/project"
	"github.com/fwforge/fwforge/internal/toolchain"
)

// LifecyclePublisher receives unit lifecycle notifications. Implementations
// must not block; a failed publish never affects the unit.
type LifecyclePublisher interface {
	UnitCreated(unit *ledger.Unit)
	UnitFinished(unit *ledger.Unit)
}

// Options configure an Orchestrator beyond its collaborators.
type Options struct {
	// DefaultTarget is used by Build when neither the request nor the
	// project names a chip target.
	DefaultTarget string

	// GracePeriod is how long a cancelled toolchain process gets between
	// SIGTERM and SIGKILL.
	GracePeriod time.Duration

	// Publisher, when set, receives lifecycle events. Metrics defaults to
	// the noop recorder.
	Publisher LifecyclePublisher
	Metrics   metrics.Recorder
}

// Orchestrator coordinates units of work. Safe for concurrent use.
type Orchestrator struct {
	projects *project.Store
	ledger   *ledger.Ledger
	hub      *logstream.Hub
	tool     *toolchain.Toolchain
	opts     Options

	locks *lockTable

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // unit ID -> cancel
	wg       sync.WaitGroup

	// baseCtx outlives any submission request; Shutdown cancels it.
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New wires an orchestrator. The projects store, ledger, hub, and toolchain
// are required.
func New(projects *project.Store, ldg *ledger.Ledger, hub *logstream.Hub, tool *toolchain.Toolchain, opts Options) *Orchestrator {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		projects:   projects,
		ledger:     ldg,
		hub:        hub,
		tool:       tool,
		opts:       opts,
		locks:      newLockTable(),
		inflight:   map[string]context.CancelFunc{},
		baseCtx:    base,
		baseCancel: cancel,
	}
}

// Submission carries the per-request knobs shared by every operation.
type Submission struct {
	ProjectID string
	Target    string        // consulted by SetTarget and Build
	Deadline  time.Duration // optional; expiry is treated as cancellation
}

// SetTarget switches the project's configured chip target.
func (o *Orchestrator) SetTarget(ctx context.Context, sub Submission) (string, error) {
	if _, ok := toolchain.LookupTarget(sub.Target); !ok {
		return "", forgeerrors.UnknownTarget(sub.Target)
	}
	return o.submit(ctx, sub, toolchain.OpSetTarget)
}

// Build compiles the project, switching targets first when the requested
// target differs from the project's recorded one.
func (o *Orchestrator) Build(ctx context.Context, sub Submission) (string, error) {
	if sub.Target == "" {
		current, err := o.projects.Target(sub.ProjectID)
		if err != nil {
			return "", forgeerrors.ProjectNotFound(sub.ProjectID)
		}
		sub.Target = current
	}
	if sub.Target == "" {
		sub.Target = o.opts.DefaultTarget
	}
	if _, ok := toolchain.LookupTarget(sub.Target); !ok {
		return "", forgeerrors.UnknownTarget(sub.Target)
	}
	return o.submit(ctx, sub, toolchain.OpBuild)
}

// Clean removes build output and resets the project's recorded target.
func (o *Orchestrator) Clean(ctx context.Context, sub Submission) (string, error) {
	return o.submit(ctx, sub, toolchain.OpClean)
}

// SizeReport runs the toolchain's size analysis.
func (o *Orchestrator) SizeReport(ctx context.Context, sub Submission) (string, error) {
	return o.submit(ctx, sub, toolchain.OpSize)
}

// Reconfigure regenerates the project's build system.
func (o *Orchestrator) Reconfigure(ctx context.Context, sub Submission) (string, error) {
	return o.submit(ctx, sub, toolchain.OpReconfigure)
}

// Submit dispatches by operation name; the transport layers use this.
func (o *Orchestrator) Submit(ctx context.Context, op toolchain.Op, sub Submission) (string, error) {
	switch op {
	case toolchain.OpSetTarget:
		return o.SetTarget(ctx, sub)
	case toolchain.OpBuild:
		return o.Build(ctx, sub)
	case toolchain.OpClean:
		return o.Clean(ctx, sub)
	case toolchain.OpSize:
		return o.SizeReport(ctx, sub)
	case toolchain.OpReconfigure:
		return o.Reconfigure(ctx, sub)
	}
	return "", forgeerrors.ValidationFailed("op", fmt.Sprintf("unknown operation %q", op))
}

// submit validates, takes the project lock, registers the unit, and starts
// the asynchronous execution. The unit ID is returned before the toolchain
// has necessarily done anything.
func (o *Orchestrator) submit(ctx context.Context, sub Submission, op toolchain.Op) (string, error) {
	proj, err := o.projects.Get(sub.ProjectID)
	if err != nil {
		return "", forgeerrors.ProjectNotFound(sub.ProjectID)
	}
	if err := o.tool.Verify(); err != nil {
		return "", forgeerrors.LaunchFailed(o.tool.Program, err)
	}

	if !o.locks.TryAcquire(proj.ID) {
		o.opts.Metrics.IncBusyRejection(proj.ID)
		return "", forgeerrors.ProjectBusy(proj.ID)
	}

	// Re-read under the lock: the previous holder's set-target or clean can
	// land between the first read and acquisition, and plan consults the
	// recorded target.
	id := proj.ID
	proj, err = o.projects.Get(id)
	if err != nil {
		o.locks.Release(id)
		return "", forgeerrors.ProjectNotFound(id)
	}

	unit := o.ledger.Create(ctx, proj.ID, string(op), sub.Target)

	var runCtx context.Context
	var cancel context.CancelFunc
	if sub.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(o.baseCtx, sub.Deadline)
	} else {
		runCtx, cancel = context.WithCancel(o.baseCtx)
	}

	o.mu.Lock()
	o.inflight[unit.ID] = cancel
	o.opts.Metrics.SetActiveUnits(len(o.inflight))
	o.mu.Unlock()

	if o.opts.Publisher != nil {
		o.opts.Publisher.UnitCreated(unit)
	}

	o.wg.Add(1)
	go o.run(runCtx, cancel, unit, proj, op, sub.Target)

	return unit.ID, nil
}

// Cancel terminates an in-flight unit. Unknown or already-finished units
// report not-found; the unit itself transitions to failed with a
// cancellation reason once the process has died.
func (o *Orchestrator) Cancel(unitID string) error {
	o.mu.Lock()
	cancel, ok := o.inflight[unitID]
	o.mu.Unlock()
	if !ok {
		return forgeerrors.UnitNotFound(unitID)
	}
	cancel()
	return nil
}

// Shutdown cancels every in-flight unit and waits for their ledger entries
// to be finalized, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// retire drops the unit from the in-flight set.
func (o *Orchestrator) retire(unitID string, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	delete(o.inflight, unitID)
	o.opts.Metrics.SetActiveUnits(len(o.inflight))
	o.mu.Unlock()
}

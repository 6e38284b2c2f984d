package forge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fwforge/fwforge/internal/artifact"
	"github.com/fwforge/fwforge/internal/ledger"
	"github.com/fwforge/fwforge/internal/logfields"
	"github.com/fwforge/fwforge/internal/logstream"
	"github.com/fwforge/fwforge/internal/metrics"
	"github.com/fwforge/fwforge/internal/project"
	"github.com/fwforge/fwforge/internal/runner"
	"github.com/fwforge/fwforge/internal/toolchain"
)

// tailBytes is how much captured output is appended to a failure reason.
const tailBytes = 2048

// phase is one toolchain invocation within a unit.
type phase struct {
	op     toolchain.Op
	target string
}

// run executes a unit to its terminal state. It owns the project lock for
// its entire lifetime and releases it on every exit path, including panic.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, unit *ledger.Unit, proj *project.Project, op toolchain.Op, target string) {
	started := time.Now()
	defer o.wg.Done()
	defer o.locks.Release(proj.ID)
	defer o.retire(unit.ID, cancel)
	defer func() {
		if r := recover(); r != nil {
			// A unit must never take the orchestrator down with it.
			slog.Error("unit panicked", logfields.UnitID(unit.ID), slog.Any("panic", r))
			o.finalize(unit, started, fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	o.emit(unit.ID, logstream.KindInfo, fmt.Sprintf("starting %s for project %s", op, proj.ID))

	phases := o.plan(proj, op, target)
	tail := newTailBuffer(tailBytes)

	for _, ph := range phases {
		reason := o.runPhase(ctx, unit, proj, ph, tail)
		if reason != "" {
			o.finalize(unit, started, reason, nil)
			return
		}
		// Phase side effects on the project's recorded target.
		switch ph.op {
		case toolchain.OpSetTarget:
			if err := o.projects.SetTarget(proj.ID, ph.target); err != nil {
				slog.Warn("recording project target failed", logfields.Project(proj.ID), logfields.Error(err))
			}
		case toolchain.OpClean:
			if err := o.projects.SetTarget(proj.ID, ""); err != nil {
				slog.Warn("resetting project target failed", logfields.Project(proj.ID), logfields.Error(err))
			}
		}
	}

	var artifacts []artifact.Artifact
	if op == toolchain.OpBuild {
		chipFamily := target
		if t, ok := toolchain.LookupTarget(target); ok {
			chipFamily = t.ChipFamily
		}
		resolution, err := artifact.Resolve(toolchain.BuildDir(proj.Dir), artifact.Options{
			ProjectName: proj.Name,
			ChipFamily:  chipFamily,
		})
		if err != nil {
			// Exit code zero is not success; the unit's contract is
			// usable artifacts.
			o.finalize(unit, started, "artifact resolution failed: "+err.Error(), nil)
			return
		}
		artifacts = resolution.Artifacts
		o.emit(unit.ID, logstream.KindInfo, fmt.Sprintf("resolved %d artifacts, manifest at %s", len(artifacts), resolution.ManifestPath))
	}

	o.finalize(unit, started, "", artifacts)
}

// plan expands the requested operation into toolchain phases. A build whose
// requested target differs from the project's recorded one is preceded by a
// target switch; its failure short-circuits the whole unit.
func (o *Orchestrator) plan(proj *project.Project, op toolchain.Op, target string) []phase {
	if op == toolchain.OpBuild && proj.Target != target {
		return []phase{
			{op: toolchain.OpSetTarget, target: target},
			{op: toolchain.OpBuild},
		}
	}
	return []phase{{op: op, target: target}}
}

// runPhase executes one toolchain invocation, forwarding every output chunk
// to the hub and the ledger. It returns an empty string on a clean exit and
// a failure reason otherwise.
func (o *Orchestrator) runPhase(ctx context.Context, unit *ledger.Unit, proj *project.Project, ph phase, tail *tailBuffer) string {
	args := o.tool.Args(ph.op, ph.target)
	o.emit(unit.ID, logstream.KindCommand, "$ "+o.tool.Program+" "+strings.Join(args, " "))

	exec, err := runner.Start(ctx, runner.Command{
		Dir:         proj.Dir,
		Program:     o.tool.Program,
		Args:        args,
		Env:         o.tool.ExtraEnv,
		GracePeriod: o.opts.GracePeriod,
	})
	if err != nil {
		return "launch failed: " + err.Error()
	}

	for chunk := range exec.Chunks() {
		kind := logstream.KindStdout
		if chunk.Stream == runner.StreamStderr {
			kind = logstream.KindStderr
		}
		o.emit(unit.ID, kind, chunk.Text)
		tail.Write(chunk.Text)
	}

	outcome := exec.Wait()
	if outcome.Cancelled {
		return "cancelled"
	}
	if outcome.Err != nil {
		return fmt.Sprintf("%s did not exit cleanly: %v", ph.op, outcome.Err)
	}
	if outcome.ExitCode != 0 {
		return fmt.Sprintf("%s failed with exit status %d\n%s", ph.op, outcome.ExitCode, tail.String())
	}
	return ""
}

// finalize records the terminal state exactly once and announces it. An
// empty reason means success.
func (o *Orchestrator) finalize(unit *ledger.Unit, started time.Time, reason string, artifacts []artifact.Artifact) {
	// Finalization must complete even when the run context is already
	// cancelled (shutdown, deadline); use a fresh bounded context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The outcome line goes out before the terminal transition so it is
	// part of the frozen transcript, not just the live stream.
	var err error
	result := metrics.ResultSuccess
	if reason == "" {
		o.emit(unit.ID, logstream.KindSuccess, unit.Op+" succeeded")
		err = o.ledger.Complete(ctx, unit.ID, artifacts)
	} else {
		result = metrics.ResultFailed
		if strings.HasPrefix(reason, "cancelled") {
			result = metrics.ResultCancelled
		}
		o.emit(unit.ID, logstream.KindError, reason)
		err = o.ledger.Fail(ctx, unit.ID, reason)
	}
	if err != nil {
		// ErrAlreadyTerminal guards duplicate completion callbacks; the
		// first recorded outcome stands.
		slog.Warn("unit finalization not recorded", logfields.UnitID(unit.ID), logfields.Error(err))
		return
	}

	o.opts.Metrics.ObserveUnitDuration(unit.Op, time.Since(started))
	o.opts.Metrics.IncUnitOutcome(unit.Op, result)

	if o.opts.Publisher != nil {
		if final, err := o.ledger.Get(ctx, unit.ID); err == nil {
			o.opts.Publisher.UnitFinished(final)
		}
	}
}

// emit publishes one event to the hub and mirrors it into the unit's
// transcript. Hub delivery is best-effort per subscriber; the ledger copy is
// the durable record.
func (o *Orchestrator) emit(unitID string, kind logstream.EventKind, text string) {
	now := time.Now()
	o.hub.Publish(logstream.Event{UnitID: unitID, Kind: kind, Text: text, Time: now})
	if err := o.ledger.Append(unitID, ledger.Line{Kind: string(kind), Text: text, Time: now}); err != nil {
		slog.Debug("transcript append rejected", logfields.UnitID(unitID), logfields.Error(err))
	}
}

// tailBuffer keeps the last n bytes of line-oriented text for failure
// reasons.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	return strings.TrimRight(string(t.buf), "\n")
}

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/fwforge/fwforge/internal/config"
	forgeerrors "github.com/fwforge/fwforge/internal/errors"
	"github.com/fwforge/fwforge/internal/forge"
	"github.com/fwforge/fwforge/internal/logfields"
	"github.com/fwforge/fwforge/internal/toolchain"
)

// Scheduler fires configured recurring operations through the orchestrator.
// A schedule that lands on a busy project is logged and skipped; the next
// tick tries again.
type Scheduler struct {
	scheduler    gocron.Scheduler
	orchestrator *forge.Orchestrator
}

// NewScheduler registers one gocron job per configured schedule. Schedule
// intervals were validated at config load.
func NewScheduler(orchestrator *forge.Orchestrator, schedules []config.Schedule) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}

	s := &Scheduler{scheduler: gs, orchestrator: orchestrator}

	for _, entry := range schedules {
		op, err := toolchain.ParseOp(entry.Op)
		if err != nil {
			_ = gs.Shutdown()
			return nil, fmt.Errorf("schedule %q: %w", entry.Name, err)
		}
		every, err := time.ParseDuration(entry.Every)
		if err != nil {
			_ = gs.Shutdown()
			return nil, fmt.Errorf("schedule %q: %w", entry.Name, err)
		}

		entry := entry
		_, err = gs.NewJob(
			gocron.DurationJob(every),
			gocron.NewTask(func() { s.fire(entry, op) }),
			gocron.WithName(entry.Name),
		)
		if err != nil {
			_ = gs.Shutdown()
			return nil, fmt.Errorf("schedule %q: %w", entry.Name, err)
		}
	}

	return s, nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down; running submissions are not interrupted.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) fire(entry config.Schedule, op toolchain.Op) {
	sub := forge.Submission{ProjectID: entry.Project, Target: entry.Target}
	unitID, err := s.orchestrator.Submit(context.Background(), op, sub)
	if err != nil {
		if forgeerrors.IsCategory(err, forgeerrors.CategoryBusy) {
			slog.Info("scheduled operation skipped, project busy",
				logfields.ScheduleName(entry.Name), logfields.Project(entry.Project))
			return
		}
		slog.Error("scheduled operation failed to submit",
			logfields.ScheduleName(entry.Name), logfields.Project(entry.Project), logfields.Error(err))
		return
	}
	slog.Info("scheduled operation submitted",
		logfields.ScheduleName(entry.Name), logfields.Project(entry.Project),
		logfields.Op(entry.Op), logfields.UnitID(unitID))
}

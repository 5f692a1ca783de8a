// Package janitor runs scheduled retention sweeps: expired soft-deleted
// sub-agents, resolved blackboard problems, and stale background tasks.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/emberlab/hearth/internal/background"
	"github.com/emberlab/hearth/internal/blackboard"
	"github.com/emberlab/hearth/internal/subagents"
)

// Sweep retention windows.
const (
	AgentRetention     = subagents.SoftDeleteRetention
	ProblemRetention   = 7 * 24 * time.Hour
	StaleTaskCutoff    = 30 * time.Minute
	DefaultSchedule    = "0 * * * *" // hourly
	schedulePollPeriod = 30 * time.Second
)

// Janitor ticks a cron schedule and runs the sweeps that are wired.
type Janitor struct {
	lifecycle *subagents.Manager
	board     *blackboard.Board
	runner    *background.Runner

	schedule string
	gron     gronx.Gronx
}

// Config configures a Janitor. Nil components skip their sweep.
type Config struct {
	Lifecycle *subagents.Manager
	Board     *blackboard.Board
	Runner    *background.Runner
	Schedule  string
}

// New validates the schedule and builds a Janitor.
func New(cfg Config) (*Janitor, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, fmt.Errorf("janitor: invalid schedule %q", schedule)
	}
	return &Janitor{
		lifecycle: cfg.Lifecycle,
		board:     cfg.Board,
		runner:    cfg.Runner,
		schedule:  schedule,
		gron:      *g,
	}, nil
}

// Run ticks until ctx is done, sweeping whenever the schedule is due. One
// sweep runs per due minute.
func (j *Janitor) Run(ctx context.Context) {
	slog.Info("janitor started", "schedule", j.schedule)
	ticker := time.NewTicker(schedulePollPeriod)
	defer ticker.Stop()

	var lastSweep time.Time
	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case now := <-ticker.C:
			if now.Truncate(time.Minute).Equal(lastSweep) {
				continue
			}
			due, err := j.gron.IsDue(j.schedule, now)
			if err != nil {
				slog.Warn("janitor schedule check failed", "error", err)
				continue
			}
			if !due {
				continue
			}
			lastSweep = now.Truncate(time.Minute)
			j.Sweep()
		}
	}
}

// Sweep runs all wired cleanups once.
func (j *Janitor) Sweep() {
	if j.lifecycle != nil {
		if n, err := j.lifecycle.Cleanup(AgentRetention); err != nil {
			slog.Warn("sub-agent cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("sub-agent cleanup", "purged", n)
		}
	}
	if j.board != nil {
		if n, err := j.board.Cleanup(ProblemRetention); err != nil {
			slog.Warn("blackboard cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("blackboard cleanup", "purged", n)
		}
	}
	if j.runner != nil {
		if n, err := j.runner.CleanupStale(StaleTaskCutoff); err != nil {
			slog.Warn("stale task cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("stale task cleanup", "failed", n)
		}
	}
}

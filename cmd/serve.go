package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emberlab/hearth/internal/agent"
	"github.com/emberlab/hearth/internal/background"
	"github.com/emberlab/hearth/internal/blackboard"
	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/compactor"
	"github.com/emberlab/hearth/internal/config"
	"github.com/emberlab/hearth/internal/gateway"
	"github.com/emberlab/hearth/internal/heartware"
	"github.com/emberlab/hearth/internal/janitor"
	"github.com/emberlab/hearth/internal/orchestrator"
	"github.com/emberlab/hearth/internal/providers"
	"github.com/emberlab/hearth/internal/sessions"
	"github.com/emberlab/hearth/internal/store/sqlite"
	"github.com/emberlab/hearth/internal/subagents"
	"github.com/emberlab/hearth/internal/templates"
	"github.com/emberlab/hearth/internal/tools"
	"github.com/emberlab/hearth/internal/tools/delegation"
	"github.com/emberlab/hearth/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, orchestrator, and janitor",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// runtime is the assembled set of long-lived components.
type runtime struct {
	cfg       *config.Config
	db        *sqlite.DB
	bus       *bus.Bus
	queue     *sessions.Queue
	heartware *heartware.Loader
	lifecycle *subagents.Manager
	board     *blackboard.Board
	runner    *background.Runner
	orch      *orchestrator.Orchestrator
}

// buildRuntime opens the store and wires every component around it.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	b := bus.New(bus.DefaultHistoryLimit)
	queue := sessions.NewQueue()

	hw := heartware.NewLoader(cfg.Heartware.Dir)
	if err := hw.Load(); err != nil {
		slog.Warn("heartware load failed", "dir", cfg.Heartware.Dir, "error", err)
	}

	provider := providers.NewOpenAIProvider(
		cfg.Provider.Name, cfg.Provider.Name,
		cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model,
	)

	// The lifecycle manager freezes orientation into each sub-agent's
	// system prompt; the orchestrator that composes it is built last, so
	// bind through a variable.
	var orch *orchestrator.Orchestrator
	lifecycle := subagents.NewManager(subagents.Config{
		Agents:   db,
		Messages: db,
		Bus:      b,
		Orientation: func(userID string) string {
			if orch == nil {
				return ""
			}
			return orch.Orientation(userID)
		},
	})
	tpls := templates.NewManager(templates.Config{Templates: db})
	board := blackboard.New(db, b)

	workerLoop := agent.NewLoop(agent.LoopConfig{
		Provider: provider,
		Model:    cfg.Provider.Model,
		Tools:    tools.NewRegistry(),
	})
	runner := background.NewRunner(background.Config{
		Tasks:     db,
		Metrics:   db,
		Queue:     queue,
		Lifecycle: lifecycle,
		Templates: tpls,
		Loop:      workerLoop,
		Bus:       b,
	})

	reg := tools.NewRegistry()
	delegation.Register(reg, delegation.Deps{
		Lifecycle: lifecycle,
		Templates: tpls,
		Runner:    runner,
	})

	comp := compactor.New(compactor.Config{
		Messages:    db,
		Compactions: db,
		Provider:    provider,
		Model:       cfg.Provider.Model,
		Bus:         b,
		Threshold:   cfg.Compactor.Threshold,
		KeepRecent:  cfg.Compactor.KeepRecent,
		StripEmoji:  cfg.Compactor.StripEmoji,
	})

	orch = orchestrator.New(orchestrator.Config{
		Messages:      db,
		Memories:      db,
		Provider:      provider,
		Model:         cfg.Provider.Model,
		Runner:        runner,
		Compactor:     comp,
		Queue:         queue,
		Tools:         reg,
		Heartware:     hw,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		Timeout:       time.Duration(cfg.Agent.TurnTimeoutSec) * time.Second,
	})

	return &runtime{
		cfg:       cfg,
		db:        db,
		bus:       b,
		queue:     queue,
		heartware: hw,
		lifecycle: lifecycle,
		board:     board,
		runner:    runner,
		orch:      orch,
	}, nil
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.queue.Shutdown(ctx); err != nil {
		slog.Warn("session queue drain incomplete", "error", err)
	}
	rt.db.Close()
}

func runServe() {
	setupLogging()
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		tracer.Shutdown(shutdownCtx)
	}()

	rt, err := buildRuntime(cfg)
	if err != nil {
		slog.Error("runtime setup failed", "error", err)
		os.Exit(1)
	}
	defer rt.close()

	if err := rt.heartware.Watch(ctx); err != nil {
		slog.Warn("heartware watch unavailable", "error", err)
	}

	jan, err := janitor.New(janitor.Config{
		Lifecycle: rt.lifecycle,
		Board:     rt.board,
		Runner:    rt.runner,
		Schedule:  cfg.Janitor.Schedule,
	})
	if err != nil {
		slog.Error("janitor setup failed", "error", err)
		os.Exit(1)
	}

	server := gateway.NewServer(cfg.Gateway, rt.orch, rt.runner, rt.bus, rt.queue)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error { jan.Run(ctx); return nil })

	if err := g.Wait(); err != nil {
		slog.Error("runtime stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

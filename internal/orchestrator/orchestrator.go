// Package orchestrator drives primary-agent turns: it serializes each
// user's conversation through the session queue, assembles the prompt from
// heartware, memory, and compacted context, surfaces finished background
// work, and folds the reply back into the store.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberlab/hearth/internal/agent"
	"github.com/emberlab/hearth/internal/background"
	"github.com/emberlab/hearth/internal/compactor"
	"github.com/emberlab/hearth/internal/heartware"
	"github.com/emberlab/hearth/internal/providers"
	"github.com/emberlab/hearth/internal/sessions"
	"github.com/emberlab/hearth/internal/store"
	"github.com/emberlab/hearth/internal/tools"
	"github.com/emberlab/hearth/internal/tracing"
)

const tracerName = "github.com/emberlab/hearth/internal/orchestrator"

const (
	// PrimaryMaxIterations caps the primary agent's tool loop. Sub-agents
	// run with the smaller loop default.
	PrimaryMaxIterations = 24

	// DefaultHistoryLimit bounds how many recent messages seed a turn.
	DefaultHistoryLimit = 50

	// DefaultTurnTimeout bounds one primary turn end to end.
	DefaultTurnTimeout = 5 * time.Minute

	// inboxResultLimit truncates surfaced background results.
	inboxResultLimit = 600
)

// storageFailureReply is returned when persistence fails mid-turn; the
// orchestrator stays up and keeps serving.
const storageFailureReply = "I ran into a storage problem and couldn't process that message. Please try again."

const primaryInstruction = `You are the primary assistant. You can delegate work to specialized sub-agents with the delegate tools; delegation is non-blocking and results arrive on later turns. When finished background tasks are listed above, relay each result to the user and confirm it with confirm_task.`

// Config wires an Orchestrator.
type Config struct {
	Messages  store.MessageStore
	Memories  store.MemoryStore
	Provider  providers.Provider
	Model     string
	Runner    *background.Runner
	Compactor *compactor.Compactor
	Queue     *sessions.Queue
	Tools     *tools.Registry
	Heartware *heartware.Loader

	// MaxIterations and HistoryLimit default to the package constants;
	// Timeout defaults to DefaultTurnTimeout.
	MaxIterations int
	HistoryLimit  int
	Timeout       time.Duration
}

// Orchestrator owns the primary-agent turn pipeline.
type Orchestrator struct {
	messages  store.MessageStore
	memories  store.MemoryStore
	runner    *background.Runner
	compactor *compactor.Compactor
	queue     *sessions.Queue
	heartware *heartware.Loader
	loop      *agent.Loop

	historyLimit int
	timeout      time.Duration
}

func New(cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = PrimaryMaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTurnTimeout
	}
	return &Orchestrator{
		messages:  cfg.Messages,
		memories:  cfg.Memories,
		runner:    cfg.Runner,
		compactor: cfg.Compactor,
		queue:     cfg.Queue,
		heartware: cfg.Heartware,
		loop: agent.NewLoop(agent.LoopConfig{
			Provider:      cfg.Provider,
			Model:         cfg.Model,
			MaxIterations: cfg.MaxIterations,
			Tools:         cfg.Tools,
		}),
		historyLimit: cfg.HistoryLimit,
		timeout:      cfg.Timeout,
	}
}

// Orientation composes the context block shared by the primary prompt and
// newly created sub-agents: heartware identity, learned user memory, and
// the latest compacted conversation summary.
func (o *Orchestrator) Orientation(userID string) string {
	var parts []string

	if o.heartware != nil {
		if hw := o.heartware.Compose(); hw != "" {
			parts = append(parts, hw)
		}
	}

	if o.memories != nil {
		entries, err := o.memories.ListMemories(userID)
		if err != nil {
			slog.Warn("load user memory failed", "user", userID, "error", err)
		} else if len(entries) > 0 {
			var b strings.Builder
			b.WriteString("## User Memory")
			for _, e := range entries {
				fmt.Fprintf(&b, "\n- %s: %s", e.Key, e.Value)
			}
			parts = append(parts, b.String())
		}
	}

	if o.compactor != nil {
		summary, err := o.compactor.LatestSummary(userID)
		if err != nil {
			slog.Warn("load compaction summary failed", "user", userID, "error", err)
		} else if summary != "" {
			parts = append(parts, "## Earlier Conversation (compacted)\n"+summary)
		}
	}

	return strings.Join(parts, "\n\n")
}

// HandleMessage runs one primary turn, serialized on the user's session
// lane. It blocks until the turn completes or ctx is done. Loop failures
// come back as the response text; only queue shutdown or ctx cancellation
// produce an error.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, message string, onEvent func(agent.Event)) (string, error) {
	if userID == "" || strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("handle message: user_id and message are required")
	}

	done := o.queue.Enqueue(userID, func() (interface{}, error) {
		return o.turn(ctx, userID, message, onEvent), nil
	})

	select {
	case res := <-done:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Value.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// turn is one serialized primary-agent exchange. It always returns a
// user-visible string.
func (o *Orchestrator) turn(ctx context.Context, userID, message string, onEvent func(agent.Event)) string {
	ctx, span := otel.Tracer(tracerName).Start(ctx, tracing.SpanTurn,
		trace.WithAttributes(tracing.UserAttrs(userID)...))
	defer span.End()

	// Fold old history before the new turn grows it further.
	if o.compactor != nil {
		if stats, err := o.compactor.Check(ctx, userID); err != nil {
			slog.Warn("compaction check failed", "user", userID, "error", err)
		} else if stats != nil {
			slog.Info("history compacted", "user", userID,
				"summarized", stats.MessagesSummarized, "kept", stats.MessagesKept)
		}
	}

	var inbox []store.BackgroundTask
	if o.runner != nil {
		var err error
		if inbox, err = o.runner.GetUndelivered(userID); err != nil {
			slog.Warn("load background inbox failed", "user", userID, "error", err)
			inbox = nil
		}
	}

	if _, err := o.messages.SaveMessage(userID, store.RoleUser, message); err != nil {
		slog.Error("persist user message failed", "user", userID, "error", err)
		return storageFailureReply
	}

	history, err := o.messages.RecentMessages(userID, o.historyLimit)
	if err != nil {
		slog.Error("load history failed", "user", userID, "error", err)
		return storageFailureReply
	}
	seed := make([]providers.Message, len(history))
	for i, m := range history {
		seed[i] = providers.Message{Role: m.Role, Content: m.Content}
	}

	result := o.loop.Run(ctx, agent.RunRequest{
		RunID:        uuid.NewString(),
		SystemPrompt: o.systemPrompt(userID, inbox),
		Seed:         seed,
		Timeout:      o.timeout,
		OnEvent:      onEvent,
	})

	if result.Response != "" {
		if _, err := o.messages.SaveMessage(userID, store.RoleAssistant, result.Response); err != nil {
			slog.Warn("persist assistant reply failed", "user", userID, "error", err)
		}
	}

	// Inbox entries were surfaced into the prompt; once the turn produced
	// a reply they count as delivered.
	if result.Success && o.runner != nil {
		for _, task := range inbox {
			if err := o.runner.MarkDelivered(task.ID); err != nil {
				slog.Warn("mark task delivered failed", "task", task.ID, "error", err)
			}
		}
	}

	slog.Info("turn finished", "user", userID,
		"success", result.Success, "iterations", result.Iterations)
	return result.Response
}

func (o *Orchestrator) systemPrompt(userID string, inbox []store.BackgroundTask) string {
	var parts []string
	if orientation := o.Orientation(userID); orientation != "" {
		parts = append(parts, orientation)
	}
	if block := inboxBlock(inbox); block != "" {
		parts = append(parts, block)
	}
	parts = append(parts, primaryInstruction)
	return strings.Join(parts, "\n\n")
}

func inboxBlock(inbox []store.BackgroundTask) string {
	if len(inbox) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Finished Background Tasks")
	for _, task := range inbox {
		result := task.Result
		if len(result) > inboxResultLimit {
			result = result[:inboxResultLimit] + "..."
		}
		fmt.Fprintf(&b, "\n- task %s (%s) from agent %s: %s",
			task.ID, task.Status, task.AgentID, result)
	}
	return b.String()
}

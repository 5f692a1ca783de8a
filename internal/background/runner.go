// Package background executes fire-and-forget delegated tasks against
// sub-agents. Runs serialize per agent through the session queue; results
// land in a durable inbox the primary agent drains on later turns.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberlab/hearth/internal/agent"
	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/providers"
	"github.com/emberlab/hearth/internal/sessions"
	"github.com/emberlab/hearth/internal/store"
	"github.com/emberlab/hearth/internal/subagents"
	"github.com/emberlab/hearth/internal/templates"
)

// Timeout estimation bounds.
const (
	DefaultTimeout    = 2 * time.Minute
	MinTimeout        = 30 * time.Second
	MaxTimeout        = 10 * time.Minute
	estimatorSamples  = 20
	estimatorHeadroom = 2.0
)

// StaleReason marks rows failed by CleanupStale.
const StaleReason = "task went stale before completing"

// Runner starts and tracks background tasks.
type Runner struct {
	tasks     store.TaskStore
	metrics   store.MetricStore
	queue     *sessions.Queue
	lifecycle *subagents.Manager
	templates *templates.Manager
	loop      *agent.Loop
	bus       *bus.Bus

	// Live task handles. Cancel drops the handle; the run itself is not
	// interrupted.
	active sync.Map // task ID → *store.BackgroundTask
}

// Config configures a Runner.
type Config struct {
	Tasks     store.TaskStore
	Metrics   store.MetricStore
	Queue     *sessions.Queue
	Lifecycle *subagents.Manager
	Templates *templates.Manager
	Loop      *agent.Loop
	Bus       *bus.Bus
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		tasks:     cfg.Tasks,
		metrics:   cfg.Metrics,
		queue:     cfg.Queue,
		lifecycle: cfg.Lifecycle,
		templates: cfg.Templates,
		loop:      cfg.Loop,
		bus:       cfg.Bus,
	}
}

// StartConfig describes one delegated run.
type StartConfig struct {
	UserID  string
	AgentID string
	Task    string

	// TaskType and Tier feed the timeout estimator and task metrics.
	TaskType string
	Tier     string

	// Timeout overrides the estimator when > 0.
	Timeout time.Duration

	// TemplateAutoCreate, when set, ensures a matching template exists
	// after a successful run: usage is recorded on an existing match, or
	// a new template is created from the spec.
	TemplateAutoCreate *templates.CreateSpec
}

// Start inserts the task row, emits task:queued, and enqueues the run on
// the agent's lane. It returns immediately with the task ID.
func (r *Runner) Start(ctx context.Context, cfg StartConfig) (string, error) {
	if cfg.UserID == "" || cfg.AgentID == "" || cfg.Task == "" {
		return "", fmt.Errorf("start background task: user_id, agent_id, and task are required")
	}

	row := &store.BackgroundTask{
		ID:              uuid.NewString(),
		UserID:          cfg.UserID,
		AgentID:         cfg.AgentID,
		TaskDescription: cfg.Task,
		Status:          store.TaskRunning,
		StartedAt:       time.Now().UnixMilli(),
	}
	if err := r.tasks.InsertTask(row); err != nil {
		return "", err
	}
	r.active.Store(row.ID, row)
	r.emit(bus.TopicTaskQueued, cfg.UserID, row)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = r.EstimateTimeout(cfg.TaskType, cfg.Tier)
	}

	// The caller's context belongs to the delegating turn and is cancelled
	// as soon as that turn returns. The run must outlive it; keep the
	// values (trace context) but drop the cancellation, and let the
	// estimated timeout bound the run instead.
	runCtx := context.WithoutCancel(ctx)

	r.queue.Enqueue(sessions.AgentKey(cfg.AgentID), func() (interface{}, error) {
		r.run(runCtx, row.ID, cfg, timeout)
		return nil, nil
	})

	slog.Info("background task queued",
		"task", row.ID, "agent", cfg.AgentID, "user", cfg.UserID, "timeout", timeout)
	return row.ID, nil
}

// run executes one delegated task. It never returns an error into the
// queue; all outcomes land on the task row.
func (r *Runner) run(ctx context.Context, taskID string, cfg StartConfig, timeout time.Duration) {
	defer r.active.Delete(taskID)
	start := time.Now()

	ag, err := r.lifecycle.Get(cfg.AgentID)
	if err != nil {
		r.finish(taskID, cfg, false, fmt.Sprintf("sub-agent unavailable: %v", err))
		return
	}

	history, err := r.lifecycle.GetMessages(cfg.AgentID, subagents.MaxMessages)
	if err != nil {
		r.finish(taskID, cfg, false, fmt.Sprintf("load sub-agent history: %v", err))
		return
	}

	seed := make([]providers.Message, 0, len(history)+1)
	for _, m := range history {
		seed = append(seed, providers.Message{Role: m.Role, Content: m.Content})
	}
	seed = append(seed, providers.Message{Role: store.RoleUser, Content: cfg.Task})

	var allowed []string
	if len(ag.ToolsGranted) > 0 {
		allowed = ag.ToolsGranted
	}

	result := r.loop.Run(ctx, agent.RunRequest{
		RunID:        taskID,
		SystemPrompt: ag.SystemPrompt,
		Seed:         seed,
		AllowedTools: allowed,
		Timeout:      timeout,
	})

	// Persist the turn regardless of outcome so the agent keeps context.
	if _, err := r.lifecycle.SaveMessage(cfg.AgentID, store.RoleUser, cfg.Task); err != nil {
		slog.Warn("persist task message failed", "task", taskID, "error", err)
	}
	if result.Response != "" {
		if _, err := r.lifecycle.SaveMessage(cfg.AgentID, store.RoleAssistant, result.Response); err != nil {
			slog.Warn("persist response message failed", "task", taskID, "error", err)
		}
	}

	if err := r.lifecycle.RecordTaskResult(cfg.AgentID, result.Success); err != nil {
		slog.Warn("record task result failed", "task", taskID, "error", err)
	}
	r.recordMetric(cfg, result, time.Since(start))

	if result.Success && cfg.TemplateAutoCreate != nil {
		r.ensureTemplate(cfg)
	}

	r.finish(taskID, cfg, result.Success, result.Response)
}

// ensureTemplate records usage on an existing matching template or creates
// one from the auto-create spec and records the first use. Failures are
// logged, never fatal.
func (r *Runner) ensureTemplate(cfg StartConfig) {
	spec := *cfg.TemplateAutoCreate
	spec.UserID = cfg.UserID

	// Agent stats were rolled forward just before this; use the fresh score.
	score := 1.0
	if ag, err := r.lifecycle.Get(cfg.AgentID); err == nil {
		score = ag.PerformanceScore
	}

	existing, err := r.templates.FindBestMatch(cfg.UserID, spec.Name+" "+spec.RoleDescription)
	if err != nil {
		slog.Warn("template lookup failed", "user", cfg.UserID, "error", err)
		return
	}
	if existing == nil {
		if existing, err = r.templates.Create(spec); err != nil {
			slog.Warn("template auto-create failed", "user", cfg.UserID, "error", err)
			return
		}
	}
	if err := r.templates.RecordUsage(existing.ID, score); err != nil {
		slog.Warn("template usage update failed", "template", existing.ID, "error", err)
	}
}

func (r *Runner) recordMetric(cfg StartConfig, result *agent.RunResult, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	metric := &store.TaskMetric{
		ID:         uuid.NewString(),
		UserID:     cfg.UserID,
		TaskType:   cfg.TaskType,
		Tier:       cfg.Tier,
		DurationMS: elapsed.Milliseconds(),
		Iterations: result.Iterations,
		Success:    result.Success,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := r.metrics.InsertMetric(metric); err != nil {
		slog.Warn("record task metric failed", "error", err)
	}
}

func (r *Runner) finish(taskID string, cfg StartConfig, success bool, result string) {
	status := store.TaskCompleted
	topic := bus.TopicTaskCompleted
	if !success {
		status = store.TaskFailed
		topic = bus.TopicTaskFailed
	}
	if err := r.tasks.CompleteTask(taskID, status, result); err != nil {
		slog.Warn("complete task row failed", "task", taskID, "error", err)
		return
	}
	slog.Info("background task finished", "task", taskID, "status", status)
	r.emit(topic, cfg.UserID, map[string]interface{}{
		"task_id":  taskID,
		"agent_id": cfg.AgentID,
		"status":   status,
	})
}

// EstimateTimeout derives a run timeout from recent metrics for the task
// type and tier: mean duration with headroom, clamped. Falls back to the
// default when there is no usable history.
func (r *Runner) EstimateTimeout(taskType, tier string) time.Duration {
	if r.metrics == nil || taskType == "" {
		return DefaultTimeout
	}
	recent, err := r.metrics.RecentMetrics(taskType, tier, estimatorSamples)
	if err != nil || len(recent) < 3 {
		return DefaultTimeout
	}

	var totalMS int64
	for _, m := range recent {
		totalMS += m.DurationMS
	}
	mean := time.Duration(totalMS/int64(len(recent))) * time.Millisecond
	estimate := time.Duration(float64(mean) * estimatorHeadroom)
	if estimate < MinTimeout {
		return MinTimeout
	}
	if estimate > MaxTimeout {
		return MaxTimeout
	}
	return estimate
}

// GetUndelivered returns completed/failed tasks not yet surfaced to the
// user, oldest first.
func (r *Runner) GetUndelivered(userID string) ([]store.BackgroundTask, error) {
	return r.tasks.ListUndelivered(userID)
}

// MarkDelivered records that a task result reached the user.
func (r *Runner) MarkDelivered(taskID string) error {
	return r.tasks.MarkDelivered(taskID)
}

func (r *Runner) GetStatus(taskID string) (*store.BackgroundTask, error) {
	return r.tasks.GetTask(taskID)
}

// Cancel drops the in-memory handle for a task. Best effort: the run
// continues to completion and still records its result.
func (r *Runner) Cancel(taskID string) bool {
	_, loaded := r.active.LoadAndDelete(taskID)
	if loaded {
		slog.Info("background task cancelled", "task", taskID)
	}
	return loaded
}

// ActiveCount reports how many task handles are live.
func (r *Runner) ActiveCount() int {
	n := 0
	r.active.Range(func(_, _ interface{}) bool { n++; return true })
	return n
}

// CleanupStale fails running rows older than the cutoff and returns the
// count updated.
func (r *Runner) CleanupStale(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	n, err := r.tasks.FailStale(cutoff, StaleReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("stale background tasks failed", "count", n)
	}
	return n, nil
}

func (r *Runner) emit(topic, userID string, data interface{}) {
	if r.bus != nil {
		r.bus.Emit(topic, userID, data)
	}
}

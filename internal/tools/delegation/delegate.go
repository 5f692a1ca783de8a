package delegation

import (
	"context"
	"fmt"
	"strings"

	"github.com/emberlab/hearth/internal/store"
	"github.com/emberlab/hearth/internal/tools"
)

// delegateTaskTool finds or spawns a specialist and fires the task at it.
// Non-blocking: the confirmation returns before the work runs.
type delegateTaskTool struct{ deps Deps }

func (t *delegateTaskTool) Name() string { return "delegate_task" }

func (t *delegateTaskTool) Description() string {
	return "Delegate a task to a specialized sub-agent. Reuses an existing agent with a matching role or creates a new one. Returns immediately; the result arrives in the background inbox."
}

func (t *delegateTaskTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"task":    stringProp("What the sub-agent should do"),
		"role":    stringProp("Specialty of the sub-agent, e.g. 'Research Analyst'"),
		"user_id": stringProp("Owner of the sub-agent"),
		"tier":    stringProp("Optional complexity tier: simple, moderate, complex, reasoning"),
		"tools":   stringListProp("Optional tool names granted to the sub-agent"),
	}, "task", "role", "user_id")
}

func (t *delegateTaskTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	task := stringArg(args, "task")
	role := stringArg(args, "role")
	userID := stringArg(args, "user_id")
	if task == "" || role == "" || userID == "" {
		return tools.ErrorResult("Error: task, role, and user_id are required")
	}

	line, err := t.deps.dispatchLine(ctx, userID, role, task, stringArg(args, "tier"), stringList(args, "tools"))
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: delegation failed: %v", err)).WithError(err)
	}
	return tools.AsyncResult(line)
}

// dispatchLine runs dispatch and formats the confirmation string shared by
// the single and batch delegate tools.
func (d Deps) dispatchLine(ctx context.Context, userID, role, task, tier string, granted []string) (string, error) {
	taskID, agent, reused, err := d.dispatch(ctx, userID, role, task, tier, granted)
	if err != nil {
		return "", err
	}
	mode := "new"
	if reused {
		mode = "reused"
	}
	return fmt.Sprintf(
		"Delegated to %s sub-agent %q (agent %s). Task %s is running in the background; the result will surface when it completes.",
		mode, agent.Role, handle(agent.ID), handle(taskID)), nil
}

// delegateTasksTool is the batch form of delegate_task.
type delegateTasksTool struct{ deps Deps }

func (t *delegateTasksTool) Name() string { return "delegate_tasks" }

func (t *delegateTasksTool) Description() string {
	return "Delegate several tasks at once. Each entry names its own role; agents are reused or created per entry."
}

func (t *delegateTasksTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tasks": map[string]interface{}{
			"type":        "array",
			"description": "Tasks to delegate",
			"items": objectSchema(map[string]interface{}{
				"task":  stringProp("What the sub-agent should do"),
				"role":  stringProp("Specialty of the sub-agent"),
				"tier":  stringProp("Optional complexity tier"),
				"tools": stringListProp("Optional tool names granted"),
			}, "task", "role"),
		},
		"user_id": stringProp("Owner of the sub-agents"),
	}, "tasks", "user_id")
}

func (t *delegateTasksTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	userID := stringArg(args, "user_id")
	entries, _ := args["tasks"].([]interface{})
	if userID == "" || len(entries) == 0 {
		return tools.ErrorResult("Error: tasks and user_id are required")
	}

	var lines []string
	dispatched := 0
	for i, raw := range entries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			lines = append(lines, fmt.Sprintf("%d. Error: malformed task entry", i+1))
			continue
		}
		task := stringArg(entry, "task")
		role := stringArg(entry, "role")
		if task == "" || role == "" {
			lines = append(lines, fmt.Sprintf("%d. Error: task and role are required", i+1))
			continue
		}
		line, err := t.deps.dispatchLine(ctx, userID, role, task, stringArg(entry, "tier"), stringList(entry, "tools"))
		if err != nil {
			lines = append(lines, fmt.Sprintf("%d. Error: delegation failed: %v", i+1, err))
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, line))
		dispatched++
	}

	out := fmt.Sprintf("Dispatched %d of %d tasks:\n%s", dispatched, len(entries), strings.Join(lines, "\n"))
	if dispatched == 0 {
		return tools.ErrorResult(out)
	}
	return tools.AsyncResult(out)
}

// delegateToExistingTool targets a named agent, reviving it if needed.
type delegateToExistingTool struct{ deps Deps }

func (t *delegateToExistingTool) Name() string { return "delegate_to_existing" }

func (t *delegateToExistingTool) Description() string {
	return "Delegate a task to a specific existing sub-agent by ID. Suspended or dismissed agents are revived first."
}

func (t *delegateToExistingTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"agent_id": stringProp("ID of the target sub-agent"),
		"task":     stringProp("What the sub-agent should do"),
		"user_id":  stringProp("Owner of the sub-agent"),
	}, "agent_id", "task", "user_id")
}

func (t *delegateToExistingTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	agentID := stringArg(args, "agent_id")
	task := stringArg(args, "task")
	userID := stringArg(args, "user_id")
	if agentID == "" || task == "" || userID == "" {
		return tools.ErrorResult("Error: agent_id, task, and user_id are required")
	}

	agent, err := t.deps.Lifecycle.Get(agentID)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: sub-agent %s not found", agentID)).WithError(err)
	}

	switch agent.Status {
	case store.AgentSoftDeleted:
		if agent, err = t.deps.Lifecycle.Revive(agentID); err != nil {
			return tools.ErrorResult(fmt.Sprintf("Error: revive failed: %v", err)).WithError(err)
		}
	case store.AgentSuspended:
		if err := t.deps.Lifecycle.Resume(agentID); err != nil {
			return tools.ErrorResult(fmt.Sprintf("Error: resume failed: %v", err)).WithError(err)
		}
	}

	taskID, err := t.deps.Runner.Start(ctx, backgroundStart(userID, agent, task))
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: delegation failed: %v", err)).WithError(err)
	}
	return tools.AsyncResult(fmt.Sprintf(
		"Delegated to existing sub-agent %q (agent %s). Task %s is running in the background.",
		agent.Role, handle(agent.ID), handle(taskID)))
}

// delegateBackgroundTool is the explicit background variant; it surfaces
// the full task ID so the caller can poll or confirm it later.
type delegateBackgroundTool struct{ deps Deps }

func (t *delegateBackgroundTool) Name() string { return "delegate_background" }

func (t *delegateBackgroundTool) Description() string {
	return "Delegate a task in the background and return its task_id for later status checks and confirmation."
}

func (t *delegateBackgroundTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"task":    stringProp("What the sub-agent should do"),
		"role":    stringProp("Specialty of the sub-agent"),
		"user_id": stringProp("Owner of the sub-agent"),
		"tier":    stringProp("Optional complexity tier"),
		"tools":   stringListProp("Optional tool names granted"),
	}, "task", "role", "user_id")
}

func (t *delegateBackgroundTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	task := stringArg(args, "task")
	role := stringArg(args, "role")
	userID := stringArg(args, "user_id")
	if task == "" || role == "" || userID == "" {
		return tools.ErrorResult("Error: task, role, and user_id are required")
	}

	taskID, agent, reused, err := t.deps.dispatch(ctx, userID, role, task, stringArg(args, "tier"), stringList(args, "tools"))
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: delegation failed: %v", err)).WithError(err)
	}
	mode := "new"
	if reused {
		mode = "reused"
	}
	return tools.AsyncResult(fmt.Sprintf(
		"Background task started. task_id=%s agent=%s (%s %q)",
		taskID, handle(agent.ID), mode, agent.Role))
}

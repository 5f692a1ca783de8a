package delegation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emberlab/hearth/internal/store"
	"github.com/emberlab/hearth/internal/templates"
	"github.com/emberlab/hearth/internal/tools"
)

// listSubAgentsTool renders the user's roster.
type listSubAgentsTool struct{ deps Deps }

func (t *listSubAgentsTool) Name() string { return "list_sub_agents" }

func (t *listSubAgentsTool) Description() string {
	return "List the user's sub-agents with status and performance. Set include_deleted to also show dismissed agents still within retention."
}

func (t *listSubAgentsTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"user_id":         stringProp("Owner of the sub-agents"),
		"include_deleted": boolProp("Also list dismissed (soft-deleted) agents"),
	}, "user_id")
}

func (t *listSubAgentsTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	userID := stringArg(args, "user_id")
	if userID == "" {
		return tools.ErrorResult("Error: user_id is required")
	}

	agents, err := t.deps.Lifecycle.List(userID, boolArg(args, "include_deleted"))
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: list sub-agents failed: %v", err)).WithError(err)
	}
	if len(agents) == 0 {
		return tools.NewResult("No sub-agents.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d sub-agent(s):\n", len(agents))
	for _, a := range agents {
		fmt.Fprintf(&b, "- %q [%s] id=%s score=%.2f tasks=%d/%d\n",
			a.Role, a.Status, handle(a.ID), a.PerformanceScore, a.SuccessfulTasks, a.TotalTasks)
	}
	return tools.NewResult(strings.TrimRight(b.String(), "\n"))
}

// manageSubAgentTool applies a lifecycle transition to one agent.
type manageSubAgentTool struct{ deps Deps }

func (t *manageSubAgentTool) Name() string { return "manage_sub_agent" }

func (t *manageSubAgentTool) Description() string {
	return "Manage a sub-agent's lifecycle: dismiss (revivable for 14 days), revive, or kill (permanent, removes its conversation)."
}

func (t *manageSubAgentTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"agent_id": stringProp("ID of the sub-agent"),
		"action": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"dismiss", "revive", "kill"},
			"description": "Lifecycle transition to apply",
		},
	}, "agent_id", "action")
}

func (t *manageSubAgentTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	agentID := stringArg(args, "agent_id")
	action := stringArg(args, "action")
	if agentID == "" || action == "" {
		return tools.ErrorResult("Error: agent_id and action are required")
	}

	var err error
	switch action {
	case "dismiss":
		err = t.deps.Lifecycle.Dismiss(agentID)
	case "revive":
		_, err = t.deps.Lifecycle.Revive(agentID)
	case "kill":
		err = t.deps.Lifecycle.Kill(agentID)
	default:
		return tools.ErrorResult(fmt.Sprintf("Error: unknown action %q (want dismiss, revive, or kill)", action))
	}
	if errors.Is(err, store.ErrNotFound) {
		return tools.ErrorResult(fmt.Sprintf("Error: sub-agent %s not found", agentID)).WithError(err)
	}
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: %s failed: %v", action, err)).WithError(err)
	}
	return tools.NewResult(fmt.Sprintf("Sub-agent %s: %s applied.", handle(agentID), action))
}

// manageTemplateTool covers template listing, update, and deletion.
type manageTemplateTool struct{ deps Deps }

func (t *manageTemplateTool) Name() string { return "manage_template" }

func (t *manageTemplateTool) Description() string {
	return "Manage role templates: list the user's templates, update one's fields, or delete one."
}

func (t *manageTemplateTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"action": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"list", "update", "delete"},
			"description": "Template operation",
		},
		"user_id":          stringProp("Owner of the templates (required for list)"),
		"template_id":      stringProp("Template to update or delete"),
		"name":             stringProp("New name (update)"),
		"role_description": stringProp("New role description (update)"),
		"default_tier":     stringProp("New default tier (update)"),
		"default_tools":    stringListProp("New default tools (update)"),
		"tags":             stringListProp("New tags (update)"),
	}, "action")
}

func (t *manageTemplateTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	switch action := stringArg(args, "action"); action {
	case "list":
		return t.list(stringArg(args, "user_id"))
	case "update":
		return t.update(args)
	case "delete":
		return t.delete(stringArg(args, "template_id"))
	default:
		return tools.ErrorResult(fmt.Sprintf("Error: unknown action %q (want list, update, or delete)", action))
	}
}

func (t *manageTemplateTool) list(userID string) *tools.Result {
	if userID == "" {
		return tools.ErrorResult("Error: user_id is required for list")
	}
	list, err := t.deps.Templates.List(userID)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: list templates failed: %v", err)).WithError(err)
	}
	if len(list) == 0 {
		return tools.NewResult("No templates.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d template(s):\n", len(list))
	for _, tpl := range list {
		fmt.Fprintf(&b, "- %q id=%s used=%d avg=%.2f\n",
			tpl.Name, handle(tpl.ID), tpl.TimesUsed, tpl.AvgPerformance)
	}
	return tools.NewResult(strings.TrimRight(b.String(), "\n"))
}

func (t *manageTemplateTool) update(args map[string]interface{}) *tools.Result {
	id := stringArg(args, "template_id")
	if id == "" {
		return tools.ErrorResult("Error: template_id is required for update")
	}
	tpl, err := t.deps.Templates.Update(id, templates.UpdateSpec{
		Name:            stringArg(args, "name"),
		RoleDescription: stringArg(args, "role_description"),
		DefaultTools:    stringList(args, "default_tools"),
		DefaultTier:     stringArg(args, "default_tier"),
		Tags:            stringList(args, "tags"),
	})
	if errors.Is(err, store.ErrNotFound) {
		return tools.ErrorResult(fmt.Sprintf("Error: template %s not found", id)).WithError(err)
	}
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: update failed: %v", err)).WithError(err)
	}
	return tools.NewResult(fmt.Sprintf("Template %q (%s) updated.", tpl.Name, handle(tpl.ID)))
}

func (t *manageTemplateTool) delete(id string) *tools.Result {
	if id == "" {
		return tools.ErrorResult("Error: template_id is required for delete")
	}
	err := t.deps.Templates.Delete(id)
	if errors.Is(err, store.ErrNotFound) {
		return tools.ErrorResult(fmt.Sprintf("Error: template %s not found", id)).WithError(err)
	}
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: delete failed: %v", err)).WithError(err)
	}
	return tools.NewResult(fmt.Sprintf("Template %s deleted.", handle(id)))
}

// confirmTaskTool marks a finished background task as delivered so the
// inbox stops surfacing it.
type confirmTaskTool struct{ deps Deps }

func (t *confirmTaskTool) Name() string { return "confirm_task" }

func (t *confirmTaskTool) Description() string {
	return "Confirm that a background task's result has been relayed to the user, removing it from the undelivered inbox."
}

func (t *confirmTaskTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"task_id": stringProp("ID of the finished background task"),
	}, "task_id")
}

func (t *confirmTaskTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	taskID := stringArg(args, "task_id")
	if taskID == "" {
		return tools.ErrorResult("Error: task_id is required")
	}
	err := t.deps.Runner.MarkDelivered(taskID)
	if errors.Is(err, store.ErrNotFound) {
		return tools.ErrorResult(fmt.Sprintf("Error: task %s not found or not finished", taskID)).WithError(err)
	}
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("Error: confirm failed: %v", err)).WithError(err)
	}
	return tools.NewResult(fmt.Sprintf("Task %s confirmed as delivered.", handle(taskID)))
}

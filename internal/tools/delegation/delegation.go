// Package delegation exposes sub-agent orchestration to the primary agent
// as a bounded toolset. Handlers are defensive: bad arguments and missing
// rows come back as "Error: ..." strings for the model, never as panics or
// Go errors escaping the loop.
package delegation

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberlab/hearth/internal/background"
	"github.com/emberlab/hearth/internal/store"
	"github.com/emberlab/hearth/internal/subagents"
	"github.com/emberlab/hearth/internal/templates"
	"github.com/emberlab/hearth/internal/tools"
	"github.com/emberlab/hearth/internal/tracing"
)

const tracerName = "github.com/emberlab/hearth/internal/tools/delegation"

// Deps are the subsystems the toolset drives.
type Deps struct {
	Lifecycle *subagents.Manager
	Templates *templates.Manager
	Runner    *background.Runner
}

// Register adds the delegation toolset to a registry.
func Register(reg *tools.Registry, deps Deps) {
	reg.Register(&delegateTaskTool{deps})
	reg.Register(&delegateTasksTool{deps})
	reg.Register(&delegateToExistingTool{deps})
	reg.Register(&delegateBackgroundTool{deps})
	reg.Register(&listSubAgentsTool{deps})
	reg.Register(&manageSubAgentTool{deps})
	reg.Register(&manageTemplateTool{deps})
	reg.Register(&confirmTaskTool{deps})
}

// Names lists the toolset, for allow-listing primary-agent runs.
func Names() []string {
	return []string{
		"delegate_task",
		"delegate_tasks",
		"delegate_to_existing",
		"delegate_background",
		"list_sub_agents",
		"manage_sub_agent",
		"manage_template",
		"confirm_task",
	}
}

// dispatch reuses a matching active sub-agent or creates one, then starts
// the background run. Successful runs promote the role to a template.
func (d Deps) dispatch(ctx context.Context, userID, role, task, tier string, granted []string) (taskID string, agent *store.SubAgent, reused bool, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, tracing.SpanDelegation,
		trace.WithAttributes(tracing.UserAttrs(userID)...))
	defer span.End()

	agent, err = d.Lifecycle.FindReusable(userID, role)
	if err != nil {
		return "", nil, false, err
	}
	reused = agent != nil
	if agent == nil {
		agent, err = d.Lifecycle.Create(subagents.CreateSpec{
			UserID:         userID,
			Role:           role,
			ToolsGranted:   granted,
			TierPreference: tier,
		})
		if err != nil {
			return "", nil, false, err
		}
	}

	taskID, err = d.Runner.Start(ctx, background.StartConfig{
		UserID:   userID,
		AgentID:  agent.ID,
		Task:     task,
		TaskType: role,
		Tier:     tier,
		TemplateAutoCreate: &templates.CreateSpec{
			Name:            role,
			RoleDescription: role,
			DefaultTools:    granted,
			DefaultTier:     tier,
		},
	})
	if err == nil {
		span.SetAttributes(tracing.TaskAttrs(taskID, agent.ID)...)
	}
	return taskID, agent, reused, err
}

// backgroundStart builds the run config for a task against a known agent.
func backgroundStart(userID string, agent *store.SubAgent, task string) background.StartConfig {
	return background.StartConfig{
		UserID:   userID,
		AgentID:  agent.ID,
		Task:     task,
		TaskType: agent.Role,
		Tier:     agent.TierPreference,
	}
}

// handle shortens an ID to the 12-char prefix used in tool output.
func handle(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func stringList(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

func stringListProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": desc,
	}
}

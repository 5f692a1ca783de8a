package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/emberlab/hearth/internal/providers"
)

// Tool is a capability the agent loop can invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the tools available to agent loops. Registration happens
// at startup; lookups are safe for concurrent callers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ProviderDefs returns definitions for every registered tool.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	return r.FilteredDefs(nil)
}

// FilteredDefs returns definitions for the allowed subset, in registration
// order. nil means all tools; an empty slice means none. Unknown names are
// skipped.
func (r *Registry) FilteredDefs(allowed []string) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allowSet map[string]bool
	if allowed != nil {
		allowSet = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			allowSet[name] = true
		}
	}

	var defs []providers.ToolDefinition
	for _, name := range r.order {
		if allowSet != nil && !allowSet[name] {
			continue
		}
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs the named tool. Unknown tools produce an error result fed
// back to the LLM rather than a hard failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("Error: unknown tool %q", name))
	}
	return t.Execute(ctx, args)
}

// Package tools implements the task tool registry the agent loop dispatches
// through. The registry is an explicit value constructed at startup and
// injected into the loop; tool lookups never go through package globals.
package tools

import (
	"context"
	"fmt"

	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// Tool is one callable capability exposed to the language model.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}

	// Mutating marks tools with side effects on the task store. Mutating
	// tools require confirmation unless AutoConfirm is set.
	Mutating bool

	// AutoConfirm lets a provably non-destructive mutating tool skip the
	// confirmation gate. Destructive tools must never set it.
	AutoConfirm bool

	Execute func(ctx context.Context, userID string, args map[string]interface{}) (*models.ToolResult, error)
}

// Registry is a fixed name → tool mapping.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry from the given tools. Duplicate names panic:
// the tool set is assembled once at startup and a collision is a wiring bug.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		if _, exists := r.tools[t.Name]; exists {
			panic(fmt.Sprintf("tools: duplicate tool %q", t.Name))
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns the tool schemas in the shape the model consumes.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return defs
}

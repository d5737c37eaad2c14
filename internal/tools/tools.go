// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"fmt"

	"github.com/nugget/ember-agent/internal/chatlog"
)

// Tool represents a callable tool. Parameters is a JSON-schema-like
// mapping describing the tool's arguments; it is sanitized per model
// family before going on the wire, so it may carry metadata fields.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

// Registry holds available tools in registration order. Iteration
// order matters: wire-name collision suffixes are assigned first-come,
// so a stable order keeps name mappings stable across requests.
type Registry struct {
	order []string
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Re-registering a name replaces the tool but
// keeps its original position.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	result := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// CallTool executes a tool call issued by the model. It implements
// [chatlog.ToolCaller].
func (r *Registry) CallTool(ctx context.Context, call chatlog.ToolCall) (any, error) {
	tool := r.tools[call.ToolName]
	if tool == nil {
		return nil, &ErrToolUnavailable{ToolName: call.ToolName}
	}
	result, err := tool.Handler(ctx, call.ToolArgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.ToolName, err)
	}
	return result, nil
}

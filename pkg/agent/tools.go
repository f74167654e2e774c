package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ToolDefinition describes one callable tool for prompt construction.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters,omitempty"`
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Tool is an agent capability exposing one or more functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolFunc adapts a plain function into a single-definition Tool.
type ToolFunc struct {
	Def ToolDefinition
	Fn  func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

func (t ToolFunc) Definitions() []ToolDefinition { return []ToolDefinition{t.Def} }

func (t ToolFunc) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	if name != t.Def.Name {
		return ToolResult{Error: "unknown tool: " + name}, nil
	}
	return t.Fn(ctx, args)
}

// ToolRegistry holds registered tools and dispatches calls by name.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools []Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, t)
}

// Definitions returns tool definitions, optionally restricted to the given
// allowed names (nil means all), sorted by name.
func (r *ToolRegistry) Definitions(allowed []string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allow map[string]struct{}
	if allowed != nil {
		allow = make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			allow[name] = struct{}{}
		}
	}
	var defs []ToolDefinition
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if allow != nil {
				if _, ok := allow[d.Name]; !ok {
					continue
				}
			}
			defs = append(defs, d)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute dispatches a tool call by name. Unknown tools return a ToolResult
// with an error string rather than a Go error, so the runner can feed the
// failure back to the model.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	r.mu.RLock()
	tools := r.tools
	r.mu.RUnlock()

	for _, t := range tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t.Execute(ctx, name, args)
			}
		}
	}
	return ToolResult{Error: fmt.Sprintf("unknown tool: %s", name)}, nil
}

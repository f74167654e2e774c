// Package agent defines agent roles, the tool registry, and the runner that
// executes one subtask end to end against an LLM.
package agent

import (
	"sort"
	"sync"
)

// DefaultRole is used when a subtask carries no role hint or the hint does
// not resolve.
const DefaultRole = "researcher"

// Role describes one agent archetype: its prompt, generation parameters,
// and the tools it may use.
type Role struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt,omitempty"`
	Temperature  *float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens    *int     `yaml:"max_tokens" json:"max_tokens,omitempty"`
	Tools        []string `yaml:"tools" json:"tools,omitempty"`
}

// Registry resolves role hints to roles.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewRegistry creates a registry seeded with the built-in roles.
func NewRegistry() *Registry {
	r := &Registry{roles: make(map[string]Role)}
	for _, role := range builtinRoles() {
		r.roles[role.Name] = role
	}
	return r
}

// Register adds or replaces a role.
func (r *Registry) Register(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name] = role
}

// Resolve returns the role for a hint, falling back to DefaultRole for
// unknown or empty hints.
func (r *Registry) Resolve(hint string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role, ok := r.roles[hint]; ok {
		return role
	}
	return r.roles[DefaultRole]
}

// Has reports whether a role name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[name]
	return ok
}

// Names returns all registered role names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func builtinRoles() []Role {
	return []Role{
		{
			Name:         "researcher",
			Description:  "Gathers and synthesizes information",
			SystemPrompt: "You are a research agent. Investigate the assigned subtask thoroughly and produce a factual, well-structured report.",
		},
		{
			Name:         "analyst",
			Description:  "Analyzes data and draws conclusions",
			SystemPrompt: "You are an analysis agent. Examine the provided material, identify patterns, and state your conclusions with supporting reasoning.",
		},
		{
			Name:         "writer",
			Description:  "Produces polished prose",
			SystemPrompt: "You are a writing agent. Turn the assigned subtask and any prior results into clear, well-organized prose.",
		},
		{
			Name:         "coder",
			Description:  "Writes and reviews code",
			SystemPrompt: "You are a coding agent. Implement the assigned subtask and explain the result concisely.",
		},
		{
			Name:         "reviewer",
			Description:  "Reviews and critiques work",
			SystemPrompt: "You are a review agent. Evaluate the provided work against the subtask requirements and report issues and improvements.",
		},
	}
}

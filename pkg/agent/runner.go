package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskwave/taskwave/pkg/llm"
	"github.com/taskwave/taskwave/pkg/models"
)

// Runner executes one subtask end to end and produces its result.
// Implementations must honor context cancellation.
type Runner interface {
	Run(ctx context.Context, subtask models.SubTask) (*models.SubTaskResult, error)
}

// RunnerFactory builds a runner for one agent acting in one role.
type RunnerFactory interface {
	Runner(agentID string, role Role) Runner
}

// DefaultMaxIterations caps the tool loop per subtask.
const DefaultMaxIterations = 5

const toolFence = "```tool"

// LLMRunnerFactory builds LLM-backed runners sharing one client and tool
// registry.
type LLMRunnerFactory struct {
	client        llm.Client
	tools         *ToolRegistry
	maxIterations int
}

// NewLLMRunnerFactory creates a factory. maxIterations <= 0 selects
// DefaultMaxIterations; tools may be nil for tool-less agents.
func NewLLMRunnerFactory(client llm.Client, tools *ToolRegistry, maxIterations int) *LLMRunnerFactory {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &LLMRunnerFactory{client: client, tools: tools, maxIterations: maxIterations}
}

// Runner returns an LLM runner for one agent in one role.
func (f *LLMRunnerFactory) Runner(agentID string, role Role) Runner {
	return &llmRunner{
		agentID:       agentID,
		role:          role,
		client:        f.client,
		tools:         f.tools,
		maxIterations: f.maxIterations,
		logger:        slog.With("component", "agent_runner", "agent_id", agentID, "role", role.Name),
	}
}

// llmRunner drives a chat loop for one subtask: the model may request tool
// calls via a fenced directive; results are fed back until it produces a
// final answer or the iteration cap is hit.
type llmRunner struct {
	agentID       string
	role          Role
	client        llm.Client
	tools         *ToolRegistry
	maxIterations int
	logger        *slog.Logger
}

type toolDirective struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

func (r *llmRunner) Run(ctx context.Context, subtask models.SubTask) (*models.SubTaskResult, error) {
	start := time.Now()
	result := &models.SubTaskResult{
		SubtaskID:  subtask.ID,
		AgentID:    r.agentID,
		OutputType: "report",
	}

	messages := []llm.Message{
		{Role: "system", Content: r.systemPrompt()},
		{Role: "user", Content: subtask.Content},
	}

	var content string
	for i := 0; i < r.maxIterations; i++ {
		resp, err := r.client.Chat(ctx, llm.Request{
			Messages:    messages,
			Temperature: r.role.Temperature,
			MaxTokens:   r.role.MaxTokens,
		})
		if err != nil {
			result.Error = err.Error()
			result.ExecutionTime = time.Since(start)
			return result, fmt.Errorf("subtask %s: %w", subtask.ID, err)
		}
		result.TokenUsage.Add(resp.Usage)
		content = resp.Content

		directive, ok := parseToolDirective(content)
		if !ok || r.tools == nil {
			break
		}

		result.ToolCalls++
		toolRes, err := r.tools.Execute(ctx, directive.Tool, directive.Args)
		if err != nil {
			toolRes = ToolResult{Error: err.Error()}
		}
		r.logger.Debug("Tool executed", "tool", directive.Tool, "error", toolRes.Error)

		feedback := toolRes.Content
		if toolRes.Error != "" {
			feedback = "tool error: " + toolRes.Error
		}
		messages = append(messages,
			llm.Message{Role: "assistant", Content: content},
			llm.Message{Role: "user", Content: fmt.Sprintf("Result of %s:\n%s\n\nContinue with the subtask. Reply with the final answer when done.", directive.Tool, feedback)},
		)
	}

	result.Success = true
	result.Output = content
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func (r *llmRunner) systemPrompt() string {
	prompt := r.role.SystemPrompt
	if prompt == "" {
		prompt = "You are a helpful agent. Complete the assigned subtask."
	}
	if r.tools == nil {
		return prompt
	}
	defs := r.tools.Definitions(r.role.Tools)
	if len(defs) == 0 {
		return prompt
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nYou may call these tools by replying with a fenced block:\n")
	sb.WriteString("```tool\n{\"tool\": \"<name>\", \"args\": {...}}\n```\n\nAvailable tools:\n")
	for _, d := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
		if d.Parameters != "" {
			fmt.Fprintf(&sb, "  parameters: %s\n", d.Parameters)
		}
	}
	return sb.String()
}

// parseToolDirective extracts the first ```tool fenced JSON directive from
// model output.
func parseToolDirective(content string) (toolDirective, bool) {
	var d toolDirective
	idx := strings.Index(content, toolFence)
	if idx < 0 {
		return d, false
	}
	rest := content[idx+len(toolFence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return d, false
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &d); err != nil || d.Tool == "" {
		return d, false
	}
	return d, true
}

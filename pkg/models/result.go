package models

import "time"

// SubTaskResult is the outcome of executing one subtask.
type SubTaskResult struct {
	SubtaskID     string        `json:"subtask_id"`
	AgentID       string        `json:"agent_id"`
	Success       bool          `json:"success"`
	Output        string        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ToolCalls     int           `json:"tool_calls"`
	ExecutionTime time.Duration `json:"execution_time"`
	TokenUsage    TokenUsage    `json:"token_usage"`
	OutputType    string        `json:"output_type"`
}

// TokenUsage tracks LLM token consumption for one execution.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// TaskResult is the aggregated outcome of a top-level task.
// Metadata carries the wave execution result and the task plan when the
// task ran in team mode.
type TaskResult struct {
	TaskID        string          `json:"task_id"`
	Success       bool            `json:"success"`
	Output        string          `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime time.Duration   `json:"execution_time"`
	SubResults    []SubTaskResult `json:"sub_results,omitempty"`
	OutputType    string          `json:"output_type"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

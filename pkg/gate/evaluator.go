package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskwave/taskwave/pkg/llm"
	"github.com/taskwave/taskwave/pkg/plan"
)

const reviewSystemPrompt = `You are a quality reviewer for a multi-agent execution system.
Score the step output from 0 to 10 and decide an action:
- "continue": the output is acceptable
- "retry": the output misses the step's goal and should be redone
- "add_step": follow-up steps are needed; list them as adjustments

Reply with JSON only:
{"quality_score": <0-10>, "action": "continue|retry|add_step", "reason": "...",
 "adjustments": [{"type": "add_step", "step_id": "...", "name": "...",
 "description": "...", "agent_type": "...", "dependencies": ["..."]}]}`

// LLMEvaluator reviews step output with a chat model.
type LLMEvaluator struct {
	client llm.Client
}

// NewLLMEvaluator creates an evaluator on the given client.
func NewLLMEvaluator(client llm.Client) *LLMEvaluator {
	return &LLMEvaluator{client: client}
}

// Evaluate asks the model for a verdict on one step result.
func (e *LLMEvaluator) Evaluate(ctx context.Context, step plan.Step, result StepResult) (*Verdict, error) {
	user := fmt.Sprintf(
		"Step: %s\nDescription: %s\nExpected output: %s\n\nActual output:\n%s",
		step.Name, step.Description, step.ExpectedOutput, result.Output,
	)
	resp, err := e.client.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: reviewSystemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("review of step %s failed: %w", step.StepID, err)
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &verdict); err != nil {
		return nil, fmt.Errorf("unparseable verdict for step %s: %w", step.StepID, err)
	}
	return &verdict, nil
}

// extractJSON strips an optional markdown fence around the model's JSON.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}

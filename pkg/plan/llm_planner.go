package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/taskwave/taskwave/pkg/llm"
	"github.com/taskwave/taskwave/pkg/models"
)

const planSystemPrompt = `You are a task planner for a multi-agent execution system.
Decompose the task into steps forming a dependency DAG. Steps with no
dependency on each other run in parallel. Use agent types: researcher,
analyst, writer, coder, reviewer.

Reply with JSON only:
{"task_analysis": "...", "refined_task": "...",
 "estimated_complexity": <1-10>,
 "key_objectives": ["..."], "success_criteria": ["..."],
 "steps": [{"step_id": "s1", "name": "...", "description": "...",
 "agent_type": "researcher", "dependencies": [], "expected_output": "..."}],
 "suggested_agents": [{"agent_type": "researcher"}]}`

const complexitySystemPrompt = `Rate the complexity of the task from 1 (trivial) to 10 (very complex).
Reply with only the number.`

// LLMPlanner implements Planner on a chat model.
type LLMPlanner struct {
	client llm.Client
}

// NewLLMPlanner creates a planner on the given client.
func NewLLMPlanner(client llm.Client) *LLMPlanner {
	return &LLMPlanner{client: client}
}

type wirePlan struct {
	TaskAnalysis        string   `json:"task_analysis"`
	RefinedTask         string   `json:"refined_task"`
	EstimatedComplexity float64  `json:"estimated_complexity"`
	KeyObjectives       []string `json:"key_objectives"`
	SuccessCriteria     []string `json:"success_criteria"`
	PotentialChallenges []string `json:"potential_challenges"`
	Steps               []struct {
		StepID         string   `json:"step_id"`
		Name           string   `json:"name"`
		Description    string   `json:"description"`
		AgentType      string   `json:"agent_type"`
		Dependencies   []string `json:"dependencies"`
		ExpectedOutput string   `json:"expected_output"`
	} `json:"steps"`
	SuggestedAgents []SuggestedAgent `json:"suggested_agents"`
}

// Plan decomposes the task into an execution flow.
func (p *LLMPlanner) Plan(ctx context.Context, task models.Task) (*TaskPlan, error) {
	resp, err := p.client.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: task.Content},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	var wire wirePlan
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &wire); err != nil {
		return nil, fmt.Errorf("unparseable plan: %w", err)
	}
	if len(wire.Steps) == 0 {
		return nil, fmt.Errorf("plan contains no steps")
	}

	steps := make([]Step, 0, len(wire.Steps))
	for i, ws := range wire.Steps {
		stepID := ws.StepID
		if stepID == "" {
			stepID = fmt.Sprintf("s%d", i+1)
		}
		steps = append(steps, Step{
			StepID:         stepID,
			StepNumber:     i + 1,
			Name:           ws.Name,
			Description:    ws.Description,
			AgentType:      ws.AgentType,
			ExpectedOutput: ws.ExpectedOutput,
			Dependencies:   ws.Dependencies,
		})
	}
	flow, err := NewFlow(steps)
	if err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	complexity := wire.EstimatedComplexity
	if complexity <= 0 {
		complexity = 5.0
	}
	return &TaskPlan{
		OriginalTask:        task.Content,
		TaskAnalysis:        wire.TaskAnalysis,
		RefinedTask:         wire.RefinedTask,
		Flow:                flow,
		SuggestedAgents:     wire.SuggestedAgents,
		EstimatedComplexity: complexity,
		KeyObjectives:       wire.KeyObjectives,
		SuccessCriteria:     wire.SuccessCriteria,
		PotentialChallenges: wire.PotentialChallenges,
	}, nil
}

// EstimateComplexity asks the model for a 1-10 score.
func (p *LLMPlanner) EstimateComplexity(ctx context.Context, task models.Task) (float64, error) {
	resp, err := p.client.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: complexitySystemPrompt},
			{Role: "user", Content: task.Content},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("complexity estimation failed: %w", err)
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(resp.Content), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable complexity score %q: %w", resp.Content, err)
	}
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score, nil
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

package plan

import (
	"context"
	"strings"

	"github.com/taskwave/taskwave/pkg/models"
)

// SuggestedAgent is a planner hint for staffing one flow step. Suggestions
// are applied positionally against the flow's step order.
type SuggestedAgent struct {
	Name         string `json:"name,omitempty"`
	AgentType    string `json:"agent_type"`
	Instructions string `json:"instructions,omitempty"`
}

// TaskPlan is the planner's full output for one task.
type TaskPlan struct {
	OriginalTask        string           `json:"original_task"`
	TaskAnalysis        string           `json:"task_analysis,omitempty"`
	RefinedTask         string           `json:"refined_task,omitempty"`
	BackgroundResearch  string           `json:"background_research,omitempty"`
	Flow                *Flow            `json:"-"`
	SuggestedAgents     []SuggestedAgent `json:"suggested_agents,omitempty"`
	EstimatedComplexity float64          `json:"estimated_complexity"`
	KeyObjectives       []string         `json:"key_objectives,omitempty"`
	SuccessCriteria     []string         `json:"success_criteria,omitempty"`
	PotentialChallenges []string         `json:"potential_challenges,omitempty"`
}

// Planner produces task plans and complexity estimates. Implementations are
// expected to call out to an LLM; the orchestrator only depends on this seam.
type Planner interface {
	Plan(ctx context.Context, task models.Task) (*TaskPlan, error)
	EstimateComplexity(ctx context.Context, task models.Task) (float64, error)
}

// HeuristicComplexity is the fallback estimate used when no planner is
// available or the planner fails: a 1..10 score from content length and
// rough sentence structure.
func HeuristicComplexity(content string) float64 {
	score := 1.0
	switch n := len(content); {
	case n > 2000:
		score += 4
	case n > 500:
		score += 3
	case n > 200:
		score += 2
	case n > 50:
		score += 1
	}
	sentences := strings.Count(content, ".") + strings.Count(content, "!") + strings.Count(content, "?")
	if sentences > 5 {
		score += 2
	} else if sentences > 2 {
		score += 1
	}
	if strings.Contains(content, "?") {
		score += 1
	}
	words := len(strings.Fields(content))
	if words > 300 {
		score += 2
	} else if words > 100 {
		score += 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

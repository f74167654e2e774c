package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwave/taskwave/pkg/llm"
	"github.com/taskwave/taskwave/pkg/models"
)

// cannedClient returns a fixed response or error.
type cannedClient struct {
	content string
	err     error
}

func (c *cannedClient) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: c.content}, nil
}

const planJSON = `{
  "task_analysis": "two phases",
  "refined_task": "research then write",
  "estimated_complexity": 6,
  "key_objectives": ["coverage"],
  "steps": [
    {"step_id": "s1", "name": "research", "description": "gather sources", "agent_type": "researcher", "dependencies": []},
    {"name": "write", "description": "draft the report", "agent_type": "writer", "dependencies": ["s1"]}
  ],
  "suggested_agents": [{"agent_type": "researcher"}, {"agent_type": "writer"}]
}`

func TestPlanParsesSteps(t *testing.T) {
	p := NewLLMPlanner(&cannedClient{content: "Here is the plan:\n```json\n" + planJSON + "\n```"})

	taskPlan, err := p.Plan(context.Background(), models.Task{ID: "t1", Content: "do research"})
	require.NoError(t, err)

	assert.Equal(t, "do research", taskPlan.OriginalTask)
	assert.Equal(t, "two phases", taskPlan.TaskAnalysis)
	assert.Equal(t, 6.0, taskPlan.EstimatedComplexity)
	require.Len(t, taskPlan.SuggestedAgents, 2)

	steps := taskPlan.Flow.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "s1", steps[0].StepID)
	// Missing step IDs are filled positionally.
	assert.Equal(t, "s2", steps[1].StepID)
	assert.Equal(t, []string{"s1"}, steps[1].Dependencies)
	assert.Equal(t, "writer", steps[1].AgentType)
}

func TestPlanDefaultsComplexity(t *testing.T) {
	p := NewLLMPlanner(&cannedClient{content: `{"steps": [{"step_id": "s1", "description": "only step"}]}`})

	taskPlan, err := p.Plan(context.Background(), models.Task{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, 5.0, taskPlan.EstimatedComplexity)
}

func TestPlanRejectsEmptyAndInvalid(t *testing.T) {
	p := NewLLMPlanner(&cannedClient{content: `{"steps": []}`})
	_, err := p.Plan(context.Background(), models.Task{Content: "x"})
	assert.ErrorContains(t, err, "no steps")

	p = NewLLMPlanner(&cannedClient{content: "not json at all"})
	_, err = p.Plan(context.Background(), models.Task{Content: "x"})
	assert.ErrorContains(t, err, "unparseable")

	// A cyclic plan is rejected rather than executed.
	p = NewLLMPlanner(&cannedClient{content: `{"steps": [
		{"step_id": "a", "dependencies": ["b"]},
		{"step_id": "b", "dependencies": ["a"]}
	]}`})
	_, err = p.Plan(context.Background(), models.Task{Content: "x"})
	assert.ErrorIs(t, err, ErrFlowCycle)

	p = NewLLMPlanner(&cannedClient{err: errors.New("down")})
	_, err = p.Plan(context.Background(), models.Task{Content: "x"})
	assert.ErrorContains(t, err, "planning failed")
}

func TestEstimateComplexity(t *testing.T) {
	p := NewLLMPlanner(&cannedClient{content: " 7.5 \n"})
	score, err := p.EstimateComplexity(context.Background(), models.Task{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, 7.5, score)

	// Out-of-range scores are clamped to 1..10.
	p = NewLLMPlanner(&cannedClient{content: "42"})
	score, err = p.EstimateComplexity(context.Background(), models.Task{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, score)

	p = NewLLMPlanner(&cannedClient{content: "0"})
	score, err = p.EstimateComplexity(context.Background(), models.Task{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	p = NewLLMPlanner(&cannedClient{content: "very complex"})
	_, err = p.EstimateComplexity(context.Background(), models.Task{Content: "x"})
	assert.ErrorContains(t, err, "unparseable complexity")
}

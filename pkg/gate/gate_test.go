package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwave/taskwave/pkg/board"
	"github.com/taskwave/taskwave/pkg/models"
	"github.com/taskwave/taskwave/pkg/plan"
)

// stubEvaluator returns a fixed verdict or error.
type stubEvaluator struct {
	verdict Verdict
	err     error
}

func (s *stubEvaluator) Evaluate(ctx context.Context, step plan.Step, result StepResult) (*Verdict, error) {
	if s.err != nil {
		return nil, s.err
	}
	v := s.verdict
	return &v, nil
}

func testStep(id string) plan.Step {
	return plan.Step{StepID: id, Name: id, Description: "step " + id}
}

func TestReviewThresholdOverridesRetry(t *testing.T) {
	g := New(&stubEvaluator{verdict: Verdict{QualityScore: 8.5, Action: ActionRetry, Reason: "nitpick"}}, 7.0, 2)

	v := g.Review(context.Background(), testStep("s1"), StepResult{Output: "fine"}, 1)
	assert.Equal(t, ActionContinue, v.Action)
	assert.Equal(t, 8.5, v.QualityScore)
	assert.Equal(t, "s1", v.StepID)
	assert.Equal(t, 1, v.Attempt)
}

func TestReviewBelowThresholdKeepsRetry(t *testing.T) {
	g := New(&stubEvaluator{verdict: Verdict{QualityScore: 4.0, Action: ActionRetry}}, 7.0, 2)

	v := g.Review(context.Background(), testStep("s1"), StepResult{Output: "weak"}, 1)
	assert.Equal(t, ActionRetry, v.Action)
}

func TestReviewAddStepSurvivesHighScore(t *testing.T) {
	g := New(&stubEvaluator{verdict: Verdict{QualityScore: 9.0, Action: ActionAddStep}}, 7.0, 2)

	v := g.Review(context.Background(), testStep("s1"), StepResult{Output: "good but incomplete"}, 1)
	assert.Equal(t, ActionAddStep, v.Action)
}

func TestReviewEvaluatorFailurePassesThrough(t *testing.T) {
	g := New(&stubEvaluator{err: errors.New("model down")}, 7.0, 2)

	v := g.Review(context.Background(), testStep("s1"), StepResult{Output: "whatever"}, 2)
	assert.Equal(t, ActionContinue, v.Action)
	assert.Equal(t, DefaultThreshold, v.QualityScore)
	assert.Equal(t, 2, v.Attempt)
}

func TestReviewEmptyActionDefaultsToContinue(t *testing.T) {
	g := New(&stubEvaluator{verdict: Verdict{QualityScore: 3.0}}, 7.0, 2)

	v := g.Review(context.Background(), testStep("s1"), StepResult{}, 1)
	assert.Equal(t, ActionContinue, v.Action)
}

func TestNewDefaults(t *testing.T) {
	g := New(&stubEvaluator{}, 0, -1)
	assert.Equal(t, DefaultMaxRetries, g.MaxRetries())
	assert.Equal(t, DefaultThreshold, g.threshold)
}

func TestApplyAddStepPublishesToBoard(t *testing.T) {
	flow, err := plan.NewFlow([]plan.Step{testStep("s1")})
	require.NoError(t, err)

	b := board.New()
	require.NoError(t, b.Publish([]models.SubTask{
		{ID: "s1", Content: "step s1"},
	}, nil))
	require.NoError(t, b.UpdateStatus("s1", models.BoardStatusCompleted, "done"))

	g := New(&stubEvaluator{}, 7.0, 2)
	g.Apply(flow, b, "task-1", []Adjustment{{
		Type:         AdjustAddStep,
		StepID:       "s2",
		Name:         "verify",
		Description:  "verify the findings",
		AgentType:    "reviewer",
		Dependencies: []string{"s1", "ghost"},
		Reason:       "needs verification",
	}})

	// Flow got the step with the unknown dependency dropped.
	added, err := flow.Get("s2")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, added.Dependencies)

	// Board entry exists and is immediately runnable since s1 is done.
	entry, err := b.Get("s2")
	require.NoError(t, err)
	assert.Equal(t, models.BoardStatusPending, entry.Status)
	assert.Equal(t, "task-1", entry.Subtask.ParentTaskID)
	assert.Equal(t, "reviewer", entry.Subtask.RoleHint)
}

func TestApplyModifyStep(t *testing.T) {
	flow, err := plan.NewFlow([]plan.Step{testStep("s1"), testStep("s2")})
	require.NoError(t, err)

	g := New(&stubEvaluator{}, 7.0, 2)
	g.Apply(flow, nil, "task-1", []Adjustment{{
		Type:        AdjustModifyStep,
		StepID:      "s2",
		Description: "narrower scope",
		Reason:      "too broad",
	}})

	modified, err := flow.Get("s2")
	require.NoError(t, err)
	assert.Equal(t, "narrower scope", modified.Description)
}

func TestApplyRemoveStepSyncsBoard(t *testing.T) {
	flow, err := plan.NewFlow([]plan.Step{
		testStep("s1"),
		{StepID: "s2", Name: "s2", Dependencies: []string{"s1"}},
		{StepID: "s3", Name: "s3", Dependencies: []string{"s2"}},
	})
	require.NoError(t, err)

	b := board.New()
	require.NoError(t, b.Publish([]models.SubTask{
		{ID: "s1"},
		{ID: "s2", Dependencies: []string{"s1"}},
		{ID: "s3", Dependencies: []string{"s2"}},
	}, nil))
	require.NoError(t, b.UpdateStatus("s1", models.BoardStatusCompleted, "done"))
	b.OnCompleted("s1")

	g := New(&stubEvaluator{}, 7.0, 2)
	g.Apply(flow, b, "task-1", []Adjustment{{
		Type:   AdjustRemoveStep,
		StepID: "s2",
		Reason: "redundant",
	}})

	skipped, err := flow.Get("s2")
	require.NoError(t, err)
	assert.Equal(t, plan.StepStatusSkipped, skipped.Status)

	// The board entry is closed out and its dependent unlocked.
	entry, err := b.Get("s2")
	require.NoError(t, err)
	assert.Equal(t, models.BoardStatusCompleted, entry.Status)
	assert.Equal(t, "skipped by quality gate", entry.Result)

	entry, err = b.Get("s3")
	require.NoError(t, err)
	assert.Equal(t, models.BoardStatusPending, entry.Status)
}

func TestApplyUnknownAdjustmentIgnored(t *testing.T) {
	flow, err := plan.NewFlow([]plan.Step{testStep("s1")})
	require.NoError(t, err)

	g := New(&stubEvaluator{}, 7.0, 2)
	assert.NotPanics(t, func() {
		g.Apply(flow, nil, "task-1", []Adjustment{{Type: "rewrite_everything", StepID: "s1"}})
	})
	assert.Equal(t, 1, flow.Len())
}

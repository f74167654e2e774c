package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(id string, number int, deps ...string) Step {
	return Step{StepID: id, StepNumber: number, Name: id, Description: "step " + id, Dependencies: deps}
}

func TestNewFlowTopologicalOrder(t *testing.T) {
	f, err := NewFlow([]Step{
		step("write", 3, "research", "analyze"),
		step("research", 1),
		step("analyze", 2, "research"),
	})
	require.NoError(t, err)

	steps := f.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, "research", steps[0].StepID)
	assert.Equal(t, "analyze", steps[1].StepID)
	assert.Equal(t, "write", steps[2].StepID)

	// Unstatused steps start pending.
	for _, st := range steps {
		assert.Equal(t, StepStatusPending, st.Status)
	}
}

func TestNewFlowRejectsCycle(t *testing.T) {
	_, err := NewFlow([]Step{
		step("a", 1, "b"),
		step("b", 2, "a"),
	})
	assert.ErrorIs(t, err, ErrFlowCycle)
}

func TestNewFlowRejectsDuplicateIDs(t *testing.T) {
	_, err := NewFlow([]Step{step("a", 1), step("a", 2)})
	assert.Error(t, err)
}

func TestReadySteps(t *testing.T) {
	f, err := NewFlow([]Step{
		step("a", 1),
		step("b", 2, "a"),
		step("c", 3, "a"),
	})
	require.NoError(t, err)

	ready := f.ReadySteps()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].StepID)

	require.NoError(t, f.SetStatus("a", StepStatusCompleted))
	ready = f.ReadySteps()
	require.Len(t, ready, 2)

	// Skipped dependencies also unblock.
	require.NoError(t, f.SetStatus("b", StepStatusSkipped))
	require.NoError(t, f.SetStatus("c", StepStatusInProgress))
	assert.Empty(t, f.ReadySteps())
}

func TestProgress(t *testing.T) {
	f, err := NewFlow([]Step{step("a", 1), step("b", 2), step("c", 3)})
	require.NoError(t, err)

	done, total := f.Progress()
	assert.Equal(t, 0, done)
	assert.Equal(t, 3, total)

	require.NoError(t, f.SetStatus("a", StepStatusCompleted))
	require.NoError(t, f.SetStatus("b", StepStatusFailed))
	done, _ = f.Progress()
	assert.Equal(t, 2, done)
}

func TestAddStepFiltersUnknownDependencies(t *testing.T) {
	f, err := NewFlow([]Step{step("a", 1)})
	require.NoError(t, err)

	filtered, err := f.AddStep(Step{
		StepID:       "b",
		Name:         "extra verification",
		Dependencies: []string{"a", "ghost"},
	}, "low quality score")
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, filtered)

	added, err := f.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, added.Dependencies)
	assert.Equal(t, 2, added.StepNumber)
	assert.Equal(t, "researcher", added.AgentType)
	assert.Equal(t, StepStatusPending, added.Status)

	history := f.History()
	require.Len(t, history, 1)
	assert.Equal(t, "add_step", history[0].Action)
	assert.Equal(t, "low quality score", history[0].Reason)
}

func TestModifyStepRollsBackOnCycle(t *testing.T) {
	f, err := NewFlow([]Step{
		step("a", 1, "b"),
		step("b", 2),
	})
	require.NoError(t, err)

	// c depends on a depends on b; making b depend on c closes the loop.
	_, err = f.AddStep(Step{StepID: "c", Dependencies: []string{"a"}}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())

	err = f.ModifyStep("b", "", []string{"c"}, "")
	assert.ErrorIs(t, err, ErrFlowCycle)

	// The failed modify left b's dependencies untouched.
	b, err := f.Get("b")
	require.NoError(t, err)
	assert.Empty(t, b.Dependencies)
}

func TestAddStepRejectsDuplicates(t *testing.T) {
	f, err := NewFlow([]Step{step("a", 1)})
	require.NoError(t, err)

	_, err = f.AddStep(Step{StepID: "a"}, "")
	assert.Error(t, err)
	_, err = f.AddStep(Step{}, "")
	assert.Error(t, err)
}

func TestModifyStepOnlyPending(t *testing.T) {
	f, err := NewFlow([]Step{step("a", 1), step("b", 2)})
	require.NoError(t, err)

	require.NoError(t, f.ModifyStep("b", "new description", []string{"a"}, "clarify"))
	b, _ := f.Get("b")
	assert.Equal(t, "new description", b.Description)
	assert.Equal(t, []string{"a"}, b.Dependencies)

	require.NoError(t, f.SetStatus("a", StepStatusInProgress))
	err = f.ModifyStep("a", "too late", nil, "")
	assert.ErrorIs(t, err, ErrStepNotPending)

	err = f.ModifyStep("ghost", "", nil, "")
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestSkipStepScrubsDependencies(t *testing.T) {
	f, err := NewFlow([]Step{
		step("a", 1),
		step("b", 2, "a"),
		step("c", 3, "a", "b"),
	})
	require.NoError(t, err)

	require.NoError(t, f.SkipStep("b", "redundant"))

	b, _ := f.Get("b")
	assert.Equal(t, StepStatusSkipped, b.Status)

	c, _ := f.Get("c")
	assert.Equal(t, []string{"a"}, c.Dependencies)

	require.NoError(t, f.SetStatus("a", StepStatusCompleted))
	ready := f.ReadySteps()
	require.Len(t, ready, 1)
	assert.Equal(t, "c", ready[0].StepID)

	assert.ErrorIs(t, f.SkipStep("ghost", ""), ErrStepNotFound)
}

func TestHeuristicComplexity(t *testing.T) {
	assert.Equal(t, 1.0, HeuristicComplexity("hi"))
	assert.Less(t, HeuristicComplexity("Summarize this short note."), HeuristicComplexity(
		"Research the history of distributed consensus. Compare Paxos and Raft in detail. "+
			"What are the trade-offs? How do production systems handle reconfiguration? "+
			"Write a structured report with citations. Include a section on failure modes. "+
			"Conclude with recommendations for a new system design."))
	// Capped at 10 no matter how long the content gets.
	long := ""
	for i := 0; i < 200; i++ {
		long += "This is a long and complicated sentence about many different things? "
	}
	assert.Equal(t, 10.0, HeuristicComplexity(long))
}

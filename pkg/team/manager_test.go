package team

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwave/taskwave/pkg/bus"
	"github.com/taskwave/taskwave/pkg/models"
)

func TestCreateTeam(t *testing.T) {
	m := NewManager()

	team, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)

	assert.NotEmpty(t, team.ID)
	assert.Equal(t, "task-1", team.ParentTaskID)
	assert.Equal(t, models.TeamStateCreating, team.State)
	assert.Empty(t, team.Members)
	// Zero config falls back to defaults.
	assert.Equal(t, models.DefaultTeamConfig().MaxAgents, team.Config.MaxAgents)

	assert.NotNil(t, m.Board(team.ID))
	assert.NotNil(t, m.Bus(team.ID))
}

func TestSetupTeamRegistersAgents(t *testing.T) {
	m := NewManager()
	team, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)

	agentIDs, err := m.SetupTeam(team.ID, []string{"researcher", "writer", ""})
	require.NoError(t, err)
	require.Len(t, agentIDs, 3)

	got, err := m.Team(team.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TeamStateReady, got.State)
	assert.Equal(t, "researcher", got.Members[agentIDs[0]])
	assert.Equal(t, "writer", got.Members[agentIDs[1]])
	// Empty role falls back to the default role.
	assert.Equal(t, "researcher", got.Members[agentIDs[2]])

	teamBus := m.Bus(team.ID)
	for _, id := range agentIDs {
		assert.True(t, teamBus.Registered(id))
	}
}

func TestSetupTeamRejectsWrongState(t *testing.T) {
	m := NewManager()
	team, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)

	_, err = m.SetupTeam(team.ID, []string{"researcher"})
	require.NoError(t, err)

	_, err = m.SetupTeam(team.ID, []string{"writer"})
	assert.ErrorIs(t, err, ErrTeamNotReady)

	_, err = m.SetupTeam("unknown", []string{"writer"})
	assert.ErrorIs(t, err, ErrTeamNotFound)
}

func TestSetupTeamRejectsTooManyAgents(t *testing.T) {
	m := NewManager()
	cfg := models.DefaultTeamConfig()
	cfg.MaxAgents = 2
	team, err := m.CreateTeam("task-1", cfg)
	require.NoError(t, err)

	_, err = m.SetupTeam(team.ID, []string{"a", "b", "c"})
	assert.ErrorIs(t, err, ErrTooManyAgents)

	// Failed setup leaves the team untouched.
	got, err := m.Team(team.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TeamStateCreating, got.State)
	assert.Empty(t, got.Members)
}

func TestSetTeamState(t *testing.T) {
	m := NewManager()
	team, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)

	require.NoError(t, m.SetTeamState(team.ID, models.TeamStateExecuting))
	got, _ := m.Team(team.ID)
	assert.Equal(t, models.TeamStateExecuting, got.State)
	assert.True(t, got.CompletedAt.IsZero())

	require.NoError(t, m.SetTeamState(team.ID, models.TeamStateCompleted))
	got, _ = m.Team(team.ID)
	assert.False(t, got.CompletedAt.IsZero())

	assert.ErrorIs(t, m.SetTeamState("unknown", models.TeamStateReady), ErrTeamNotFound)
}

func TestDisbandTeamGraceful(t *testing.T) {
	m := NewManager()
	team, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)
	agentIDs, err := m.SetupTeam(team.ID, []string{"researcher", "writer"})
	require.NoError(t, err)

	teamBus := m.Bus(team.ID)

	// Agents acknowledge as soon as they see the shutdown request.
	done := make(chan struct{})
	go func() {
		defer close(done)
		acked := make(map[string]bool)
		for len(acked) < len(agentIDs) {
			for _, id := range agentIDs {
				if acked[id] {
					continue
				}
				for _, msg := range teamBus.Receive(id) {
					if msg.Type == bus.MessageTypeShutdown {
						assert.NoError(t, m.AcknowledgeShutdown(team.ID, id))
						acked[id] = true
					}
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result, err := m.DisbandTeam(team.ID, 5*time.Second)
	require.NoError(t, err)
	<-done

	assert.True(t, result.Success)
	assert.ElementsMatch(t, agentIDs, result.Terminated)
	assert.Empty(t, result.ForceTerminated)

	got, _ := m.Team(team.ID)
	assert.Equal(t, models.TeamStateDisbanded, got.State)
	assert.Empty(t, got.Members)
	assert.False(t, got.CompletedAt.IsZero())
	assert.Nil(t, m.Board(team.ID))
	assert.Nil(t, m.Bus(team.ID))
}

func TestDisbandTeamForceTerminatesSilentAgents(t *testing.T) {
	m := NewManager()
	team, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)
	agentIDs, err := m.SetupTeam(team.ID, []string{"researcher", "writer"})
	require.NoError(t, err)

	// Nobody acknowledges; both get force terminated after the split budget.
	result, err := m.DisbandTeam(team.ID, 40*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.Terminated)
	assert.ElementsMatch(t, agentIDs, result.ForceTerminated)
}

func TestDisbandTeamIdempotent(t *testing.T) {
	m := NewManager()
	team, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)
	_, err = m.SetupTeam(team.ID, nil)
	require.NoError(t, err)

	_, err = m.DisbandTeam(team.ID, time.Second)
	require.NoError(t, err)

	// Disbanding again reports success without doing any work.
	result, err := m.DisbandTeam(team.ID, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, err = m.DisbandTeam("unknown", time.Second)
	assert.ErrorIs(t, err, ErrTeamNotFound)
}

func TestAcknowledgeShutdownUnknownAgent(t *testing.T) {
	m := NewManager()
	team, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)

	assert.Error(t, m.AcknowledgeShutdown(team.ID, "ghost"))
	assert.ErrorIs(t, m.AcknowledgeShutdown("unknown", "ghost"), ErrTeamNotFound)
}

func TestTeamsListsAll(t *testing.T) {
	m := NewManager()
	_, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)
	_, err = m.CreateTeam("task-2", models.TeamConfig{})
	require.NoError(t, err)

	assert.Len(t, m.Teams(), 2)
}

func TestDisbandTeamAfterAgentsAcknowledged(t *testing.T) {
	m := NewManager()
	team1, err := m.CreateTeam("task-1", models.TeamConfig{})
	require.NoError(t, err)
	agentIDs, err := m.SetupTeam(team1.ID, []string{"researcher", "writer"})
	require.NoError(t, err)

	// Acknowledgements recorded before the disband count as graceful and
	// skip the per-agent wait entirely.
	for _, id := range agentIDs {
		require.NoError(t, m.AcknowledgeShutdown(team1.ID, id))
	}

	start := time.Now()
	result, err := m.DisbandTeam(team1.ID, 10*time.Second)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.ElementsMatch(t, agentIDs, result.Terminated)
	assert.Empty(t, result.ForceTerminated)
	assert.Less(t, time.Since(start), 2*time.Second)
}

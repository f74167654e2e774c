// Package team manages agent team lifecycles: creation, staffing, state
// transitions, and graceful-then-forced disband. Each team owns one task
// board and one message bus for its lifetime.
package team

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskwave/taskwave/pkg/board"
	"github.com/taskwave/taskwave/pkg/bus"
	"github.com/taskwave/taskwave/pkg/models"
)

var (
	// ErrTeamNotFound is returned for operations on unknown team IDs.
	ErrTeamNotFound = errors.New("team not found")
	// ErrTeamNotReady is returned when setup is attempted twice or on a
	// disbanded team.
	ErrTeamNotReady = errors.New("team not in a state that allows setup")
	// ErrTooManyAgents is returned when setup exceeds the team's MaxAgents.
	ErrTooManyAgents = errors.New("too many agents for team")
	// ErrDisbandInProgress is returned for concurrent disbands of one team.
	ErrDisbandInProgress = errors.New("disband already in progress")
)

// teamState is the manager's internal record for one team.
type teamState struct {
	team       models.Team
	board      *board.Board
	bus        *bus.Bus
	acks       map[string]chan struct{}
	disbanding bool
}

// Manager owns all live teams.
type Manager struct {
	mu     sync.Mutex
	teams  map[string]*teamState
	logger *slog.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		teams:  make(map[string]*teamState),
		logger: slog.With("component", "team_lifecycle"),
	}
}

// CreateTeam creates a team in the creating state with a fresh board and bus.
func (m *Manager) CreateTeam(parentTaskID string, cfg models.TeamConfig) (models.Team, error) {
	if cfg.MaxAgents <= 0 {
		cfg = models.DefaultTeamConfig()
	}

	team := models.Team{
		ID:           uuid.NewString(),
		ParentTaskID: parentTaskID,
		State:        models.TeamStateCreating,
		Members:      make(map[string]string),
		Config:       cfg,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.teams[team.ID] = &teamState{
		team:  team,
		board: board.New(),
		bus:   bus.New(bus.DefaultInboxCapacity),
		acks:  make(map[string]chan struct{}),
	}
	m.mu.Unlock()

	m.logger.Info("Team created", "team_id", team.ID, "parent_task_id", parentTaskID)
	return copyTeam(team), nil
}

// SetupTeam registers one agent per role and moves the team to ready.
// Partial failure rolls back every agent registered so far. Returns the new
// agent IDs in role order.
func (m *Manager) SetupTeam(teamID string, roles []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.teams[teamID]
	if !ok {
		return nil, fmt.Errorf("setup %s: %w", teamID, ErrTeamNotFound)
	}
	if ts.team.State != models.TeamStateCreating {
		return nil, fmt.Errorf("setup %s: %w (state %s)", teamID, ErrTeamNotReady, ts.team.State)
	}
	if len(roles) > ts.team.Config.MaxAgents {
		return nil, fmt.Errorf("setup %s: %w (%d > %d)", teamID, ErrTooManyAgents, len(roles), ts.team.Config.MaxAgents)
	}

	var agentIDs []string
	rollback := func() {
		for _, id := range agentIDs {
			ts.bus.Unregister(id)
			delete(ts.team.Members, id)
			delete(ts.acks, id)
		}
	}

	for _, role := range roles {
		if role == "" {
			role = "researcher"
		}
		agentID := "agent-" + uuid.NewString()[:8]
		if err := ts.bus.Register(agentID); err != nil {
			rollback()
			return nil, fmt.Errorf("setup %s: registering %s agent: %w", teamID, role, err)
		}
		ts.team.Members[agentID] = role
		ts.acks[agentID] = make(chan struct{})
		agentIDs = append(agentIDs, agentID)
	}

	ts.team.State = models.TeamStateReady
	m.logger.Info("Team ready", "team_id", teamID, "agents", len(agentIDs))
	return agentIDs, nil
}

// SetTeamState transitions the team. Moving to completed stamps CompletedAt.
func (m *Manager) SetTeamState(teamID string, state models.TeamState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.teams[teamID]
	if !ok {
		return fmt.Errorf("set state %s: %w", teamID, ErrTeamNotFound)
	}
	ts.team.State = state
	if state == models.TeamStateCompleted {
		ts.team.CompletedAt = time.Now()
	}
	return nil
}

// AcknowledgeShutdown signals that an agent has drained its inbox and is
// ready to terminate. Safe to call once per agent.
func (m *Manager) AcknowledgeShutdown(teamID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.teams[teamID]
	if !ok {
		return fmt.Errorf("acknowledge %s: %w", teamID, ErrTeamNotFound)
	}
	ack, ok := ts.acks[agentID]
	if !ok {
		return fmt.Errorf("acknowledge %s: unknown agent %s", teamID, agentID)
	}
	delete(ts.acks, agentID)
	close(ack)
	return nil
}

// DisbandTeam shuts the team down: a shutdown request per member, a bounded
// wait for each acknowledgement (the budget is split evenly across members),
// force-termination of non-acknowledging agents, then teardown of the bus
// and board. Idempotent once disbanded.
func (m *Manager) DisbandTeam(teamID string, timeout time.Duration) (models.DisbandResult, error) {
	m.mu.Lock()
	ts, ok := m.teams[teamID]
	if !ok {
		m.mu.Unlock()
		return models.DisbandResult{}, fmt.Errorf("disband %s: %w", teamID, ErrTeamNotFound)
	}
	if ts.team.State == models.TeamStateDisbanded {
		m.mu.Unlock()
		return models.DisbandResult{TeamID: teamID, Success: true}, nil
	}
	if ts.disbanding {
		m.mu.Unlock()
		return models.DisbandResult{}, fmt.Errorf("disband %s: %w", teamID, ErrDisbandInProgress)
	}
	ts.disbanding = true

	members := make([]string, 0, len(ts.team.Members))
	for id := range ts.team.Members {
		members = append(members, id)
	}
	sort.Strings(members)
	acks := make(map[string]chan struct{}, len(ts.acks))
	for id, ch := range ts.acks {
		acks[id] = ch
	}
	teamBus := ts.bus
	m.mu.Unlock()

	result := models.DisbandResult{TeamID: teamID}
	perAgent := timeout
	if len(members) > 0 {
		perAgent = timeout / time.Duration(len(members))
	}

	for _, agentID := range members {
		delivery := teamBus.SendShutdownRequest("team-lifecycle", agentID, "team disbanding")
		if delivery.Status == bus.DeliveryFailed {
			// Nothing listening; the agent is gone already.
			m.logger.Warn("Shutdown request undeliverable", "team_id", teamID, "agent_id", agentID, "error", delivery.Error)
			result.Terminated = append(result.Terminated, agentID)
			continue
		}

		ack, ok := acks[agentID]
		if !ok {
			result.Terminated = append(result.Terminated, agentID)
			continue
		}
		select {
		case <-ack:
			result.Terminated = append(result.Terminated, agentID)
		case <-time.After(perAgent):
			m.logger.Warn("Agent did not acknowledge shutdown, force terminating", "team_id", teamID, "agent_id", agentID)
			result.ForceTerminated = append(result.ForceTerminated, agentID)
		}
	}

	m.mu.Lock()
	for _, agentID := range members {
		teamBus.Unregister(agentID)
		delete(ts.team.Members, agentID)
	}
	ts.acks = make(map[string]chan struct{})
	ts.board = nil
	ts.bus = nil
	ts.team.State = models.TeamStateDisbanded
	ts.team.CompletedAt = time.Now()
	ts.disbanding = false
	m.mu.Unlock()

	result.Success = len(result.Errors) == 0
	m.logger.Info("Team disbanded",
		"team_id", teamID,
		"terminated", len(result.Terminated),
		"force_terminated", len(result.ForceTerminated))
	return result, nil
}

// Team returns a copy of the team record.
func (m *Manager) Team(teamID string) (models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.teams[teamID]
	if !ok {
		return models.Team{}, fmt.Errorf("get %s: %w", teamID, ErrTeamNotFound)
	}
	return copyTeam(ts.team), nil
}

// Teams returns copies of all team records.
func (m *Manager) Teams() []models.Team {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Team, 0, len(m.teams))
	for _, ts := range m.teams {
		out = append(out, copyTeam(ts.team))
	}
	return out
}

// Board returns the team's task board, or nil once disbanded.
func (m *Manager) Board(teamID string) *board.Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.teams[teamID]; ok {
		return ts.board
	}
	return nil
}

// Bus returns the team's message bus, or nil once disbanded.
func (m *Manager) Bus(teamID string) *bus.Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.teams[teamID]; ok {
		return ts.bus
	}
	return nil
}

func copyTeam(t models.Team) models.Team {
	members := make(map[string]string, len(t.Members))
	for k, v := range t.Members {
		members[k] = v
	}
	t.Members = members
	return t
}

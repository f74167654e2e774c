package models

import "time"

// TeamState is the lifecycle state of an agent team.
type TeamState string

const (
	TeamStateCreating  TeamState = "creating"
	TeamStateReady     TeamState = "ready"
	TeamStateExecuting TeamState = "executing"
	TeamStateCompleted TeamState = "completed"
	TeamStateDisbanded TeamState = "disbanded"
)

// TeamConfig controls team sizing and claim behavior.
type TeamConfig struct {
	MaxAgents           int           `json:"max_agents" yaml:"max_agents"`
	AgentTimeout        time.Duration `json:"agent_timeout" yaml:"agent_timeout"`
	ClaimTimeout        time.Duration `json:"claim_timeout" yaml:"claim_timeout"`
	EnablePeerMessaging bool          `json:"enable_peer_messaging" yaml:"enable_peer_messaging"`
	EnableSelfClaiming  bool          `json:"enable_self_claiming" yaml:"enable_self_claiming"`
}

// DefaultTeamConfig returns the built-in team defaults.
func DefaultTeamConfig() TeamConfig {
	return TeamConfig{
		MaxAgents:           20,
		AgentTimeout:        5 * time.Minute,
		ClaimTimeout:        60 * time.Second,
		EnablePeerMessaging: true,
		EnableSelfClaiming:  false,
	}
}

// Team tracks the membership and state of one agent team.
// Members maps agent ID to role name.
type Team struct {
	ID           string            `json:"id"`
	ParentTaskID string            `json:"parent_task_id"`
	State        TeamState         `json:"state"`
	Members      map[string]string `json:"members"`
	Config       TeamConfig        `json:"config"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  time.Time         `json:"completed_at,omitzero"`
}

// DisbandResult reports the outcome of a team disband.
type DisbandResult struct {
	TeamID          string   `json:"team_id"`
	Success         bool     `json:"success"`
	Terminated      []string `json:"terminated"`
	ForceTerminated []string `json:"force_terminated"`
	Errors          []string `json:"errors,omitempty"`
}

package models

import "time"

// BoardStatus is the lifecycle state of a subtask on the task board.
type BoardStatus string

const (
	BoardStatusBlocked    BoardStatus = "blocked"
	BoardStatusPending    BoardStatus = "pending"
	BoardStatusClaimed    BoardStatus = "claimed"
	BoardStatusInProgress BoardStatus = "in_progress"
	BoardStatusCompleted  BoardStatus = "completed"
	BoardStatusFailed     BoardStatus = "failed"
)

// Terminal reports whether the board status is final.
func (s BoardStatus) Terminal() bool {
	return s == BoardStatusCompleted || s == BoardStatusFailed
}

// TaskBoardEntry is a subtask plus its board bookkeeping. ClaimedAt is set
// when an agent wins the claim; StartedAt when execution actually begins.
// A claimed entry that never starts is eligible for reclaim.
type TaskBoardEntry struct {
	Subtask     SubTask     `json:"subtask"`
	Status      BoardStatus `json:"status"`
	ClaimedBy   string      `json:"claimed_by,omitempty"`
	ClaimedAt   time.Time   `json:"claimed_at,omitzero"`
	StartedAt   time.Time   `json:"started_at,omitzero"`
	CompletedAt time.Time   `json:"completed_at,omitzero"`
	Result      string      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// ClaimResult reports the outcome of a claim attempt.
type ClaimResult struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// TaskBoardStatus is an aggregate snapshot of a board.
type TaskBoardStatus struct {
	Total      int                 `json:"total"`
	ByStatus   map[BoardStatus]int `json:"by_status"`
	Pending    int                 `json:"pending"`
	InProgress int                 `json:"in_progress"`
	Completed  int                 `json:"completed"`
	Failed     int                 `json:"failed"`
	Blocked    int                 `json:"blocked"`
}

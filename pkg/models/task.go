// Package models defines the core data types shared across the orchestration
// engine: tasks, subtasks, board entries, teams, and execution results.
package models

import "time"

// TaskStatus is the lifecycle state of a top-level task.
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusAnalyzing   TaskStatus = "analyzing"
	TaskStatusDecomposing TaskStatus = "decomposing"
	TaskStatusExecuting   TaskStatus = "executing"
	TaskStatusAggregating TaskStatus = "aggregating"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is a user-submitted unit of work before decomposition.
type Task struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	Status          TaskStatus     `json:"status"`
	ComplexityScore float64        `json:"complexity_score"`
	CreatedAt       time.Time      `json:"created_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// SubTask is one node of the decomposed task DAG. Dependencies reference
// other subtask IDs that must complete before this one becomes runnable.
type SubTask struct {
	ID                  string   `json:"id"`
	ParentTaskID        string   `json:"parent_task_id"`
	Content             string   `json:"content"`
	RoleHint            string   `json:"role_hint,omitempty"`
	Dependencies        []string `json:"dependencies,omitempty"`
	Priority            int      `json:"priority"`
	EstimatedComplexity float64  `json:"estimated_complexity"`
}

// ExecutionPlan is a batch of subtasks plus their dependency edges, ready to
// be published to a task board.
type ExecutionPlan struct {
	ParentTaskID string              `json:"parent_task_id"`
	Subtasks     []SubTask           `json:"subtasks"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
}

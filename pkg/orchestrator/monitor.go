package orchestrator

import (
	"fmt"

	"github.com/taskwave/taskwave/pkg/models"
)

// Progress maps a task's status to a 0-100 band: pending 0, analyzing 5,
// decomposing 10, executing 15-85 scaled by subtask completion,
// aggregating 90, completed 100. Failed and cancelled tasks report the
// point they reached.
func (o *Orchestrator) Progress(taskID string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.tasks[taskID]
	if !ok {
		return 0, fmt.Errorf("progress %s: %w", taskID, ErrTaskNotFound)
	}
	return clampProgress(progressFor(rec.task.Status, rec.completed, rec.total)), nil
}

func progressFor(status models.TaskStatus, completed, total int) int {
	switch status {
	case models.TaskStatusPending:
		return 0
	case models.TaskStatusAnalyzing:
		return 5
	case models.TaskStatusDecomposing:
		return 10
	case models.TaskStatusExecuting:
		if total <= 0 {
			return 15
		}
		return 15 + int(float64(completed)/float64(total)*70)
	case models.TaskStatusAggregating:
		return 90
	case models.TaskStatusCompleted:
		return 100
	default: // failed, cancelled
		if total > 0 {
			return 15 + int(float64(completed)/float64(total)*70)
		}
		return 0
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// TaskSummary is a human-oriented snapshot of one task.
type TaskSummary struct {
	TaskID             string   `json:"task_id"`
	Content            string   `json:"content"`
	TaskType           string   `json:"task_type,omitempty"`
	Status             string   `json:"status"`
	Progress           int      `json:"progress"`
	ComplexityScore    float64  `json:"complexity_score"`
	SuccessfulSubtasks int      `json:"successful_subtasks"`
	FailedSubtasks     int      `json:"failed_subtasks"`
	AgentsUsed         int      `json:"agents_used"`
	ToolCalls          int      `json:"tool_calls"`
	Errors             []string `json:"errors,omitempty"`
	TotalErrors        int      `json:"total_errors"`
}

const (
	summaryContentLimit = 200
	summaryErrorLimit   = 10
)

// Summary builds the execution summary for one task.
func (o *Orchestrator) Summary(taskID string) (TaskSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.tasks[taskID]
	if !ok {
		return TaskSummary{}, fmt.Errorf("summary %s: %w", taskID, ErrTaskNotFound)
	}

	content := rec.task.Content
	if len(content) > summaryContentLimit {
		content = content[:summaryContentLimit] + "..."
	}
	taskType, _ := rec.task.Metadata["task_type"].(string)

	summary := TaskSummary{
		TaskID:          taskID,
		Content:         content,
		TaskType:        taskType,
		Status:          string(rec.task.Status),
		Progress:        clampProgress(progressFor(rec.task.Status, rec.completed, rec.total)),
		ComplexityScore: rec.task.ComplexityScore,
		TotalErrors:     len(rec.errors),
	}

	if len(rec.errors) > summaryErrorLimit {
		summary.Errors = append([]string(nil), rec.errors[:summaryErrorLimit]...)
	} else {
		summary.Errors = append([]string(nil), rec.errors...)
	}

	if rec.result != nil {
		agents := make(map[string]struct{})
		for _, sub := range rec.result.SubResults {
			if sub.Success {
				summary.SuccessfulSubtasks++
			} else {
				summary.FailedSubtasks++
			}
			summary.ToolCalls += sub.ToolCalls
			if sub.AgentID != "" {
				agents[sub.AgentID] = struct{}{}
			}
		}
		summary.AgentsUsed = len(agents)
	}
	return summary, nil
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/taskwave/taskwave/pkg/board"
	"github.com/taskwave/taskwave/pkg/events"
	"github.com/taskwave/taskwave/pkg/gate"
	"github.com/taskwave/taskwave/pkg/models"
	"github.com/taskwave/taskwave/pkg/plan"
)

// execState accumulates outputs and accounting across one task execution.
// Workers for distinct subtasks run concurrently, so everything is behind
// the lock; claim exclusivity guarantees at most one worker per subtask.
type execState struct {
	mu           sync.Mutex
	outputs      map[string]string
	descriptions map[string]string
	retries      map[string]int
	results      map[string]models.SubTaskResult
	order        []string
	errors       []string
	completed    int
	total        int
}

func newExecState(total int) *execState {
	return &execState{
		outputs:      make(map[string]string),
		descriptions: make(map[string]string),
		retries:      make(map[string]int),
		results:      make(map[string]models.SubTaskResult),
		total:        total,
	}
}

func (st *execState) setOutput(id, output string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.outputs[id] = output
}

func (st *execState) clearOutput(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.outputs, id)
}

func (st *execState) record(res models.SubTaskResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.results[res.SubtaskID]; !ok {
		st.order = append(st.order, res.SubtaskID)
	}
	st.results[res.SubtaskID] = res
}

func (st *execState) addError(msg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.errors = append(st.errors, msg)
}

func (st *execState) errorLog() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]string(nil), st.errors...)
}

func (st *execState) markCompleted() (completed, total int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.completed++
	return st.completed, st.total
}

func (st *execState) retryCount(id string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.retries[id]
}

func (st *execState) incRetry(id string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.retries[id]++
	return st.retries[id]
}

func (st *execState) depOutputs(deps []string) map[string]string {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]string, len(deps))
	for _, dep := range deps {
		if output, ok := st.outputs[dep]; ok {
			out[dep] = output
		}
	}
	return out
}

func (st *execState) description(id string) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.descriptions[id]
}

// collect returns the successful outputs in flow order plus all recorded
// sub-results.
func (st *execState) collect(flow *plan.Flow) (outputs []string, subResults []models.SubTaskResult) {
	st.mu.Lock()
	defer st.mu.Unlock()

	seen := make(map[string]struct{})
	appendOutput := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		if output, ok := st.outputs[id]; ok && output != "" {
			outputs = append(outputs, output)
		}
	}
	if flow != nil {
		for _, step := range flow.Steps() {
			appendOutput(step.StepID)
		}
	}
	for _, id := range st.order {
		appendOutput(id)
	}
	for _, id := range st.order {
		subResults = append(subResults, st.results[id])
	}
	return outputs, subResults
}

// runSubtask is the wave runner: it resolves the agent, enriches the prompt
// with dependency outputs, executes, and then loops through the quality
// gate. Gate retries re-run inside the same claim.
func (e *Executor) runSubtask(ctx context.Context, st *execState, taskID string, taskPlan *plan.TaskPlan, b *board.Board, roleAgents map[string]string, sub models.SubTask) (string, error) {
	role := e.roles.Resolve(sub.RoleHint)
	agentID := roleAgents[role.Name]
	if agentID == "" {
		agentID = "agent-" + uuid.NewString()[:8]
	}
	runner := e.runners.Runner(agentID, role)
	flow := taskPlan.Flow

	if flow.Has(sub.ID) {
		_ = flow.SetStatus(sub.ID, plan.StepStatusInProgress)
	}

	var output string
	for {
		run := sub
		run.Content = e.enrich(st, sub)
		res, err := runner.Run(ctx, run)
		if res != nil {
			st.record(*res)
		}
		if err == nil && res != nil && !res.Success {
			err = errors.New(res.Error)
		}
		if err != nil {
			st.addError(fmt.Sprintf("subtask %s: %s", sub.ID, err))
			if flow.Has(sub.ID) {
				_ = flow.SetStatus(sub.ID, plan.StepStatusFailed)
			}
			e.publish(events.TypeSubtaskFailed, taskID, map[string]any{"subtask_id": sub.ID, "error": err.Error()})
			return "", err
		}
		output = res.Output
		st.setOutput(sub.ID, output)

		if e.gate == nil || !flow.Has(sub.ID) {
			break
		}
		step, err := flow.Get(sub.ID)
		if err != nil {
			break
		}
		attempt := st.retryCount(sub.ID) + 1
		verdict := e.gate.Review(ctx, step, gate.StepResult{SubtaskID: sub.ID, Output: output, Success: true}, attempt)
		e.logger.Info("Quality gate verdict",
			"task_id", taskID, "subtask_id", sub.ID,
			"action", verdict.Action, "score", verdict.QualityScore, "attempt", attempt)

		if verdict.Action == gate.ActionRetry {
			if st.retryCount(sub.ID) < e.gate.MaxRetries() {
				st.incRetry(sub.ID)
				st.clearOutput(sub.ID)
				continue
			}
			e.logger.Warn("Retry budget exhausted, keeping last output", "subtask_id", sub.ID)
		}
		if verdict.Action == gate.ActionAddStep && len(verdict.Adjustments) > 0 {
			e.gate.Apply(flow, b, taskID, verdict.Adjustments)
		}
		break
	}

	if flow.Has(sub.ID) {
		_ = flow.SetStatus(sub.ID, plan.StepStatusCompleted)
	}
	completed, total := st.markCompleted()
	e.setStatus(taskID, models.TaskStatusExecuting, completed, total)
	e.publish(events.TypeSubtaskCompleted, taskID, map[string]any{"subtask_id": sub.ID, "agent_id": agentID})
	return output, nil
}

// enrich prepends the outputs of completed dependencies to the subtask
// prompt. Descriptions and outputs are truncated so a deep DAG cannot blow
// up the context window.
func (e *Executor) enrich(st *execState, sub models.SubTask) string {
	depOutputs := st.depOutputs(sub.Dependencies)
	if len(depOutputs) == 0 {
		return sub.Content
	}

	var blocks []string
	for _, dep := range sub.Dependencies {
		output, ok := depOutputs[dep]
		if !ok {
			continue
		}
		desc := st.description(dep)
		if desc == "" {
			desc = dep
		}
		blocks = append(blocks, fmt.Sprintf("### %s\n%s",
			truncate(desc, e.cfg.DepDescLimit),
			truncate(output, e.cfg.DepOutputLimit)))
	}

	var sb strings.Builder
	sb.WriteString("Results from prerequisite tasks:\n\n")
	sb.WriteString(strings.Join(blocks, "\n\n---\n\n"))
	sb.WriteString("\n\nYour subtask:\n")
	sb.WriteString(sub.Content)
	return sb.String()
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

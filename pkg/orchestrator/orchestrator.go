// Package orchestrator is the main agent: it accepts tasks, plans them,
// drives execution through the task executor, and answers progress and
// summary queries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskwave/taskwave/pkg/events"
	"github.com/taskwave/taskwave/pkg/executor"
	"github.com/taskwave/taskwave/pkg/models"
	"github.com/taskwave/taskwave/pkg/plan"
)

// Config controls task admission and planning.
type Config struct {
	// ComplexityThreshold separates single-agent tasks from team tasks.
	ComplexityThreshold float64 `yaml:"complexity_threshold"`

	// MinContentLength and MaxContentLength bound submitted task content.
	MinContentLength int `yaml:"min_content_length"`
	MaxContentLength int `yaml:"max_content_length"`

	// UseTeamMode enables planned team execution for complex tasks.
	UseTeamMode bool `yaml:"use_team_mode"`
}

// DefaultConfig returns the built-in orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		ComplexityThreshold: 3.0,
		MinContentLength:    1,
		MaxContentLength:    100000,
		UseTeamMode:         true,
	}
}

var (
	// ErrTaskNotFound is returned for unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidContent is returned when submitted content is out of bounds.
	ErrInvalidContent = errors.New("invalid task content")
	// ErrTaskNotRunnable is returned when executing a terminal or running task.
	ErrTaskNotRunnable = errors.New("task not runnable")
)

// taskRecord is the orchestrator's bookkeeping for one task.
type taskRecord struct {
	task      models.Task
	result    *models.TaskResult
	cancel    context.CancelFunc
	running   bool
	completed int
	total     int
	errors    []string
}

// Orchestrator is the main agent.
type Orchestrator struct {
	mu      sync.Mutex
	tasks   map[string]*taskRecord
	exec    *executor.Executor
	planner plan.Planner
	pub     *events.Publisher
	cfg     Config
	logger  *slog.Logger
}

// New creates an orchestrator and wires itself into the executor's progress
// and warning callbacks. planner may be nil, in which case every task runs
// single-agent with a heuristic complexity score.
func New(exec *executor.Executor, planner plan.Planner, pub *events.Publisher, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.ComplexityThreshold <= 0 {
		cfg.ComplexityThreshold = def.ComplexityThreshold
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = def.MinContentLength
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = def.MaxContentLength
	}

	o := &Orchestrator{
		tasks:   make(map[string]*taskRecord),
		exec:    exec,
		planner: planner,
		pub:     pub,
		cfg:     cfg,
		logger:  slog.With("component", "orchestrator"),
	}
	exec.SetProgressFunc(o.onProgress)
	exec.SetWarningFunc(o.onWarning)
	if pub != nil {
		exec.SetEventPublisher(pub)
	}
	return o
}

// SubmitTask validates and registers a new task: content bounds, keyword
// classification, and an initial complexity estimate with a heuristic
// fallback when the planner is unavailable or fails. Caller metadata is
// carried on the task; the classifier's task_type key wins on collision.
func (o *Orchestrator) SubmitTask(ctx context.Context, content string, metadata map[string]any) (models.Task, error) {
	if len(content) < o.cfg.MinContentLength || len(content) > o.cfg.MaxContentLength {
		return models.Task{}, fmt.Errorf("%w: length %d outside [%d, %d]",
			ErrInvalidContent, len(content), o.cfg.MinContentLength, o.cfg.MaxContentLength)
	}

	taskMeta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		taskMeta[k] = v
	}
	taskMeta["task_type"] = ClassifyTaskType(content)

	task := models.Task{
		ID:        uuid.NewString(),
		Content:   content,
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now(),
		Metadata:  taskMeta,
	}

	if o.planner != nil {
		score, err := o.planner.EstimateComplexity(ctx, task)
		if err != nil {
			o.logger.Warn("Complexity estimation failed, using heuristic", "task_id", task.ID, "error", err)
			task.Metadata["complexity_estimation_error"] = err.Error()
			task.ComplexityScore = plan.HeuristicComplexity(content)
		} else {
			task.ComplexityScore = score
		}
	} else {
		task.ComplexityScore = plan.HeuristicComplexity(content)
	}

	o.mu.Lock()
	o.tasks[task.ID] = &taskRecord{task: task}
	o.mu.Unlock()

	o.logger.Info("Task submitted",
		"task_id", task.ID,
		"task_type", task.Metadata["task_type"],
		"complexity", task.ComplexityScore)
	o.publish(events.TypeTaskStatus, task.ID, map[string]any{"status": task.Status})
	return copyTask(task), nil
}

// ExecuteTask runs a submitted task to completion. Complex tasks are planned
// and run by an agent team; simple ones (or planning failures) run single
// agent. The call blocks until the task finishes, times out, or is
// cancelled.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) (*models.TaskResult, error) {
	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("execute %s: %w", taskID, ErrTaskNotFound)
	}
	if rec.running || rec.task.Status.Terminal() {
		o.mu.Unlock()
		return nil, fmt.Errorf("execute %s: %w (status %s)", taskID, ErrTaskNotRunnable, rec.task.Status)
	}
	execCtx, cancel := context.WithCancel(ctx)
	rec.running = true
	rec.cancel = cancel
	rec.task.Status = models.TaskStatusAnalyzing
	task := rec.task
	o.mu.Unlock()
	defer cancel()

	o.publish(events.TypeTaskStatus, taskID, map[string]any{"status": models.TaskStatusAnalyzing})

	var result *models.TaskResult
	taskPlan := o.planTask(execCtx, &task)
	if taskPlan != nil {
		result = o.exec.ExecuteWithPlan(execCtx, task, taskPlan)
	} else {
		result = o.exec.Execute(execCtx, task)
	}

	o.mu.Lock()
	rec.running = false
	rec.cancel = nil
	rec.result = result
	switch {
	case rec.task.Status == models.TaskStatusCancelled:
		// Cancellation already recorded; keep it.
	case result.Success:
		rec.task.Status = models.TaskStatusCompleted
	case strings.HasPrefix(result.Error, executor.TimeoutErrorPrefix):
		// Timed-out tasks are cancelled, not failed.
		rec.task.Status = models.TaskStatusCancelled
	default:
		rec.task.Status = models.TaskStatusFailed
	}
	if result.Error != "" {
		rec.errors = append(rec.errors, result.Error)
	}
	for _, sub := range result.SubResults {
		if !sub.Success && sub.Error != "" {
			rec.errors = append(rec.errors, fmt.Sprintf("subtask %s: %s", sub.SubtaskID, sub.Error))
		}
	}
	status := rec.task.Status
	o.mu.Unlock()

	o.publish(events.TypeTaskStatus, taskID, map[string]any{"status": status})
	o.logger.Info("Task finished", "task_id", taskID, "status", status, "success", result.Success)
	return result, nil
}

// planTask decides team mode and produces the plan, or nil for single-agent
// execution.
func (o *Orchestrator) planTask(ctx context.Context, task *models.Task) *plan.TaskPlan {
	if o.planner == nil || !o.cfg.UseTeamMode || task.ComplexityScore < o.cfg.ComplexityThreshold {
		return nil
	}

	o.setStatus(task.ID, models.TaskStatusDecomposing)
	taskPlan, err := o.planner.Plan(ctx, *task)
	if err != nil {
		o.logger.Warn("Planning failed, falling back to single-agent execution", "task_id", task.ID, "error", err)
		o.addError(task.ID, fmt.Sprintf("planning failed: %s", err))
		return nil
	}
	if taskPlan == nil || taskPlan.Flow == nil || taskPlan.Flow.Len() == 0 {
		return nil
	}
	return taskPlan
}

// CancelTask cancels a task. Returns false for unknown or already terminal
// tasks, so a second cancel reports false.
func (o *Orchestrator) CancelTask(taskID string) bool {
	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if !ok || rec.task.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	rec.task.Status = models.TaskStatusCancelled
	cancel := rec.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.logger.Info("Task cancelled", "task_id", taskID)
	o.publish(events.TypeTaskStatus, taskID, map[string]any{"status": models.TaskStatusCancelled})
	return true
}

// ShutdownSummary reports what a graceful shutdown did.
type ShutdownSummary struct {
	CancelledTasks []string `json:"cancelled_tasks"`
	Errors         []string `json:"errors,omitempty"`
}

// GracefulShutdown cancels every active task. Executions observe their
// context and disband their teams on the way out.
func (o *Orchestrator) GracefulShutdown() ShutdownSummary {
	o.mu.Lock()
	var active []string
	for id, rec := range o.tasks {
		if rec.running {
			active = append(active, id)
		}
	}
	o.mu.Unlock()
	sort.Strings(active)

	var summary ShutdownSummary
	for _, id := range active {
		if o.CancelTask(id) {
			summary.CancelledTasks = append(summary.CancelledTasks, id)
		} else {
			summary.Errors = append(summary.Errors, fmt.Sprintf("failed to cancel %s", id))
		}
	}
	o.logger.Info("Graceful shutdown", "cancelled", len(summary.CancelledTasks), "errors", len(summary.Errors))
	return summary
}

// Task returns a copy of one task.
func (o *Orchestrator) Task(taskID string) (models.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.tasks[taskID]
	if !ok {
		return models.Task{}, fmt.Errorf("get %s: %w", taskID, ErrTaskNotFound)
	}
	return copyTask(rec.task), nil
}

// Result returns the task's final result, or nil while it is running.
func (o *Orchestrator) Result(taskID string) (*models.TaskResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", taskID, ErrTaskNotFound)
	}
	return rec.result, nil
}

// Tasks returns copies of all known tasks, newest first.
func (o *Orchestrator) Tasks() []models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Task, 0, len(o.tasks))
	for _, rec := range o.tasks {
		out = append(out, copyTask(rec.task))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// onProgress is the executor's progress callback.
func (o *Orchestrator) onProgress(taskID string, status models.TaskStatus, completed, total int) {
	o.mu.Lock()
	if rec, ok := o.tasks[taskID]; ok {
		if !rec.task.Status.Terminal() {
			rec.task.Status = status
		}
		rec.completed = completed
		rec.total = total
	}
	o.mu.Unlock()
	o.publish(events.TypeTaskProgress, taskID, map[string]any{"status": status, "completed": completed, "total": total})
}

// onWarning is the executor's timeout warning callback.
func (o *Orchestrator) onWarning(taskID string, elapsed time.Duration) {
	o.addError(taskID, fmt.Sprintf("timeout_warning: still running after %s", elapsed.Round(time.Second)))
}

func (o *Orchestrator) setStatus(taskID string, status models.TaskStatus) {
	o.mu.Lock()
	if rec, ok := o.tasks[taskID]; ok && !rec.task.Status.Terminal() {
		rec.task.Status = status
	}
	o.mu.Unlock()
	o.publish(events.TypeTaskStatus, taskID, map[string]any{"status": status})
}

func (o *Orchestrator) addError(taskID, msg string) {
	o.mu.Lock()
	if rec, ok := o.tasks[taskID]; ok {
		rec.errors = append(rec.errors, msg)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) publish(typ events.EventType, taskID string, payload map[string]any) {
	if o.pub != nil {
		o.pub.Publish(typ, taskID, payload)
	}
}

func copyTask(t models.Task) models.Task {
	metadata := make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		metadata[k] = v
	}
	t.Metadata = metadata
	return t
}

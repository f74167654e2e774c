// Package executor drives one task from plan to aggregated result: it staffs
// a team, publishes the plan's steps to the team board, runs them in waves,
// applies quality gates, and aggregates the outputs.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskwave/taskwave/pkg/agent"
	"github.com/taskwave/taskwave/pkg/events"
	"github.com/taskwave/taskwave/pkg/gate"
	"github.com/taskwave/taskwave/pkg/models"
	"github.com/taskwave/taskwave/pkg/plan"
	"github.com/taskwave/taskwave/pkg/team"
	"github.com/taskwave/taskwave/pkg/wave"
)

// Config controls task execution.
type Config struct {
	// ExecutionTimeout is the wall-clock budget for one task.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// TimeoutWarnRatio is the fraction of the budget after which a timeout
	// warning fires.
	TimeoutWarnRatio float64 `yaml:"timeout_warn_ratio"`

	// DisbandTimeout is the total budget for gracefully disbanding a team.
	DisbandTimeout time.Duration `yaml:"disband_timeout"`

	// DepOutputLimit truncates dependency outputs injected into prompts.
	DepOutputLimit int `yaml:"dep_output_limit"`

	// DepDescLimit truncates dependency descriptions in prompt headers.
	DepDescLimit int `yaml:"dep_desc_limit"`
}

// DefaultConfig returns the built-in executor defaults.
func DefaultConfig() Config {
	return Config{
		ExecutionTimeout: time.Hour,
		TimeoutWarnRatio: 0.8,
		DisbandTimeout:   30 * time.Second,
		DepOutputLimit:   4000,
		DepDescLimit:     100,
	}
}

// TimeoutErrorPrefix starts the Error of results that hit ExecutionTimeout.
// The orchestrator keys off it to mark timed-out tasks cancelled.
const TimeoutErrorPrefix = "Task execution timed out"

// ProgressFunc receives progress callbacks during execution.
type ProgressFunc func(taskID string, status models.TaskStatus, completed, total int)

// WarningFunc receives timeout warnings.
type WarningFunc func(taskID string, elapsed time.Duration)

// Executor runs tasks with teams of agents.
type Executor struct {
	teams   *team.Manager
	waves   *wave.Executor
	roles   *agent.Registry
	runners agent.RunnerFactory
	cfg     Config

	gate     *gate.Gate
	pub      *events.Publisher
	progress ProgressFunc
	warning  WarningFunc

	logger *slog.Logger
}

// New creates an executor, filling zero config fields with defaults.
func New(teams *team.Manager, waves *wave.Executor, roles *agent.Registry, runners agent.RunnerFactory, cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}
	if cfg.TimeoutWarnRatio <= 0 || cfg.TimeoutWarnRatio >= 1 {
		cfg.TimeoutWarnRatio = def.TimeoutWarnRatio
	}
	if cfg.DisbandTimeout <= 0 {
		cfg.DisbandTimeout = def.DisbandTimeout
	}
	if cfg.DepOutputLimit <= 0 {
		cfg.DepOutputLimit = def.DepOutputLimit
	}
	if cfg.DepDescLimit <= 0 {
		cfg.DepDescLimit = def.DepDescLimit
	}
	return &Executor{
		teams:   teams,
		waves:   waves,
		roles:   roles,
		runners: runners,
		cfg:     cfg,
		logger:  slog.With("component", "task_executor"),
	}
}

// SetGate enables quality gating.
func (e *Executor) SetGate(g *gate.Gate) { e.gate = g }

// SetEventPublisher enables telemetry events.
func (e *Executor) SetEventPublisher(p *events.Publisher) { e.pub = p }

// SetProgressFunc registers the progress callback.
func (e *Executor) SetProgressFunc(fn ProgressFunc) { e.progress = fn }

// SetWarningFunc registers the timeout warning callback.
func (e *Executor) SetWarningFunc(fn WarningFunc) { e.warning = fn }

// ExecuteWithPlan runs a task through its planned flow with a team of
// agents. A nil or empty flow falls back to single-agent execution. The
// team is always disbanded on the way out, cancellation included.
func (e *Executor) ExecuteWithPlan(ctx context.Context, task models.Task, taskPlan *plan.TaskPlan) *models.TaskResult {
	if taskPlan == nil || taskPlan.Flow == nil || taskPlan.Flow.Len() == 0 {
		e.logger.Warn("Empty execution flow, falling back to single-agent execution", "task_id", task.ID)
		return e.Execute(ctx, task)
	}

	start := time.Now()
	subtasks := subtasksFromPlan(task.ID, taskPlan)
	if len(subtasks) == 0 {
		return e.Execute(ctx, task)
	}

	e.setStatus(task.ID, models.TaskStatusExecuting, 0, len(subtasks))

	t, err := e.teams.CreateTeam(task.ID, models.DefaultTeamConfig())
	if err != nil {
		return e.failure(task.ID, start, fmt.Errorf("failed to create team: %w", err))
	}
	defer e.cleanupTeam(t.ID)

	roleList := distinctRoles(subtasks)
	agentIDs, err := e.teams.SetupTeam(t.ID, roleList)
	if err != nil {
		return e.failure(task.ID, start, fmt.Errorf("failed to set up team: %w", err))
	}
	roleAgents := make(map[string]string, len(roleList))
	for i, role := range roleList {
		roleAgents[role] = agentIDs[i]
	}
	// Runner goroutines have all drained by the time the deferred cleanup
	// fires, so the agents staffed here acknowledge shutdown up front and
	// disband never waits out its per-agent timeout for them.
	defer func() {
		for _, agentID := range agentIDs {
			_ = e.teams.AcknowledgeShutdown(t.ID, agentID)
		}
	}()
	_ = e.teams.SetTeamState(t.ID, models.TeamStateExecuting)
	e.publish(events.TypeTeamState, task.ID, map[string]any{"team_id": t.ID, "state": models.TeamStateExecuting})

	b := e.teams.Board(t.ID)
	if err := b.Publish(subtasks, nil); err != nil {
		return e.failure(task.ID, start, fmt.Errorf("failed to publish subtasks: %w", err))
	}

	st := newExecState(len(subtasks))
	for _, sub := range subtasks {
		st.descriptions[sub.ID] = sub.Content
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()
	stopWarn := e.watchTimeout(execCtx, task.ID, st, start)
	defer stopWarn()

	runner := func(runCtx context.Context, sub models.SubTask) (string, error) {
		return e.runSubtask(runCtx, st, task.ID, taskPlan, b, roleAgents, sub)
	}
	waveRes, _ := e.waves.Execute(execCtx, b, runner)

	_ = e.teams.SetTeamState(t.ID, models.TeamStateCompleted)

	result := e.assemble(task.ID, start, st, taskPlan, waveRes)
	switch {
	case ctx.Err() != nil:
		result.Success = false
		result.Error = "Task cancelled"
	case execCtx.Err() != nil:
		result.Success = false
		result.Error = fmt.Sprintf("%s after %.0f seconds", TimeoutErrorPrefix, e.cfg.ExecutionTimeout.Seconds())
	}
	return result
}

// Execute runs a task as a single subtask with one default-role agent. Used
// directly for simple tasks and as the fallback for empty plans.
func (e *Executor) Execute(ctx context.Context, task models.Task) *models.TaskResult {
	start := time.Now()
	e.setStatus(task.ID, models.TaskStatusExecuting, 0, 1)

	role := e.roles.Resolve(agent.DefaultRole)
	agentID := "agent-" + uuid.NewString()[:8]
	runner := e.runners.Runner(agentID, role)

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	sub := models.SubTask{
		ID:           task.ID + "-main",
		ParentTaskID: task.ID,
		Content:      task.Content,
		RoleHint:     role.Name,
	}
	res, err := runner.Run(execCtx, sub)

	result := &models.TaskResult{
		TaskID:        task.ID,
		OutputType:    "report",
		ExecutionTime: time.Since(start),
	}
	if res != nil {
		result.SubResults = []models.SubTaskResult{*res}
	}
	switch {
	case ctx.Err() != nil:
		result.Error = "Task cancelled"
	case execCtx.Err() != nil:
		result.Error = fmt.Sprintf("%s after %.0f seconds", TimeoutErrorPrefix, e.cfg.ExecutionTimeout.Seconds())
	case err != nil:
		result.Error = err.Error()
	case !res.Success:
		result.Error = res.Error
	default:
		result.Success = true
		result.Output = res.Output
	}
	return result
}

// watchTimeout fires the timeout warning once the configured fraction of
// the budget has elapsed. The returned stop function cancels the watch.
func (e *Executor) watchTimeout(ctx context.Context, taskID string, st *execState, start time.Time) func() {
	done := make(chan struct{})
	go func() {
		warnAfter := time.Duration(float64(e.cfg.ExecutionTimeout) * e.cfg.TimeoutWarnRatio)
		select {
		case <-time.After(warnAfter):
			elapsed := time.Since(start)
			e.logger.Warn("Task approaching execution timeout", "task_id", taskID, "elapsed", elapsed)
			st.addError(fmt.Sprintf("timeout_warning: %.0f%% of execution budget used", e.cfg.TimeoutWarnRatio*100))
			e.publish(events.TypeTaskWarning, taskID, map[string]any{"elapsed": elapsed.String()})
			if e.warning != nil {
				e.warning(taskID, elapsed)
			}
		case <-done:
		case <-ctx.Done():
		}
	}()
	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}

// cleanupTeam disbands the team unless it is already disbanded.
func (e *Executor) cleanupTeam(teamID string) {
	t, err := e.teams.Team(teamID)
	if err != nil || t.State == models.TeamStateDisbanded {
		return
	}
	if _, err := e.teams.DisbandTeam(teamID, e.cfg.DisbandTimeout); err != nil && !errors.Is(err, team.ErrDisbandInProgress) {
		e.logger.Error("Failed to disband team", "team_id", teamID, "error", err)
	}
}

// assemble builds the aggregated task result from the wave outcome.
func (e *Executor) assemble(taskID string, start time.Time, st *execState, taskPlan *plan.TaskPlan, waveRes *models.WaveExecutionResult) *models.TaskResult {
	e.setStatus(taskID, models.TaskStatusAggregating, waveRes.Completed, waveRes.TotalTasks)

	outputs, subResults := st.collect(taskPlan.Flow)
	var output string
	switch len(outputs) {
	case 0:
		if waveRes.Completed > 0 {
			output = fmt.Sprintf("Completed %d/%d tasks in %d waves", waveRes.Completed, waveRes.TotalTasks, waveRes.TotalWaves)
		}
	case 1:
		output = outputs[0]
	default:
		output = strings.Join(outputs, "\n\n---\n\n")
	}

	result := &models.TaskResult{
		TaskID:        taskID,
		Success:       waveRes.Failed == 0 && waveRes.Completed > 0,
		Output:        output,
		ExecutionTime: time.Since(start),
		SubResults:    subResults,
		OutputType:    "report",
		Metadata: map[string]any{
			"wave_execution_result": waveRes,
			"task_plan":             taskPlan,
		},
	}
	if errs := st.errorLog(); len(errs) > 0 {
		result.Metadata["errors"] = errs
	}
	if waveRes.Failed > 0 {
		result.Error = fmt.Sprintf("%d tasks failed", waveRes.Failed)
	}
	return result
}

func (e *Executor) failure(taskID string, start time.Time, err error) *models.TaskResult {
	e.logger.Error("Task execution failed", "task_id", taskID, "error", err)
	return &models.TaskResult{
		TaskID:        taskID,
		Error:         err.Error(),
		ExecutionTime: time.Since(start),
		OutputType:    "report",
	}
}

func (e *Executor) setStatus(taskID string, status models.TaskStatus, completed, total int) {
	if e.progress != nil {
		e.progress(taskID, status, completed, total)
	}
	e.publish(events.TypeTaskStatus, taskID, map[string]any{"status": status, "completed": completed, "total": total})
}

func (e *Executor) publish(typ events.EventType, taskID string, payload map[string]any) {
	if e.pub != nil {
		e.pub.Publish(typ, taskID, payload)
	}
}

// subtasksFromPlan converts live flow steps to subtasks and overlays the
// planner's suggested agents positionally.
func subtasksFromPlan(taskID string, taskPlan *plan.TaskPlan) []models.SubTask {
	steps := taskPlan.Flow.Steps()
	var subtasks []models.SubTask
	for _, step := range steps {
		if step.Status == plan.StepStatusSkipped {
			continue
		}
		subtasks = append(subtasks, models.SubTask{
			ID:                  step.StepID,
			ParentTaskID:        taskID,
			Content:             step.Description,
			RoleHint:            step.AgentType,
			Dependencies:        step.Dependencies,
			Priority:            step.StepNumber,
			EstimatedComplexity: 1.0,
		})
	}
	for i := range subtasks {
		if i < len(taskPlan.SuggestedAgents) && taskPlan.SuggestedAgents[i].AgentType != "" {
			subtasks[i].RoleHint = taskPlan.SuggestedAgents[i].AgentType
		}
	}
	return subtasks
}

// distinctRoles returns the unique role hints in first-seen order, with
// empty hints mapped to the default role.
func distinctRoles(subtasks []models.SubTask) []string {
	seen := make(map[string]struct{})
	var roles []string
	for _, sub := range subtasks {
		role := sub.RoleHint
		if role == "" {
			role = agent.DefaultRole
		}
		if _, ok := seen[role]; !ok {
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}
	return roles
}

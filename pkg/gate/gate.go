// Package gate implements quality gates: per-step output review with
// verdicts that can retry a step or adjust the remaining execution flow
// while it is running.
package gate

import (
	"context"
	"log/slog"

	"github.com/taskwave/taskwave/pkg/board"
	"github.com/taskwave/taskwave/pkg/models"
	"github.com/taskwave/taskwave/pkg/plan"
)

// Action is the gate's verdict on one step result.
type Action string

const (
	ActionContinue Action = "continue"
	ActionRetry    Action = "retry"
	ActionAddStep  Action = "add_step"
)

// AdjustmentType classifies one flow adjustment.
type AdjustmentType string

const (
	AdjustAddStep    AdjustmentType = "add_step"
	AdjustModifyStep AdjustmentType = "modify_step"
	AdjustRemoveStep AdjustmentType = "remove_step"
)

// Adjustment is one requested change to the execution flow.
type Adjustment struct {
	Type           AdjustmentType `json:"type"`
	StepID         string         `json:"step_id"`
	Name           string         `json:"name,omitempty"`
	Description    string         `json:"description,omitempty"`
	AgentType      string         `json:"agent_type,omitempty"`
	ExpectedOutput string         `json:"expected_output,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// Verdict is the gate's decision for one step attempt.
type Verdict struct {
	StepID       string       `json:"step_id"`
	QualityScore float64      `json:"quality_score"`
	Action       Action       `json:"action"`
	Reason       string       `json:"reason,omitempty"`
	Adjustments  []Adjustment `json:"adjustments,omitempty"`
	Attempt      int          `json:"attempt"`
}

// StepResult is the material an evaluator reviews.
type StepResult struct {
	SubtaskID string `json:"subtask_id"`
	Output    string `json:"output"`
	Success   bool   `json:"success"`
}

// Evaluator scores one step result. Implementations typically call an LLM.
type Evaluator interface {
	Evaluate(ctx context.Context, step plan.Step, result StepResult) (*Verdict, error)
}

// DefaultThreshold is the quality score at and above which any verdict
// except add_step collapses to continue.
const DefaultThreshold = 7.0

// DefaultMaxRetries caps gate-driven retries per step.
const DefaultMaxRetries = 2

// Gate wraps an evaluator with threshold and failure-tolerance policy.
// Review never fails: an evaluator error yields a passing continue verdict
// so a broken reviewer cannot stall execution.
type Gate struct {
	evaluator  Evaluator
	threshold  float64
	maxRetries int
	logger     *slog.Logger
}

// New creates a gate. threshold <= 0 selects DefaultThreshold; maxRetries
// < 0 selects DefaultMaxRetries.
func New(evaluator Evaluator, threshold float64, maxRetries int) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Gate{
		evaluator:  evaluator,
		threshold:  threshold,
		maxRetries: maxRetries,
		logger:     slog.With("component", "quality_gate"),
	}
}

// MaxRetries returns the per-step retry cap.
func (g *Gate) MaxRetries() int { return g.maxRetries }

// Review evaluates one step attempt and applies the threshold override.
func (g *Gate) Review(ctx context.Context, step plan.Step, result StepResult, attempt int) Verdict {
	verdict, err := g.evaluator.Evaluate(ctx, step, result)
	if err != nil {
		g.logger.Warn("Evaluator failed, passing step through", "step_id", step.StepID, "error", err)
		return Verdict{StepID: step.StepID, QualityScore: DefaultThreshold, Action: ActionContinue, Reason: "evaluator unavailable", Attempt: attempt}
	}
	v := *verdict
	v.StepID = step.StepID
	v.Attempt = attempt
	if v.Action == "" {
		v.Action = ActionContinue
	}
	if v.QualityScore >= g.threshold && v.Action != ActionAddStep {
		v.Action = ActionContinue
	}
	return v
}

// Apply mutates the flow per the adjustments and keeps the board in sync:
// added steps are published as subtasks, and skipped steps are marked
// completed on the board so their dependents still unlock. Individual
// adjustment failures are logged and skipped, never fatal.
func (g *Gate) Apply(flow *plan.Flow, b *board.Board, parentTaskID string, adjustments []Adjustment) {
	var added []models.SubTask

	for _, adj := range adjustments {
		switch adj.Type {
		case AdjustAddStep:
			step := plan.Step{
				StepID:         adj.StepID,
				Name:           adj.Name,
				Description:    adj.Description,
				AgentType:      adj.AgentType,
				ExpectedOutput: adj.ExpectedOutput,
				Dependencies:   adj.Dependencies,
			}
			filtered, err := flow.AddStep(step, adj.Reason)
			if len(filtered) > 0 {
				g.logger.Warn("Dropped unknown dependencies from added step", "step_id", adj.StepID, "dropped", filtered)
			}
			if err != nil {
				g.logger.Warn("Failed to add step", "step_id", adj.StepID, "error", err)
				continue
			}
			final, err := flow.Get(adj.StepID)
			if err != nil {
				continue
			}
			added = append(added, models.SubTask{
				ID:                  final.StepID,
				ParentTaskID:        parentTaskID,
				Content:             final.Description,
				RoleHint:            final.AgentType,
				Dependencies:        final.Dependencies,
				Priority:            final.StepNumber,
				EstimatedComplexity: 1.0,
			})

		case AdjustModifyStep:
			if err := flow.ModifyStep(adj.StepID, adj.Description, adj.Dependencies, adj.Reason); err != nil {
				g.logger.Warn("Failed to modify step", "step_id", adj.StepID, "error", err)
			}

		case AdjustRemoveStep:
			if err := flow.SkipStep(adj.StepID, adj.Reason); err != nil {
				g.logger.Warn("Failed to skip step", "step_id", adj.StepID, "error", err)
				continue
			}
			g.skipOnBoard(b, adj.StepID)

		default:
			g.logger.Warn("Unknown adjustment type", "type", adj.Type, "step_id", adj.StepID)
		}
	}

	if len(added) > 0 && b != nil {
		if err := b.Publish(added, nil); err != nil {
			g.logger.Warn("Failed to publish added steps", "count", len(added), "error", err)
		} else {
			g.logger.Info("Published gate-added steps", "count", len(added))
		}
	}
}

// skipOnBoard marks a skipped step's board entry completed so downstream
// unlock treats it as done. Entries already claimed or finished are left
// alone.
func (g *Gate) skipOnBoard(b *board.Board, stepID string) {
	if b == nil {
		return
	}
	entry, err := b.Get(stepID)
	if err != nil {
		return // never published, nothing to sync
	}
	switch entry.Status {
	case models.BoardStatusPending, models.BoardStatusBlocked:
		_ = b.UpdateStatus(stepID, models.BoardStatusCompleted, "skipped by quality gate")
		b.OnCompleted(stepID)
	}
}

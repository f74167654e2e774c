// Package plan defines execution plans: ordered step flows produced by a
// planner and adjusted at runtime by quality gates.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// StepStatus is the lifecycle state of a flow step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// Step is one unit of a planned execution flow.
type Step struct {
	StepID         string     `json:"step_id"`
	StepNumber     int        `json:"step_number"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	AgentType      string     `json:"agent_type"`
	ExpectedOutput string     `json:"expected_output,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	Status         StepStatus `json:"status"`
}

// AdjustmentRecord is one entry of a flow's adjustment history.
type AdjustmentRecord struct {
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
	StepID string    `json:"step_id"`
	Reason string    `json:"reason,omitempty"`
}

// ErrFlowCycle is returned when flow step dependencies are not a DAG.
var ErrFlowCycle = errors.New("execution flow has a dependency cycle")

// ErrStepNotFound is returned for operations on unknown step IDs.
var ErrStepNotFound = errors.New("step not found")

// ErrStepNotPending is returned when modifying a step that already ran.
var ErrStepNotPending = errors.New("step not pending")

// Flow is a mutable, concurrency-safe execution flow. Quality gates adjust
// it while workers are running, so all access goes through the lock.
type Flow struct {
	mu      sync.Mutex
	steps   map[string]*Step
	order   []string
	history []AdjustmentRecord
}

// NewFlow builds a flow from steps and computes the topological order.
func NewFlow(steps []Step) (*Flow, error) {
	f := &Flow{steps: make(map[string]*Step, len(steps))}
	for i := range steps {
		st := steps[i]
		if st.Status == "" {
			st.Status = StepStatusPending
		}
		if _, ok := f.steps[st.StepID]; ok {
			return nil, fmt.Errorf("duplicate step ID %s", st.StepID)
		}
		f.steps[st.StepID] = &st
	}
	if err := f.recomputeOrderLocked(); err != nil {
		return nil, err
	}
	return f, nil
}

// Len returns the number of steps, skipped included.
func (f *Flow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.steps)
}

// Has reports whether the step exists in the flow.
func (f *Flow) Has(stepID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.steps[stepID]
	return ok
}

// Get returns a copy of one step.
func (f *Flow) Get(stepID string) (Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.steps[stepID]
	if !ok {
		return Step{}, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	return copyStep(st), nil
}

// Steps returns copies of all steps in topological order.
func (f *Flow) Steps() []Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Step, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, copyStep(f.steps[id]))
	}
	return out
}

// SetStatus transitions one step.
func (f *Flow) SetStatus(stepID string, status StepStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.steps[stepID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	st.Status = status
	return nil
}

// ReadySteps returns pending steps whose dependencies are all completed or
// skipped.
func (f *Flow) ReadySteps() []Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Step
	for _, id := range f.order {
		st := f.steps[id]
		if st.Status != StepStatusPending {
			continue
		}
		ready := true
		for _, dep := range st.Dependencies {
			d, ok := f.steps[dep]
			if !ok || (d.Status != StepStatusCompleted && d.Status != StepStatusSkipped) {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, copyStep(st))
		}
	}
	return out
}

// Progress returns the count of finished steps (completed, failed, or
// skipped) and the total.
func (f *Flow) Progress() (done, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.steps {
		switch st.Status {
		case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
			done++
		}
	}
	return done, len(f.steps)
}

// AddStep appends a new step. Dependencies referencing unknown steps are
// dropped and returned so the caller can log them. The step number is
// assigned from the current flow size.
func (f *Flow) AddStep(step Step, reason string) (filtered []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if step.StepID == "" {
		return nil, errors.New("step ID required")
	}
	if _, ok := f.steps[step.StepID]; ok {
		return nil, fmt.Errorf("duplicate step ID %s", step.StepID)
	}

	var deps []string
	for _, dep := range step.Dependencies {
		if _, ok := f.steps[dep]; ok {
			deps = append(deps, dep)
		} else {
			filtered = append(filtered, dep)
		}
	}
	step.Dependencies = deps
	step.StepNumber = len(f.steps) + 1
	if step.AgentType == "" {
		step.AgentType = "researcher"
	}
	step.Status = StepStatusPending

	f.steps[step.StepID] = &step
	if err := f.recomputeOrderLocked(); err != nil {
		delete(f.steps, step.StepID)
		_ = f.recomputeOrderLocked()
		return filtered, err
	}
	f.recordLocked("add_step", step.StepID, reason)
	return filtered, nil
}

// ModifyStep updates a pending step's description and, when non-nil, its
// dependency list. Steps that already started are immutable.
func (f *Flow) ModifyStep(stepID, description string, dependencies []string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.steps[stepID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if st.Status != StepStatusPending {
		return fmt.Errorf("%w: %s is %s", ErrStepNotPending, stepID, st.Status)
	}

	prevDeps := st.Dependencies
	if description != "" {
		st.Description = description
	}
	if dependencies != nil {
		var deps []string
		for _, dep := range dependencies {
			if _, ok := f.steps[dep]; ok && dep != stepID {
				deps = append(deps, dep)
			}
		}
		st.Dependencies = deps
		if err := f.recomputeOrderLocked(); err != nil {
			st.Dependencies = prevDeps
			_ = f.recomputeOrderLocked()
			return err
		}
	}
	f.recordLocked("modify_step", stepID, reason)
	return nil
}

// SkipStep marks a step skipped and scrubs its ID from every other step's
// dependency list, so downstream steps do not wait on it.
func (f *Flow) SkipStep(stepID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.steps[stepID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	st.Status = StepStatusSkipped
	for _, other := range f.steps {
		if other.StepID == stepID {
			continue
		}
		var deps []string
		for _, dep := range other.Dependencies {
			if dep != stepID {
				deps = append(deps, dep)
			}
		}
		other.Dependencies = deps
	}
	if err := f.recomputeOrderLocked(); err != nil {
		return err
	}
	f.recordLocked("remove_step", stepID, reason)
	return nil
}

// History returns a copy of the adjustment history.
func (f *Flow) History() []AdjustmentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AdjustmentRecord(nil), f.history...)
}

func (f *Flow) recordLocked(action, stepID, reason string) {
	f.history = append(f.history, AdjustmentRecord{
		Time:   time.Now(),
		Action: action,
		StepID: stepID,
		Reason: reason,
	})
}

// recomputeOrderLocked rebuilds the topological order, breaking ties by step
// number then ID for determinism.
func (f *Flow) recomputeOrderLocked() error {
	indegree := make(map[string]int, len(f.steps))
	dependents := make(map[string][]string)
	for id, st := range f.steps {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range st.Dependencies {
			if _, ok := f.steps[dep]; !ok {
				continue
			}
			dependents[dep] = append(dependents[dep], id)
			indegree[id]++
		}
	}

	less := func(a, b string) bool {
		sa, sb := f.steps[a], f.steps[b]
		if sa.StepNumber != sb.StepNumber {
			return sa.StepNumber < sb.StepNumber
		}
		return sa.StepID < sb.StepID
	}

	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return less(queue[i], queue[j]) })

	order := make([]string, 0, len(f.steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		var unlocked []string
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		sort.Slice(unlocked, func(i, j int) bool { return less(unlocked[i], unlocked[j]) })
		queue = append(queue, unlocked...)
	}
	if len(order) != len(f.steps) {
		var cyclic []string
		for id, d := range indegree {
			if d > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return fmt.Errorf("%w: involving %s", ErrFlowCycle, strings.Join(cyclic, ", "))
	}
	f.order = order
	return nil
}

func copyStep(st *Step) Step {
	cp := *st
	cp.Dependencies = append([]string(nil), st.Dependencies...)
	return cp
}

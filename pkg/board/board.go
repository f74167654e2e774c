// Package board implements the shared task board: a DAG-aware, in-memory
// registry of subtasks with at-most-one claim semantics. All state is guarded
// by a single mutex; methods return copies so callers never hold references
// into board internals.
package board

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskwave/taskwave/pkg/models"
)

var (
	// ErrTaskNotFound is returned for operations on unknown subtask IDs.
	ErrTaskNotFound = errors.New("task not found")
	// ErrAlreadyClaimed is returned when a claim races and loses.
	ErrAlreadyClaimed = errors.New("task already claimed")
	// ErrNotPending is returned when claiming a task that is blocked,
	// in progress, or terminal.
	ErrNotPending = errors.New("task not in pending state")
	// ErrDependencyCycle is returned by Publish when the combined dependency
	// graph is not a DAG. Nothing is published in that case.
	ErrDependencyCycle = errors.New("dependency cycle detected")
	// ErrDuplicateTask is returned by Publish when a subtask ID is already
	// on the board.
	ErrDuplicateTask = errors.New("task already on board")
)

// UnknownDependencyError is returned by Publish when a dependency edge points
// at an ID that is neither in the published batch nor already on the board.
type UnknownDependencyError struct {
	TaskID  string
	Missing []string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown tasks: %s", e.TaskID, strings.Join(e.Missing, ", "))
}

// Board is the shared task board for one team.
type Board struct {
	mu         sync.Mutex
	entries    map[string]*models.TaskBoardEntry
	deps       map[string]map[string]struct{}
	dependents map[string]map[string]struct{}
	logger     *slog.Logger
}

// New creates an empty board.
func New() *Board {
	return &Board{
		entries:    make(map[string]*models.TaskBoardEntry),
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
		logger:     slog.With("component", "task_board"),
	}
}

// Publish adds a batch of subtasks to the board. Dependency edges come from
// each subtask's Dependencies field plus the extra edges map (keyed by
// subtask ID); the two are unioned. Edges must resolve to IDs in the batch or
// already on the board, and the combined graph must stay acyclic, otherwise
// nothing is published. Entries whose dependencies are all already completed
// (or absent) start pending; the rest start blocked.
func (b *Board) Publish(subtasks []models.SubTask, extraDeps map[string][]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := make(map[string]map[string]struct{}, len(subtasks))
	for _, st := range subtasks {
		if st.ID == "" {
			return fmt.Errorf("subtask with empty ID")
		}
		if _, ok := b.entries[st.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, st.ID)
		}
		if _, ok := batch[st.ID]; ok {
			return fmt.Errorf("%w: %s (duplicate in batch)", ErrDuplicateTask, st.ID)
		}
		set := make(map[string]struct{})
		for _, dep := range st.Dependencies {
			set[dep] = struct{}{}
		}
		for _, dep := range extraDeps[st.ID] {
			set[dep] = struct{}{}
		}
		if _, self := set[st.ID]; self {
			return fmt.Errorf("%w: %s depends on itself", ErrDependencyCycle, st.ID)
		}
		batch[st.ID] = set
	}

	// Every edge must land in the batch or on the board.
	for _, st := range subtasks {
		var missing []string
		for dep := range batch[st.ID] {
			if _, inBatch := batch[dep]; inBatch {
				continue
			}
			if _, onBoard := b.entries[dep]; onBoard {
				continue
			}
			missing = append(missing, dep)
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return &UnknownDependencyError{TaskID: st.ID, Missing: missing}
		}
	}

	if err := b.checkAcyclic(batch); err != nil {
		return err
	}

	for i := range subtasks {
		st := subtasks[i]
		st.Dependencies = sortedKeys(batch[st.ID])

		status := models.BoardStatusPending
		for dep := range batch[st.ID] {
			if !b.depSatisfiedLocked(batch, dep) {
				status = models.BoardStatusBlocked
				break
			}
		}

		b.entries[st.ID] = &models.TaskBoardEntry{Subtask: st, Status: status}
		b.deps[st.ID] = batch[st.ID]
		for dep := range batch[st.ID] {
			if b.dependents[dep] == nil {
				b.dependents[dep] = make(map[string]struct{})
			}
			b.dependents[dep][st.ID] = struct{}{}
		}
	}

	b.logger.Info("Published subtasks", "count", len(subtasks), "board_size", len(b.entries))
	return nil
}

// depSatisfiedLocked reports whether a dependency counts as done for unlock
// purposes: completed on the board. Batch-internal deps are never satisfied
// at publish time.
func (b *Board) depSatisfiedLocked(batch map[string]map[string]struct{}, dep string) bool {
	if _, inBatch := batch[dep]; inBatch {
		return false
	}
	entry, ok := b.entries[dep]
	return ok && entry.Status == models.BoardStatusCompleted
}

// checkAcyclic runs Kahn's algorithm over the union of the board graph and
// the incoming batch.
func (b *Board) checkAcyclic(batch map[string]map[string]struct{}) error {
	indegree := make(map[string]int)
	edges := make(map[string][]string) // dep -> nodes that depend on it

	addEdges := func(id string, deps map[string]struct{}) {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for dep := range deps {
			if _, ok := indegree[dep]; !ok {
				indegree[dep] = 0
			}
			edges[dep] = append(edges[dep], id)
			indegree[id]++
		}
	}
	for id, deps := range b.deps {
		addEdges(id, deps)
	}
	for id, deps := range batch {
		addEdges(id, deps)
	}

	queue := make([]string, 0, len(indegree))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range edges[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(indegree) {
		var cyclic []string
		for id, d := range indegree {
			if d > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return fmt.Errorf("%w: involving %s", ErrDependencyCycle, strings.Join(cyclic, ", "))
	}
	return nil
}

// Claim attempts to claim a pending task for an agent. At most one claim per
// task ever succeeds until the claim is reclaimed. Failures are reported via
// the sentinel errors ErrTaskNotFound, ErrAlreadyClaimed, and ErrNotPending.
func (b *Board) Claim(agentID, taskID string) (models.ClaimResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := models.ClaimResult{TaskID: taskID, AgentID: agentID}
	entry, ok := b.entries[taskID]
	if !ok {
		res.Reason = ErrTaskNotFound.Error()
		return res, fmt.Errorf("claim %s: %w", taskID, ErrTaskNotFound)
	}
	switch entry.Status {
	case models.BoardStatusPending:
		entry.Status = models.BoardStatusClaimed
		entry.ClaimedBy = agentID
		entry.ClaimedAt = time.Now()
		res.Success = true
		return res, nil
	case models.BoardStatusClaimed, models.BoardStatusInProgress:
		res.Reason = ErrAlreadyClaimed.Error()
		return res, fmt.Errorf("claim %s: %w (by %s)", taskID, ErrAlreadyClaimed, entry.ClaimedBy)
	default:
		res.Reason = ErrNotPending.Error()
		return res, fmt.Errorf("claim %s: %w (status %s)", taskID, ErrNotPending, entry.Status)
	}
}

// Available returns a snapshot of pending entries, priority descending.
// A non-empty roleFilter keeps entries whose role hint matches or is unset.
func (b *Board) Available(roleFilter string) []models.TaskBoardEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []models.TaskBoardEntry
	for _, entry := range b.entries {
		if entry.Status != models.BoardStatusPending {
			continue
		}
		if roleFilter != "" && entry.Subtask.RoleHint != "" && entry.Subtask.RoleHint != roleFilter {
			continue
		}
		out = append(out, copyEntry(entry))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Subtask.Priority > out[j].Subtask.Priority
	})
	return out
}

// UpdateStatus transitions a task and records timing plus the result or
// error detail. in_progress sets StartedAt; completed and failed set
// CompletedAt; completed stores detail as the result, failed as the error.
func (b *Board) UpdateStatus(taskID string, status models.BoardStatus, detail string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[taskID]
	if !ok {
		return fmt.Errorf("update %s: %w", taskID, ErrTaskNotFound)
	}
	entry.Status = status
	now := time.Now()
	switch status {
	case models.BoardStatusInProgress:
		if entry.StartedAt.IsZero() {
			entry.StartedAt = now
		}
	case models.BoardStatusCompleted:
		entry.CompletedAt = now
		entry.Result = detail
	case models.BoardStatusFailed:
		entry.CompletedAt = now
		entry.Error = detail
	}
	return nil
}

// OnCompleted unlocks blocked dependents of a completed task whose
// dependencies are now all completed, flipping them to pending. Returns the
// unlocked task IDs.
func (b *Board) OnCompleted(taskID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var unlocked []string
	for depID := range b.dependents[taskID] {
		entry, ok := b.entries[depID]
		if !ok || entry.Status != models.BoardStatusBlocked {
			continue
		}
		ready := true
		for dep := range b.deps[depID] {
			d, ok := b.entries[dep]
			if !ok || d.Status != models.BoardStatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			entry.Status = models.BoardStatusPending
			unlocked = append(unlocked, depID)
		}
	}
	sort.Strings(unlocked)
	return unlocked
}

// Dependents returns the direct dependents of a task.
func (b *Board) Dependents(taskID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedKeys(b.dependents[taskID])
}

// ReclaimExpired reverts claimed-but-never-started entries older than the
// timeout back to pending, clearing the claim. Returns the reclaimed IDs.
func (b *Board) ReclaimExpired(timeout time.Duration) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-timeout)
	var reclaimed []string
	for id, entry := range b.entries {
		if entry.Status != models.BoardStatusClaimed || !entry.StartedAt.IsZero() {
			continue
		}
		if entry.ClaimedAt.After(cutoff) {
			continue
		}
		b.logger.Warn("Reclaiming expired claim", "task_id", id, "claimed_by", entry.ClaimedBy, "claimed_at", entry.ClaimedAt)
		entry.Status = models.BoardStatusPending
		entry.ClaimedBy = ""
		entry.ClaimedAt = time.Time{}
		reclaimed = append(reclaimed, id)
	}
	sort.Strings(reclaimed)
	return reclaimed
}

// Get returns a copy of one entry.
func (b *Board) Get(taskID string) (models.TaskBoardEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[taskID]
	if !ok {
		return models.TaskBoardEntry{}, fmt.Errorf("get %s: %w", taskID, ErrTaskNotFound)
	}
	return copyEntry(entry), nil
}

// Snapshot returns copies of all entries in no particular order.
func (b *Board) Snapshot() []models.TaskBoardEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.TaskBoardEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		out = append(out, copyEntry(entry))
	}
	return out
}

// Status returns aggregate counts by board status.
func (b *Board) Status() models.TaskBoardStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := models.TaskBoardStatus{
		Total:    len(b.entries),
		ByStatus: make(map[models.BoardStatus]int),
	}
	for _, entry := range b.entries {
		st.ByStatus[entry.Status]++
	}
	st.Pending = st.ByStatus[models.BoardStatusPending]
	st.InProgress = st.ByStatus[models.BoardStatusInProgress]
	st.Completed = st.ByStatus[models.BoardStatusCompleted]
	st.Failed = st.ByStatus[models.BoardStatusFailed]
	st.Blocked = st.ByStatus[models.BoardStatusBlocked]
	return st
}

// Len returns the number of entries on the board.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func copyEntry(entry *models.TaskBoardEntry) models.TaskBoardEntry {
	cp := *entry
	cp.Subtask.Dependencies = append([]string(nil), entry.Subtask.Dependencies...)
	return cp
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

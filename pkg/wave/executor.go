// Package wave runs the subtasks on a task board in event-driven waves.
// A wave is one batch of spawned workers; every completion immediately
// unlocks and spawns newly runnable tasks as the next wave, with no barrier
// between waves.
package wave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskwave/taskwave/pkg/board"
	"github.com/taskwave/taskwave/pkg/models"
)

// RunnerFunc executes one claimed subtask and returns its output. A non-nil
// error marks the subtask failed and blocks its transitive dependents.
type RunnerFunc func(ctx context.Context, subtask models.SubTask) (string, error)

// Config controls wave execution.
type Config struct {
	// MaxConcurrentAgents caps workers executing subtasks at once.
	// Excess spawns wait for a slot before claiming. <= 0 means unlimited.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`

	// ClaimTimeout is how long a claim may sit without starting before it
	// is reclaimed.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`

	// ReclaimInterval is the cadence of the reclaim sweep.
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`
}

// DefaultConfig returns the built-in wave defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentAgents: 10,
		ClaimTimeout:        60 * time.Second,
		ReclaimInterval:     10 * time.Second,
	}
}

// Executor runs boards to completion. It is stateless across executions and
// safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an executor, filling zero config fields with defaults.
func New(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = def.ReclaimInterval
	}
	return &Executor{cfg: cfg, logger: slog.With("component", "wave_executor")}
}

// execution is the per-run state.
type execution struct {
	cfg    Config
	board  *board.Board
	run    RunnerFunc
	logger *slog.Logger
	sem    chan struct{}
	start  time.Time

	wg sync.WaitGroup

	mu        sync.Mutex
	active    map[string]struct{}
	waves     []models.WaveStats
	completed int
	failed    int

	// idleCh gets a token each time the active set drains to empty.
	idleCh chan struct{}
}

// Execute runs every runnable subtask on the board until no active workers
// remain and a final reclaim pass yields nothing. It drains outstanding
// workers on context cancellation instead of abandoning them.
func (e *Executor) Execute(ctx context.Context, b *board.Board, run RunnerFunc) (*models.WaveExecutionResult, error) {
	ex := &execution{
		cfg:    e.cfg,
		board:  b,
		run:    run,
		logger: e.logger,
		start:  time.Now(),
		active: make(map[string]struct{}),
		idleCh: make(chan struct{}, 1),
	}
	if e.cfg.MaxConcurrentAgents > 0 {
		ex.sem = make(chan struct{}, e.cfg.MaxConcurrentAgents)
	}

	initial := b.Available("")
	if len(initial) == 0 {
		e.logger.Info("No runnable subtasks, nothing to execute")
		return ex.result(), nil
	}

	ids := make([]string, 0, len(initial))
	for _, entry := range initial {
		ids = append(ids, entry.Subtask.ID)
	}
	ex.spawnBatch(ctx, ids)

	for {
		select {
		case <-ex.idleCh:
			if ex.activeCount() > 0 {
				continue // stale signal, workers were respawned
			}
			if ctx.Err() == nil {
				if reclaimed := b.ReclaimExpired(e.cfg.ClaimTimeout); len(reclaimed) > 0 {
					ex.spawnBatch(ctx, reclaimed)
					continue
				}
			}
			ex.wg.Wait()
			return ex.result(), nil
		case <-time.After(e.cfg.ReclaimInterval):
			if ctx.Err() != nil {
				continue
			}
			if reclaimed := b.ReclaimExpired(e.cfg.ClaimTimeout); len(reclaimed) > 0 {
				e.logger.Warn("Restarting reclaimed subtasks", "count", len(reclaimed))
				ex.spawnBatch(ctx, reclaimed)
			}
		}
	}
}

func (ex *execution) activeCount() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return len(ex.active)
}

// spawnBatch starts workers for the given pending task IDs as one wave.
// IDs already being worked on are skipped; an empty batch opens no wave.
func (ex *execution) spawnBatch(ctx context.Context, ids []string) {
	ex.mu.Lock()
	var batch []string
	for _, id := range ids {
		if _, ok := ex.active[id]; ok {
			continue
		}
		ex.active[id] = struct{}{}
		batch = append(batch, id)
	}
	if len(batch) == 0 {
		ex.mu.Unlock()
		return
	}

	now := time.Now()
	waveIdx := len(ex.waves)
	if waveIdx > 0 && ex.waves[waveIdx-1].EndTime.IsZero() {
		ex.waves[waveIdx-1].EndTime = now
	}
	parallelism := len(batch)
	if ex.cfg.MaxConcurrentAgents > 0 && parallelism > ex.cfg.MaxConcurrentAgents {
		parallelism = ex.cfg.MaxConcurrentAgents
	}
	ex.waves = append(ex.waves, models.WaveStats{
		WaveNumber:  waveIdx + 1,
		TaskCount:   len(batch),
		Parallelism: parallelism,
		StartTime:   now,
	})

	for _, id := range batch {
		ex.wg.Add(1)
		go ex.worker(ctx, id, waveIdx)
	}
	ex.mu.Unlock()

	ex.logger.Info("Wave started", "wave", waveIdx+1, "tasks", len(batch))
}

func (ex *execution) worker(ctx context.Context, taskID string, waveIdx int) {
	defer func() {
		ex.mu.Lock()
		delete(ex.active, taskID)
		idle := len(ex.active) == 0
		ex.mu.Unlock()
		ex.wg.Done()
		if idle {
			select {
			case ex.idleCh <- struct{}{}:
			default:
			}
		}
	}()

	if ex.sem != nil {
		select {
		case ex.sem <- struct{}{}:
			defer func() { <-ex.sem }()
		case <-ctx.Done():
			return // never claimed, stays pending
		}
	}
	if ctx.Err() != nil {
		return
	}

	workerID := "wave-" + uuid.NewString()[:8]
	if _, err := ex.board.Claim(workerID, taskID); err != nil {
		ex.logger.Warn("Lost claim, skipping", "task_id", taskID, "error", err)
		return
	}
	if err := ex.board.UpdateStatus(taskID, models.BoardStatusInProgress, ""); err != nil {
		ex.logger.Error("Failed to mark task in progress", "task_id", taskID, "error", err)
		return
	}

	entry, err := ex.board.Get(taskID)
	if err != nil {
		ex.logger.Error("Claimed task vanished", "task_id", taskID, "error", err)
		return
	}

	output, runErr := ex.run(ctx, entry.Subtask)
	if runErr != nil {
		ex.logger.Warn("Subtask failed", "task_id", taskID, "error", runErr)
		_ = ex.board.UpdateStatus(taskID, models.BoardStatusFailed, runErr.Error())
		ex.mu.Lock()
		ex.waves[waveIdx].Failed++
		ex.failed++
		ex.mu.Unlock()
		ex.propagateFailure(taskID)
		return
	}

	_ = ex.board.UpdateStatus(taskID, models.BoardStatusCompleted, output)
	ex.mu.Lock()
	ex.waves[waveIdx].Completed++
	ex.completed++
	ex.mu.Unlock()

	unlocked := ex.board.OnCompleted(taskID)

	// Pick up everything runnable, not just direct dependents: quality
	// gates may have published new steps or skipped blockers mid-flight.
	next := unlocked
	for _, entry := range ex.board.Available("") {
		next = append(next, entry.Subtask.ID)
	}
	ex.spawnBatch(ctx, next)
}

// propagateFailure walks the reverse dependency graph breadth-first and
// blocks every non-terminal transitive dependent of the failed task.
func (ex *execution) propagateFailure(taskID string) {
	queue := ex.board.Dependents(taskID)
	seen := make(map[string]struct{})
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		entry, err := ex.board.Get(id)
		if err != nil {
			continue
		}
		if !entry.Status.Terminal() {
			_ = ex.board.UpdateStatus(id, models.BoardStatusBlocked, "")
			ex.logger.Info("Blocked dependent of failed task", "task_id", id, "failed", taskID)
		}
		queue = append(queue, ex.board.Dependents(id)...)
	}
}

// result assembles the final execution summary. The last wave's end time is
// the execution end; the blocked count comes from the board snapshot.
func (ex *execution) result() *models.WaveExecutionResult {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	end := time.Now()
	if n := len(ex.waves); n > 0 && ex.waves[n-1].EndTime.IsZero() {
		ex.waves[n-1].EndTime = end
	}
	status := ex.board.Status()
	return &models.WaveExecutionResult{
		TotalWaves:         len(ex.waves),
		TotalTasks:         status.Total,
		Completed:          ex.completed,
		Failed:             ex.failed,
		Blocked:            status.Blocked,
		WaveStats:          append([]models.WaveStats(nil), ex.waves...),
		TotalExecutionTime: end.Sub(ex.start),
	}
}

package models

import "time"

// WaveStats records one wave of parallel subtask execution. EndTime is the
// start of the next wave, or the end of the whole execution for the last one.
type WaveStats struct {
	WaveNumber  int       `json:"wave_number"`
	TaskCount   int       `json:"task_count"`
	Parallelism int       `json:"parallelism"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitzero"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
}

// WaveExecutionResult summarizes a full wave execution over a task board.
type WaveExecutionResult struct {
	TotalWaves         int           `json:"total_waves"`
	TotalTasks         int           `json:"total_tasks"`
	Completed          int           `json:"completed"`
	Failed             int           `json:"failed"`
	Blocked            int           `json:"blocked"`
	WaveStats          []WaveStats   `json:"wave_stats,omitempty"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
}

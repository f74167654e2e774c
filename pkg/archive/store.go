package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskwave/taskwave/pkg/models"
)

// ErrResultNotFound is returned when no archived result exists for a task.
var ErrResultNotFound = errors.New("archived result not found")

// ArchivedResult is a stored task result plus its archive timestamp.
type ArchivedResult struct {
	Result     models.TaskResult `json:"result"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// SaveResult upserts one terminal task result.
func (c *Client) SaveResult(ctx context.Context, result models.TaskResult) error {
	subResults, err := json.Marshal(result.SubResults)
	if err != nil {
		return fmt.Errorf("failed to encode sub results: %w", err)
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO task_results
			(task_id, success, output, error, output_type, execution_time_ms, sub_results, metadata, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (task_id) DO UPDATE SET
			success = EXCLUDED.success,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			output_type = EXCLUDED.output_type,
			execution_time_ms = EXCLUDED.execution_time_ms,
			sub_results = EXCLUDED.sub_results,
			metadata = EXCLUDED.metadata,
			archived_at = now()`,
		result.TaskID, result.Success, result.Output, result.Error,
		result.OutputType, result.ExecutionTime.Milliseconds(), subResults, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to archive result for task %s: %w", result.TaskID, err)
	}
	return nil
}

// GetResult loads one archived result.
func (c *Client) GetResult(ctx context.Context, taskID string) (*ArchivedResult, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT task_id, success, output, error, output_type, execution_time_ms, sub_results, metadata, archived_at
		FROM task_results WHERE task_id = $1`, taskID)

	archived, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrResultNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived result for task %s: %w", taskID, err)
	}
	return archived, nil
}

// ListResults returns the most recently archived results, newest first.
func (c *Client) ListResults(ctx context.Context, limit int) ([]ArchivedResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT task_id, success, output, error, output_type, execution_time_ms, sub_results, metadata, archived_at
		FROM task_results ORDER BY archived_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArchivedResult
	for rows.Next() {
		archived, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archived result: %w", err)
		}
		out = append(out, *archived)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archived results: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*ArchivedResult, error) {
	var (
		archived        ArchivedResult
		execMillis      int64
		subResults      []byte
		metadata        []byte
		output, errText sql.NullString
	)
	err := row.Scan(
		&archived.Result.TaskID, &archived.Result.Success, &output, &errText,
		&archived.Result.OutputType, &execMillis, &subResults, &metadata, &archived.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	archived.Result.Output = output.String
	archived.Result.Error = errText.String
	archived.Result.ExecutionTime = time.Duration(execMillis) * time.Millisecond
	if len(subResults) > 0 {
		if err := json.Unmarshal(subResults, &archived.Result.SubResults); err != nil {
			return nil, fmt.Errorf("corrupt sub_results: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &archived.Result.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata: %w", err)
		}
	}
	return &archived, nil
}

package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/taskwave/taskwave/pkg/models"
)

var (
	containerOnce sync.Once
	sharedConnStr string
	containerErr  error
)

// sharedDatabase returns a connection string to the shared test database.
// In CI, uses CI_DATABASE_URL. In local dev, starts one container for the
// whole package.
func sharedDatabase(t *testing.T) string {
	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		return ciDatabaseURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared PostgreSQL testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedConnStr
}

// setupTestClient gives each test its own schema in the shared database so
// tests stay isolated and parallelizable.
func setupTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	connStr := sharedDatabase(t)
	schema := "test_" + strings.ReplaceAll(strings.ToLower(uuid.NewString()[:8]), "-", "")

	admin, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	_, err = admin.Exec(fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)

	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	db, err := sql.Open("pgx", connStr+sep+"search_path="+schema)
	require.NoError(t, err)

	client, err := NewClientFromDB(db, "test")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_, _ = admin.Exec(fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
		_ = admin.Close()
	})
	return client
}

func sampleResult(taskID string) models.TaskResult {
	return models.TaskResult{
		TaskID:        taskID,
		Success:       true,
		Output:        "the aggregated output",
		ExecutionTime: 1500 * time.Millisecond,
		OutputType:    "report",
		SubResults: []models.SubTaskResult{
			{SubtaskID: "s1", AgentID: "agent-1", Success: true, Output: "part one", OutputType: "report", ToolCalls: 2},
			{SubtaskID: "s2", AgentID: "agent-2", Success: true, Output: "part two", OutputType: "report"},
		},
		Metadata: map[string]any{"task_type": "research"},
	}
}

func TestSaveAndGetResult(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.SaveResult(ctx, sampleResult("task-1")))

	archived, err := client.GetResult(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", archived.Result.TaskID)
	assert.True(t, archived.Result.Success)
	assert.Equal(t, "the aggregated output", archived.Result.Output)
	assert.Equal(t, 1500*time.Millisecond, archived.Result.ExecutionTime)
	require.Len(t, archived.Result.SubResults, 2)
	assert.Equal(t, "agent-1", archived.Result.SubResults[0].AgentID)
	assert.Equal(t, 2, archived.Result.SubResults[0].ToolCalls)
	assert.Equal(t, "research", archived.Result.Metadata["task_type"])
	assert.False(t, archived.ArchivedAt.IsZero())
}

func TestGetResultNotFound(t *testing.T) {
	client := setupTestClient(t)

	_, err := client.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestSaveResultUpsert(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	first := sampleResult("task-1")
	require.NoError(t, client.SaveResult(ctx, first))

	second := first
	second.Success = false
	second.Output = ""
	second.Error = "retried and failed"
	require.NoError(t, client.SaveResult(ctx, second))

	archived, err := client.GetResult(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, archived.Result.Success)
	assert.Equal(t, "retried and failed", archived.Result.Error)
	assert.Empty(t, archived.Result.Output)
}

func TestListResultsNewestFirst(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"task-a", "task-b", "task-c"} {
		require.NoError(t, client.SaveResult(ctx, sampleResult(id)))
		time.Sleep(10 * time.Millisecond) // distinct archived_at timestamps
	}

	results, err := client.ListResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "task-c", results[0].Result.TaskID)
	assert.Equal(t, "task-b", results[1].Result.TaskID)

	all, err := client.ListResults(ctx, 0) // default limit
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestHealth(t *testing.T) {
	client := setupTestClient(t)
	assert.NoError(t, client.Health(context.Background()))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 2*time.Minute, cfg.LLM.RequestTimeout)
	assert.True(t, cfg.Gate.Enabled)
	assert.Equal(t, 7.0, cfg.Gate.Threshold)
	assert.Equal(t, 3.0, cfg.Orchestrator.ComplexityThreshold)
	assert.Equal(t, 10, cfg.Wave.MaxConcurrentAgents)
	assert.Equal(t, time.Hour, cfg.Executor.ExecutionTimeout)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
llm:
  model: llama3
  base_url: http://localhost:11434/v1
wave:
  max_concurrent_agents: 3
quality_gate:
  threshold: 8.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 3, cfg.Wave.MaxConcurrentAgents)
	assert.Equal(t, 8.5, cfg.Gate.Threshold)
	// Unset fields keep defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3.0, cfg.Orchestrator.ComplexityThreshold)
}

func TestLoadExpandsAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-secret")
	path := writeConfig(t, `
llm:
  api_key: ${TEST_LLM_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 99999
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.LLM.Model = ""
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Executor.TimeoutWarnRatio = 1.5
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Wave.MaxConcurrentAgents = -1
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Gate.Threshold = 0
	assert.Error(t, bad.Validate())

	// Threshold irrelevant once gating is off.
	bad.Gate.Enabled = false
	assert.NoError(t, bad.Validate())
}

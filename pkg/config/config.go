// Package config loads the taskwave configuration: built-in defaults merged
// with an optional YAML file, with environment expansion for secrets.
package config

import (
	"fmt"
	"time"

	"github.com/taskwave/taskwave/pkg/executor"
	"github.com/taskwave/taskwave/pkg/orchestrator"
	"github.com/taskwave/taskwave/pkg/wave"
)

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig selects the chat-completion backend. APIKey supports ${VAR}
// environment expansion so the key never sits in the file.
type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	PlannerModel   string        `yaml:"planner_model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// GateConfig controls quality gating.
type GateConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Threshold  float64 `yaml:"threshold"`
	MaxRetries int     `yaml:"max_retries"`
}

// Config is the full application configuration.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	LLM          LLMConfig           `yaml:"llm"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Executor     executor.Config     `yaml:"executor"`
	Wave         wave.Config         `yaml:"wave"`
	Gate         GateConfig          `yaml:"quality_gate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			APIKey:         "${LLM_API_KEY}",
			Model:          "gpt-4o-mini",
			RequestTimeout: 2 * time.Minute,
		},
		Orchestrator: orchestrator.DefaultConfig(),
		Executor:     executor.DefaultConfig(),
		Wave:         wave.DefaultConfig(),
		Gate: GateConfig{
			Enabled:    true,
			Threshold:  7.0,
			MaxRetries: 2,
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Executor.TimeoutWarnRatio <= 0 || c.Executor.TimeoutWarnRatio >= 1 {
		return fmt.Errorf("executor.timeout_warn_ratio %v must be in (0, 1)", c.Executor.TimeoutWarnRatio)
	}
	if c.Wave.MaxConcurrentAgents < 0 {
		return fmt.Errorf("wave.max_concurrent_agents must not be negative")
	}
	if c.Gate.Enabled && c.Gate.Threshold <= 0 {
		return fmt.Errorf("quality_gate.threshold must be positive when gating is enabled")
	}
	return nil
}

// taskwave server exposes the multi-agent task orchestrator over HTTP
// and archives terminal results to PostgreSQL when configured.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/taskwave/taskwave/pkg/agent"
	"github.com/taskwave/taskwave/pkg/api"
	"github.com/taskwave/taskwave/pkg/archive"
	"github.com/taskwave/taskwave/pkg/config"
	"github.com/taskwave/taskwave/pkg/events"
	"github.com/taskwave/taskwave/pkg/executor"
	"github.com/taskwave/taskwave/pkg/gate"
	"github.com/taskwave/taskwave/pkg/llm"
	"github.com/taskwave/taskwave/pkg/orchestrator"
	"github.com/taskwave/taskwave/pkg/plan"
	"github.com/taskwave/taskwave/pkg/team"
	"github.com/taskwave/taskwave/pkg/version"
	"github.com/taskwave/taskwave/pkg/wave"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("TASKWAVE_CONFIG", "./config.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting taskwave", "version", version.Full(), "config", *configPath)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. LLM client (shared by runners, planner, and quality gate)
	llmClient := llm.NewHTTPClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		llm.WithRequestTimeout(cfg.LLM.RequestTimeout))
	slog.Info("LLM client initialized", "base_url", cfg.LLM.BaseURL, "model", cfg.LLM.Model)

	plannerModel := cfg.LLM.PlannerModel
	if plannerModel == "" {
		plannerModel = cfg.LLM.Model
	}
	plannerClient := llm.NewHTTPClient(cfg.LLM.APIKey, plannerModel, cfg.LLM.BaseURL,
		llm.WithRequestTimeout(cfg.LLM.RequestTimeout))

	// 3. Core components
	pub := events.NewPublisher(0)
	roles := agent.NewRegistry()
	tools := agent.NewToolRegistry()
	runners := agent.NewLLMRunnerFactory(llmClient, tools, 0)
	teams := team.NewManager()
	waves := wave.New(cfg.Wave)

	exec := executor.New(teams, waves, roles, runners, cfg.Executor)
	if cfg.Gate.Enabled {
		exec.SetGate(gate.New(gate.NewLLMEvaluator(llmClient), cfg.Gate.Threshold, cfg.Gate.MaxRetries))
		slog.Info("Quality gate enabled", "threshold", cfg.Gate.Threshold, "max_retries", cfg.Gate.MaxRetries)
	}

	planner := plan.NewLLMPlanner(plannerClient)
	orch := orchestrator.New(exec, planner, pub, cfg.Orchestrator)
	slog.Info("Orchestrator initialized", "team_mode", cfg.Orchestrator.UseTeamMode)

	// 4. Optional result archive
	var archiveClient *archive.Client
	if os.Getenv("ARCHIVE_DB_HOST") != "" {
		dbCfg, err := archive.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load archive config", "error", err)
			os.Exit(1)
		}
		archiveClient, err = archive.NewClient(ctx, dbCfg)
		if err != nil {
			slog.Error("Failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := archiveClient.Close(); err != nil {
				slog.Error("Error closing archive client", "error", err)
			}
		}()
		slog.Info("Result archive connected", "host", dbCfg.Host, "database", dbCfg.Database)
	}

	// 5. HTTP server
	httpServer := api.NewServer(orch)
	httpServer.SetEventPublisher(pub)
	if archiveClient != nil {
		httpServer.SetArchive(archiveClient)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("taskwave started successfully")

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: cancel active tasks first, then drain HTTP
	summary := orch.GracefulShutdown()
	slog.Info("Active tasks cancelled", "count", len(summary.CancelledTasks))

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

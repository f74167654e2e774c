// Package api exposes the orchestrator over HTTP: task submission and
// lifecycle, progress and summary queries, archived results, event
// streaming, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskwave/taskwave/pkg/archive"
	"github.com/taskwave/taskwave/pkg/events"
	"github.com/taskwave/taskwave/pkg/orchestrator"
	"github.com/taskwave/taskwave/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	engine  *gin.Engine
	srv     *http.Server
	orch    *orchestrator.Orchestrator
	archive *archive.Client
	pub     *events.Publisher
	logger  *slog.Logger
}

// NewServer creates the server and registers routes.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine: gin.New(),
		orch:   orch,
		logger: slog.With("component", "api"),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()
	return s
}

// SetArchive enables the archived-result endpoints.
func (s *Server) SetArchive(client *archive.Client) { s.archive = client }

// SetEventPublisher enables the SSE event stream.
func (s *Server) SetEventPublisher(pub *events.Publisher) { s.pub = pub }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/tasks", s.handleSubmitTask)
		v1.GET("/tasks", s.handleListTasks)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.GET("/tasks/:id/progress", s.handleGetProgress)
		v1.GET("/tasks/:id/summary", s.handleGetSummary)
		v1.DELETE("/tasks/:id", s.handleCancelTask)
		v1.GET("/results", s.handleListArchived)
		v1.GET("/results/:id", s.handleGetArchived)
		v1.GET("/events", s.handleEventStream)
	}
}

// Start runs the server, blocking until shutdown or failure.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler returns the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":  "ok",
		"version": version.Full(),
	}
	if s.archive != nil {
		if err := s.archive.Health(c.Request.Context()); err != nil {
			health["status"] = "degraded"
			health["archive"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, health)
			return
		}
		health["archive"] = "ok"
	}
	c.JSON(http.StatusOK, health)
}

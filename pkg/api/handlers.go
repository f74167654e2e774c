package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskwave/taskwave/pkg/archive"
	"github.com/taskwave/taskwave/pkg/orchestrator"
)

// SubmitTaskRequest is the POST /tasks payload. Execute defaults to true:
// submission kicks off execution in the background.
type SubmitTaskRequest struct {
	Content  string         `json:"content" binding:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Execute  *bool          `json:"execute,omitempty"`
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	task, err := s.orch.SubmitTask(c.Request.Context(), req.Content, req.Metadata)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidContent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if req.Execute == nil || *req.Execute {
		go s.executeInBackground(task.ID)
	}
	c.JSON(http.StatusCreated, task)
}

// executeInBackground runs the task detached from the request and archives
// the terminal result when an archive is configured.
func (s *Server) executeInBackground(taskID string) {
	result, err := s.orch.ExecuteTask(context.Background(), taskID)
	if err != nil {
		s.logger.Error("Background execution failed", "task_id", taskID, "error", err)
		return
	}
	if s.archive != nil && result != nil {
		if err := s.archive.SaveResult(context.Background(), *result); err != nil {
			s.logger.Error("Failed to archive result", "task_id", taskID, "error", err)
		}
	}
}

func (s *Server) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.orch.Tasks()})
}

func (s *Server) handleGetTask(c *gin.Context) {
	id := c.Param("id")
	task, err := s.orch.Task(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"task": task}
	if result, err := s.orch.Result(id); err == nil && result != nil {
		resp["result"] = result
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetProgress(c *gin.Context) {
	id := c.Param("id")
	progress, err := s.orch.Progress(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "progress": progress})
}

func (s *Server) handleGetSummary(c *gin.Context) {
	summary, err := s.orch.Summary(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.orch.Task(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if !s.orch.CancelTask(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "task already finished"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "cancelled": true})
}

func (s *Server) handleListArchived(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "archive not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	results, err := s.archive.ListResults(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleGetArchived(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "archive not configured"})
		return
	}
	result, err := s.archive.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, archive.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleEventStream streams orchestration events as server-sent events,
// optionally filtered by task_id.
func (s *Server) handleEventStream(c *gin.Context) {
	if s.pub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event stream not configured"})
		return
	}
	taskFilter := c.Query("task_id")

	ch, cancel := s.pub.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			if taskFilter != "" && evt.TaskID != taskFilter {
				return true
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

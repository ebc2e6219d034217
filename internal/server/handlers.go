package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gbpufscar/revfirst-social-sub001/internal/service"
	"github.com/gbpufscar/revfirst-social-sub001/internal/store"
)

func (s *Server) handleEnqueue(c *gin.Context) {
	scope := requestScope(c)

	var candidate service.Candidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" && candidate.IdempotencyKey == "" {
		candidate.IdempotencyKey = key
	}

	item, err := s.Queue.Enqueue(c.Request.Context(), scope, candidate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

func (s *Server) handleListQueueItems(c *gin.Context) {
	scope := requestScope(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := s.Store.ListQueueItems(c.Request.Context(), scope, c.Query("status"), limit)
	if err != nil {
		s.Logger.Error("Failed to list queue items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list queue items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleGetQueueItem(c *gin.Context) {
	scope := requestScope(c)

	item, err := s.Store.GetQueueItem(c.Request.Context(), scope, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to get queue item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get queue item"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Server) handleApprove(c *gin.Context) {
	scope := requestScope(c)

	item, err := s.Queue.Approve(c.Request.Context(), scope, c.Param("id"), c.GetString("actor_user_id"), time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	}
	if errors.Is(err, service.ErrStateConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "item is not pending review"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to approve queue item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to approve queue item"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Server) handleReject(c *gin.Context) {
	scope := requestScope(c)

	item, err := s.Queue.Reject(c.Request.Context(), scope, c.Param("id"), c.GetString("actor_user_id"), time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	}
	if errors.Is(err, service.ErrStateConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "item is not pending review"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to reject queue item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reject queue item"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Server) handleExecuteItem(c *gin.Context) {
	scope := requestScope(c)

	item, err := s.Queue.ExecuteItem(c.Request.Context(), scope, c.Param("id"), time.Now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	case errors.Is(err, service.ErrWorkspacePaused):
		c.JSON(http.StatusConflict, gin.H{"error": "workspace is paused"})
		return
	case errors.Is(err, service.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "item is not approved for publishing"})
		return
	case errors.Is(err, service.ErrNotDue):
		c.JSON(http.StatusConflict, gin.H{"error": "item is not due yet"})
		return
	case errors.Is(err, service.ErrCooldownActive):
		c.JSON(http.StatusConflict, gin.H{"error": "cooldown active for this target"})
		return
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	case err != nil:
		s.Logger.Error("Failed to execute queue item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to execute queue item"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Server) handleExecuteDue(c *gin.Context) {
	scope := requestScope(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	report, err := s.Queue.ExecuteDueItems(c.Request.Context(), scope, time.Now().UTC(), limit)
	if errors.Is(err, service.ErrWorkspacePaused) {
		c.JSON(http.StatusConflict, gin.H{"error": "workspace is paused"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to execute due items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to execute due items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (s *Server) handleRunPipeline(c *gin.Context) {
	scope := requestScope(c)

	var body struct {
		IdempotencyKey string `json:"idempotency_key"`
		DryRun         bool   `json:"dry_run"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" && body.IdempotencyKey == "" {
		body.IdempotencyKey = key
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	result, err := s.Pipelines.Run(c.Request.Context(), scope, c.Param("name"), time.Now().UTC(), service.RunOptions{
		IdempotencyKey: body.IdempotencyKey,
		DryRun:         body.DryRun,
		RequestID:      requestID,
		ActorUserID:    c.GetString("actor_user_id"),
	})
	if errors.Is(err, service.ErrUnknownPipeline) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pipeline", "result": result})
		return
	}
	if errors.Is(err, service.ErrStateConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "pipeline run already in progress", "result": result})
		return
	}
	if err != nil {
		s.Logger.Error("Pipeline run failed",
			zap.String("pipeline", c.Param("name")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleListRuns(c *gin.Context) {
	scope := requestScope(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := s.Store.LatestPipelineRuns(c.Request.Context(), scope, limit)
	if err != nil {
		s.Logger.Error("Failed to list pipeline runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pipeline runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	scope := requestScope(c)

	settings, err := s.Control.Settings(c.Request.Context(), scope)
	if err != nil {
		s.Logger.Error("Failed to load control settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load control settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (s *Server) controlCommand(c *gin.Context) service.ControlCommand {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return service.ControlCommand{
		ActorUserID:    c.GetString("actor_user_id"),
		RequestID:      requestID,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	}
}

func (s *Server) handlePause(c *gin.Context) {
	scope := requestScope(c)

	settings, err := s.Control.Pause(c.Request.Context(), scope, s.controlCommand(c))
	if err != nil {
		s.Logger.Error("Failed to pause workspace", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to pause workspace"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (s *Server) handleResume(c *gin.Context) {
	scope := requestScope(c)

	settings, err := s.Control.Resume(c.Request.Context(), scope, s.controlCommand(c))
	if err != nil {
		s.Logger.Error("Failed to resume workspace", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resume workspace"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (s *Server) handleSetMode(c *gin.Context) {
	scope := requestScope(c)

	var body struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := s.Control.SetMode(c.Request.Context(), scope, s.controlCommand(c), body.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (s *Server) handleCreateMediaJob(c *gin.Context) {
	if s.Media == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media storage is not configured"})
		return
	}
	scope := requestScope(c)

	var body struct {
		Channel     string `json:"channel" binding:"required"`
		Prompt      string `json:"prompt" binding:"required"`
		SourceKind  string `json:"source_kind"`
		SourceRefID string `json:"source_ref_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.Media.RequestImage(c.Request.Context(), scope, service.ImageRequest{
		Channel:        body.Channel,
		Prompt:         body.Prompt,
		SourceKind:     body.SourceKind,
		SourceRefID:    body.SourceRefID,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *Server) handleGetMediaJob(c *gin.Context) {
	if s.Media == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media storage is not configured"})
		return
	}
	scope := requestScope(c)

	job, err := s.Media.GetJob(c.Request.Context(), scope, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "media job not found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to get media job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get media job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

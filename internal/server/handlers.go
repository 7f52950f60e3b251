package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/async"
	"github.com/promptsheet/promptsheet/internal/batch"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/dispatch"
	"github.com/promptsheet/promptsheet/internal/llm"
)

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) usageHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.dispatcher.Usage().Snapshot())
}

type dispatchRequest struct {
	Prompt       string          `json:"prompt" binding:"required"`
	Config       llm.ModelConfig `json:"modelConfig"`
	ImageURLs    []string        `json:"imageUrls"`
	TargetColumn string          `json:"targetColumn"`
}

func (s *Server) dispatchHandler(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	v := common.NewValidator().
		Field("prompt", req.Prompt, common.Required).
		Field("targetColumn", req.TargetColumn, common.MaxLen(255))
	if v.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": v.ErrorMessage()})
		return
	}

	result, err := s.dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		Prompt:       req.Prompt,
		Config:       req.Config,
		ImageURLs:    req.ImageURLs,
		TargetColumn: req.TargetColumn,
	}, 0)
	if err != nil {
		var rle *llm.RateLimitError
		if errors.As(err, &rle) {
			c.Header("Retry-After", strconv.Itoa(int(rle.RetryAfter/time.Second)))
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": rle.Message})
			return
		}
		status := http.StatusBadGateway
		if errors.Is(err, common.ErrInvalidInput) || errors.Is(err, common.ErrValidation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"result":       result,
		"targetColumn": req.TargetColumn,
	})
}

type createJobRequest struct {
	Messages []batch.Message `json:"messages" binding:"required"`
	Config   llm.ModelConfig `json:"modelConfig"`
}

func (s *Server) createJobHandler(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}
	if req.Config.Provider == "" {
		req.Config.Provider = constants.ProviderAnthropic
	}
	if !constants.IsBulkCapable(req.Config.Provider) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider does not support bulk jobs"})
		return
	}

	job, err := s.coord.CreateJob(c.Request.Context(), len(req.Messages), req.Config)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, common.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if err := s.runner.Enqueue(c.Request.Context(), async.Job{
		JobID:       job.ID,
		Messages:    req.Messages,
		Config:      req.Config,
		SubmittedAt: time.Now(),
	}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("api.jobs.created",
		"req_id", common.RequestIDFromContext(c.Request.Context()),
		"job_id", job.ID,
		"messages", len(req.Messages),
	)
	c.JSON(http.StatusCreated, gin.H{"jobId": job.ID, "status": job.Status})
}

func (s *Server) getJobHandler(c *gin.Context) {
	id := c.Param("id")
	if v := common.NewValidator().Field("id", id, common.UUID); v.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{"error": v.ErrorMessage()})
		return
	}
	job, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) jobResultsHandler(c *gin.Context) {
	id := c.Param("id")
	if v := common.NewValidator().Field("id", id, common.UUID); v.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{"error": v.ErrorMessage()})
		return
	}
	job, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job.Status != constants.JobStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error":  common.ErrNotCompleted.Error(),
			"status": job.Status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "results": job.Results})
}

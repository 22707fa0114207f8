package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/usecase"
)

// maxResultsLimit caps the ?limit parameter on the results endpoint.
const maxResultsLimit = 100

// submitRequest is the body of POST /api/v1/jobs.
type submitRequest struct {
	SourceURL string `json:"source_url" binding:"required"`
}

// JobHandler handles HTTP requests for optimization jobs.
type JobHandler struct {
	submitUC *usecase.SubmitJobUsecase
	getJobUC *usecase.GetJobUsecase
	logger   *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(submitUC *usecase.SubmitJobUsecase, getJobUC *usecase.GetJobUsecase, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		submitUC: submitUC,
		getJobUC: getJobUC,
		logger:   logger,
	}
}

// Submit handles POST /api/v1/jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	job, err := h.submitUC.Execute(c.Request.Context(), req.SourceURL)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSourceURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Submit job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// GetByID handles GET /api/v1/jobs/:id
func (h *JobHandler) GetByID(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID format"})
		return
	}

	job, err := h.getJobUC.Execute(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Get job failed", zap.Error(err), zap.String("job_id", idStr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// List handles GET /api/v1/jobs
func (h *JobHandler) List(c *gin.Context) {
	jobs, err := h.getJobUC.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("List jobs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// Results handles GET /api/v1/jobs/:id/results
func (h *JobHandler) Results(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID format"})
		return
	}

	var (
		results []*domain.FileResult
		rerr    error
	)
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		if limit > maxResultsLimit {
			limit = maxResultsLimit
		}
		results, rerr = h.getJobUC.TopResults(c.Request.Context(), id, limit)
	} else {
		results, rerr = h.getJobUC.Results(c.Request.Context(), id)
	}
	if rerr != nil {
		if errors.Is(rerr, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Get results failed", zap.Error(rerr), zap.String("job_id", idStr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": id, "results": results, "count": len(results)})
}

package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/delivery/http/middleware"
	"github.com/repolish/repolish/internal/usecase"
)

const maxSubmitBodyBytes = 64 << 10 // submissions are a single URL

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(
	submitUC *usecase.SubmitJobUsecase,
	getJobUC *usecase.GetJobUsecase,
	logger *zap.Logger,
	rateLimitPerMin int,
) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(logger)
		v1.GET("/health", healthHandler.Health)

		jobHandler := NewJobHandler(submitUC, getJobUC, logger)
		v1.POST("/jobs",
			middleware.RateLimiter(rateLimitPerMin),
			middleware.BodySizeLimit(maxSubmitBodyBytes),
			jobHandler.Submit,
		)
		v1.GET("/jobs", jobHandler.List)
		v1.GET("/jobs/:id", jobHandler.GetByID)
		v1.GET("/jobs/:id/results", jobHandler.Results)

		// WebSocket for real-time progress updates
		wsHandler := NewWebSocketHandler(getJobUC, logger)
		v1.GET("/jobs/:id/stream", wsHandler.Stream)
	}

	return router
}

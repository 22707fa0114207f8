package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/config"
	handler "github.com/repolish/repolish/internal/delivery/http"
	"github.com/repolish/repolish/internal/notify"
	"github.com/repolish/repolish/internal/repository"
	"github.com/repolish/repolish/internal/repository/factory"
	redisrepo "github.com/repolish/repolish/internal/repository/redis"
	"github.com/repolish/repolish/internal/usecase"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting repolish API server")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	gin.SetMode(cfg.Server.GinMode)

	ctx := context.Background()

	store, cleanup, err := factory.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open job store", zap.Error(err))
	}
	defer cleanup()

	// Redis-backed submission dedupe is optional.
	var deduper repository.SubmissionDeduper
	if cfg.Redis.URL != "" {
		redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		rdb := goredis.NewClient(redisOpts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to ping Redis", zap.Error(err))
		}
		deduper = redisrepo.NewDeduper(rdb)
		logger.Info("Connected to Redis")
	}

	// RabbitMQ wake notifications are optional.
	var publisher notify.Publisher
	if cfg.RabbitMQ.URL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
		}
		defer pub.Close()
		publisher = pub
		logger.Info("Connected to RabbitMQ")
	}

	submitUC := usecase.NewSubmitJobUsecase(store, deduper, publisher, logger)
	getJobUC := usecase.NewGetJobUsecase(store, logger)

	router := handler.NewRouter(submitUC, getJobUC, logger, cfg.Server.RateLimit)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}

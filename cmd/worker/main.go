package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/analyzer"
	"github.com/repolish/repolish/internal/config"
	"github.com/repolish/repolish/internal/fetcher"
	"github.com/repolish/repolish/internal/notify"
	"github.com/repolish/repolish/internal/processor"
	"github.com/repolish/repolish/internal/repository"
	"github.com/repolish/repolish/internal/repository/factory"
	"github.com/repolish/repolish/internal/supervisor"
)

func main() {
	jobFlag := flag.String("job", "", "process a single job by ID and exit")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, cleanup, err := factory.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open job store", zap.Error(err))
	}
	defer cleanup()

	if *jobFlag != "" {
		os.Exit(runSingleJob(ctx, cfg, store, *jobFlag, logger))
	}

	runSupervisor(ctx, cancel, cfg, store, logger)
}

// runSingleJob processes exactly one job and reports the outcome via the
// exit code. This is the mode the process launcher re-execs the binary in.
func runSingleJob(ctx context.Context, cfg *config.Config, store repository.JobStore, rawID string, logger *zap.Logger) int {
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		logger.Error("Invalid job ID", zap.String("job_id", rawID), zap.Error(err))
		return 2
	}

	proc, err := buildProcessor(cfg, store, logger)
	if err != nil {
		logger.Error("Failed to build processor", zap.Error(err))
		return 1
	}

	if err := proc.Run(ctx, jobID); err != nil {
		logger.Error("Job processing failed", zap.String("job_id", jobID.String()), zap.Error(err))
		return 1
	}
	return 0
}

// runSupervisor runs the polling daemon until SIGINT/SIGTERM.
func runSupervisor(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, store repository.JobStore, logger *zap.Logger) {
	logger.Info("Starting repolish worker supervisor")

	launcher, err := buildLauncher(cfg, store, logger)
	if err != nil {
		logger.Fatal("Failed to build launcher", zap.Error(err))
	}

	sup := supervisor.New(store, launcher, supervisor.Config{
		MaxWorkers:      cfg.Worker.MaxWorkers,
		PollInterval:    cfg.Worker.PollInterval,
		ErrorBackoff:    cfg.Worker.ErrorBackoff,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, logger)

	// RabbitMQ wake-ups are optional; polling covers their absence.
	if cfg.RabbitMQ.URL != "" {
		waker := notify.NewAMQPWaker(cfg.RabbitMQ.URL, logger)
		sup.SetWakeChannel(waker.Chan())
		go waker.Run(ctx)
	}

	// Prometheus metrics server
	go func() {
		metricsAddr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics server listening", zap.String("addr", metricsAddr))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done

	logger.Info("Worker stopped")
}

func buildProcessor(cfg *config.Config, store repository.JobStore, logger *zap.Logger) (*processor.Processor, error) {
	llm, err := analyzer.NewOpenAIAnalyzer(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
	if err != nil {
		return nil, err
	}
	return processor.New(store, fetcher.NewGitFetcher(logger), llm, processor.Config{
		Concurrency:     cfg.Processor.Concurrency,
		MinContentChars: cfg.Processor.MinContentChars,
		Extensions:      cfg.Processor.Extensions,
		MaxFileBytes:    cfg.Processor.MaxFileBytes,
	}, logger), nil
}

func buildLauncher(cfg *config.Config, store repository.JobStore, logger *zap.Logger) (supervisor.Launcher, error) {
	switch cfg.Worker.LaunchMode {
	case "process":
		return supervisor.NewProcessLauncher("", logger)
	case "goroutine":
		proc, err := buildProcessor(cfg, store, logger)
		if err != nil {
			return nil, err
		}
		return supervisor.NewGoroutineLauncher(proc, logger), nil
	default:
		return nil, fmt.Errorf("unknown launch mode %q", cfg.Worker.LaunchMode)
	}
}

// Package processor implements the per-job repository pipeline: claim the
// job, fetch the repository, filter its files and run a bounded number of
// analyses concurrently while recording incremental progress.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/analyzer"
	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/fetcher"
	"github.com/repolish/repolish/internal/metrics"
	"github.com/repolish/repolish/internal/repository"
	"github.com/repolish/repolish/internal/scanner"
)

const (
	// DefaultConcurrency bounds simultaneous in-flight analysis calls.
	DefaultConcurrency = 5

	// DefaultMinContentChars is the minimum trimmed file length worth
	// analyzing. Shorter files are counted as processed but skipped.
	DefaultMinContentChars = 50
)

// Config tunes one processor instance.
type Config struct {
	Concurrency     int
	MinContentChars int
	Extensions      []string
	MaxFileBytes    int64
}

// Processor owns exactly one job end-to-end.
type Processor struct {
	store    repository.JobStore
	fetcher  fetcher.Fetcher
	analyzer analyzer.Analyzer
	scanner  *scanner.Scanner
	logger   *zap.Logger

	concurrency     int
	minContentChars int
}

// New creates a Processor with the given collaborators.
func New(store repository.JobStore, f fetcher.Fetcher, a analyzer.Analyzer, cfg Config, logger *zap.Logger) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = DefaultMinContentChars
	}
	return &Processor{
		store:           store,
		fetcher:         f,
		analyzer:        a,
		scanner:         scanner.New(cfg.Extensions, cfg.MaxFileBytes),
		logger:          logger,
		concurrency:     cfg.Concurrency,
		minContentChars: cfg.MinContentChars,
	}
}

// Run processes the job to a terminal state. It returns an error only for
// reporting; every failure path also persists a FAILED status with the
// captured error, so the store is authoritative regardless.
func (p *Processor) Run(ctx context.Context, jobID uuid.UUID) (err error) {
	logger := p.logger.With(zap.String("job_id", jobID.String()))

	if err := p.store.ClaimJob(ctx, jobID); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			// Another processor owns this job; do not re-enter it.
			logger.Warn("Job already claimed, skipping")
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	// Unexpected panics anywhere below become a FAILED transition with the
	// stack captured, never a crash that leaves the job PROCESSING forever.
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("processing panicked: %v\n%s", r, debug.Stack())
			logger.Error("Processor panic recovered", zap.Any("panic", r))
			p.fail(ctx, jobID, msg)
			err = fmt.Errorf("processing panicked: %v", r)
		}
	}()

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	logger.Info("Processing repository", zap.String("source_url", job.SourceURL))

	workspace, err := p.fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		logger.Error("Repository fetch failed", zap.Error(err))
		p.fail(ctx, jobID, err.Error())
		return err
	}
	defer os.RemoveAll(workspace)

	files, err := p.scanner.EligibleFiles(workspace)
	if err != nil {
		logger.Error("File enumeration failed", zap.Error(err))
		p.fail(ctx, jobID, err.Error())
		return err
	}

	if len(files) == 0 {
		logger.Info("No eligible files found")
		p.complete(ctx, jobID, "no eligible files")
		return nil
	}

	if err := p.store.UpdateProgress(ctx, jobID, len(files), 0); err != nil {
		logger.Error("Initial progress write failed", zap.Error(err))
		p.fail(ctx, jobID, err.Error())
		return err
	}

	logger.Info("Analyzing files",
		zap.Int("total_files", len(files)),
		zap.Int("concurrency", p.concurrency),
	)

	p.analyzeAll(ctx, jobID, workspace, files, logger)

	p.complete(ctx, jobID, "")
	logger.Info("Job completed", zap.Int("total_files", len(files)))
	return nil
}

// analyzeAll fans the eligible files out over a bounded set of goroutines.
// Each file is one attempt; a failed attempt is logged and counted but never
// aborts its siblings. Progress is written once per completed attempt, in
// completion order.
func (p *Processor) analyzeAll(ctx context.Context, jobID uuid.UUID, workspace string, files []string, logger *zap.Logger) {
	var (
		wg        sync.WaitGroup
		gate      = make(chan struct{}, p.concurrency)
		mu        sync.Mutex
		processed int
	)

	// The store write stays under the mutex so persisted counters are
	// monotonic; an unlocked write could land a smaller count after a
	// larger one.
	bump := func() {
		mu.Lock()
		defer mu.Unlock()
		processed++
		if err := p.store.UpdateProgress(ctx, jobID, len(files), processed); err != nil {
			logger.Error("Progress write failed", zap.Error(err), zap.Int("processed", processed))
		}
	}

	for _, rel := range files {
		wg.Add(1)
		gate <- struct{}{}
		go func(rel string) {
			defer wg.Done()
			defer func() { <-gate }()
			// A panicking attempt is a failed attempt, never a crashed
			// process; recover must live on this goroutine to catch it.
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Analysis attempt panicked",
						zap.String("file", rel), zap.Any("panic", r))
					metrics.FilesAnalyzed.WithLabelValues("failed").Inc()
				}
			}()
			defer bump()

			p.analyzeOne(ctx, jobID, workspace, rel, logger)
		}(rel)
	}

	wg.Wait()
}

// analyzeOne handles a single file attempt. Failures are isolated here.
func (p *Processor) analyzeOne(ctx context.Context, jobID uuid.UUID, workspace, rel string, logger *zap.Logger) {
	original, err := scanner.ReadFile(workspace, rel)
	if err != nil {
		logger.Warn("Skipping unreadable file", zap.String("file", rel), zap.Error(err))
		metrics.FilesAnalyzed.WithLabelValues("failed").Inc()
		return
	}

	// Too little content to be worth an analysis call. Still counted as
	// processed so the terminal counters reconcile.
	if len(strings.TrimSpace(original)) < p.minContentChars {
		logger.Debug("Skipping short file", zap.String("file", rel))
		metrics.FilesAnalyzed.WithLabelValues("skipped").Inc()
		return
	}

	start := time.Now()
	result, err := p.analyzer.Analyze(ctx, original)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("Analysis failed", zap.String("file", rel), zap.Error(err))
		metrics.FilesAnalyzed.WithLabelValues("failed").Inc()
		return
	}

	_, err = p.store.SaveFileResult(ctx, &domain.FileResult{
		JobID:            jobID,
		FilePath:         rel,
		OriginalCode:     original,
		OptimizedCode:    result.OptimizedCode,
		Score:            result.Score,
		Metrics:          result.Metrics,
		IntegrationNotes: result.IntegrationNotes,
	})
	if err != nil {
		logger.Error("Failed to save file result", zap.String("file", rel), zap.Error(err))
		metrics.FilesAnalyzed.WithLabelValues("failed").Inc()
		return
	}

	metrics.FilesAnalyzed.WithLabelValues("succeeded").Inc()
	logger.Debug("File analyzed",
		zap.String("file", rel),
		zap.Float64("score", result.Score),
	)
}

func (p *Processor) complete(ctx context.Context, jobID uuid.UUID, note string) {
	if err := p.store.UpdateStatus(ctx, jobID, domain.StatusCompleted, note); err != nil {
		p.logger.Error("Failed to mark job completed", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	metrics.JobsTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
}

func (p *Processor) fail(ctx context.Context, jobID uuid.UUID, msg string) {
	if err := p.store.UpdateStatus(ctx, jobID, domain.StatusFailed, msg); err != nil {
		p.logger.Error("Failed to mark job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	metrics.JobsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
}

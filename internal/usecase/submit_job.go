package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/metrics"
	"github.com/repolish/repolish/internal/notify"
	"github.com/repolish/repolish/internal/repository"
)

// SubmitJobUsecase handles the business logic for submitting repositories
// for optimization.
type SubmitJobUsecase struct {
	store     repository.JobStore
	deduper   repository.SubmissionDeduper
	publisher notify.Publisher
	logger    *zap.Logger
}

// NewSubmitJobUsecase creates a new SubmitJobUsecase. deduper and publisher
// may be nil, in which case deduplication and wake notifications are skipped.
func NewSubmitJobUsecase(store repository.JobStore, deduper repository.SubmissionDeduper, pub notify.Publisher, logger *zap.Logger) *SubmitJobUsecase {
	return &SubmitJobUsecase{
		store:     store,
		deduper:   deduper,
		publisher: pub,
		logger:    logger,
	}
}

// Execute validates the repository URL, creates a pending job and returns it.
// When a deduper is configured and the same URL was submitted within the
// dedupe window, the existing job is returned instead of creating a new one.
func (uc *SubmitJobUsecase) Execute(ctx context.Context, sourceURL string) (*domain.Job, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if err := validateSourceURL(sourceURL); err != nil {
		return nil, err
	}

	if uc.deduper != nil {
		if existingID, ok, err := uc.deduper.Existing(ctx, sourceURL); err != nil {
			// Dedupe is best-effort; a broken cache must not block submissions.
			uc.logger.Warn("Dedupe lookup failed", zap.Error(err))
		} else if ok {
			job, err := uc.store.GetJob(ctx, existingID)
			if err == nil {
				uc.logger.Info("Returning existing job for duplicate submission",
					zap.String("job_id", existingID.String()),
					zap.String("source_url", sourceURL),
				)
				return job, nil
			}
		}
	}

	jobID, err := uc.store.CreateJob(ctx, sourceURL)
	if err != nil {
		uc.logger.Error("Failed to create job", zap.Error(err), zap.String("source_url", sourceURL))
		return nil, fmt.Errorf("create job: %w", err)
	}

	if uc.deduper != nil {
		if err := uc.deduper.Remember(ctx, sourceURL, jobID); err != nil {
			uc.logger.Warn("Failed to record submission for dedupe", zap.Error(err))
		}
	}

	if uc.publisher != nil {
		// Best-effort wake-up ping; the supervisor polls regardless.
		if err := uc.publisher.JobCreated(ctx, jobID); err != nil {
			uc.logger.Warn("Failed to publish job-created notification",
				zap.Error(err), zap.String("job_id", jobID.String()))
		}
	}

	metrics.JobsSubmitted.Inc()

	uc.logger.Info("Job submitted",
		zap.String("job_id", jobID.String()),
		zap.String("source_url", sourceURL),
	)

	return uc.store.GetJob(ctx, jobID)
}

// validateSourceURL accepts http(s) clone URLs and scp-like git SSH remotes.
func validateSourceURL(raw string) error {
	if raw == "" {
		return domain.ErrInvalidSourceURL
	}
	if strings.HasPrefix(raw, "git@") && strings.Contains(raw, ":") {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain.ErrInvalidSourceURL
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
	default:
		return domain.ErrInvalidSourceURL
	}
	if u.Host == "" {
		return domain.ErrInvalidSourceURL
	}
	return nil
}

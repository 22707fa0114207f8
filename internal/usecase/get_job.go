package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/repository"
)

// GetJobUsecase handles fetching job status, job listings and results.
type GetJobUsecase struct {
	store  repository.JobStore
	logger *zap.Logger
}

// NewGetJobUsecase creates a new GetJobUsecase.
func NewGetJobUsecase(store repository.JobStore, logger *zap.Logger) *GetJobUsecase {
	return &GetJobUsecase{
		store:  store,
		logger: logger,
	}
}

// Execute retrieves a job by its ID.
func (uc *GetJobUsecase) Execute(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := uc.store.GetJob(ctx, id)
	if err != nil {
		uc.logger.Debug("Job lookup failed", zap.String("job_id", id.String()), zap.Error(err))
		return nil, err
	}
	return job, nil
}

// List returns jobs newest-first, optionally filtered by status. An unknown
// status string yields domain.ErrInvalidStatus.
func (uc *GetJobUsecase) List(ctx context.Context, status string) ([]*domain.Job, error) {
	var filter *domain.JobStatus
	if status != "" {
		s := domain.JobStatus(status)
		if !s.IsValid() {
			return nil, domain.ErrInvalidStatus
		}
		filter = &s
	}
	return uc.store.ListJobs(ctx, filter)
}

// Results returns all file results for a job, ordered by score descending.
// The job must exist.
func (uc *GetJobUsecase) Results(ctx context.Context, jobID uuid.UUID) ([]*domain.FileResult, error) {
	if _, err := uc.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return uc.store.GetResults(ctx, jobID, true)
}

// TopResults returns the highest-scoring results for a job, capped at limit.
func (uc *GetJobUsecase) TopResults(ctx context.Context, jobID uuid.UUID, limit int) ([]*domain.FileResult, error) {
	if _, err := uc.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return uc.store.GetTopResults(ctx, jobID, limit)
}

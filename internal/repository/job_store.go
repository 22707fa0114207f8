package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/repolish/repolish/internal/domain"
)

// JobStore defines the persistence interface for jobs and per-file results.
// It is the only state shared between the API, the supervisor and worker
// processes, so every operation must be durable before it returns.
// Implementations must be safe for concurrent use.
type JobStore interface {
	// CreateJob inserts a new pending job for the given repository URL and
	// returns its ID.
	CreateJob(ctx context.Context, sourceURL string) (uuid.UUID, error)

	// GetJob retrieves a job by ID. Returns domain.ErrJobNotFound when absent.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ListJobs returns jobs newest-first, optionally filtered by status.
	ListJobs(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error)

	// PendingJobs returns pending jobs oldest-first, for supervisor scheduling.
	PendingJobs(ctx context.Context) ([]*domain.Job, error)

	// ClaimJob atomically transitions a pending job to processing and sets
	// its started_at timestamp. Returns domain.ErrJobAlreadyClaimed if the
	// job has already left the pending state, domain.ErrJobNotFound if it
	// does not exist.
	ClaimJob(ctx context.Context, id uuid.UUID) error

	// UpdateStatus writes a new status, setting completed_at and the error
	// message when the status is terminal. Transition legality is the
	// caller's responsibility.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMessage string) error

	// UpdateProgress overwrites the total and processed file counters.
	UpdateProgress(ctx context.Context, id uuid.UUID, total, processed int) error

	// SaveFileResult persists one file's optimization outcome and returns
	// the result ID.
	SaveFileResult(ctx context.Context, result *domain.FileResult) (uuid.UUID, error)

	// GetResults returns all results for a job, ordered by score descending
	// when orderByScore is true, by creation time otherwise.
	GetResults(ctx context.Context, jobID uuid.UUID, orderByScore bool) ([]*domain.FileResult, error)

	// GetTopResults returns the top-N results for a job by score descending.
	GetTopResults(ctx context.Context, jobID uuid.UUID, limit int) ([]*domain.FileResult, error)
}

// SubmissionDeduper is an optional best-effort guard against the same
// repository URL being submitted repeatedly in a short window.
type SubmissionDeduper interface {
	// Existing returns the job ID previously remembered for the URL, if any.
	Existing(ctx context.Context, sourceURL string) (uuid.UUID, bool, error)

	// Remember associates the URL with a job ID for the dedupe window.
	Remember(ctx context.Context, sourceURL string, id uuid.UUID) error
}

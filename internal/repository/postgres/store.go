package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/repository"
)

var _ repository.JobStore = (*Store)(nil)

// Store is a PostgreSQL-backed job store for shared deployments.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed job store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the jobs and file_results tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		source_url TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		error_message TEXT NOT NULL DEFAULT '',
		total_files INTEGER NOT NULL DEFAULT 0,
		processed_files INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS file_results (
		id UUID PRIMARY KEY,
		job_id UUID NOT NULL REFERENCES jobs(id),
		file_path TEXT NOT NULL,
		original_code TEXT NOT NULL,
		optimized_code TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		metrics JSONB NOT NULL,
		integration_notes JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_file_results_job_id ON file_results(job_id);
	CREATE INDEX IF NOT EXISTS idx_file_results_score ON file_results(score DESC);`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateJob(ctx context.Context, sourceURL string) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("postgres: generate job id: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, source_url, status, created_at) VALUES ($1, $2, $3, $4)`,
		id, sourceURL, domain.StatusPending, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("postgres: create job: %w", err)
	}
	return id, nil
}

const jobColumns = `id, source_url, status, created_at, started_at, completed_at, error_message, total_files, processed_files`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	err := row.Scan(&job.ID, &job.SourceURL, &job.Status, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt, &job.ErrorMessage,
		&job.TotalFiles, &job.ProcessedFiles)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC`, *status)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) PendingJobs(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at ASC`,
		domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
		domain.StatusProcessing, time.Now().UTC(), id, domain.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("postgres: claim job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return domain.ErrJobAlreadyClaimed
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMessage string) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch {
	case status == domain.StatusProcessing:
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, started_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), id)
	case status.IsTerminal():
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, completed_at = $2, error_message = $3 WHERE id = $4`,
			status, time.Now().UTC(), errorMessage, id)
	default:
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, error_message = $2 WHERE id = $3`,
			status, errorMessage, id)
	}
	if err != nil {
		return fmt.Errorf("postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, total, processed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET total_files = $1, processed_files = $2 WHERE id = $3`,
		total, processed, id)
	if err != nil {
		return fmt.Errorf("postgres: update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) SaveFileResult(ctx context.Context, result *domain.FileResult) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("postgres: generate result id: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO file_results
		 (id, job_id, file_path, original_code, optimized_code, score, metrics, integration_notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, result.JobID, result.FilePath,
		result.OriginalCode, result.OptimizedCode, result.Score,
		result.Metrics, result.IntegrationNotes, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("postgres: save file result: %w", err)
	}
	return id, nil
}

const resultColumns = `id, job_id, file_path, original_code, optimized_code, score, metrics, integration_notes, created_at`

func (s *Store) GetResults(ctx context.Context, jobID uuid.UUID, orderByScore bool) ([]*domain.FileResult, error) {
	order := `created_at ASC`
	if orderByScore {
		order = `score DESC, created_at ASC`
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM file_results WHERE job_id = $1 ORDER BY `+order, jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *Store) GetTopResults(ctx context.Context, jobID uuid.UUID, limit int) ([]*domain.FileResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM file_results WHERE job_id = $1
		 ORDER BY score DESC, created_at ASC LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: get top results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func collectResults(rows pgx.Rows) ([]*domain.FileResult, error) {
	var results []*domain.FileResult
	for rows.Next() {
		var r domain.FileResult
		err := rows.Scan(&r.ID, &r.JobID, &r.FilePath, &r.OriginalCode,
			&r.OptimizedCode, &r.Score, &r.Metrics, &r.IntegrationNotes, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan result: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

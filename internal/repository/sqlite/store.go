package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/repository"
)

var _ repository.JobStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	error_message TEXT NOT NULL DEFAULT '',
	total_files INTEGER NOT NULL DEFAULT 0,
	processed_files INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS file_results (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	original_code TEXT NOT NULL,
	optimized_code TEXT NOT NULL,
	score REAL NOT NULL,
	metrics TEXT NOT NULL,
	integration_notes TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs (id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_file_results_job_id ON file_results(job_id);
CREATE INDEX IF NOT EXISTS idx_file_results_score ON file_results(score DESC);
`

// Store is a SQLite-backed job store. WAL mode keeps writes from one process
// visible to readers in another, which the supervisor and worker processes
// rely on.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_fk=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateJob(ctx context.Context, sourceURL string) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: generate job id: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, source_url, status, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), sourceURL, domain.StatusPending, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: create job: %w", err)
	}
	return id, nil
}

const jobColumns = `id, source_url, status, created_at, started_at, completed_at, error_message, total_files, processed_files`

func scanJob(row interface{ Scan(...any) error }) (*domain.Job, error) {
	var (
		job       domain.Job
		idStr     string
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&idStr, &job.SourceURL, &job.Status, &job.CreatedAt,
		&started, &completed, &job.ErrorMessage, &job.TotalFiles, &job.ProcessedFiles)
	if err != nil {
		return nil, err
	}
	job.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get job: %w", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC`, *status)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) PendingJobs(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC`,
		domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		domain.StatusProcessing, time.Now().UTC(), id.String(), domain.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("sqlite: claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: claim job: %w", err)
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return domain.ErrJobAlreadyClaimed
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMessage string) error {
	var (
		res sql.Result
		err error
	)
	switch {
	case status == domain.StatusProcessing:
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
			status, time.Now().UTC(), id.String())
	case status.IsTerminal():
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, completed_at = ?, error_message = ? WHERE id = ?`,
			status, time.Now().UTC(), errorMessage, id.String())
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error_message = ? WHERE id = ?`,
			status, errorMessage, id.String())
	}
	if err != nil {
		return fmt.Errorf("sqlite: update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, total, processed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET total_files = ?, processed_files = ? WHERE id = ?`,
		total, processed, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: update progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) SaveFileResult(ctx context.Context, result *domain.FileResult) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: generate result id: %w", err)
	}

	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: marshal metrics: %w", err)
	}
	notes, err := json.Marshal(result.IntegrationNotes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: marshal integration notes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO file_results
		 (id, job_id, file_path, original_code, optimized_code, score, metrics, integration_notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), result.JobID.String(), result.FilePath,
		result.OriginalCode, result.OptimizedCode, result.Score,
		string(metrics), string(notes), time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlite: save file result: %w", err)
	}
	return id, nil
}

const resultColumns = `id, job_id, file_path, original_code, optimized_code, score, metrics, integration_notes, created_at`

func (s *Store) GetResults(ctx context.Context, jobID uuid.UUID, orderByScore bool) ([]*domain.FileResult, error) {
	order := `created_at ASC`
	if orderByScore {
		order = `score DESC, created_at ASC`
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM file_results WHERE job_id = ? ORDER BY `+order,
		jobID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: get results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *Store) GetTopResults(ctx context.Context, jobID uuid.UUID, limit int) ([]*domain.FileResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM file_results WHERE job_id = ?
		 ORDER BY score DESC, created_at ASC LIMIT ?`,
		jobID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get top results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func collectResults(rows *sql.Rows) ([]*domain.FileResult, error) {
	var results []*domain.FileResult
	for rows.Next() {
		var (
			r             domain.FileResult
			idStr, jobStr string
			metrics       string
			notes         string
		)
		err := rows.Scan(&idStr, &jobStr, &r.FilePath, &r.OriginalCode,
			&r.OptimizedCode, &r.Score, &metrics, &notes, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan result: %w", err)
		}
		if r.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("sqlite: parse result id %q: %w", idStr, err)
		}
		if r.JobID, err = uuid.Parse(jobStr); err != nil {
			return nil, fmt.Errorf("sqlite: parse job id %q: %w", jobStr, err)
		}
		if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal metrics: %w", err)
		}
		if err := json.Unmarshal([]byte(notes), &r.IntegrationNotes); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal integration notes: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

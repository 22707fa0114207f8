package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/repository"
)

var _ repository.JobStore = (*JobStore)(nil)

// JobStore is an in-memory mock of the job store for testing.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*domain.Job
	results map[uuid.UUID][]*domain.FileResult
	seq     int

	// Hook functions for injecting errors.
	CreateJobFunc      func(ctx context.Context, sourceURL string) (uuid.UUID, error)
	PendingJobsFunc    func(ctx context.Context) ([]*domain.Job, error)
	UpdateStatusFunc   func(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMessage string) error
	UpdateProgressFunc func(ctx context.Context, id uuid.UUID, total, processed int) error
	SaveFileResultFunc func(ctx context.Context, result *domain.FileResult) (uuid.UUID, error)
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[uuid.UUID]*domain.Job),
		results: make(map[uuid.UUID][]*domain.FileResult),
	}
}

func (m *JobStore) CreateJob(ctx context.Context, sourceURL string) (uuid.UUID, error) {
	if m.CreateJobFunc != nil {
		return m.CreateJobFunc(ctx, sourceURL)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, err
	}
	m.seq++
	m.jobs[id] = &domain.Job{
		ID:        id,
		SourceURL: sourceURL,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC().Add(time.Duration(m.seq) * time.Microsecond),
	}
	return id, nil
}

func (m *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *JobStore) ListJobs(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*domain.Job
	for _, job := range m.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		copied := *job
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (m *JobStore) PendingJobs(ctx context.Context) ([]*domain.Job, error) {
	if m.PendingJobsFunc != nil {
		return m.PendingJobsFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*domain.Job
	for _, job := range m.jobs {
		if job.Status != domain.StatusPending {
			continue
		}
		copied := *job
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (m *JobStore) ClaimJob(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.StatusPending {
		return domain.ErrJobAlreadyClaimed
	}
	now := time.Now().UTC()
	job.Status = domain.StatusProcessing
	job.StartedAt = &now
	return nil
}

func (m *JobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMessage string) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, errorMessage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	now := time.Now().UTC()
	switch {
	case status == domain.StatusProcessing:
		job.StartedAt = &now
	case status.IsTerminal():
		job.CompletedAt = &now
		job.ErrorMessage = errorMessage
	}
	job.Status = status
	return nil
}

func (m *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, total, processed int) error {
	if m.UpdateProgressFunc != nil {
		return m.UpdateProgressFunc(ctx, id, total, processed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.TotalFiles = total
	job.ProcessedFiles = processed
	return nil
}

func (m *JobStore) SaveFileResult(ctx context.Context, result *domain.FileResult) (uuid.UUID, error) {
	if m.SaveFileResultFunc != nil {
		return m.SaveFileResultFunc(ctx, result)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, err
	}
	copied := *result
	copied.ID = id
	copied.CreatedAt = time.Now().UTC()
	m.results[result.JobID] = append(m.results[result.JobID], &copied)
	return id, nil
}

func (m *JobStore) GetResults(ctx context.Context, jobID uuid.UUID, orderByScore bool) ([]*domain.FileResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := append([]*domain.FileResult(nil), m.results[jobID]...)
	if orderByScore {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}
	return results, nil
}

func (m *JobStore) GetTopResults(ctx context.Context, jobID uuid.UUID, limit int) ([]*domain.FileResult, error) {
	results, _ := m.GetResults(ctx, jobID, true)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

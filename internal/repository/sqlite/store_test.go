package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/repolish/repolish/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, "https://example.com/repo.git")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.StatusPending {
		t.Errorf("expected pending, got %s", job.Status)
	}
	if job.SourceURL != "https://example.com/repo.git" {
		t.Errorf("unexpected source url %q", job.SourceURL)
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Error("new job must have no started/completed timestamps")
	}

	// Repeated reads without writes return identical data.
	again, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job again: %v", err)
	}
	if *again != *job {
		t.Errorf("repeated GetJob differs: %+v vs %+v", again, job)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.CreateJob(ctx, "https://example.com/repo.git")

	if err := store.ClaimJob(ctx, id); err != nil {
		t.Fatalf("claim: %v", err)
	}

	job, _ := store.GetJob(ctx, id)
	if job.Status != domain.StatusProcessing {
		t.Errorf("expected processing, got %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Error("claim must set started_at")
	}

	// A second claim must fail: the job is no longer pending.
	if err := store.ClaimJob(ctx, id); !errors.Is(err, domain.ErrJobAlreadyClaimed) {
		t.Errorf("expected ErrJobAlreadyClaimed, got %v", err)
	}

	if err := store.ClaimJob(ctx, uuid.New()); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for unknown id, got %v", err)
	}
}

func TestUpdateStatus_Terminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.CreateJob(ctx, "https://example.com/repo.git")
	_ = store.ClaimJob(ctx, id)

	if err := store.UpdateStatus(ctx, id, domain.StatusFailed, "clone failed: no such host"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	job, _ := store.GetJob(ctx, id)
	if job.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.CompletedAt == nil {
		t.Error("terminal status must set completed_at")
	}
	if job.ErrorMessage != "clone failed: no such host" {
		t.Errorf("unexpected error message %q", job.ErrorMessage)
	}
}

func TestUpdateProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.CreateJob(ctx, "https://example.com/repo.git")

	if err := store.UpdateProgress(ctx, id, 10, 3); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	job, _ := store.GetJob(ctx, id)
	if job.TotalFiles != 10 || job.ProcessedFiles != 3 {
		t.Errorf("expected 10/3, got %d/%d", job.TotalFiles, job.ProcessedFiles)
	}
}

func TestListAndPendingJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := store.CreateJob(ctx, "https://example.com/a.git")
	second, _ := store.CreateJob(ctx, "https://example.com/b.git")
	third, _ := store.CreateJob(ctx, "https://example.com/c.git")
	_ = store.ClaimJob(ctx, second)

	pending, err := store.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("pending jobs: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", len(pending))
	}
	// Oldest first.
	if pending[0].ID != first || pending[1].ID != third {
		t.Errorf("pending jobs out of order: %v, %v", pending[0].ID, pending[1].ID)
	}

	all, err := store.ListJobs(ctx, nil)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}

	processing := domain.StatusProcessing
	filtered, err := store.ListJobs(ctx, &processing)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != second {
		t.Errorf("expected only the claimed job, got %d entries", len(filtered))
	}
}

func TestFileResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jobID, _ := store.CreateJob(ctx, "https://example.com/repo.git")

	save := func(path string, score float64) {
		t.Helper()
		_, err := store.SaveFileResult(ctx, &domain.FileResult{
			JobID:            jobID,
			FilePath:         path,
			OriginalCode:     "original",
			OptimizedCode:    "optimized",
			Score:            score,
			Metrics:          map[string]any{"readability": "improved"},
			IntegrationNotes: []string{"no signature changes"},
		})
		if err != nil {
			t.Fatalf("save result %s: %v", path, err)
		}
	}

	save("a.go", 0.9)
	save("b.go", 0.3)
	save("c.go", 0.7)

	results, err := store.GetResults(ctx, jobID, true)
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Score != 0.9 || results[1].Score != 0.7 || results[2].Score != 0.3 {
		t.Errorf("results not ordered by score: %v %v %v",
			results[0].Score, results[1].Score, results[2].Score)
	}
	if results[0].Metrics["readability"] != "improved" {
		t.Errorf("metrics did not round-trip: %v", results[0].Metrics)
	}
	if len(results[0].IntegrationNotes) != 1 {
		t.Errorf("integration notes did not round-trip: %v", results[0].IntegrationNotes)
	}

	top, err := store.GetTopResults(ctx, jobID, 2)
	if err != nil {
		t.Fatalf("get top results: %v", err)
	}
	if len(top) != 2 || top[0].Score != 0.9 || top[1].Score != 0.7 {
		t.Errorf("unexpected top results: %+v", top)
	}
}

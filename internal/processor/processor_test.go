package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/analyzer"
	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/repository/mock"
)

// dirFetcher copies a prepared fixture tree into a fresh temp dir, standing
// in for a git clone.
type dirFetcher struct {
	src string
	err error
}

func (f *dirFetcher) Fetch(ctx context.Context, sourceURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	dst, err := os.MkdirTemp("", "processor-test-*")
	if err != nil {
		return "", err
	}
	err = filepath.Walk(f.src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.src, path)
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	return dst, err
}

// stubAnalyzer returns canned analyses, optionally failing or panicking for
// chosen files and tracking peak concurrency.
type stubAnalyzer struct {
	failFor  map[string]bool // keyed on a substring of the source text
	panicFor map[string]bool // same keying, but the call panics

	mu      sync.Mutex
	active  int
	peak    int
	calls   atomic.Int32
	blockCh chan struct{} // when non-nil, calls block until it closes
}

func (a *stubAnalyzer) Analyze(ctx context.Context, sourceCode string) (*analyzer.Analysis, error) {
	a.calls.Add(1)

	a.mu.Lock()
	a.active++
	if a.active > a.peak {
		a.peak = a.active
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.active--
		a.mu.Unlock()
	}()

	if a.blockCh != nil {
		<-a.blockCh
	}

	for marker := range a.panicFor {
		if strings.Contains(sourceCode, marker) {
			panic("analyzer blew up")
		}
	}
	for marker := range a.failFor {
		if strings.Contains(sourceCode, marker) {
			return nil, errors.New("analysis blew up")
		}
	}

	return &analyzer.Analysis{
		OptimizedCode:    "optimized " + sourceCode,
		Score:            0.5,
		Metrics:          map[string]any{"readability_score": "better"},
		IntegrationNotes: []string{"none"},
	}, nil
}

// padding makes file content long enough to clear the minimum length filter.
var padding = strings.Repeat("// padding line\n", 10)

func fixtureRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"alpha.go":       "package alpha\n" + padding,
		"beta.go":        "package beta\n" + padding,
		"sub/gamma.py":   "def gamma(): pass\n" + padding,
		".git/hidden.go": "package hidden\n" + padding,
		"notes.txt":      "not source\n" + padding,
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newJob(t *testing.T, store *mock.JobStore) uuid.UUID {
	t.Helper()
	id, err := store.CreateJob(context.Background(), "https://example.com/repo.git")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestRun_Success(t *testing.T) {
	store := mock.NewJobStore()
	anlz := &stubAnalyzer{}
	p := New(store, &dirFetcher{src: fixtureRepo(t)}, anlz, Config{}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s (%s)", job.Status, job.ErrorMessage)
	}
	// .git/hidden.go and notes.txt are not eligible.
	if job.TotalFiles != 3 {
		t.Errorf("expected 3 total files, got %d", job.TotalFiles)
	}
	if job.ProcessedFiles != 3 {
		t.Errorf("expected 3 processed files, got %d", job.ProcessedFiles)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("expected both timestamps set on a completed job")
	}

	results, _ := store.GetResults(context.Background(), jobID, true)
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}

func TestRun_FetchFailure(t *testing.T) {
	store := mock.NewJobStore()
	p := New(store, &dirFetcher{err: errors.New("git clone failed: repository not found")},
		&stubAnalyzer{}, Config{}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err == nil {
		t.Fatal("expected error from failed fetch")
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "repository not found") {
		t.Errorf("fetch error not captured: %q", job.ErrorMessage)
	}

	results, _ := store.GetResults(context.Background(), jobID, true)
	if len(results) != 0 {
		t.Errorf("expected no results for failed fetch, got %d", len(results))
	}
}

func TestRun_NoEligibleFiles(t *testing.T) {
	store := mock.NewJobStore()
	empty := t.TempDir()
	if err := os.WriteFile(filepath.Join(empty, "README.md"), []byte("# hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := New(store, &dirFetcher{src: empty}, &stubAnalyzer{}, Config{}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if job.ErrorMessage != "no eligible files" {
		t.Errorf("expected explanatory note, got %q", job.ErrorMessage)
	}
	if job.TotalFiles != 0 {
		t.Errorf("expected 0 total files, got %d", job.TotalFiles)
	}
}

func TestRun_PerFileFailureIsIsolated(t *testing.T) {
	store := mock.NewJobStore()
	anlz := &stubAnalyzer{failFor: map[string]bool{"package beta": true}}
	p := New(store, &dirFetcher{src: fixtureRepo(t)}, anlz, Config{}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != domain.StatusCompleted {
		t.Errorf("expected completed despite per-file failure, got %s", job.Status)
	}
	if job.ProcessedFiles != 3 {
		t.Errorf("failed attempts must still count: expected 3 processed, got %d", job.ProcessedFiles)
	}

	results, _ := store.GetResults(context.Background(), jobID, true)
	if len(results) != 2 {
		t.Errorf("expected 2 results (one file failed), got %d", len(results))
	}
}

func TestRun_ShortFilesCountAsProcessed(t *testing.T) {
	store := mock.NewJobStore()
	root := t.TempDir()
	// One real file, one below the minimum content length.
	if err := os.WriteFile(filepath.Join(root, "real.go"), []byte("package real\n"+padding), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "tiny.go"), []byte("package t"), 0o644); err != nil {
		t.Fatal(err)
	}

	anlz := &stubAnalyzer{}
	p := New(store, &dirFetcher{src: root}, anlz, Config{}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.TotalFiles != 2 || job.ProcessedFiles != 2 {
		t.Errorf("short files must count as processed: got %d/%d",
			job.ProcessedFiles, job.TotalFiles)
	}
	if anlz.calls.Load() != 1 {
		t.Errorf("short file must not consume an analysis call: got %d calls", anlz.calls.Load())
	}

	results, _ := store.GetResults(context.Background(), jobID, true)
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestRun_ConcurrencyCeiling(t *testing.T) {
	store := mock.NewJobStore()
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		content := "package " + name + "\n" + padding
		if err := os.WriteFile(filepath.Join(root, name+".go"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	anlz := &stubAnalyzer{}
	p := New(store, &dirFetcher{src: root}, anlz, Config{Concurrency: 2}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if anlz.peak > 2 {
		t.Errorf("concurrency ceiling exceeded: peak %d", anlz.peak)
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.ProcessedFiles != 8 {
		t.Errorf("expected 8 processed, got %d", job.ProcessedFiles)
	}
}

func TestRun_AlreadyClaimedIsNoop(t *testing.T) {
	store := mock.NewJobStore()
	p := New(store, &dirFetcher{src: fixtureRepo(t)}, &stubAnalyzer{}, Config{}, zap.NewNop())

	jobID := newJob(t, store)
	if err := store.ClaimJob(context.Background(), jobID); err != nil {
		t.Fatal(err)
	}

	if err := p.Run(context.Background(), jobID); err != nil {
		t.Fatalf("re-entering a claimed job must not error: %v", err)
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != domain.StatusProcessing {
		t.Errorf("claimed job must be left untouched, got %s", job.Status)
	}
}

// panicStore panics mid-pipeline to exercise the catch-all recovery path.
type panicStore struct {
	*mock.JobStore
}

func (p *panicStore) UpdateProgress(ctx context.Context, id uuid.UUID, total, processed int) error {
	panic("store corrupted")
}

func TestRun_PanicBecomesFailed(t *testing.T) {
	store := &panicStore{JobStore: mock.NewJobStore()}
	p := New(store, &dirFetcher{src: fixtureRepo(t)}, &stubAnalyzer{}, Config{}, zap.NewNop())

	jobID := newJob(t, store.JobStore)
	if err := p.Run(context.Background(), jobID); err == nil {
		t.Fatal("expected error from panicking pipeline")
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "panicked") {
		t.Errorf("panic context not captured: %q", job.ErrorMessage)
	}
}

func TestRun_PanicInOneAttemptIsContained(t *testing.T) {
	store := mock.NewJobStore()
	anlz := &stubAnalyzer{panicFor: map[string]bool{"package beta": true}}
	p := New(store, &dirFetcher{src: fixtureRepo(t)}, anlz, Config{}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err != nil {
		t.Fatalf("a panicking attempt must not fail the run: %v", err)
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != domain.StatusCompleted {
		t.Errorf("expected completed despite panicking attempt, got %s (%s)",
			job.Status, job.ErrorMessage)
	}
	if job.ProcessedFiles != 3 {
		t.Errorf("panicking attempts must still count: expected 3 processed, got %d",
			job.ProcessedFiles)
	}

	results, _ := store.GetResults(context.Background(), jobID, true)
	if len(results) != 2 {
		t.Errorf("expected 2 results (one attempt panicked), got %d", len(results))
	}
}

func TestRun_ProgressWritesAreMonotonic(t *testing.T) {
	store := mock.NewJobStore()
	var (
		mu      sync.Mutex
		written []int
	)
	store.UpdateProgressFunc = func(ctx context.Context, id uuid.UUID, total, processed int) error {
		// Stall one write so a racing later write would overtake it.
		if processed == 1 {
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		written = append(written, processed)
		mu.Unlock()
		return nil
	}

	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d"} {
		content := "package " + name + "\n" + padding
		if err := os.WriteFile(filepath.Join(root, name+".go"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	p := New(store, &dirFetcher{src: root}, &stubAnalyzer{}, Config{Concurrency: 4}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(written); i++ {
		if written[i] < written[i-1] {
			t.Fatalf("progress writes regressed: %v", written)
		}
	}
	if last := written[len(written)-1]; last != 4 {
		t.Errorf("expected final progress write of 4, got %d (%v)", last, written)
	}
}

func TestRun_FailedProgressWriteFailsJob(t *testing.T) {
	store := mock.NewJobStore()
	store.UpdateProgressFunc = func(ctx context.Context, id uuid.UUID, total, processed int) error {
		return errors.New("storage unavailable")
	}
	p := New(store, &dirFetcher{src: fixtureRepo(t)}, &stubAnalyzer{}, Config{}, zap.NewNop())

	jobID := newJob(t, store)
	if err := p.Run(context.Background(), jobID); err == nil {
		t.Fatal("expected error when the initial progress write fails")
	}

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
}

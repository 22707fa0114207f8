package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/domain"
	"github.com/repolish/repolish/internal/repository/mock"
)

// fakeUnit is a controllable worker unit.
type fakeUnit struct {
	done       chan struct{}
	once       sync.Once
	terminated bool
}

func newFakeUnit() *fakeUnit { return &fakeUnit{done: make(chan struct{})} }

func (u *fakeUnit) Done() <-chan struct{} { return u.done }
func (u *fakeUnit) Err() error            { return nil }
func (u *fakeUnit) finish()               { u.once.Do(func() { close(u.done) }) }
func (u *fakeUnit) Terminate() error {
	u.terminated = true
	u.finish()
	return nil
}

// fakeLauncher records launches and marks launched jobs processing, the way
// a real processor's claim does.
type fakeLauncher struct {
	mu     sync.Mutex
	store  *mock.JobStore
	units  map[uuid.UUID]*fakeUnit
	launch []uuid.UUID
}

func newFakeLauncher(store *mock.JobStore) *fakeLauncher {
	return &fakeLauncher{store: store, units: make(map[uuid.UUID]*fakeUnit)}
}

func (l *fakeLauncher) Launch(jobID uuid.UUID, sourceURL string) (Unit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.ClaimJob(context.Background(), jobID); err != nil {
		return nil, err
	}
	u := newFakeUnit()
	l.units[jobID] = u
	l.launch = append(l.launch, jobID)
	return u, nil
}

func (l *fakeLauncher) launched() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uuid.UUID(nil), l.launch...)
}

func submitJobs(t *testing.T, store *mock.JobStore, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id, err := store.CreateJob(context.Background(), "https://example.com/repo.git")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
		time.Sleep(time.Millisecond) // distinct creation times
	}
	return ids
}

func testConfig() Config {
	return Config{
		MaxWorkers:      2,
		PollInterval:    10 * time.Millisecond,
		ErrorBackoff:    20 * time.Millisecond,
		ShutdownTimeout: 50 * time.Millisecond,
	}
}

func TestCycle_RespectsCapAndOrder(t *testing.T) {
	store := mock.NewJobStore()
	launcher := newFakeLauncher(store)
	s := New(store, launcher, testConfig(), zap.NewNop())

	ids := submitJobs(t, store, 5)

	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	launched := launcher.launched()
	if len(launched) != 2 {
		t.Fatalf("expected 2 launches (cap), got %d", len(launched))
	}
	// Oldest pending first.
	if launched[0] != ids[0] || launched[1] != ids[1] {
		t.Errorf("expected oldest-first launch order, got %v", launched)
	}

	// A second cycle at capacity launches nothing.
	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(launcher.launched()) != 2 {
		t.Errorf("expected no launches at capacity, got %d", len(launcher.launched()))
	}
}

func TestCycle_ReapFreesCapacity(t *testing.T) {
	store := mock.NewJobStore()
	launcher := newFakeLauncher(store)
	s := New(store, launcher, testConfig(), zap.NewNop())

	ids := submitJobs(t, store, 3)

	_ = s.cycle(context.Background())
	if len(s.units) != 2 {
		t.Fatalf("expected 2 tracked units, got %d", len(s.units))
	}

	// Finish the first unit; the next cycle reaps it and launches the third job.
	launcher.units[ids[0]].finish()
	_ = s.cycle(context.Background())

	launched := launcher.launched()
	if len(launched) != 3 {
		t.Fatalf("expected 3rd job launched after reap, got %d launches", len(launched))
	}
	if launched[2] != ids[2] {
		t.Errorf("expected ids[2] launched third, got %v", launched[2])
	}
	if len(s.units) != 2 {
		t.Errorf("expected 2 tracked units after reap+launch, got %d", len(s.units))
	}
}

func TestCycle_StoreErrorDoesNotCrash(t *testing.T) {
	store := mock.NewJobStore()
	store.PendingJobsFunc = func(ctx context.Context) ([]*domain.Job, error) {
		return nil, errors.New("storage unavailable")
	}
	s := New(store, newFakeLauncher(store), testConfig(), zap.NewNop())

	if err := s.cycle(context.Background()); err == nil {
		t.Fatal("expected cycle error to propagate for backoff")
	}
	// The loop treats this as a soft error; nothing should be tracked.
	if len(s.units) != 0 {
		t.Errorf("expected no tracked units, got %d", len(s.units))
	}
}

func TestRun_ShutdownWaitsThenTerminates(t *testing.T) {
	store := mock.NewJobStore()
	launcher := newFakeLauncher(store)
	s := New(store, launcher, testConfig(), zap.NewNop())

	ids := submitJobs(t, store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	// Wait until both units are launched.
	deadline := time.After(2 * time.Second)
	for {
		if len(launcher.launched()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("units were not launched in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// One unit finishes on its own; the other hangs past the timeout.
	launcher.mu.Lock()
	launcher.units[ids[0]].finish()
	hung := launcher.units[ids[1]]
	launcher.mu.Unlock()

	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	if !hung.terminated {
		t.Error("hung unit must be forcibly terminated at shutdown")
	}
}

func TestRun_WakeChannelTriggersImmediateCycle(t *testing.T) {
	store := mock.NewJobStore()
	launcher := newFakeLauncher(store)

	cfg := testConfig()
	cfg.PollInterval = time.Hour // only the wake channel can trigger cycles
	s := New(store, launcher, cfg, zap.NewNop())

	wake := make(chan struct{}, 1)
	s.SetWakeChannel(wake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	// Let the initial cycle pass with no work.
	time.Sleep(20 * time.Millisecond)

	submitJobs(t, store, 1)
	wake <- struct{}{}

	deadline := time.After(2 * time.Second)
	for len(launcher.launched()) == 0 {
		select {
		case <-deadline:
			t.Fatal("wake channel did not trigger a cycle")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-stopped
}

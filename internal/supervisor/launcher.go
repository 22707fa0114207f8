package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/processor"
)

// Unit is one isolated execution context running the repository processor
// for a single job. A crash inside a unit must never reach the supervisor.
type Unit interface {
	// Done is closed when the unit has exited.
	Done() <-chan struct{}

	// Err reports the unit's failure, valid once Done is closed.
	Err() error

	// Terminate forcibly stops the unit.
	Terminate() error
}

// Launcher starts worker units. Units are detached: they outlive the
// supervisor's scheduling cycle and only share state through the job store.
type Launcher interface {
	Launch(jobID uuid.UUID, sourceURL string) (Unit, error)
}

// ProcessLauncher runs each worker unit as a separate OS process by
// re-executing the worker binary in single-job mode. Process isolation means
// a hung or crashing analysis cannot take the supervisor down with it.
type ProcessLauncher struct {
	binary string
	logger *zap.Logger
}

// NewProcessLauncher creates a launcher that re-executes binary with
// "-job <id>". An empty binary means the current executable.
func NewProcessLauncher(binary string, logger *zap.Logger) (*ProcessLauncher, error) {
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker binary: %w", err)
		}
		binary = self
	}
	return &ProcessLauncher{binary: binary, logger: logger}, nil
}

func (l *ProcessLauncher) Launch(jobID uuid.UUID, sourceURL string) (Unit, error) {
	cmd := exec.Command(l.binary, "-job", jobID.String())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	l.logger.Info("Started worker process",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("job_id", jobID.String()),
	)

	u := &processUnit{cmd: cmd, done: make(chan struct{})}
	go func() {
		u.err = cmd.Wait()
		close(u.done)
	}()
	return u, nil
}

type processUnit struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (u *processUnit) Done() <-chan struct{} { return u.done }
func (u *processUnit) Err() error            { return u.err }

func (u *processUnit) Terminate() error {
	return u.cmd.Process.Kill()
}

// GoroutineLauncher runs worker units as goroutines in the supervisor's own
// process, with panic containment per unit. Suitable for single-process
// deployments and tests; process isolation is traded for simplicity.
type GoroutineLauncher struct {
	proc   *processor.Processor
	logger *zap.Logger
}

// NewGoroutineLauncher creates an in-process launcher around a processor.
func NewGoroutineLauncher(proc *processor.Processor, logger *zap.Logger) *GoroutineLauncher {
	return &GoroutineLauncher{proc: proc, logger: logger}
}

func (l *GoroutineLauncher) Launch(jobID uuid.UUID, sourceURL string) (Unit, error) {
	ctx, cancel := context.WithCancel(context.Background())
	u := &goroutineUnit{done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(u.done)
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("Worker unit panic contained",
					zap.String("job_id", jobID.String()),
					zap.Any("panic", r),
				)
				u.err = fmt.Errorf("worker unit panicked: %v", r)
			}
		}()
		u.err = l.proc.Run(ctx, jobID)
	}()

	return u, nil
}

type goroutineUnit struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

func (u *goroutineUnit) Done() <-chan struct{} { return u.done }
func (u *goroutineUnit) Err() error            { return u.err }

func (u *goroutineUnit) Terminate() error {
	u.cancel()
	return nil
}

// Package supervisor implements the long-running control loop that discovers
// pending jobs and keeps a bounded number of worker units processing them.
package supervisor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repolish/repolish/internal/metrics"
	"github.com/repolish/repolish/internal/repository"
)

const (
	// DefaultMaxWorkers caps simultaneously running worker units.
	DefaultMaxWorkers = 2

	// DefaultPollInterval is the sleep between scheduling cycles.
	DefaultPollInterval = 5 * time.Second

	// DefaultErrorBackoff is the longer sleep after a cycle error.
	DefaultErrorBackoff = 10 * time.Second

	// DefaultShutdownTimeout bounds the per-unit wait during shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// Config tunes the supervisor loop.
type Config struct {
	MaxWorkers      int
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Supervisor polls the store for pending jobs and launches worker units for
// them, at most cfg.MaxWorkers at a time. It assumes it is the only
// supervisor against the store; the processor's claim step additionally
// protects jobs from double entry.
type Supervisor struct {
	store    repository.JobStore
	launcher Launcher
	logger   *zap.Logger
	cfg      Config

	units map[uuid.UUID]Unit

	// wake, when non-nil, short-circuits the poll sleep so freshly
	// submitted jobs start without waiting out the interval.
	wake <-chan struct{}
}

// New creates a Supervisor.
func New(store repository.JobStore, launcher Launcher, cfg Config, logger *zap.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		store:    store,
		launcher: launcher,
		logger:   logger,
		cfg:      cfg,
		units:    make(map[uuid.UUID]Unit),
	}
}

// SetWakeChannel registers an optional channel that triggers an immediate
// scheduling cycle. Must be called before Run.
func (s *Supervisor) SetWakeChannel(ch <-chan struct{}) {
	s.wake = ch
}

// Run executes the control loop until ctx is cancelled, then drains the
// tracked worker units and returns.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("Supervisor starting",
		zap.Int("max_workers", s.cfg.MaxWorkers),
		zap.Duration("poll_interval", s.cfg.PollInterval),
	)

	for {
		sleep := s.cfg.PollInterval
		if err := s.cycle(ctx); err != nil {
			s.logger.Error("Supervisor cycle error", zap.Error(err))
			sleep = s.cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.wakeChan():
			// A job was just submitted; run the next cycle immediately.
		case <-time.After(sleep):
		}
	}
}

func (s *Supervisor) wakeChan() <-chan struct{} {
	if s.wake == nil {
		// A nil channel blocks forever, leaving only the timer and ctx.
		return nil
	}
	return s.wake
}

// cycle performs one scheduling pass: reap exited units, then fill the
// remaining capacity with the oldest pending jobs.
func (s *Supervisor) cycle(ctx context.Context) error {
	s.reap()

	// Capacity check before querying, so a single cycle never over-launches.
	if len(s.units) >= s.cfg.MaxWorkers {
		return nil
	}

	pending, err := s.store.PendingJobs(ctx)
	if err != nil {
		return err
	}

	for _, job := range pending {
		if len(s.units) >= s.cfg.MaxWorkers {
			break
		}
		if _, tracked := s.units[job.ID]; tracked {
			continue
		}

		unit, err := s.launcher.Launch(job.ID, job.SourceURL)
		if err != nil {
			s.logger.Error("Failed to launch worker unit",
				zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}

		s.units[job.ID] = unit
		metrics.WorkersActive.Set(float64(len(s.units)))
		s.logger.Info("Launched worker unit",
			zap.String("job_id", job.ID.String()),
			zap.Int("active", len(s.units)),
		)
	}

	return nil
}

// reap removes units whose execution has finished.
func (s *Supervisor) reap() {
	for id, unit := range s.units {
		select {
		case <-unit.Done():
			if err := unit.Err(); err != nil {
				s.logger.Warn("Worker unit exited with error",
					zap.String("job_id", id.String()), zap.Error(err))
			} else {
				s.logger.Info("Worker unit finished", zap.String("job_id", id.String()))
			}
			delete(s.units, id)
		default:
		}
	}
	metrics.WorkersActive.Set(float64(len(s.units)))
}

// shutdown waits for each tracked unit to exit on its own, then forcibly
// terminates stragglers past the per-unit timeout.
func (s *Supervisor) shutdown() {
	s.logger.Info("Supervisor shutting down", zap.Int("active_units", len(s.units)))

	for id, unit := range s.units {
		select {
		case <-unit.Done():
		case <-time.After(s.cfg.ShutdownTimeout):
			s.logger.Warn("Worker unit did not exit in time, terminating",
				zap.String("job_id", id.String()))
			if err := unit.Terminate(); err != nil {
				s.logger.Error("Failed to terminate worker unit",
					zap.String("job_id", id.String()), zap.Error(err))
				continue
			}
			select {
			case <-unit.Done():
			case <-time.After(5 * time.Second):
				s.logger.Error("Worker unit unresponsive after terminate",
					zap.String("job_id", id.String()))
			}
		}
		delete(s.units, id)
	}

	metrics.WorkersActive.Set(0)
	s.logger.Info("Supervisor stopped")
}

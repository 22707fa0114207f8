// Package notify carries best-effort "job created" pings from the submission
// path to the supervisor so pending jobs start without waiting out a full
// poll interval. The job store remains the source of truth; everything here
// degrades to plain polling when the broker is absent or down.
package notify

import (
	"context"

	"github.com/google/uuid"
)

// Publisher announces newly created jobs.
type Publisher interface {
	// JobCreated signals that a job entered the pending state. Failures are
	// non-fatal: the supervisor will still find the job by polling.
	JobCreated(ctx context.Context, jobID uuid.UUID) error

	Close() error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) JobCreated(ctx context.Context, jobID uuid.UUID) error { return nil }
func (NoopPublisher) Close() error                                          { return nil }

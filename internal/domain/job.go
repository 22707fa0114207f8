package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a repository optimization job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsValid checks if the status is a known lifecycle state.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if the status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
// Pending jobs may only start processing; processing jobs may only finish
// completed or failed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Job represents one end-to-end request to optimize a repository.
type Job struct {
	ID             uuid.UUID  `json:"job_id"`
	SourceURL      string     `json:"source_url"`
	Status         JobStatus  `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	TotalFiles     int        `json:"total_files"`
	ProcessedFiles int        `json:"processed_files"`
}

// ProgressPercent returns completion as a 0-100 percentage.
func (j *Job) ProgressPercent() float64 {
	if j.TotalFiles == 0 {
		return 0
	}
	return float64(j.ProcessedFiles) / float64(j.TotalFiles) * 100
}

// FileResult holds the optimization outcome for a single file within a job.
type FileResult struct {
	ID               uuid.UUID      `json:"id"`
	JobID            uuid.UUID      `json:"job_id"`
	FilePath         string         `json:"file_path"`
	OriginalCode     string         `json:"original_code,omitempty"`
	OptimizedCode    string         `json:"optimized_code,omitempty"`
	Score            float64        `json:"score"`
	Metrics          map[string]any `json:"metrics"`
	IntegrationNotes []string       `json:"integration_notes"`
	CreatedAt        time.Time      `json:"created_at"`
}

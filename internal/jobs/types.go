// Package jobs defines ingestion jobs submitted through the API and the
// queue and store interfaces that carry them.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-analyst/internal/pipeline"
)

// ErrNotFound is returned by a JobStore for an unknown job ID.
var ErrNotFound = errors.New("job not found")

// ErrQueueClosed is returned when publishing to a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates every source run completed.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusPartial indicates some source runs failed.
	JobStatusPartial JobStatus = "partial"
	// JobStatusFailed indicates the job could not run at all.
	JobStatusFailed JobStatus = "failed"
)

// IngestJob asks for one pipeline run over a set of sources. Jobs are never
// retried: facts are not deduplicated, so a second attempt would load them
// twice.
type IngestJob struct {
	JobID   string                `json:"job_id"`
	Sources []pipeline.SourceSpec `json:"sources"`
	Status  JobStatus             `json:"status"`

	// Results holds one entry per source once the job has run.
	Results []pipeline.Result `json:"results,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy, so stored jobs never alias caller memory.
func (j *IngestJob) Clone() *IngestJob {
	c := *j
	c.Sources = append([]pipeline.SourceSpec(nil), j.Sources...)
	c.Results = append([]pipeline.Result(nil), j.Results...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job *IngestJob) error
	Close() error
}

// Consumer runs queued jobs through a handler.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. It records per-source outcomes in job.Results;
// a returned error means the job as a whole failed.
type JobHandler func(ctx context.Context, job *IngestJob) error

// JobStore keeps job state for status polling.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestJob) error
	GetJob(ctx context.Context, jobID string) (*IngestJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}

// StatusFor derives the final status of a job from its source results.
func StatusFor(results []pipeline.Result) JobStatus {
	if len(results) == 0 {
		return JobStatusFailed
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	switch failed {
	case 0:
		return JobStatusCompleted
	case len(results):
		return JobStatusFailed
	default:
		return JobStatusPartial
	}
}

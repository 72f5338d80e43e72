package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeReenhance re-runs merchant enrichment over a stored analysis.
	JobTypeReenhance JobType = "reenhance"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is waiting to be re-enqueued.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a published job does not set MaxRetries.
const DefaultMaxRetries = 3

// ReenhanceJob re-enriches the transactions of one analysis.
type ReenhanceJob struct {
	JobID      string `json:"job_id"`
	AnalysisID string `json:"analysis_id"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`

	// Set when the job completes.
	Enhanced int `json:"enhanced"`
	Total    int `json:"total"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ReenhanceJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ReenhanceJob) GetType() JobType {
	return JobTypeReenhance
}

// GetStatus implements the Job interface.
func (j *ReenhanceJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishReenhance publishes a re-enhance job.
	PublishReenhance(ctx context.Context, job *ReenhanceJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	SaveJob(ctx context.Context, job *ReenhanceJob) error
	GetJob(ctx context.Context, jobID string) (*ReenhanceJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ReenhanceJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	AnalysisID string
	Status     JobStatus
	Limit      int
	Offset     int
}

// Reenhancer is satisfied by *ingest.Orchestrator.
type Reenhancer interface {
	Reenhance(ctx context.Context, analysisID string) (enhanced, total int, err error)
}

// NewReenhanceHandler returns the JobHandler the API server runs its
// queue with. Results are written onto the job so the queue persists them.
func NewReenhanceHandler(r Reenhancer, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job Job) error {
		rj, ok := job.(*ReenhanceJob)
		if !ok {
			return fmt.Errorf("ReenhanceHandler: unexpected job type %s", job.GetType())
		}

		enhanced, total, err := r.Reenhance(ctx, rj.AnalysisID)
		if err != nil {
			log.Warn().Err(err).
				Str("job_id", rj.JobID).
				Str("analysis_id", rj.AnalysisID).
				Int("attempt", rj.RetryCount+1).
				Msg("re-enhance job failed")
			return fmt.Errorf("ReenhanceHandler: %w", err)
		}

		rj.Enhanced = enhanced
		rj.Total = total
		log.Info().
			Str("job_id", rj.JobID).
			Str("analysis_id", rj.AnalysisID).
			Int("enhanced", enhanced).
			Int("total", total).
			Msg("re-enhance job completed")
		return nil
	}
}

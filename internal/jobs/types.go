package jobs

import (
	"context"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeAnalyzeBatch runs the statement pipeline over a set of PDFs.
	JobTypeAnalyzeBatch JobType = "analyze_batch"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// DefaultMaxRetries bounds how often a job whose handler failed is re-run.
// Per-file failures inside a batch are outcomes and never trigger a retry.
const DefaultMaxRetries = 1

// Source is one statement file of a batch job.
type Source struct {
	Name string `json:"name"`
	Path string `json:"path"` // local path or gs:// URI
}

// AnalyzeBatchJob is a batch of statements submitted for analysis.
type AnalyzeBatchJob struct {
	JobID   string   `json:"job_id"`
	Sources []Source `json:"sources"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`

	// Filled in once the batch has run.
	BatchID  string                 `json:"batch_id,omitempty"`
	Outcomes []pipeline.FileOutcome `json:"outcomes,omitempty"`
	CSV      string                 `json:"-"`
}

// Clone returns a copy that shares no slices with j.
func (j *AnalyzeBatchJob) Clone() *AnalyzeBatchJob {
	c := *j
	c.Sources = append([]Source(nil), j.Sources...)
	c.Outcomes = append([]pipeline.FileOutcome(nil), j.Outcomes...)
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

// SetResult records a finished batch on the job.
func (j *AnalyzeBatchJob) SetResult(res *pipeline.BatchResult) {
	j.BatchID = res.ID
	j.Outcomes = res.Files
	j.CSV = res.CSV()
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *AnalyzeBatchJob) GetID() string        { return j.JobID }
func (j *AnalyzeBatchJob) GetType() JobType     { return JobTypeAnalyzeBatch }
func (j *AnalyzeBatchJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues jobs.
type Publisher interface {
	PublishAnalyzeBatch(ctx context.Context, job *AnalyzeBatchJob) error
	Close() error
}

// Consumer runs queued jobs.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the job for retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore keeps job state so it can be queried while and after jobs run.
type JobStore interface {
	SaveJob(ctx context.Context, job *AnalyzeBatchJob) error

	// GetJob returns an apperr NotFound error for unknown IDs.
	GetJob(ctx context.Context, jobID string) (*AnalyzeBatchJob, error)

	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalyzeBatchJob, error)

	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}

// Page applies the filter's offset and limit to an already ordered list.
func (f JobFilter) Page(in []*AnalyzeBatchJob) []*AnalyzeBatchJob {
	if f.Offset > 0 {
		if f.Offset >= len(in) {
			return []*AnalyzeBatchJob{}
		}
		in = in[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(in) {
		in = in[:f.Limit]
	}
	return in
}

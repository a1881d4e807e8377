package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
)

// Store is an in-memory JobStore. Data is lost on restart; see sqlstore for a
// persistent one.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.AnalyzeBatchJob
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.AnalyzeBatchJob),
	}
}

// SaveJob saves or updates a copy of job.
func (s *Store) SaveJob(ctx context.Context, job *jobs.AnalyzeBatchJob) error {
	if job.JobID == "" {
		return apperr.Errorf(apperr.InvalidArgument, "SaveJob", "job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job.Clone()
	return nil
}

// GetJob retrieves a copy of a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.AnalyzeBatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, apperr.Errorf(apperr.NotFound, "GetJob", "job not found: %s", jobID)
	}
	return job.Clone(), nil
}

// ListJobs returns copies of matching jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.AnalyzeBatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.AnalyzeBatchJob
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, job.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	return filter.Page(result), nil
}

// UpdateJobStatus updates the status of a job.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return apperr.Errorf(apperr.NotFound, "UpdateJobStatus", "job not found: %s", jobID)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	return nil
}

var _ jobs.JobStore = (*Store)(nil)

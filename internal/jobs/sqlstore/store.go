// Package sqlstore keeps job history in SQLite through gorm so that batch
// results survive an API restart.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// jobRecord is the table row. Sources and outcomes are stored as JSON text.
type jobRecord struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Status      string    `gorm:"index;size:16"`
	CreatedAt   time.Time `gorm:"index"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	RetryCount  int
	MaxRetries  int
	BatchID     string `gorm:"size:36"`
	Sources     string
	Outcomes    string
	CSV         string
}

func (jobRecord) TableName() string { return "analyze_jobs" }

// Store is a JobStore backed by a SQLite database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("Open: creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("Open: opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("Open: getting sql db: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	sqlDB.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, _ = sqlDB.Exec("PRAGMA journal_mode = WAL;")
	}

	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("Open: auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveJob inserts or replaces the job.
func (s *Store) SaveJob(ctx context.Context, job *jobs.AnalyzeBatchJob) error {
	if job.JobID == "" {
		return apperr.Errorf(apperr.InvalidArgument, "SaveJob", "job ID is required")
	}
	rec, err := toRecord(job)
	if err != nil {
		return fmt.Errorf("SaveJob: %w", err)
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("SaveJob: saving job %s: %w", job.JobID, err)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.AnalyzeBatchJob, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Errorf(apperr.NotFound, "GetJob", "job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("GetJob: loading job %s: %w", jobID, err)
	}
	return fromRecord(&rec)
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.AnalyzeBatchJob, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id")
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var recs []jobRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("ListJobs: querying jobs: %w", err)
	}

	out := make([]*jobs.AnalyzeBatchJob, 0, len(recs))
	for i := range recs {
		job, err := fromRecord(&recs[i])
		if err != nil {
			return nil, fmt.Errorf("ListJobs: %w", err)
		}
		out = append(out, job)
	}
	return out, nil
}

// UpdateJobStatus sets the status and, when non-empty, the error message.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	updates := map[string]any{"status": string(status)}
	if errorMsg != "" {
		updates["error"] = errorMsg
	}
	res := s.db.WithContext(ctx).Model(&jobRecord{}).Where("id = ?", jobID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("UpdateJobStatus: updating job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Errorf(apperr.NotFound, "UpdateJobStatus", "job not found: %s", jobID)
	}
	return nil
}

func toRecord(job *jobs.AnalyzeBatchJob) (*jobRecord, error) {
	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return nil, fmt.Errorf("encoding sources: %w", err)
	}
	outcomes, err := json.Marshal(job.Outcomes)
	if err != nil {
		return nil, fmt.Errorf("encoding outcomes: %w", err)
	}
	return &jobRecord{
		ID:          job.JobID,
		Status:      string(job.Status),
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Error,
		RetryCount:  job.RetryCount,
		MaxRetries:  job.MaxRetries,
		BatchID:     job.BatchID,
		Sources:     string(sources),
		Outcomes:    string(outcomes),
		CSV:         job.CSV,
	}, nil
}

func fromRecord(rec *jobRecord) (*jobs.AnalyzeBatchJob, error) {
	job := &jobs.AnalyzeBatchJob{
		JobID:       rec.ID,
		Status:      jobs.JobStatus(rec.Status),
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Error:       rec.Error,
		RetryCount:  rec.RetryCount,
		MaxRetries:  rec.MaxRetries,
		BatchID:     rec.BatchID,
		CSV:         rec.CSV,
	}
	if rec.Sources != "" {
		if err := json.Unmarshal([]byte(rec.Sources), &job.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources of job %s: %w", rec.ID, err)
		}
	}
	if rec.Outcomes != "" && rec.Outcomes != "null" {
		var outcomes []pipeline.FileOutcome
		if err := json.Unmarshal([]byte(rec.Outcomes), &outcomes); err != nil {
			return nil, fmt.Errorf("decoding outcomes of job %s: %w", rec.ID, err)
		}
		job.Outcomes = outcomes
	}
	return job, nil
}

var _ jobs.JobStore = (*Store)(nil)

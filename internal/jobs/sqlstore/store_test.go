package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "jobs.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func completedJob() *jobs.AnalyzeBatchJob {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &jobs.AnalyzeBatchJob{
		JobID:      "job-1",
		Sources:    []jobs.Source{{Name: "dec.pdf", Path: "/uploads/dec.pdf"}},
		Status:     jobs.JobStatusCompleted,
		CreatedAt:  started,
		StartedAt:  &started,
		MaxRetries: 1,
		BatchID:    "batch-1",
		Outcomes: []pipeline.FileOutcome{{
			Name:          "dec.pdf",
			Status:        pipeline.StatusSucceeded,
			Transactions:  2,
			CardName:      "AE Platinum",
			ReportedTotal: decimal.RequireFromString("165.5"),
		}},
		CSV: "date,transaction_name,amount,category,account,card_name\n",
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveJob(ctx, completedJob()))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, got.Status)
	assert.Equal(t, "batch-1", got.BatchID)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "/uploads/dec.pdf", got.Sources[0].Path)
	require.Len(t, got.Outcomes, 1)
	assert.Equal(t, "AE Platinum", got.Outcomes[0].CardName)
	assert.True(t, got.Outcomes[0].ReportedTotal.Equal(decimal.RequireFromString("165.5")))
	assert.Equal(t, completedJob().CSV, got.CSV)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(*completedJob().StartedAt))
}

func TestStore_SaveUpdatesExisting(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	job := completedJob()
	job.Status = jobs.JobStatusRunning
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = jobs.JobStatusFailed
	job.Error = "boom"
	require.NoError(t, s.SaveJob(ctx, job))

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, jobs.JobStatusFailed, all[0].Status)
	assert.Equal(t, "boom", all[0].Error)
}

func TestStore_SurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.SaveJob(context.Background(), completedJob()))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", got.BatchID)
}

func TestStore_ListFilterAndOrder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"j1", "j2", "j3"} {
		status := jobs.JobStatusCompleted
		if id == "j2" {
			status = jobs.JobStatusFailed
		}
		require.NoError(t, s.SaveJob(ctx, &jobs.AnalyzeBatchJob{
			JobID:     id,
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "j3", all[0].JobID)

	failed, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "j2", failed[0].JobID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "j2", page[0].JobID)
}

func TestStore_NotFound(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetJob(ctx, "nope")
	assert.True(t, errors.Is(err, apperr.NotFound))

	err = s.UpdateJobStatus(ctx, "nope", jobs.JobStatusFailed, "")
	assert.True(t, errors.Is(err, apperr.NotFound))

	assert.True(t, errors.Is(s.SaveJob(ctx, &jobs.AnalyzeBatchJob{}), apperr.InvalidArgument))
}

func TestStore_UpdateJobStatus(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveJob(ctx, completedJob()))

	require.NoError(t, s.UpdateJobStatus(ctx, "job-1", jobs.JobStatusFailed, "cancelled by user"))
	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "cancelled by user", got.Error)
}

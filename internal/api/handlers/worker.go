package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// BatchRunner runs a batch of statements.
type BatchRunner interface {
	Run(ctx context.Context, sources []pipeline.Source) *pipeline.BatchResult
}

// AfterBatch is called with every finished batch, e.g. to upload reports or
// export rows. Its errors are logged and do not fail the job.
type AfterBatch func(ctx context.Context, res *pipeline.BatchResult) error

// AnalyzeJobHandler returns the queue handler for analyze jobs. Per-file
// failures are recorded on the job as outcomes; only a job that could not be
// run at all returns an error. Local uploads under uploadDir are removed once
// the batch has run.
func AnalyzeJobHandler(runner BatchRunner, uploadDir string, after ...AfterBatch) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		batchJob, ok := job.(*jobs.AnalyzeBatchJob)
		if !ok {
			return fmt.Errorf("AnalyzeJobHandler: unexpected job type: %T", job)
		}
		if len(batchJob.Sources) == 0 {
			return fmt.Errorf("AnalyzeJobHandler: job %s has no sources", batchJob.JobID)
		}
		log := logger.FromContext(ctx)

		sources := make([]pipeline.Source, len(batchJob.Sources))
		for i, s := range batchJob.Sources {
			sources[i] = pipeline.Source{Name: s.Name, Path: s.Path}
		}

		res := runner.Run(ctx, sources)
		batchJob.SetResult(res)

		succeeded, failed := res.Counts()
		log.Info().
			Str("batch_id", res.ID).
			Int("succeeded", succeeded).
			Int("failed", failed).
			Msg("Batch finished")

		for _, fn := range after {
			if err := fn(ctx, res); err != nil {
				log.Warn().Err(err).Str("batch_id", res.ID).Msg("Post-batch export failed")
			}
		}

		if uploadDir != "" {
			if err := os.RemoveAll(filepath.Join(uploadDir, batchJob.JobID)); err != nil {
				log.Warn().Err(err).Msg("Failed to remove uploads")
			}
		}
		return nil
	}
}

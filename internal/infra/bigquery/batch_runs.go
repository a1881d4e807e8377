package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// BatchRunRow records one batch: when it ran, with which model and prompt
// revision, and how many files failed.
type BatchRunRow struct {
	BatchID    string    `bigquery:"batch_id"`    // REQUIRED
	StartedTS  time.Time `bigquery:"started_ts"`  // REQUIRED
	FinishedTS time.Time `bigquery:"finished_ts"` // REQUIRED

	Model         string `bigquery:"model"`
	PromptVersion string `bigquery:"prompt_version"`

	Files        int64 `bigquery:"files"`
	Succeeded    int64 `bigquery:"succeeded"`
	Failed       int64 `bigquery:"failed"`
	Transactions int64 `bigquery:"transactions"`

	ErrorMessage bigquery.NullString `bigquery:"error_message"` // first failure, truncated
}

const maxErrorLen = 2000

// BatchRunRowFromBatch summarizes a batch.
func BatchRunRowFromBatch(res *pipeline.BatchResult, model, promptVersion string) *BatchRunRow {
	ok, failed := res.Counts()
	row := &BatchRunRow{
		BatchID:       res.ID,
		StartedTS:     res.StartedAt,
		FinishedTS:    res.FinishedAt,
		Model:         model,
		PromptVersion: promptVersion,
		Files:         int64(len(res.Files)),
		Succeeded:     int64(ok),
		Failed:        int64(failed),
	}
	for _, f := range res.Files {
		row.Transactions += int64(f.Transactions)
		if !f.Succeeded() && !row.ErrorMessage.Valid {
			msg := f.Name + ": " + f.Error
			if len(msg) > maxErrorLen {
				msg = msg[:maxErrorLen]
			}
			row.ErrorMessage = bigquery.NullString{StringVal: msg, Valid: true}
		}
	}
	return row
}

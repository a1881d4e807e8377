package bigquery

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

// ExportBatch writes the transactions of every successful file plus a batch
// run record. Failed files only show up in the run record.
func ExportBatch(ctx context.Context, repo TransactionRepository, res *pipeline.BatchResult, model, promptVersion string) error {
	rows, err := TransactionRowsFromBatch(res, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ExportBatch: %w", err)
	}
	if err := repo.InsertTransactions(ctx, rows); err != nil {
		return fmt.Errorf("ExportBatch: %w", err)
	}
	if err := repo.InsertBatchRun(ctx, BatchRunRowFromBatch(res, model, promptVersion)); err != nil {
		return fmt.Errorf("ExportBatch: %w", err)
	}

	log := logger.FromContext(ctx)

	log.Info().
		Str("batch_id", res.ID).
		Int("rows", len(rows)).
		Msg("Exported batch to BigQuery")
	return nil
}

package bigquery

import (
	"context"
	"time"
)

// TransactionRepository provides the warehouse operations used for batch
// exports.
type TransactionRepository interface {
	// EnsureTables creates the dataset and tables when they do not exist.
	EnsureTables(ctx context.Context) error

	// InsertTransactions streams transaction rows into the transactions table.
	InsertTransactions(ctx context.Context, rows []*TransactionRow) error

	// InsertBatchRun records a finished batch.
	InsertBatchRun(ctx context.Context, row *BatchRunRow) error

	// QueryTransactionsByDateRange returns transactions dated within
	// [start, end], ordered by date.
	QueryTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]*TransactionRow, error)
}

var _ TransactionRepository = (*Repository)(nil)

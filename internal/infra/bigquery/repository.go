package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-analyzer/internal/logger"
)

const (
	TransactionsTable = "transactions"
	BatchRunsTable    = "batch_runs"
)

// Repository implements TransactionRepository on a BigQuery dataset.
type Repository struct {
	client            *bigquery.Client
	datasetID         string
	transactionsTable string
	runsTable         string
}

// NewRepository opens a BigQuery client for projectID. An empty table name
// falls back to TransactionsTable.
func NewRepository(ctx context.Context, projectID, datasetID, table string) (*Repository, error) {
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("NewRepository: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating BigQuery client: %w", err)
	}
	return WithClient(client, datasetID, table), nil
}

// WithClient wraps an existing client.
func WithClient(client *bigquery.Client, datasetID, table string) *Repository {
	if table == "" {
		table = TransactionsTable
	}
	return &Repository{
		client:            client,
		datasetID:         datasetID,
		transactionsTable: table,
		runsTable:         BatchRunsTable,
	}
}

// Close releases the underlying client.
func (r *Repository) Close() error {
	return r.client.Close()
}

// EnsureTables creates the dataset, the transactions table (partitioned by
// transaction_date) and the batch runs table when missing.
func (r *Repository) EnsureTables(ctx context.Context) error {
	log := logger.FromContext(ctx)

	ds := r.client.Dataset(r.datasetID)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTables: creating dataset %s: %w", r.datasetID, err)
	}

	txSchema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return fmt.Errorf("EnsureTables: inferring transactions schema: %w", err)
	}
	txMeta := &bigquery.TableMetadata{
		Schema: txSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.MonthPartitioningType,
			Field: "transaction_date",
		},
	}
	if err := createTable(ctx, ds.Table(r.transactionsTable), txMeta); err != nil {
		return fmt.Errorf("EnsureTables: %w", err)
	}

	runSchema, err := bigquery.InferSchema(BatchRunRow{})
	if err != nil {
		return fmt.Errorf("EnsureTables: inferring batch runs schema: %w", err)
	}
	if err := createTable(ctx, ds.Table(r.runsTable), &bigquery.TableMetadata{Schema: runSchema}); err != nil {
		return fmt.Errorf("EnsureTables: %w", err)
	}

	log.Info().
		Str("dataset", r.datasetID).
		Str("table", r.transactionsTable).
		Msg("BigQuery tables ready")
	return nil
}

func createTable(ctx context.Context, t *bigquery.Table, meta *bigquery.TableMetadata) error {
	if err := t.Create(ctx, meta); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("creating table %s: %w", t.TableID, err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}

// InsertTransactions streams rows into the transactions table. The row ID is
// used as insert ID so a retried insert does not duplicate rows.
func (r *Repository) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}
	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return fmt.Errorf("InsertTransactions: inferring schema: %w", err)
	}
	savers := make([]*bigquery.StructSaver, len(rows))
	for i, row := range rows {
		savers[i] = &bigquery.StructSaver{Schema: schema, InsertID: row.RowID, Struct: row}
	}

	inserter := r.client.Dataset(r.datasetID).Table(r.transactionsTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertTransactions: inserting %d rows: %w", len(rows), err)
	}
	return nil
}

// InsertBatchRun records a finished batch.
func (r *Repository) InsertBatchRun(ctx context.Context, row *BatchRunRow) error {
	inserter := r.client.Dataset(r.datasetID).Table(r.runsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertBatchRun: inserting batch run %s: %w", row.BatchID, err)
	}
	return nil
}

// QueryTransactionsByDateRange returns transactions dated within [start, end].
func (r *Repository) QueryTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]*TransactionRow, error) {
	query := fmt.Sprintf(`
		SELECT *
		FROM `+"`%s.%s.%s`"+`
		WHERE transaction_date BETWEEN @start_date AND @end_date
		ORDER BY transaction_date, batch_id, source_file, line_no
	`, r.client.Project(), r.datasetID, r.transactionsTable)

	q := r.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: start.Format("2006-01-02")},
		{Name: "end_date", Value: end.Format("2006-01-02")},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: executing query: %w", err)
	}

	var rows []*TransactionRow
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: iterating results: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

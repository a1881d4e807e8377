package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// TransactionRow is one exported transaction. Every row carries the batch and
// source file it came from.
type TransactionRow struct {
	RowID      string `bigquery:"row_id"`      // REQUIRED, also the streaming insert ID
	BatchID    string `bigquery:"batch_id"`    // REQUIRED
	SourceFile string `bigquery:"source_file"` // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	TransactionName string     `bigquery:"transaction_name"` // REQUIRED
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC, HKD
	Category        string     `bigquery:"category"`         // REQUIRED
	Account         string     `bigquery:"account"`          // REQUIRED
	CardName        string     `bigquery:"card_name"`        // REQUIRED

	StatementDueDate bigquery.NullString `bigquery:"statement_due_date"` // NULLABLE, as printed
	LineNo           int64               `bigquery:"line_no"`            // position within the statement

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// TransactionRowsFromBatch maps every successful file of a batch to rows, in
// dataset order.
func TransactionRowsFromBatch(res *pipeline.BatchResult, now time.Time) ([]*TransactionRow, error) {
	var rows []*TransactionRow
	for _, f := range res.Files {
		if !f.Succeeded() || f.Statement == nil {
			continue
		}
		due := bigquery.NullString{StringVal: f.Statement.DueDate, Valid: f.Statement.DueDate != ""}
		for i, t := range f.Statement.Transactions {
			d, err := civil.ParseDate(t.Date)
			if err != nil {
				return nil, fmt.Errorf("TransactionRowsFromBatch: %s line %d: %w", f.Name, i+1, err)
			}
			rows = append(rows, &TransactionRow{
				RowID:            uuid.NewString(),
				BatchID:          res.ID,
				SourceFile:       f.Source,
				TransactionDate:  d,
				TransactionName:  t.TransactionName,
				Amount:           t.Amount.Rat(),
				Category:         string(t.Category),
				Account:          string(t.Account),
				CardName:         t.CardName,
				StatementDueDate: due,
				LineNo:           int64(i + 1),
				CreatedTS:        now,
			})
		}
	}
	return rows, nil
}

// Transaction converts the row back to the dataset shape.
func (r *TransactionRow) Transaction() statement.Transaction {
	amount := decimal.Zero
	if r.Amount != nil {
		amount = decimal.NewFromBigRat(r.Amount, bigquery.NumericScaleDigits)
	}
	return statement.Transaction{
		Date:            r.TransactionDate.String(),
		TransactionName: r.TransactionName,
		Amount:          amount,
		Category:        statement.Category(r.Category),
		Account:         statement.Account(r.Account),
		CardName:        r.CardName,
	}
}

// StatementFromRows gathers queried rows into one statement so they can be
// serialized or summarized like a fresh batch.
func StatementFromRows(rows []*TransactionRow) *statement.Statement {
	s := &statement.Statement{Transactions: make([]statement.Transaction, 0, len(rows))}
	for _, r := range rows {
		s.Transactions = append(s.Transactions, r.Transaction())
	}
	s.NumberOfTransactions = len(s.Transactions)
	s.TotalSpending = s.Sum()
	return s
}

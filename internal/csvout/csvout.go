// Package csvout serializes statements into the aggregate CSV dataset.
package csvout

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// Columns is the fixed column order of the dataset.
var Columns = []string{"date", "transaction_name", "amount", "category", "account", "card_name"}

// Header is the single header line of an aggregate dataset, newline included.
var Header = strings.Join(Columns, ",") + "\n"

// DownloadName is the file name offered when the dataset is downloaded.
const DownloadName = "credit_card_analysis.csv"

// Record returns the CSV fields of one transaction in column order.
func Record(t statement.Transaction) []string {
	return []string{
		t.Date,
		t.TransactionName,
		t.Amount.String(),
		string(t.Category),
		string(t.Account),
		t.CardName,
	}
}

// SerializeRows writes one CSV row per transaction in statement order, with
// no header. A statement without transactions yields the empty string.
func SerializeRows(s *statement.Statement) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, t := range s.Transactions {
		if err := w.Write(Record(t)); err != nil {
			return "", fmt.Errorf("SerializeRows: write transaction %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("SerializeRows: flush: %w", err)
	}
	return buf.String(), nil
}

// Aggregate concatenates the rows of every statement, in the given order,
// under a single header.
func Aggregate(statements ...*statement.Statement) (string, error) {
	blocks := make([]string, 0, len(statements))
	for i, s := range statements {
		rows, err := SerializeRows(s)
		if err != nil {
			return "", fmt.Errorf("Aggregate: statement %d: %w", i, err)
		}
		blocks = append(blocks, rows)
	}
	return Join(blocks...), nil
}

// Join puts the header in front of already serialized row blocks.
func Join(blocks ...string) string {
	var b strings.Builder
	b.WriteString(Header)
	for _, blk := range blocks {
		b.WriteString(blk)
	}
	return b.String()
}

// Package report loads the aggregate dataset into a typed table and computes
// the spending summaries shown to users.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-analyzer/internal/csvout"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// Row is one transaction of the dataset with typed columns.
type Row struct {
	Date            time.Time          `json:"date"`
	TransactionName string             `json:"transaction_name"`
	Amount          decimal.Decimal    `json:"amount"`
	Category        statement.Category `json:"category"`
	Account         statement.Account  `json:"account"`
	CardName        string             `json:"card_name"`
}

// Table is an ordered set of rows.
type Table struct {
	Rows []Row `json:"rows"`
}

// Parse reads an aggregate CSV dataset. The header must match
// csvout.Columns exactly.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvout.Columns)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("Parse: empty dataset")
		}
		return nil, fmt.Errorf("Parse: read header: %w", err)
	}
	if !slices.Equal(header, csvout.Columns) {
		return nil, fmt.Errorf("Parse: unexpected header %q", strings.Join(header, ","))
	}

	t := &Table{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Parse: line %d: %w", line, err)
		}

		date, err := time.Parse(statement.DateLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("Parse: line %d: date %q: %w", line, rec[0], err)
		}
		amount, err := decimal.NewFromString(rec[2])
		if err != nil {
			return nil, fmt.Errorf("Parse: line %d: amount %q: %w", line, rec[2], err)
		}

		t.Rows = append(t.Rows, Row{
			Date:            date,
			TransactionName: rec[1],
			Amount:          amount,
			Category:        statement.Category(rec[3]),
			Account:         statement.Account(rec[4]),
			CardName:        rec[5],
		})
	}
	return t, nil
}

// ParseString is Parse over an in-memory dataset.
func ParseString(s string) (*Table, error) {
	return Parse(strings.NewReader(s))
}

// FromStatements builds a table from extracted statements in order.
func FromStatements(stmts ...*statement.Statement) (*Table, error) {
	t := &Table{}
	for _, s := range stmts {
		for _, tx := range s.Transactions {
			date, err := time.Parse(statement.DateLayout, tx.Date)
			if err != nil {
				return nil, fmt.Errorf("FromStatements: %s: %w", tx.TransactionName, err)
			}
			t.Rows = append(t.Rows, Row{
				Date:            date,
				TransactionName: tx.TransactionName,
				Amount:          tx.Amount,
				Category:        tx.Category,
				Account:         tx.Account,
				CardName:        tx.CardName,
			})
		}
	}
	return t, nil
}

// Filter selects rows. An empty list matches everything.
type Filter struct {
	Categories []statement.Category
	Accounts   []statement.Account
}

// Filter returns the rows matching f, in order.
func (t *Table) Filter(f Filter) *Table {
	out := &Table{}
	for _, r := range t.Rows {
		if len(f.Categories) > 0 && !slices.Contains(f.Categories, r.Category) {
			continue
		}
		if len(f.Accounts) > 0 && !slices.Contains(f.Accounts, r.Account) {
			continue
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

// Total is the sum of every amount.
func (t *Table) Total() decimal.Decimal {
	total := decimal.Zero
	for _, r := range t.Rows {
		total = total.Add(r.Amount)
	}
	return total
}

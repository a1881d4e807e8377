package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/csvout"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// Status is the outcome of one file in a batch.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// KindCancelled marks files that were not processed because the batch was
// cancelled.
const KindCancelled = "cancelled"

// FileOutcome reports what happened to one input file.
type FileOutcome struct {
	Index         int             `json:"index"`
	Name          string          `json:"name"`
	Source        string          `json:"source"`
	Status        Status          `json:"status"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Error         string          `json:"error,omitempty"`
	Transactions  int             `json:"transactions"`
	CardName      string          `json:"card_name,omitempty"`
	ReportedTotal decimal.Decimal `json:"reported_total"`
	SummedTotal   decimal.Decimal `json:"summed_total"`
	ReportedCount int             `json:"reported_count"`
	DueDate       string          `json:"due_date,omitempty"`
	Duration      time.Duration   `json:"duration_ns"`

	Statement *statement.Statement `json:"-"`
	Rows      string               `json:"-"`
}

// Succeeded reports whether the file contributed rows to the dataset.
func (o FileOutcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

func (o *FileOutcome) fail(err error) {
	o.Status = StatusFailed
	o.Error = err.Error()
	o.ErrorKind = string(apperr.KindOf(err))
	if o.ErrorKind == "" && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		o.ErrorKind = KindCancelled
	}
}

func (o *FileOutcome) succeed(s *statement.Statement, rows string) {
	cc := s.CrossCheck()
	o.Status = StatusSucceeded
	o.Statement = s
	o.Rows = rows
	o.Transactions = len(s.Transactions)
	o.CardName = s.CardName
	o.ReportedTotal = cc.ReportedTotal
	o.SummedTotal = cc.SummedTotal
	o.ReportedCount = cc.ReportedCount
	o.DueDate = s.DueDate
}

// BatchResult holds every file's outcome in input order.
type BatchResult struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Files      []FileOutcome `json:"files"`
}

// CSV returns the aggregate dataset: one header followed by the rows of every
// successful file, in input order.
func (b *BatchResult) CSV() string {
	blocks := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		if f.Succeeded() {
			blocks = append(blocks, f.Rows)
		}
	}
	return csvout.Join(blocks...)
}

// Statements returns the statements of successful files in input order.
func (b *BatchResult) Statements() []*statement.Statement {
	var out []*statement.Statement
	for _, f := range b.Files {
		if f.Succeeded() {
			out = append(out, f.Statement)
		}
	}
	return out
}

// Counts returns the number of succeeded and failed files.
func (b *BatchResult) Counts() (succeeded, failed int) {
	for _, f := range b.Files {
		if f.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

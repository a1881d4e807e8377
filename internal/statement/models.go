package statement

import (
	"github.com/shopspring/decimal"
)

// DateLayout is the canonical transaction date format.
const DateLayout = "2006-01-02"

// Transaction is one line item on a credit-card statement.
// Amounts are HKD and never negative; payment credits are not represented.
type Transaction struct {
	Date            string          `json:"date"`             // YYYY-MM-DD
	TransactionName string          `json:"transaction_name"` // merchant / description
	Amount          decimal.Decimal `json:"amount"`           // HKD
	Category        Category        `json:"category"`
	Account         Account         `json:"account"`
	CardName        string          `json:"card_name"`
}

// Statement is the extraction result for one uploaded PDF. Transactions keep
// the order in which they appear on the statement.
//
// TotalSpending and NumberOfTransactions are what the model read off the
// statement; they are for display and cross-checking only.
type Statement struct {
	Transactions         []Transaction   `json:"transactions"`
	CardName             string          `json:"card_name"`
	TotalSpending        decimal.Decimal `json:"total_spending"`
	NumberOfTransactions int             `json:"number_of_transactions"`
	DueDate              string          `json:"due_date"`
}

// Sum returns the sum of all transaction amounts.
func (s *Statement) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, t := range s.Transactions {
		total = total.Add(t.Amount)
	}
	return total
}

// CrossCheckResult compares the reported figures with the extracted rows.
type CrossCheckResult struct {
	ReportedTotal decimal.Decimal
	SummedTotal   decimal.Decimal
	ReportedCount int
	ExtractedRows int
}

// TotalMatches reports whether the summed rows are within one cent of the
// reported total.
func (c CrossCheckResult) TotalMatches() bool {
	return c.ReportedTotal.Sub(c.SummedTotal).Abs().LessThanOrEqual(decimal.New(1, -2))
}

// CountMatches reports whether the row count equals the reported count.
func (c CrossCheckResult) CountMatches() bool {
	return c.ReportedCount == c.ExtractedRows
}

// CrossCheck compares the model-reported totals with the extracted rows.
func (s *Statement) CrossCheck() CrossCheckResult {
	return CrossCheckResult{
		ReportedTotal: s.TotalSpending,
		SummedTotal:   s.Sum(),
		ReportedCount: s.NumberOfTransactions,
		ExtractedRows: len(s.Transactions),
	}
}

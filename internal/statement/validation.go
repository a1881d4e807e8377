package statement

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
)

var dccPattern = regexp.MustCompile(`\bDCC\b|DYNAMIC CURRENCY CONVERSION`)

// IsDCCFee reports whether a row name marks a Dynamic Currency Conversion fee.
func IsDCCFee(name string) bool {
	return dccPattern.MatchString(normalizeName(name))
}

// MergeDCC folds every DCC fee row into the transaction immediately before it
// and drops the fee row. The input slice is not modified.
func MergeDCC(txs []Transaction) ([]Transaction, error) {
	out := make([]Transaction, 0, len(txs))
	for i, t := range txs {
		if !IsDCCFee(t.TransactionName) {
			out = append(out, t)
			continue
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("transaction %d: DCC fee %q has no preceding transaction", i, t.TransactionName)
		}
		prev := &out[len(out)-1]
		prev.Amount = prev.Amount.Add(t.Amount)
	}
	return out, nil
}

// Normalize applies the repairs the pipeline is allowed to make to model
// output: whitespace trimming, filling an empty per-row card name from the
// statement, and the DCC merge. It never rewrites categories or accounts.
func Normalize(s *Statement) error {
	s.CardName = strings.TrimSpace(s.CardName)
	s.DueDate = strings.TrimSpace(s.DueDate)

	for i := range s.Transactions {
		t := &s.Transactions[i]
		t.Date = strings.TrimSpace(t.Date)
		t.TransactionName = strings.TrimSpace(t.TransactionName)
		t.CardName = strings.TrimSpace(t.CardName)
		if t.CardName == "" {
			t.CardName = s.CardName
		}
	}

	merged, err := MergeDCC(s.Transactions)
	if err != nil {
		return apperr.E(apperr.SchemaValidationError, "Normalize", err)
	}
	s.Transactions = merged
	return nil
}

// ValidateTransaction checks a single transaction against the schema rules.
func ValidateTransaction(t Transaction) error {
	var errs []error

	if _, err := time.Parse(DateLayout, t.Date); err != nil {
		errs = append(errs, fmt.Errorf("invalid date %q, want YYYY-MM-DD", t.Date))
	}
	if strings.TrimSpace(t.TransactionName) == "" {
		errs = append(errs, errors.New("transaction_name is empty"))
	}
	if t.Amount.IsNegative() {
		errs = append(errs, fmt.Errorf("amount %s is negative", t.Amount))
	}
	if !t.Category.Valid() {
		errs = append(errs, fmt.Errorf("invalid category %q", t.Category))
	}
	if !t.Account.Valid() {
		errs = append(errs, fmt.Errorf("invalid account %q", t.Account))
	} else if t.Account == AccountBusiness && !t.Category.AllowsBusiness() {
		errs = append(errs, fmt.Errorf("account Business is only allowed for %q, got category %q", CategoryCloudServices, t.Category))
	}
	if IsDCCFee(t.TransactionName) {
		errs = append(errs, fmt.Errorf("unmerged DCC fee row %q", t.TransactionName))
	}

	return errors.Join(errs...)
}

// Validate checks every invariant of a statement. The returned error is a
// SchemaValidationError listing each offending transaction.
func Validate(s *Statement) error {
	var errs []error

	if s.NumberOfTransactions < 0 {
		errs = append(errs, fmt.Errorf("number_of_transactions %d is negative", s.NumberOfTransactions))
	}
	for i, t := range s.Transactions {
		if err := ValidateTransaction(t); err != nil {
			errs = append(errs, fmt.Errorf("transaction %d (%s): %w", i, t.TransactionName, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return apperr.E(apperr.SchemaValidationError, "Validate", err)
	}
	return nil
}

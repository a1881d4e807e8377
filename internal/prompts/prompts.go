// Package prompts holds the instruction template sent with every statement
// extraction request.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// Version identifies the template revision. Bump it whenever the rules,
// categories or examples change.
const Version = "2025-12.2"

//go:embed statement_reader.txt
var statementReader string

// StatementReader renders the extraction instructions with the category and
// account enumerations filled in.
func StatementReader() string {
	r := strings.NewReplacer(
		"{{CATEGORIES}}", strings.Join(statement.CategoryNames(), ", "),
		"{{ACCOUNTS}}", strings.Join(statement.AccountNames(), ", "),
	)
	return r.Replace(statementReader)
}

// Retry builds the follow-up instruction used after the model returned output
// that failed validation.
func Retry(validationErr error) string {
	var b strings.Builder
	b.WriteString("Your previous answer did not pass validation:\n")
	fmt.Fprintf(&b, "%v\n\n", validationErr)
	b.WriteString("Read the statement pages again and return the complete JSON object. ")
	b.WriteString("Follow every rule above exactly, including the category and account values.")
	return b.String()
}

// RawReader is the instruction used by the unstructured debug extraction.
func RawReader() string {
	return StatementReader() + "\nPut all transactions in a table with the columns Date, Merchant, Amount, Card, Category and Account.\n"
}

package extractor

import (
	"google.golang.org/genai"

	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// StatementSchema is the response schema sent with every structured request.
// Category and account are enums so the provider rejects values outside the
// closed sets before they reach validation.
func StatementSchema() *genai.Schema {
	zero := 0.0

	transaction := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"date": {
				Type:        genai.TypeString,
				Description: "Date of the transaction, in YYYY-MM-DD format",
			},
			"transaction_name": {
				Type:        genai.TypeString,
				Description: "Name of the transaction as printed on the statement",
			},
			"amount": {
				Type:        genai.TypeNumber,
				Description: "Transaction amount in HKD",
				Minimum:     &zero,
			},
			"category": {
				Type:        genai.TypeString,
				Description: "Category of the transaction",
				Enum:        statement.CategoryNames(),
			},
			"account": {
				Type:        genai.TypeString,
				Description: "Account associated with the transaction, either Personal or Business",
				Enum:        statement.AccountNames(),
			},
			"card_name": {
				Type:        genai.TypeString,
				Description: "Name of the credit card used for the transaction",
			},
		},
		Required:         []string{"date", "transaction_name", "amount", "category", "account", "card_name"},
		PropertyOrdering: []string{"date", "transaction_name", "amount", "category", "account", "card_name"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"transactions": {
				Type:        genai.TypeArray,
				Description: "Transactions in statement order",
				Items:       transaction,
			},
			"card_name": {
				Type:        genai.TypeString,
				Description: "Name of the credit card",
			},
			"total_spending": {
				Type:        genai.TypeNumber,
				Description: "Total spending amount printed on the statement",
			},
			"number_of_transactions": {
				Type:        genai.TypeInteger,
				Description: "Total number of transactions",
			},
			"due_date": {
				Type:        genai.TypeString,
				Description: "Due date of the statement",
			},
		},
		Required:         []string{"transactions", "card_name", "total_spending", "number_of_transactions", "due_date"},
		PropertyOrdering: []string{"transactions", "card_name", "total_spending", "number_of_transactions", "due_date"},
	}
}

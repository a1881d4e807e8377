package csvout

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-analyzer/internal/statement"
)

func tx(date, name, amount string, cat statement.Category, acct statement.Account, card string) statement.Transaction {
	return statement.Transaction{
		Date:            date,
		TransactionName: name,
		Amount:          decimal.RequireFromString(amount),
		Category:        cat,
		Account:         acct,
		CardName:        card,
	}
}

func TestSerializeRows_SingleRow(t *testing.T) {
	s := &statement.Statement{Transactions: []statement.Transaction{
		tx("2025-12-01", "GOOGLE CLOUD", "120.50", statement.CategoryCloudServices, statement.AccountBusiness, "AE Platinum"),
	}}

	got, err := SerializeRows(s)
	require.NoError(t, err)
	assert.Equal(t, "2025-12-01,GOOGLE CLOUD,120.5,Cloud Services,Business,AE Platinum\n", got)
}

func TestSerializeRows_Quoting(t *testing.T) {
	s := &statement.Statement{Transactions: []statement.Transaction{
		tx("2025-12-02", `SHOP "A", KOWLOON`, "10", statement.CategoryShopping, statement.AccountPersonal, "HSBC Red"),
	}}

	got, err := SerializeRows(s)
	require.NoError(t, err)
	assert.Equal(t, `2025-12-02,"SHOP ""A"", KOWLOON",10,Shopping,Personal,HSBC Red`+"\n", got)

	rec, err := csv.NewReader(strings.NewReader(got)).Read()
	require.NoError(t, err)
	assert.Len(t, rec, 6)
	assert.Equal(t, `SHOP "A", KOWLOON`, rec[1])
}

func TestSerializeRows_PreservesOrderAndIsIdempotent(t *testing.T) {
	s := &statement.Statement{Transactions: []statement.Transaction{
		tx("2025-12-05", "B", "2", statement.CategoryDining, statement.AccountPersonal, "c"),
		tx("2025-12-01", "A", "1", statement.CategoryDining, statement.AccountPersonal, "c"),
	}}

	first, err := SerializeRows(s)
	require.NoError(t, err)
	second, err := SerializeRows(s)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	lines := strings.Split(strings.TrimSuffix(first, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2025-12-05,B,"))
}

func TestSerializeRows_Empty(t *testing.T) {
	got, err := SerializeRows(&statement.Statement{})
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestAggregate(t *testing.T) {
	a := &statement.Statement{Transactions: []statement.Transaction{
		tx("2025-12-01", "GOOGLE CLOUD", "120.50", statement.CategoryCloudServices, statement.AccountBusiness, "AE Platinum"),
	}}
	empty := &statement.Statement{CardName: "Citi"}
	b := &statement.Statement{Transactions: []statement.Transaction{
		tx("2025-11-20", "OCTOPUS", "500", statement.CategoryTravel, statement.AccountPersonal, "HSBC Red"),
		tx("2025-11-21", "HUTCHISON", "98.00", statement.CategoryTelecom, statement.AccountPersonal, "HSBC Red"),
	}}

	got, err := Aggregate(a, empty, b)
	require.NoError(t, err)

	want := "date,transaction_name,amount,category,account,card_name\n" +
		"2025-12-01,GOOGLE CLOUD,120.5,Cloud Services,Business,AE Platinum\n" +
		"2025-11-20,OCTOPUS,500,Travel,Personal,HSBC Red\n" +
		"2025-11-21,HUTCHISON,98,Telecom,Personal,HSBC Red\n"
	assert.Equal(t, want, got)

	records, err := csv.NewReader(strings.NewReader(got)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 4)
	assert.Equal(t, Columns, records[0])
}

func TestAggregate_NoStatements(t *testing.T) {
	got, err := Aggregate()
	require.NoError(t, err)
	assert.Equal(t, Header, got)
}

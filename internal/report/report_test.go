package report

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/statement-analyzer/internal/csvout"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

const dataset = "date,transaction_name,amount,category,account,card_name\n" +
	"2025-12-01,HANA-MUSUBI,100,Dining,Personal,HSBC Red\n" +
	"2025-12-02,GOOGLE CLOUD,50,Cloud Services,Business,AE Platinum\n"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParse(t *testing.T) {
	tbl, err := ParseString(dataset)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)

	r := tbl.Rows[1]
	assert.Equal(t, "GOOGLE CLOUD", r.TransactionName)
	assert.Equal(t, 2025, r.Date.Year())
	assert.Equal(t, 2, r.Date.Day())
	assert.True(t, r.Amount.Equal(dec("50")))
	assert.Equal(t, statement.CategoryCloudServices, r.Category)
	assert.Equal(t, statement.AccountBusiness, r.Account)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"wrong header": "date,name,amount,category,account,card_name\n",
		"bad date":     csvout.Header + "01/12/2025,X,1,Dining,Personal,c\n",
		"bad amount":   csvout.Header + "2025-12-01,X,abc,Dining,Personal,c\n",
		"short row":    csvout.Header + "2025-12-01,X,1\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseString(in)
			assert.Error(t, err)
		})
	}
}

func TestParse_HeaderOnly(t *testing.T) {
	tbl, err := ParseString(csvout.Header)
	require.NoError(t, err)
	assert.Empty(t, tbl.Rows)
	assert.True(t, tbl.Total().IsZero())
}

func TestSummarize(t *testing.T) {
	tbl, err := ParseString(dataset)
	require.NoError(t, err)

	s := tbl.Summarize()
	assert.Equal(t, 2, s.Transactions)
	assert.True(t, s.Total.Equal(dec("150")))
	assert.True(t, s.Personal.Equal(dec("100")))
	assert.True(t, s.Business.Equal(dec("50")))

	require.Len(t, s.ByCategory, 2)
	assert.Equal(t, "Dining", s.ByCategory[0].Key)
	assert.True(t, s.ByCategory[0].Amount.Equal(dec("100")))
	assert.Equal(t, "66.7", s.ByCategory[0].Percentage.String())
	assert.Equal(t, "Cloud Services", s.ByCategory[1].Key)
	assert.Equal(t, "33.3", s.ByCategory[1].Percentage.String())

	require.Len(t, s.ByAccount, 2)
	assert.Equal(t, "Personal", s.ByAccount[0].Key)
	assert.True(t, s.ByAccount[1].Amount.Equal(dec("50")))

	require.Len(t, s.ByCard, 2)
	assert.Equal(t, "HSBC Red", s.ByCard[0].Key)
}

func TestSumBy_EmptyTable(t *testing.T) {
	assert.Empty(t, (&Table{}).SumByCategory())
}

func TestFilter(t *testing.T) {
	tbl, err := ParseString(dataset + "2025-12-03,OCTOPUS,20,Travel,Personal,HSBC Red\n")
	require.NoError(t, err)

	personal := tbl.Filter(Filter{Accounts: []statement.Account{statement.AccountPersonal}})
	assert.Len(t, personal.Rows, 2)

	travel := tbl.Filter(Filter{Categories: []statement.Category{statement.CategoryTravel}})
	require.Len(t, travel.Rows, 1)
	assert.Equal(t, "OCTOPUS", travel.Rows[0].TransactionName)

	none := tbl.Filter(Filter{
		Categories: []statement.Category{statement.CategoryTravel},
		Accounts:   []statement.Account{statement.AccountBusiness},
	})
	assert.Empty(t, none.Rows)

	assert.Len(t, tbl.Filter(Filter{}).Rows, 3)
}

func TestFromStatements(t *testing.T) {
	s := &statement.Statement{Transactions: []statement.Transaction{{
		Date: "2025-12-01", TransactionName: "GITHUB", Amount: dec("80"),
		Category: statement.CategoryCloudServices, Account: statement.AccountBusiness, CardName: "AE",
	}}}

	tbl, err := FromStatements(s, &statement.Statement{})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "GITHUB", tbl.Rows[0].TransactionName)
}

func TestWriteXLSX(t *testing.T) {
	tbl, err := ParseString(dataset)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, tbl))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Transactions", "By Category", "By Card", "By Account"}, f.GetSheetList())

	rows, err := f.GetRows("Transactions")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvout.Columns, rows[0])
	assert.Equal(t, "HANA-MUSUBI", rows[1][1])

	cats, err := f.GetRows("By Category")
	require.NoError(t, err)
	require.Len(t, cats, 3)
	assert.Equal(t, "Dining", cats[1][0])
}

func TestWriteXLSX_ColumnWidths(t *testing.T) {
	tbl, err := ParseString(dataset)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, tbl))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	w, err := f.GetColWidth("Transactions", "B")
	require.NoError(t, err)
	assert.Equal(t, 36.0, w)

	w, err = f.GetColWidth("By Card", "A")
	require.NoError(t, err)
	assert.Equal(t, 24.0, w)
}

func TestSetWidths_MissingSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	err := setWidths(f, "Nope", colWidth{"A", "A", 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nope width A:A")
}

package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/statement-analyzer/internal/csvout"
)

// XLSXContentType is the MIME type of WriteXLSX output.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	sheetTransactions = "Transactions"
	sheetCategory     = "By Category"
	sheetCard         = "By Card"
	sheetAccount      = "By Account"
)

// WriteXLSX writes a workbook with the transactions and the three
// breakdowns, one sheet each.
func WriteXLSX(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetTransactions); err != nil {
		return fmt.Errorf("WriteXLSX: rename sheet: %w", err)
	}
	if err := writeRow(f, sheetTransactions, 1, toAny(csvout.Columns)); err != nil {
		return err
	}
	for i, r := range t.Rows {
		row := []any{
			r.Date.Format("2006-01-02"),
			r.TransactionName,
			r.Amount.InexactFloat64(),
			string(r.Category),
			string(r.Account),
			r.CardName,
		}
		if err := writeRow(f, sheetTransactions, i+2, row); err != nil {
			return err
		}
	}
	if err := setWidths(f, sheetTransactions, colWidth{"A", "A", 12}, colWidth{"B", "B", 36}, colWidth{"D", "F", 16}); err != nil {
		return err
	}

	groups := []struct {
		sheet  string
		title  string
		shares []Share
	}{
		{sheetCategory, "category", t.SumByCategory()},
		{sheetCard, "card_name", t.SumByCard()},
		{sheetAccount, "account", t.SumByAccount()},
	}
	for _, g := range groups {
		if _, err := f.NewSheet(g.sheet); err != nil {
			return fmt.Errorf("WriteXLSX: create sheet %s: %w", g.sheet, err)
		}
		if err := writeRow(f, g.sheet, 1, []any{g.title, "amount", "count", "percentage"}); err != nil {
			return err
		}
		for i, s := range g.shares {
			row := []any{s.Key, s.Amount.InexactFloat64(), s.Count, s.Percentage.InexactFloat64()}
			if err := writeRow(f, g.sheet, i+2, row); err != nil {
				return err
			}
		}
		if err := setWidths(f, g.sheet, colWidth{"A", "A", 24}); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("WriteXLSX: write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("WriteXLSX: cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("WriteXLSX: %s row %d: %w", sheet, row, err)
	}
	return nil
}

type colWidth struct {
	from, to string
	width    float64
}

func setWidths(f *excelize.File, sheet string, widths ...colWidth) error {
	for _, cw := range widths {
		if err := f.SetColWidth(sheet, cw.from, cw.to, cw.width); err != nil {
			return fmt.Errorf("WriteXLSX: %s width %s:%s: %w", sheet, cw.from, cw.to, err)
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

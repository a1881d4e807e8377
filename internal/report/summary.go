package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// Share is the spending of one group and its percentage of the table total,
// rounded to one decimal place.
type Share struct {
	Key        string          `json:"key"`
	Amount     decimal.Decimal `json:"amount"`
	Count      int             `json:"count"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Summary holds the headline figures of a dataset.
type Summary struct {
	Transactions int             `json:"transactions"`
	Total        decimal.Decimal `json:"total"`
	Personal     decimal.Decimal `json:"personal"`
	Business     decimal.Decimal `json:"business"`
	ByCategory   []Share         `json:"by_category"`
	ByCard       []Share         `json:"by_card"`
	ByAccount    []Share         `json:"by_account"`
}

// SumBy groups rows by key and returns the groups ordered by amount, largest
// first, ties broken by key.
func (t *Table) SumBy(key func(Row) string) []Share {
	idx := map[string]int{}
	var shares []Share
	for _, r := range t.Rows {
		k := key(r)
		i, ok := idx[k]
		if !ok {
			i = len(shares)
			idx[k] = i
			shares = append(shares, Share{Key: k, Amount: decimal.Zero})
		}
		shares[i].Amount = shares[i].Amount.Add(r.Amount)
		shares[i].Count++
	}

	total := t.Total()
	hundred := decimal.NewFromInt(100)
	for i := range shares {
		if total.IsZero() {
			shares[i].Percentage = decimal.Zero
			continue
		}
		shares[i].Percentage = shares[i].Amount.Div(total).Mul(hundred).Round(1)
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if c := shares[i].Amount.Cmp(shares[j].Amount); c != 0 {
			return c > 0
		}
		return shares[i].Key < shares[j].Key
	})
	return shares
}

func (t *Table) SumByCategory() []Share {
	return t.SumBy(func(r Row) string { return string(r.Category) })
}

func (t *Table) SumByCard() []Share {
	return t.SumBy(func(r Row) string { return r.CardName })
}

func (t *Table) SumByAccount() []Share {
	return t.SumBy(func(r Row) string { return string(r.Account) })
}

// Summarize computes every headline figure.
func (t *Table) Summarize() Summary {
	s := Summary{
		Transactions: len(t.Rows),
		Total:        t.Total(),
		Personal:     decimal.Zero,
		Business:     decimal.Zero,
		ByCategory:   t.SumByCategory(),
		ByCard:       t.SumByCard(),
		ByAccount:    t.SumByAccount(),
	}
	for _, r := range t.Rows {
		switch r.Account {
		case statement.AccountPersonal:
			s.Personal = s.Personal.Add(r.Amount)
		case statement.AccountBusiness:
			s.Business = s.Business.Add(r.Amount)
		}
	}
	return s
}

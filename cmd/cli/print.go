package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/report"
)

var (
	okTag   = color.New(color.BgGreen, color.FgBlack).SprintFunc()
	failTag = color.New(color.BgRed, color.FgWhite).SprintFunc()
	counter = color.New(color.BgBlue, color.FgWhite).SprintfFunc()
	warn    = color.New(color.FgYellow).SprintfFunc()
	bold    = color.New(color.Bold, color.Underline).SprintFunc()
	keyCol  = color.New(color.FgCyan).SprintfFunc()
)

var centTolerance = decimal.New(1, -2)

func printProgress(w io.Writer, o pipeline.FileOutcome, total int) {
	n := counter(" [%2d of %2d] ", o.Index+1, total)
	if o.Succeeded() {
		fmt.Fprintf(w, "%s %s %s (%d transactions)\n", n, okTag(" OK "), o.Name, o.Transactions)
		return
	}
	fmt.Fprintf(w, "%s %s %s: %s\n", n, failTag(" FAIL "), o.Name, o.ErrorKind)
}

func printOutcomes(w io.Writer, res *pipeline.BatchResult) {
	succeeded, failed := res.Counts()
	fmt.Fprintf(w, "\n%s\n", bold(fmt.Sprintf("Batch %s: %d succeeded, %d failed", res.ID, succeeded, failed)))
	for _, o := range res.Files {
		if !o.Succeeded() {
			fmt.Fprintf(w, "  %s %-30s %s: %s\n", failTag(" FAIL "), o.Name, o.ErrorKind, o.Error)
			continue
		}
		fmt.Fprintf(w, "  %s %-30s %-20s %3d rows  due %s\n", okTag(" OK "), o.Name, o.CardName, o.Transactions, o.DueDate)
		if !o.ReportedTotal.IsZero() && o.ReportedTotal.Sub(o.SummedTotal).Abs().GreaterThan(centTolerance) {
			fmt.Fprintf(w, "       %s\n", warn("statement total %s, extracted rows sum to %s", o.ReportedTotal, o.SummedTotal))
		}
	}
}

func printSummary(w io.Writer, s report.Summary) {
	fmt.Fprintf(w, "\n%s\n", bold("Summary"))
	fmt.Fprintf(w, "  Transactions: %d\n", s.Transactions)
	fmt.Fprintf(w, "  Total:        HKD %s\n", s.Total.StringFixed(2))
	fmt.Fprintf(w, "  Personal:     HKD %s\n", s.Personal.StringFixed(2))
	fmt.Fprintf(w, "  Business:     HKD %s\n", s.Business.StringFixed(2))

	printShares(w, "By category", s.ByCategory)
	printShares(w, "By card", s.ByCard)
	printShares(w, "By account", s.ByAccount)
}

func printShares(w io.Writer, title string, shares []report.Share) {
	if len(shares) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", bold(title))
	for _, sh := range shares {
		fmt.Fprintf(w, "  %s %12s %5s%% %4d\n", keyCol("%-24s", sh.Key), sh.Amount.StringFixed(2), sh.Percentage.StringFixed(1), sh.Count)
	}
}

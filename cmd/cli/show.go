package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/report"
	"github.com/rs/zerolog"
)

func runShow(a *app.App, log zerolog.Logger) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	month := fs.String("month", "", "Only records of this month (YYYY-MM)")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(os.Args[2:])

	if fs.NArg() != 1 {
		log.Fatal().Msg("Usage: finsync show [-month YYYY-MM] [-json] <expenses|income|categories|financialGoals|bills|investments>")
	}
	if *month != "" {
		if _, err := report.ParseMonth(*month); err != nil {
			log.Fatal().Err(err).Msg("Invalid -month")
		}
	}

	_, store := requireUser(a, log)
	snap := store.Snapshot()

	var items any
	switch domain.Collection(fs.Arg(0)) {
	case domain.CollectionExpenses:
		items = filterMonth(snap.Expenses, *month)
	case domain.CollectionIncome:
		items = filterMonth(snap.Income, *month)
	case domain.CollectionCategories:
		items = snap.Categories
	case domain.CollectionGoals:
		items = snap.Goals
	case domain.CollectionBills:
		items = domain.RefreshBillStatuses(snap.Bills, time.Now())
	case domain.CollectionInvestments:
		items = snap.Investments
	default:
		log.Fatal().Str("collection", fs.Arg(0)).Msg("Unknown collection")
	}

	records, isRecords := items.([]domain.FinancialRecord)
	if *asJSON || !isRecords {
		printJSON(items)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tCATEGORY\tDESCRIPTION\tPAID BY\tAMOUNT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\n", r.Date, r.Category, r.Description, r.Counterparty, r.Amount)
	}
	fmt.Fprintf(w, "\t\t\tTOTAL\t%.2f\n", report.Total(records))
	w.Flush()
}

func filterMonth(records []domain.FinancialRecord, month string) []domain.FinancialRecord {
	if month == "" {
		return records
	}
	out := []domain.FinancialRecord{}
	for _, r := range records {
		if domain.InMonth(r.Date, month) {
			out = append(out, r)
		}
	}
	return out
}

func runReport(a *app.App, log zerolog.Logger) {
	now := time.Now()

	fs := flag.NewFlagSet("report", flag.ExitOnError)
	month := fs.String("month", report.CurrentMonth(now), "Month to summarise (YYYY-MM)")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(os.Args[2:])

	if _, err := report.ParseMonth(*month); err != nil {
		log.Fatal().Err(err).Msg("Invalid -month")
	}

	_, store := requireUser(a, log)
	m := report.BuildMonthly(store.Snapshot(), *month, now)
	if *asJSON {
		printJSON(m)
		return
	}

	fmt.Printf("=== %s ===\n", m.Month)
	fmt.Printf("Income:       %10.2f\n", m.TotalIncome)
	fmt.Printf("Expenses:     %10.2f\n", m.TotalExpenses)
	fmt.Printf("Net savings:  %10.2f\n", m.NetSavings)
	fmt.Printf("Invested:     %10.2f\n", m.TotalInvestments)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if len(m.ExpensesByCategory) > 0 {
		fmt.Fprintln(w, "\nSPENDING\tAMOUNT\tSHARE")
		for _, c := range m.ExpensesByCategory {
			fmt.Fprintf(w, "%s\t%.2f\t%.1f%%\n", c.Category, c.Amount, c.Percentage)
		}
	}
	if len(m.Budgets) > 0 {
		fmt.Fprintln(w, "\nBUDGET\tSPENT\tLIMIT\tUSED")
		for _, b := range m.Budgets {
			note := ""
			if b.OverBudget() {
				note = "  over"
			}
			fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.1f%%%s\n", b.Category, b.Spent, b.Budget, b.Percentage, note)
		}
	}
	w.Flush()

	fmt.Printf("\nBills: %d pending, %d overdue\n", m.PendingBills, m.OverdueBills)
	for _, g := range m.OverdueGoals {
		fmt.Printf("Goal overdue: %s (%.0f%% of %.2f, due %s)\n", g.Name, g.Progress()*100, g.TargetAmount, g.TargetDate)
	}
}

func runCheck(a *app.App, log zerolog.Logger) {
	_, store := requireUser(a, log)
	issues := report.ValidateSnapshot(store.Snapshot())
	if len(issues) == 0 {
		fmt.Println("No problems found.")
		return
	}
	for _, i := range issues {
		fmt.Println(i.String())
	}
	fmt.Printf("\n%d problem(s) found.\n", len(issues))
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

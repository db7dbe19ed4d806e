// Package report derives budget and monthly summaries from a snapshot.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/shopspring/decimal"
)

// MonthLayout is the YYYY-MM form used to select a month.
const MonthLayout = "2006-01"

// TopN bounds the top transaction lists of a monthly report.
const TopN = 10

var hundred = decimal.NewFromInt(100)

// BudgetStatus compares one category's spending with its budget.
type BudgetStatus struct {
	Category   string  `json:"category"`
	Budget     float64 `json:"budget"`
	Spent      float64 `json:"spent"`
	Remaining  float64 `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// OverBudget reports whether spending exceeded the budget.
func (b BudgetStatus) OverBudget() bool { return b.Remaining < 0 }

// CategoryAmount is a category total and its share of the whole.
type CategoryAmount struct {
	Category   string  `json:"category"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// Monthly is the summary of one calendar month.
type Monthly struct {
	Month            string  `json:"month"`
	TotalIncome      float64 `json:"totalIncome"`
	TotalExpenses    float64 `json:"totalExpenses"`
	NetSavings       float64 `json:"netSavings"`
	TotalInvestments float64 `json:"totalInvestments"`

	ExpensesByCategory []CategoryAmount         `json:"expensesByCategory"`
	IncomeByCategory   []CategoryAmount         `json:"incomeByCategory"`
	TopExpenses        []domain.FinancialRecord `json:"topExpenses"`
	TopIncome          []domain.FinancialRecord `json:"topIncome"`
	Budgets            []BudgetStatus           `json:"budgetStatus"`

	PendingBills int                    `json:"pendingBills"`
	OverdueBills int                    `json:"overdueBills"`
	OverdueGoals []domain.FinancialGoal `json:"overdueGoals"`
}

// ParseMonth validates a YYYY-MM month.
func ParseMonth(month string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, month)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse month %q: %w", month, err)
	}
	return t, nil
}

// CurrentMonth returns the month containing t.
func CurrentMonth(t time.Time) string { return t.Format(MonthLayout) }

// BudgetStatuses returns the status of every category that has a budget.
// Spending is matched to categories case-insensitively. An empty month
// covers all records.
func BudgetStatuses(expenses []domain.FinancialRecord, categories []domain.Category, month string) []BudgetStatus {
	spent := make(map[string]decimal.Decimal)
	for _, e := range inMonth(expenses, month) {
		key := domain.FoldName(e.Category)
		spent[key] = spent[key].Add(decimal.NewFromFloat(e.Amount))
	}

	out := []BudgetStatus{}
	for _, c := range categories {
		if !c.HasBudget() {
			continue
		}
		budget := decimal.NewFromFloat(*c.Budget)
		s := spent[domain.FoldName(c.Name)]
		out = append(out, BudgetStatus{
			Category:   c.Name,
			Budget:     budget.InexactFloat64(),
			Spent:      s.InexactFloat64(),
			Remaining:  budget.Sub(s).InexactFloat64(),
			Percentage: percent(s, budget),
		})
	}
	return out
}

// BuildMonthly summarises month from snap. Bill and goal states are
// evaluated against today.
func BuildMonthly(snap domain.Snapshot, month string, today time.Time) Monthly {
	expenses := inMonth(snap.Expenses, month)
	income := inMonth(snap.Income, month)

	totalExpenses := sum(expenses)
	totalIncome := sum(income)

	invested := decimal.Zero
	for _, inv := range snap.Investments {
		if domain.InMonth(inv.PurchaseDate, month) {
			invested = invested.Add(decimal.NewFromFloat(inv.Amount))
		}
	}

	m := Monthly{
		Month:              month,
		TotalIncome:        totalIncome.InexactFloat64(),
		TotalExpenses:      totalExpenses.InexactFloat64(),
		NetSavings:         totalIncome.Sub(totalExpenses).InexactFloat64(),
		TotalInvestments:   invested.InexactFloat64(),
		ExpensesByCategory: byCategory(expenses, totalExpenses),
		IncomeByCategory:   byCategory(income, totalIncome),
		TopExpenses:        top(expenses, TopN),
		TopIncome:          top(income, TopN),
		Budgets:            BudgetStatuses(snap.Expenses, snap.Categories, month),
		OverdueGoals:       []domain.FinancialGoal{},
	}

	for _, b := range snap.Bills {
		switch b.EffectiveStatus(today) {
		case domain.BillPending:
			m.PendingBills++
		case domain.BillOverdue:
			m.OverdueBills++
		}
	}
	for _, g := range snap.Goals {
		if g.Overdue(today) {
			m.OverdueGoals = append(m.OverdueGoals, g)
		}
	}
	return m
}

func inMonth(records []domain.FinancialRecord, month string) []domain.FinancialRecord {
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

func sum(records []domain.FinancialRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(decimal.NewFromFloat(r.Amount).Abs())
	}
	return total
}

// byCategory groups by category name as written, largest amount first.
func byCategory(records []domain.FinancialRecord, total decimal.Decimal) []CategoryAmount {
	totals := make(map[string]decimal.Decimal)
	var order []string
	for _, r := range records {
		if _, ok := totals[r.Category]; !ok {
			order = append(order, r.Category)
		}
		totals[r.Category] = totals[r.Category].Add(decimal.NewFromFloat(r.Amount).Abs())
	}

	out := make([]CategoryAmount, 0, len(order))
	for _, name := range order {
		out = append(out, CategoryAmount{
			Category:   name,
			Amount:     totals[name].InexactFloat64(),
			Percentage: percent(totals[name], total),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount > out[j].Amount })
	return out
}

func top(records []domain.FinancialRecord, n int) []domain.FinancialRecord {
	out := append([]domain.FinancialRecord{}, records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount > out[j].Amount })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func percent(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Div(whole).Mul(hundred).Round(2).InexactFloat64()
}

// Total sums the amounts of records.
func Total(records []domain.FinancialRecord) float64 {
	return sum(records).InexactFloat64()
}

package report

import (
	"fmt"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// Issue is a data-quality problem found in a collection.
type Issue struct {
	Collection domain.Collection `json:"collection"`
	ID         string            `json:"id,omitempty"`
	Problem    string            `json:"problem"`
}

func (i Issue) String() string {
	if i.ID == "" {
		return fmt.Sprintf("%s: %s", i.Collection, i.Problem)
	}
	return fmt.Sprintf("%s %s: %s", i.Collection, i.ID, i.Problem)
}

// ValidateExpenses reports duplicate or missing ids, unparseable dates,
// negative amounts and records without a category.
func ValidateExpenses(records []domain.FinancialRecord) []Issue {
	return validateRecords(domain.CollectionExpenses, records)
}

// ValidateIncome applies the expense checks to income records.
func ValidateIncome(records []domain.FinancialRecord) []Issue {
	return validateRecords(domain.CollectionIncome, records)
}

func validateRecords(c domain.Collection, records []domain.FinancialRecord) []Issue {
	var issues []Issue
	seen := make(map[string]int, len(records))

	for i, r := range records {
		if r.ID == "" {
			issues = append(issues, Issue{Collection: c, Problem: fmt.Sprintf("record %d has no id", i)})
		} else if n := seen[r.ID]; n == 1 {
			issues = append(issues, Issue{Collection: c, ID: r.ID, Problem: "duplicate id"})
		}
		seen[r.ID]++

		if _, err := domain.ParseDate(r.Date); err != nil {
			issues = append(issues, Issue{Collection: c, ID: r.ID, Problem: fmt.Sprintf("invalid date %q", r.Date)})
		}
		if r.Amount < 0 {
			issues = append(issues, Issue{Collection: c, ID: r.ID, Problem: fmt.Sprintf("negative amount %v", r.Amount)})
		}
		if r.Category == "" {
			issues = append(issues, Issue{Collection: c, ID: r.ID, Problem: "missing category"})
		}
	}
	return issues
}

// ValidateCategories reports names that collide case-insensitively and
// negative budgets.
func ValidateCategories(categories []domain.Category) []Issue {
	var issues []Issue
	first := make(map[string]string, len(categories))

	for _, c := range categories {
		key := domain.FoldName(c.Name)
		if prev, ok := first[key]; ok {
			issues = append(issues, Issue{
				Collection: domain.CollectionCategories,
				ID:         c.ID,
				Problem:    fmt.Sprintf("name %q duplicates %q", c.Name, prev),
			})
		} else {
			first[key] = c.Name
		}
		if c.Budget != nil && *c.Budget < 0 {
			issues = append(issues, Issue{
				Collection: domain.CollectionCategories,
				ID:         c.ID,
				Problem:    fmt.Sprintf("negative budget %v", *c.Budget),
			})
		}
	}
	return issues
}

// ValidateSnapshot runs every check over snap.
func ValidateSnapshot(snap domain.Snapshot) []Issue {
	var issues []Issue
	issues = append(issues, ValidateExpenses(snap.Expenses)...)
	issues = append(issues, ValidateIncome(snap.Income)...)
	issues = append(issues, ValidateCategories(snap.Categories)...)
	return issues
}

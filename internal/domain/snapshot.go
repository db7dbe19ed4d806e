package domain

import "time"

// Collection names one of the per-user record collections. The value is the
// storage name used in local keys.
type Collection string

const (
	CollectionExpenses    Collection = "expenses"
	CollectionIncome      Collection = "income"
	CollectionCategories  Collection = "categories"
	CollectionGoals       Collection = "financialGoals"
	CollectionBills       Collection = "bills"
	CollectionInvestments Collection = "investments"
)

// Collections lists every collection in snapshot order.
var Collections = []Collection{
	CollectionExpenses,
	CollectionIncome,
	CollectionCategories,
	CollectionGoals,
	CollectionBills,
	CollectionInvestments,
}

// Snapshot is the complete per-user dataset plus sync metadata.
// It is the unit of remote synchronization.
type Snapshot struct {
	Expenses    []FinancialRecord `json:"expenses"`
	Income      []FinancialRecord `json:"income"`
	Categories  []Category        `json:"categories"`
	Goals       []FinancialGoal   `json:"goals"`
	Bills       []Bill            `json:"bills"`
	Investments []Investment      `json:"investments"`
	LastSync    time.Time         `json:"lastSync"`
	Version     int               `json:"version"`
}

// Normalize fills absent collections with empty slices, stamps record kinds
// from the collection they belong to and clamps the version to at least 1.
func (s Snapshot) Normalize() Snapshot {
	s.Expenses = withKind(s.Expenses, KindExpense)
	s.Income = withKind(s.Income, KindIncome)
	if s.Categories == nil {
		s.Categories = []Category{}
	}
	if s.Goals == nil {
		s.Goals = []FinancialGoal{}
	}
	if s.Bills == nil {
		s.Bills = []Bill{}
	}
	if s.Investments == nil {
		s.Investments = []Investment{}
	}
	if s.Version < 1 {
		s.Version = 1
	}
	return s
}

// Len returns the number of records across all collections.
func (s Snapshot) Len() int {
	return len(s.Expenses) + len(s.Income) + len(s.Categories) +
		len(s.Goals) + len(s.Bills) + len(s.Investments)
}

// WithKind returns records with an empty Kind set to k.
func WithKind(records []FinancialRecord, k Kind) []FinancialRecord {
	return withKind(records, k)
}

func withKind(records []FinancialRecord, k Kind) []FinancialRecord {
	out := make([]FinancialRecord, len(records))
	for i, r := range records {
		if r.Kind == "" {
			r.Kind = k
		}
		out[i] = r
	}
	return out
}

// UserSession is the authenticated identity. Its ID is the namespace prefix
// for every local storage key owned by the user.
type UserSession struct {
	ID      string `json:"id" validate:"required"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

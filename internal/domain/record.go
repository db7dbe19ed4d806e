package domain

// Kind distinguishes expense records from income records.
// Amounts are always stored as an unsigned magnitude; Kind carries the direction.
type Kind string

const (
	// KindExpense marks money going out.
	KindExpense Kind = "expense"
	// KindIncome marks money coming in.
	KindIncome Kind = "income"
)

// Record is implemented by every entity stored in a collection.
type Record interface {
	RecordID() string
}

// FinancialRecord represents one expense or income entry.
// JSON keys follow the stored blob format: the category lives under "type"
// and the payer or counterparty under "paidBy".
type FinancialRecord struct {
	ID           string   `json:"id" validate:"required"`
	Date         string   `json:"date" validate:"required,datetime=2006-01-02"` // YYYY-MM-DD
	Category     string   `json:"type" validate:"required"`
	Description  string   `json:"description" validate:"required"`
	Counterparty string   `json:"paidBy"`
	Amount       float64  `json:"amount" validate:"gte=0"`
	Kind         Kind     `json:"kind,omitempty" validate:"omitempty,oneof=expense income"`
	Tags         []string `json:"tags,omitempty"`
}

// RecordID implements Record.
func (r FinancialRecord) RecordID() string { return r.ID }

// IsIncome reports whether the record is an income entry.
func (r FinancialRecord) IsIncome() bool { return r.Kind == KindIncome }

// Category is a named spending bucket. A nil Budget means "no limit".
type Category struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description,omitempty"`
	Budget      *float64 `json:"budget" validate:"omitempty,gte=0"`
}

// RecordID implements Record. Categories without an id are keyed by folded name.
func (c Category) RecordID() string {
	if c.ID != "" {
		return c.ID
	}
	return FoldName(c.Name)
}

// HasBudget reports whether the category tracks a spending limit.
func (c Category) HasBudget() bool { return c.Budget != nil }

// Budget returns a pointer to v, for building categories with a limit.
func Budget(v float64) *float64 { return &v }

package domain

import "time"

// GoalCategory classifies a financial goal.
type GoalCategory string

const (
	GoalSavings    GoalCategory = "savings"
	GoalInvestment GoalCategory = "investment"
	GoalPurchase   GoalCategory = "purchase"
	GoalDebtPayoff GoalCategory = "debt-payoff"
)

// FinancialGoal is a savings or payoff target.
type FinancialGoal struct {
	ID            string       `json:"id" validate:"required"`
	Name          string       `json:"name" validate:"required"`
	TargetAmount  float64      `json:"targetAmount" validate:"gt=0"`
	CurrentAmount float64      `json:"currentAmount" validate:"gte=0"`
	TargetDate    string       `json:"targetDate" validate:"required,datetime=2006-01-02"`
	Category      GoalCategory `json:"category" validate:"required,oneof=savings investment purchase debt-payoff"`
	Description   string       `json:"description,omitempty"`
}

// RecordID implements Record.
func (g FinancialGoal) RecordID() string { return g.ID }

// Progress returns currentAmount/targetAmount.
func (g FinancialGoal) Progress() float64 {
	if g.TargetAmount <= 0 {
		return 0
	}
	return g.CurrentAmount / g.TargetAmount
}

// Completed reports whether the target has been reached.
func (g FinancialGoal) Completed() bool {
	return g.CurrentAmount >= g.TargetAmount
}

// Overdue reports whether the goal is incomplete past its target date.
func (g FinancialGoal) Overdue(today time.Time) bool {
	if g.Completed() {
		return false
	}
	target, err := ParseDate(g.TargetDate)
	if err != nil {
		return false
	}
	return DateOnly(today).After(target)
}

// BillStatus is the payment state of a bill.
type BillStatus string

const (
	BillPending BillStatus = "pending"
	BillPaid    BillStatus = "paid"
	BillOverdue BillStatus = "overdue"
)

// BillFrequency is how often a recurring bill comes due.
type BillFrequency string

const (
	FrequencyMonthly   BillFrequency = "monthly"
	FrequencyQuarterly BillFrequency = "quarterly"
	FrequencyYearly    BillFrequency = "yearly"
)

// Bill is an upcoming or settled payment.
type Bill struct {
	ID        string        `json:"id" validate:"required"`
	Name      string        `json:"name" validate:"required"`
	Amount    float64       `json:"amount" validate:"gte=0"`
	DueDate   string        `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Category  string        `json:"category" validate:"required"`
	Recurring bool          `json:"recurring"`
	Frequency BillFrequency `json:"frequency,omitempty" validate:"omitempty,oneof=monthly quarterly yearly"`
	Status    BillStatus    `json:"status" validate:"omitempty,oneof=pending paid overdue"`
	PaidDate  string        `json:"paidDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// RecordID implements Record.
func (b Bill) RecordID() string { return b.ID }

// EffectiveStatus recomputes the status against today's date.
// A bill explicitly marked paid stays paid.
func (b Bill) EffectiveStatus(today time.Time) BillStatus {
	if b.Status == BillPaid {
		return BillPaid
	}
	due, err := ParseDate(b.DueDate)
	if err != nil {
		if b.Status == "" {
			return BillPending
		}
		return b.Status
	}
	if DateOnly(today).After(due) {
		return BillOverdue
	}
	return BillPending
}

// MarkPaid returns a copy of the bill settled on the given day.
func (b Bill) MarkPaid(on time.Time) Bill {
	b.Status = BillPaid
	b.PaidDate = FormatDate(on)
	return b
}

// NextDueDate returns the due date one period after the current one for a
// recurring bill. ok is false for one-off bills or an unparseable due date.
func (b Bill) NextDueDate() (next string, ok bool) {
	if !b.Recurring {
		return "", false
	}
	due, err := ParseDate(b.DueDate)
	if err != nil {
		return "", false
	}
	switch b.Frequency {
	case FrequencyQuarterly:
		due = due.AddDate(0, 3, 0)
	case FrequencyYearly:
		due = due.AddDate(1, 0, 0)
	default:
		due = due.AddDate(0, 1, 0)
	}
	return FormatDate(due), true
}

// RefreshBillStatuses returns the bills with statuses recomputed for today.
func RefreshBillStatuses(bills []Bill, today time.Time) []Bill {
	out := make([]Bill, len(bills))
	for i, b := range bills {
		b.Status = b.EffectiveStatus(today)
		out[i] = b
	}
	return out
}

// InvestmentType classifies a holding.
type InvestmentType string

const (
	InvestmentStocks       InvestmentType = "stocks"
	InvestmentBonds        InvestmentType = "bonds"
	InvestmentMutualFunds  InvestmentType = "mutual-funds"
	InvestmentFixedDeposit InvestmentType = "fixed-deposit"
	InvestmentRealEstate   InvestmentType = "real-estate"
	InvestmentCrypto       InvestmentType = "crypto"
	InvestmentGold         InvestmentType = "gold"
	InvestmentOther        InvestmentType = "other"
)

// Investment is a purchased holding and its current valuation.
type Investment struct {
	ID           string         `json:"id" validate:"required"`
	Name         string         `json:"name" validate:"required"`
	Type         InvestmentType `json:"type" validate:"required,oneof=stocks bonds mutual-funds fixed-deposit real-estate crypto gold other"`
	Amount       float64        `json:"amount" validate:"gte=0"`
	CurrentValue float64        `json:"currentValue" validate:"gte=0"`
	PurchaseDate string         `json:"purchaseDate" validate:"required,datetime=2006-01-02"`
}

// RecordID implements Record.
func (i Investment) RecordID() string { return i.ID }

// Gain returns currentValue minus the amount invested.
func (i Investment) Gain() float64 { return i.CurrentValue - i.Amount }

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFinancialGoal_DerivedState(t *testing.T) {
	tests := []struct {
		name          string
		goal          FinancialGoal
		today         string
		wantProgress  float64
		wantCompleted bool
		wantOverdue   bool
	}{
		{
			name:         "halfway before target date",
			goal:         FinancialGoal{TargetAmount: 1000, CurrentAmount: 500, TargetDate: "2024-12-31"},
			today:        "2024-06-01",
			wantProgress: 0.5,
		},
		{
			name:          "completed is never overdue",
			goal:          FinancialGoal{TargetAmount: 1000, CurrentAmount: 1200, TargetDate: "2024-01-31"},
			today:         "2024-06-01",
			wantProgress:  1.2,
			wantCompleted: true,
		},
		{
			name:         "incomplete past target date",
			goal:         FinancialGoal{TargetAmount: 400, CurrentAmount: 100, TargetDate: "2024-05-31"},
			today:        "2024-06-01",
			wantProgress: 0.25,
			wantOverdue:  true,
		},
		{
			name:         "due today is not overdue",
			goal:         FinancialGoal{TargetAmount: 400, CurrentAmount: 100, TargetDate: "2024-06-01"},
			today:        "2024-06-01",
			wantProgress: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantProgress, tt.goal.Progress(), 1e-9)
			assert.Equal(t, tt.wantCompleted, tt.goal.Completed())
			assert.Equal(t, tt.wantOverdue, tt.goal.Overdue(day(tt.today)))
		})
	}
}

func TestBill_EffectiveStatus(t *testing.T) {
	today := day("2024-06-15")

	tests := []struct {
		name string
		bill Bill
		want BillStatus
	}{
		{"pending before due", Bill{DueDate: "2024-06-20", Status: BillPending}, BillPending},
		{"stale pending past due", Bill{DueDate: "2024-06-10", Status: BillPending}, BillOverdue},
		{"stale overdue after due date moved", Bill{DueDate: "2024-07-01", Status: BillOverdue}, BillPending},
		{"paid stays paid", Bill{DueDate: "2024-06-01", Status: BillPaid}, BillPaid},
		{"unparseable due date keeps stored status", Bill{DueDate: "soon", Status: BillOverdue}, BillOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bill.EffectiveStatus(today))
		})
	}
}

func TestBill_MarkPaid(t *testing.T) {
	b := Bill{ID: "b1", DueDate: "2024-06-10", Status: BillOverdue}
	paid := b.MarkPaid(time.Date(2024, 6, 12, 18, 30, 0, 0, time.UTC))

	assert.Equal(t, BillPaid, paid.Status)
	assert.Equal(t, "2024-06-12", paid.PaidDate)
	assert.Equal(t, BillOverdue, b.Status, "original must not change")
}

func TestBill_NextDueDate(t *testing.T) {
	tests := []struct {
		name   string
		bill   Bill
		want   string
		wantOK bool
	}{
		{"monthly", Bill{DueDate: "2024-01-31", Recurring: true, Frequency: FrequencyMonthly}, "2024-03-02", true},
		{"quarterly", Bill{DueDate: "2024-02-15", Recurring: true, Frequency: FrequencyQuarterly}, "2024-05-15", true},
		{"yearly", Bill{DueDate: "2024-02-15", Recurring: true, Frequency: FrequencyYearly}, "2025-02-15", true},
		{"missing frequency is monthly", Bill{DueDate: "2024-02-15", Recurring: true}, "2024-03-15", true},
		{"one-off", Bill{DueDate: "2024-02-15"}, "", false},
		{"bad date", Bill{DueDate: "tbd", Recurring: true}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.bill.NextDueDate()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefreshBillStatuses(t *testing.T) {
	bills := []Bill{
		{ID: "a", DueDate: "2024-01-01", Status: BillPending},
		{ID: "b", DueDate: "2030-01-01", Status: BillPending},
	}
	got := RefreshBillStatuses(bills, day("2024-06-01"))

	require.Len(t, got, 2)
	assert.Equal(t, BillOverdue, got[0].Status)
	assert.Equal(t, BillPending, got[1].Status)
	assert.Equal(t, BillPending, bills[0].Status)
}

func TestValidate(t *testing.T) {
	valid := FinancialRecord{ID: "e1", Date: "2024-04-12", Category: "Dining", Description: "Lunch", Amount: 500, Kind: KindExpense}
	require.NoError(t, Validate(valid))

	bad := valid
	bad.Date = "12-Apr"
	bad.Amount = -1
	err := Validate(bad)
	require.Error(t, err)

	fields := FieldErrors(err)
	assert.Equal(t, "datetime", fields["date"])
	assert.Equal(t, "gte", fields["amount"])

	assert.Error(t, Validate(FinancialGoal{ID: "g", Name: "Car", TargetAmount: 0, TargetDate: "2025-01-01", Category: GoalPurchase}))
	assert.Error(t, Validate(Bill{ID: "b", Name: "Rent", DueDate: "2025-01-01", Category: "Housing", Frequency: "weekly"}))
	assert.NoError(t, Validate(Category{Name: "Housing"}))
	assert.Nil(t, FieldErrors(nil))
}

func TestMergeByID(t *testing.T) {
	local := []FinancialRecord{{ID: "1", Amount: 10}, {ID: "2", Amount: 20}}
	other := []FinancialRecord{{ID: "2", Amount: 99}, {ID: "3", Amount: 30}}

	got := MergeByID(local, other)

	require.Len(t, got, 3)
	assert.Equal(t, 20.0, got[1].Amount, "local wins on id collision")
	assert.Equal(t, "3", got[2].ID)
	assert.Equal(t, 1, IndexByID(got, "2"))
	assert.Equal(t, -1, IndexByID(got, "missing"))
}

func TestMergeCategories(t *testing.T) {
	existing := []Category{{ID: "dining", Name: "Dining", Budget: Budget(4000)}}
	incoming := []Category{{Name: "dining "}, {Name: "Travel"}, {Name: "TRAVEL"}}

	got := MergeCategories(existing, incoming)

	require.Len(t, got, 2)
	require.NotNil(t, got[0].Budget)
	assert.Equal(t, 4000.0, *got[0].Budget)
	assert.Equal(t, "Travel", got[1].Name)
	assert.True(t, SameName("Learning & Growth", "learning & growth"))
}

func TestSnapshot_Normalize(t *testing.T) {
	s := Snapshot{
		Expenses: []FinancialRecord{{ID: "e1"}},
		Income:   []FinancialRecord{{ID: "i1"}},
	}.Normalize()

	assert.Equal(t, KindExpense, s.Expenses[0].Kind)
	assert.Equal(t, KindIncome, s.Income[0].Kind)
	assert.NotNil(t, s.Categories)
	assert.NotNil(t, s.Investments)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, 2, s.Len())
}

func TestHasLegacyRecords(t *testing.T) {
	assert.True(t, HasLegacyRecords(SampleExpenses()))
	assert.False(t, HasLegacyRecords([]FinancialRecord{{ID: "uploaded-0"}, {ID: "7f2c"}}))
	assert.False(t, HasLegacyRecords(nil))
}

func TestInMonth(t *testing.T) {
	assert.True(t, InMonth("2024-04-12", "2024-04"))
	assert.False(t, InMonth("2024-05-01", "2024-04"))
	assert.False(t, InMonth("2024-04", "2024-04"))
}

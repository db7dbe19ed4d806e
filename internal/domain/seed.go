package domain

import "regexp"

// legacyID matches the numeric ids carried by the bundled sample records.
var legacyID = regexp.MustCompile(`^\d+$`)

// HasLegacyRecords reports whether any expense carries a sample-data id.
func HasLegacyRecords(expenses []FinancialRecord) bool {
	for _, e := range expenses {
		if legacyID.MatchString(e.ID) {
			return true
		}
	}
	return false
}

// SampleCategories returns the default category set.
func SampleCategories() []Category {
	return []Category{
		{ID: "housing", Name: "Housing", Description: "Home Essentials"},
		{ID: "subscriptions", Name: "Subscriptions", Description: "Phone, LinkedIn, iCloud, Netflix, Spotify", Budget: Budget(1500)},
		{ID: "groceries", Name: "Groceries", Description: "Kirana Stores, Market", Budget: Budget(3000)},
		{ID: "dining", Name: "Dining", Description: "Restaurants, Clubs, Delivery", Budget: Budget(4000)},
		{ID: "learning", Name: "Learning & Growth", Description: "Courses, Certifications, Books", Budget: Budget(500)},
		{ID: "personal-care", Name: "Personal Care", Description: "Gym, Medicines, Hair Cut, Clothes", Budget: Budget(1500)},
		{ID: "travel", Name: "Travel", Description: "Cabs, Fuel", Budget: Budget(4000)},
		{ID: "entertainment", Name: "Entertainment", Description: "Movies, Sports, Stand Up", Budget: Budget(2000)},
		{ID: "productivity", Name: "Productivity", Description: "Apps, Software, Calendars", Budget: Budget(2000)},
		{ID: "work", Name: "Work", Description: "Desk Setup", Budget: Budget(3000)},
		{ID: "miscellaneous", Name: "Miscellaneous", Description: "One time expenses (e.g. gifts, random purchases)"},
	}
}

// SampleExpenses returns the bundled sample expenses.
func SampleExpenses() []FinancialRecord {
	rec := func(id, date, category, desc string, amount float64) FinancialRecord {
		return FinancialRecord{
			ID:           id,
			Date:         date,
			Category:     category,
			Description:  desc,
			Counterparty: "Me",
			Amount:       amount,
			Kind:         KindExpense,
		}
	}
	return []FinancialRecord{
		rec("1", "2024-04-12", "Dining", "This is it", 1000),
		rec("2", "2024-04-17", "Dining", "Snacks from Zepto", 150),
		rec("3", "2024-04-17", "Dining", "Fried rice, tea, and water", 200),
		rec("4", "2024-04-18", "Dining", "Biryani at Shah Ghouse", 300),
		rec("5", "2024-04-18", "Entertainment", "Cricket", 500),
		rec("6", "2024-04-19", "Dining", "Tea, biscuits, goli soda", 80),
		rec("7", "2024-04-19", "Dining", "Sugar Cane Juice", 25),
		rec("8", "2024-04-21", "Shopping", "Car charger", 1200),
	}
}

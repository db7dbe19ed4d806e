package domain

import "time"

// DateLayout is the calendar date format used by every stored record.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders t as a calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOnly drops the clock part of t, keeping its calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InMonth reports whether the calendar date falls in month (YYYY-MM).
func InMonth(date, month string) bool {
	return len(date) >= len(month)+1 && date[:len(month)] == month && date[len(month)] == '-'
}

package csvimport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Defaults applied by Process.
const (
	DefaultYear  = 2024
	DefaultPayer = "Me"
)

// NoRowsMessage is reported when the text holds no usable data rows.
const NoRowsMessage = "No data rows found in CSV file. Please check the file format."

var amountNoise = regexp.MustCompile(`[^\d.\-]`)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Options tunes Process.
type Options struct {
	// Year completes D-Mon dates. Zero means DefaultYear.
	Year int
	// Payer fills rows without a Paid By value. Empty means DefaultPayer.
	Payer string
}

// RowError describes one rejected row.
type RowError struct {
	Row    int
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("Row %d: %s", e.Row, e.Reason)
}

// Result is the outcome of Process. Records holds every row that passed,
// even when others failed; Success is true only if all rows passed.
type Result struct {
	Records    []domain.FinancialRecord
	Categories []domain.Category
	Failures   []RowError
	Success    bool
	Message    string
}

// Process validates and converts parsed rows into expense records and
// derives the set of categories they use.
func Process(rows []Row, opts Options) Result {
	if opts.Year == 0 {
		opts.Year = DefaultYear
	}
	if opts.Payer == "" {
		opts.Payer = DefaultPayer
	}
	if len(rows) == 0 {
		return Result{Message: NoRowsMessage}
	}

	var res Result
	var names []string
	seen := make(map[string]struct{})

	for i, row := range rows {
		num := row.Line
		if num == 0 {
			// Rows built without a source line count from a header on line 1.
			num = i + 2
		}
		if row.Date == "" || row.Type == "" || row.Description == "" || row.Amount == "" {
			res.Failures = append(res.Failures, RowError{num, fmt.Sprintf(
				"Missing required fields (Date: %t, Type: %t, Description: %t, Amount: %t)",
				row.Date != "", row.Type != "", row.Description != "", row.Amount != "")})
			continue
		}

		amount, err := ParseAmount(row.Amount)
		if err != nil {
			res.Failures = append(res.Failures, RowError{num, fmt.Sprintf("Invalid amount format %q", row.Amount)})
			continue
		}
		date, err := NormalizeDate(row.Date, opts.Year)
		if err != nil {
			res.Failures = append(res.Failures, RowError{num, fmt.Sprintf("Invalid date format %q", row.Date)})
			continue
		}

		payer := row.PaidBy
		if payer == "" {
			payer = opts.Payer
		}
		res.Records = append(res.Records, domain.FinancialRecord{
			ID:           uuid.NewString(),
			Date:         date,
			Category:     row.Type,
			Description:  row.Description,
			Counterparty: payer,
			Amount:       amount,
			Kind:         domain.KindExpense,
		})

		key := domain.FoldName(row.Type)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			names = append(names, row.Type)
		}
	}

	for i, name := range names {
		res.Categories = append(res.Categories, domain.Category{
			ID:          fmt.Sprintf("category-%d", i),
			Name:        name,
			Description: name + " expenses",
		})
	}

	res.Success = len(res.Failures) == 0
	if res.Success {
		res.Message = fmt.Sprintf("Successfully uploaded %d expenses with %d categories", len(res.Records), len(res.Categories))
	} else {
		lines := make([]string, len(res.Failures))
		for i, f := range res.Failures {
			lines[i] = f.String()
		}
		res.Message = strings.Join(lines, "\n")
	}
	return res
}

// ParseAmount strips currency symbols and thousands separators and returns
// the magnitude of the amount.
func ParseAmount(s string) (float64, error) {
	cleaned := amountNoise.ReplaceAllString(s, "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Abs().InexactFloat64(), nil
}

// NormalizeDate converts D-Mon dates (completed with year) and ISO dates
// to YYYY-MM-DD.
func NormalizeDate(s string, year int) (string, error) {
	s = strings.TrimSpace(s)

	if m := dayMonthPattern.FindStringSubmatch(s); m != nil {
		month, ok := months[strings.ToLower(m[2])]
		if !ok {
			return "", fmt.Errorf("unknown month in %q", s)
		}
		day, err := strconv.Atoi(m[1])
		if err != nil {
			return "", fmt.Errorf("parse day in %q: %w", s, err)
		}
		t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || t.Month() != month {
			return "", fmt.Errorf("no such day %q", s)
		}
		return domain.FormatDate(t), nil
	}

	if isoDatePattern.MatchString(s) {
		t, err := domain.ParseDate(s[:10])
		if err != nil {
			return "", err
		}
		return domain.FormatDate(t), nil
	}

	return "", fmt.Errorf("unrecognised date %q", s)
}

// Template returns a sample file in the expected format.
func Template() string {
	return "Date,Type,Description,Amount\n" +
		"2024-04-12,Dining,This is it,1000\n" +
		"2024-04-17,Dining,Snacks from Zepto,150\n" +
		"2024-04-18,Travel,Uber ride,2625\n"
}

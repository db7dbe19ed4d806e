// Package csvimport turns exported spreadsheet text into expense records.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Required and optional column names, matched case-insensitively.
const (
	ColumnDate        = "date"
	ColumnType        = "type"
	ColumnDescription = "description"
	ColumnAmount      = "amount"
	ColumnPaidBy      = "paid by"
)

// RequiredColumns lists the columns a header row must contain.
var RequiredColumns = []string{ColumnDate, ColumnType, ColumnDescription, ColumnAmount}

var (
	dayMonthPattern = regexp.MustCompile(`^(\d{1,2})-([A-Za-z]{3})$`)
	isoDatePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

	// isoDatePrefix keeps rows with a malformed ISO date so they are
	// reported instead of dropped as noise.
	isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// Row is one data row with its recognised columns. Values of any other
// column are kept in Extra under the header as written.
type Row struct {
	Date        string
	Type        string
	Description string
	Amount      string
	PaidBy      string
	Extra       map[string]string

	// Line is the 1-based line of the row in the source text.
	Line int
}

// Parsed is the outcome of Parse.
type Parsed struct {
	Rows []Row

	// Columns are the header cells of the detected header row, or of the
	// first non-empty line when no header was found.
	Columns []string

	// Missing lists required columns absent from Columns.
	Missing []string

	// HeaderLine is the 1-based line of the header, 0 if none was found.
	HeaderLine int

	Delimiter rune
}

// Parse locates the header row, sniffs the delimiter from it and extracts
// the data rows below it. Rows with too few fields, pivot-table summary
// rows and rows whose date is neither D-Mon nor ISO are skipped.
func Parse(text string) (*Parsed, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	headerIdx := -1
	var header []string
	var delim rune
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		d := sniffDelimiter(line)
		cells := splitHeader(line, d)
		if header == nil {
			header, delim = cells, d
		}
		if len(missingColumns(cells)) == 0 {
			headerIdx, header, delim = i, cells, d
			break
		}
	}

	out := &Parsed{Columns: header, Missing: missingColumns(header), Delimiter: delim}
	if headerIdx < 0 {
		return out, nil
	}
	out.HeaderLine = headerIdx + 1

	index := columnIndex(header)
	r := csv.NewReader(strings.NewReader(strings.Join(lines[headerIdx+1:], "\n")))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	minFields := 0
	for _, name := range RequiredColumns {
		minFields = max(minFields, index[name]+1)
	}

	for {
		values, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read csv: %w", err)
		}
		line, _ := r.FieldPos(0)

		if len(values) < minFields {
			continue
		}
		row := Row{
			Date:        cell(values, index[ColumnDate]),
			Type:        cell(values, index[ColumnType]),
			Description: cell(values, index[ColumnDescription]),
			Amount:      cell(values, index[ColumnAmount]),
			Line:        headerIdx + 1 + line,
		}
		if i, ok := index[ColumnPaidBy]; ok {
			row.PaidBy = cell(values, i)
		}
		if row.Date == "" && row.Type == "" && row.Description == "" && row.Amount == "" {
			continue
		}
		if isPivotArtifact(row) {
			continue
		}
		if row.Date != "" && !looksLikeDate(row.Date) {
			continue
		}

		for i, name := range header {
			if i >= len(values) || isKnownColumn(name) || name == "" {
				continue
			}
			if row.Extra == nil {
				row.Extra = make(map[string]string)
			}
			row.Extra[name] = cell(values, i)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// sniffDelimiter prefers semicolon, then tab, then comma.
func sniffDelimiter(line string) rune {
	switch {
	case strings.Contains(line, ";"):
		return ';'
	case strings.Contains(line, "\t"):
		return '\t'
	default:
		return ','
	}
}

func splitHeader(line string, delim rune) []string {
	parts := strings.Split(line, string(delim))
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(strings.ReplaceAll(p, `"`, ""))
	}
	return out
}

// columnIndex maps lower-cased column names to their first position.
func columnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(h)
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}
	return index
}

func missingColumns(header []string) []string {
	index := columnIndex(header)
	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func isKnownColumn(name string) bool {
	switch strings.ToLower(name) {
	case ColumnDate, ColumnType, ColumnDescription, ColumnAmount, ColumnPaidBy:
		return true
	}
	return false
}

func cell(values []string, i int) string {
	if i < 0 || i >= len(values) {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(values[i], `"`, ""))
}

func looksLikeDate(s string) bool {
	return dayMonthPattern.MatchString(s) || isoDatePrefix.MatchString(s)
}

// isPivotArtifact reports summary rows that spreadsheet pivot tables add.
func isPivotArtifact(row Row) bool {
	for _, v := range []string{row.Date, row.Type} {
		v = strings.ToLower(v)
		switch {
		case v == "total", v == "grand total",
			strings.HasSuffix(v, " total"),
			strings.HasPrefix(v, "sum of"),
			strings.HasPrefix(v, "row labels"),
			strings.HasPrefix(v, "column labels"):
			return true
		}
	}
	return false
}

// Package dataset loads tabular marketing data from files, S3 objects or
// Google Sheets and selects the media, target and extra feature columns a
// model is fitted on.
package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyTable        = errors.New("table has no data rows")
	ErrColumnNotFound    = errors.New("column not found")
	ErrDuplicateColumn   = errors.New("duplicate column name")
	ErrMissingValue      = errors.New("missing value")
	ErrNonNumeric        = errors.New("non-numeric value")
	ErrUnsortedDates     = errors.New("dates are not strictly increasing")
	ErrIrregularPeriods  = errors.New("dates are not evenly spaced")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidSplit      = errors.New("invalid train/test split")
	ErrUnsupportedSource = errors.New("unsupported data source")
)

// DefaultDateLayout is the layout used when none is configured.
const DefaultDateLayout = "2006-01-02"

// LoadOptions controls how raw records become a Table.
type LoadOptions struct {
	// DateColumn names the period column. Optional.
	DateColumn string
	// DateLayout is a Go time layout for DateColumn.
	DateLayout string
	// Sheet selects the worksheet of an xlsx workbook. The first sheet is
	// used when empty.
	Sheet string
}

// Table is a header plus string records. Numeric columns are parsed on
// access so unused text columns never fail a load.
type Table struct {
	header  []string
	index   map[string]int
	records [][]string
	dates   []time.Time
}

// FromRecords builds a table from a header row followed by data rows. Rows
// whose cells are all blank are dropped.
func FromRecords(records [][]string, opts LoadOptions) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}
	t := &Table{index: make(map[string]int)}
	for i, name := range records[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
		}
		t.index[name] = i
		t.header = append(t.header, name)
	}
	for _, row := range records[1:] {
		if blank(row) {
			continue
		}
		t.records = append(t.records, row)
	}
	if len(t.records) == 0 {
		return nil, ErrEmptyTable
	}

	if opts.DateColumn != "" {
		layout := opts.DateLayout
		if layout == "" {
			layout = DefaultDateLayout
		}
		raw, err := t.Strings(opts.DateColumn)
		if err != nil {
			return nil, err
		}
		t.dates = make([]time.Time, len(raw))
		for i, v := range raw {
			d, err := parseDate(v, layout)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i+2, err)
			}
			t.dates[i] = d
		}
	}
	return t, nil
}

// Columns returns the header names.
func (t *Table) Columns() []string { return append([]string(nil), t.header...) }

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.records) }

// Dates returns the parsed date column, or nil without one.
func (t *Table) Dates() []time.Time { return t.dates }

// Strings returns a column as raw trimmed strings.
func (t *Table) Strings(name string) ([]string, error) {
	j, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	out := make([]string, len(t.records))
	for i, row := range t.records {
		if j < len(row) {
			out[i] = strings.TrimSpace(row[j])
		}
	}
	return out, nil
}

// Column parses a numeric column. Thousands separators are accepted.
func (t *Table) Column(name string) ([]float64, error) {
	raw, err := t.Strings(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		if v == "" {
			return nil, fmt.Errorf("%w: column %q row %d", ErrMissingValue, name, i+2)
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q row %d: %q", ErrNonNumeric, name, i+2, v)
		}
		out[i] = f
	}
	return out, nil
}

// Matrix parses several numeric columns into a rows x columns matrix.
func (t *Table) Matrix(names []string) ([][]float64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	cols := make([][]float64, len(names))
	for j, name := range names {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		cols[j] = c
	}
	out := make([][]float64, t.Len())
	for i := range out {
		row := make([]float64, len(names))
		for j := range names {
			row[j] = cols[j][i]
		}
		out[i] = row
	}
	return out, nil
}

// ValidateChronology checks that dates increase strictly at a constant step,
// so no period is missing. Tables without a date column pass.
func (t *Table) ValidateChronology() error {
	var step time.Duration
	for i := 1; i < len(t.dates); i++ {
		if !t.dates[i].After(t.dates[i-1]) {
			return fmt.Errorf("%w: row %d (%s) follows %s", ErrUnsortedDates, i+2,
				t.dates[i].Format(DefaultDateLayout), t.dates[i-1].Format(DefaultDateLayout))
		}
		d := t.dates[i].Sub(t.dates[i-1])
		if i == 1 {
			step = d
			continue
		}
		if d != step {
			return fmt.Errorf("%w: row %d is %s after the previous row, expected %s",
				ErrIrregularPeriods, i+2, d, step)
		}
	}
	return nil
}

func parseDate(v, layout string) (time.Time, error) {
	for _, l := range []string{layout, time.RFC3339, "2006-01-02 15:04:05"} {
		if d, err := time.Parse(l, v); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q does not match %q", ErrInvalidDate, v, layout)
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

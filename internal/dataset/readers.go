package dataset

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ReadCSV parses comma separated data with a header row.
func ReadCSV(r io.Reader, opts LoadOptions) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return FromRecords(records, opts)
}

// ReadXLSX parses one worksheet of an Excel workbook. The first row is the
// header.
func ReadXLSX(r io.Reader, opts LoadOptions) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: workbook has no sheets", ErrEmptyTable)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return FromRecords(rows, opts)
}

// readByExtension picks the parser from a file name or object key.
func readByExtension(name string, r io.Reader, opts LoadOptions) (*Table, error) {
	switch extension(name) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, opts)
	case ".csv", ".txt", "":
		return ReadCSV(r, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, name)
	}
}

package exporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format is an output format of a report.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned for formats other than csv, xlsx and json.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormats parses format names such as "csv,json".
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		switch f {
		case FormatCSV, FormatXLSX, FormatJSON:
			out = append(out, f)
		case "":
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, n)
		}
	}
	return out, nil
}

// runIndexHeaders are the columns of the runs.csv index.
var runIndexHeaders = []string{"run_id", "model", "created_at", "divergences", "mape", "r_square", "kpi_with_optim"}

// ReportExporter writes reports into a directory, one sub directory per run.
type ReportExporter struct {
	dir    string
	csv    *CSVWriter
	logger *slog.Logger
}

// NewReportExporter creates an exporter rooted at dir.
func NewReportExporter(dir string, logger *slog.Logger) *ReportExporter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "exporter"))
	return &ReportExporter{
		dir:    dir,
		csv:    NewCSVWriter(dir, logger),
		logger: logger,
	}
}

// Export writes the report in every requested format and returns the paths
// written. Each run is also appended to runs.csv in the base directory.
func (e *ReportExporter) Export(report *Report, formats ...Format) ([]string, error) {
	if report.RunID == "" {
		return nil, fmt.Errorf("report has no run id")
	}
	var files []string
	for _, f := range formats {
		var (
			written []string
			err     error
		)
		switch f {
		case FormatCSV:
			written, err = e.writeCSV(report)
		case FormatXLSX:
			var path string
			path, err = e.writeXLSX(report)
			written = []string{path}
		case FormatJSON:
			var path string
			path, err = e.writeJSON(report)
			written = []string{path}
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownFormat, f)
		}
		if err != nil {
			return files, fmt.Errorf("failed to export %s report: %w", f, err)
		}
		files = append(files, written...)
	}
	if err := e.appendIndex(report); err != nil {
		return files, err
	}

	e.logger.Info("Report exported",
		slog.String("run_id", report.RunID),
		slog.Int("file_count", len(files)))
	return files, nil
}

func (e *ReportExporter) writeCSV(report *Report) ([]string, error) {
	var files []string
	for _, t := range report.Tables() {
		name := filepath.Join(report.RunID, t.Name+".csv")
		if err := e.csv.WriteSimpleCSV(name, t.Headers, t.Rows); err != nil {
			return files, err
		}
		files = append(files, e.csv.resolvePath(name))
	}
	return files, nil
}

func (e *ReportExporter) writeXLSX(report *Report) (string, error) {
	path := e.csv.resolvePath(filepath.Join(report.RunID, "report.xlsx"))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := WriteWorkbook(path, report.Tables()); err != nil {
		return "", err
	}
	return path, nil
}

func (e *ReportExporter) writeJSON(report *Report) (string, error) {
	path := e.csv.resolvePath(filepath.Join(report.RunID, "report.json"))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func (e *ReportExporter) appendIndex(report *Report) error {
	row := []string{report.RunID, report.Model, report.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")}
	if report.Diagnostics != nil {
		row = append(row, formatInt(report.Diagnostics.Divergences))
	} else {
		row = append(row, "")
	}
	if report.Evaluation != nil {
		row = append(row, formatFloat(report.Evaluation.MAPE), formatFloat(report.Evaluation.RSquare))
	} else {
		row = append(row, "", "")
	}
	if report.Optimization != nil {
		row = append(row, formatFloat(report.Optimization.KPIWithOptim))
	} else {
		row = append(row, "")
	}

	const index = "runs.csv"
	if _, err := os.Stat(e.csv.resolvePath(index)); errors.Is(err, os.ErrNotExist) {
		return e.csv.WriteSimpleCSV(index, runIndexHeaders, [][]string{row})
	}
	return e.csv.AppendToCSV(index, [][]string{row})
}

// WriteWorkbook saves tables as sheets of one xlsx workbook.
func WriteWorkbook(path string, tables []Table) error {
	f := excelize.NewFile()
	defer f.Close()

	const defaultSheet = "Sheet1"
	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, t.Name); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", t.Name, err)
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", t.Name, err)
		}
		if err := writeSheet(f, t); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, t Table) error {
	header := make([]interface{}, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(t.Name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", t.Name, err)
	}
	for r, rec := range t.Rows {
		cells := make([]interface{}, len(rec))
		for i, v := range rec {
			cells[i] = cellValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.Name, cell, &cells); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", t.Name, r, err)
		}
	}
	return nil
}

// cellValue stores numeric text as a number so spreadsheets can sum it.
func cellValue(v string) interface{} {
	if f, err := parseNumber(v); err == nil {
		return f
	}
	return v
}

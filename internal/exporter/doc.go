// Package exporter writes analysis reports.
//
// A Report is rendered as a set of tables (posterior summary, channel
// metrics, contribution frame, evaluation and optimized allocation) and
// written in one or more formats:
//
//	CSV:  one file per table, UTF-8 BOM prefixed for Excel
//	XLSX: one workbook with a sheet per table
//	JSON: the whole report as one document
//
// Example usage:
//
//	exp := exporter.NewReportExporter("reports", logger)
//	files, err := exp.Export(report, exporter.FormatCSV, exporter.FormatJSON)
package exporter

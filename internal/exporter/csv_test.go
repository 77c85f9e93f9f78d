package exporter

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVWriter_WriteCSV(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir, nil)

	tests := []struct {
		name     string
		path     string
		options  WriteOptions
		expected [][]string
		bom      bool
	}{
		{
			name: "headers and records",
			path: "basic.csv",
			options: WriteOptions{
				Headers: []string{"channel", "roi"},
				Records: [][]string{{"tv", "1.5"}, {"radio", "0.7"}},
			},
			expected: [][]string{{"channel", "roi"}, {"tv", "1.5"}, {"radio", "0.7"}},
		},
		{
			name: "with BOM in nested directory",
			path: filepath.Join("run-1", "bom.csv"),
			options: WriteOptions{
				Headers:   []string{"a"},
				Records:   [][]string{{"1"}},
				BOMPrefix: true,
			},
			expected: [][]string{{"a"}, {"1"}},
			bom:      true,
		},
		{
			name: "quoted values",
			path: "quoted.csv",
			options: WriteOptions{
				Headers: []string{"name"},
				Records: [][]string{{"tv, national"}},
			},
			expected: [][]string{{"name"}, {"tv, national"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, writer.WriteCSV(tt.path, tt.options))
			full := filepath.Join(dir, tt.path)

			raw, err := os.ReadFile(full)
			require.NoError(t, err)
			assert.Equal(t, tt.bom, bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}))
			assert.Equal(t, tt.expected, readCSV(t, full))
		})
	}
}

func TestCSVWriter_AppendToCSV(t *testing.T) {
	dir := t.TempDir()
	writer := NewCSVWriter(dir, nil)

	require.NoError(t, writer.WriteSimpleCSV("log.csv", []string{"id"}, [][]string{{"1"}}))
	require.NoError(t, writer.AppendToCSV("log.csv", [][]string{{"2"}, {"3"}}))

	assert.Equal(t, [][]string{{"id"}, {"1"}, {"2"}, {"3"}}, readCSV(t, filepath.Join(dir, "log.csv")))
}

func TestCSVWriter_ResolvePath(t *testing.T) {
	writer := NewCSVWriter("/data/reports", nil)
	assert.Equal(t, filepath.Join("/data/reports", "x.csv"), writer.resolvePath("x.csv"))
	assert.Equal(t, "/tmp/abs.csv", writer.resolvePath("/tmp/abs.csv"))

	bare := NewCSVWriter("", nil)
	assert.Equal(t, "x.csv", bare.resolvePath("x.csv"))
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1"},
		{0.5, "0.5"},
		{1234567, "1.23457e+06"},
		{-0.125, "-0.125"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatFloat(tt.in))
	}
}

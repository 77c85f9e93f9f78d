package dataset

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ValuesFetcher returns the cell values of a range.
type ValuesFetcher func(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error)

// SheetsSource reads a range of a Google spreadsheet addressed as
// <spreadsheet id>/<range>. The range defaults to the first sheet.
type SheetsSource struct {
	fetch ValuesFetcher
}

// NewSheetsSource creates a source backed by the Sheets API. With an empty
// credentials file the application default credentials are used.
func NewSheetsSource(ctx context.Context, credentialsFile string) (*SheetsSource, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsReadonlyScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewSheetsSourceWithFetcher(func(ctx context.Context, id, readRange string) ([][]interface{}, error) {
		if readRange == "" {
			meta, err := srv.Spreadsheets.Get(id).Context(ctx).Do()
			if err != nil {
				return nil, err
			}
			if len(meta.Sheets) == 0 || meta.Sheets[0].Properties == nil {
				return nil, fmt.Errorf("%w: spreadsheet has no sheets", ErrEmptyTable)
			}
			readRange = meta.Sheets[0].Properties.Title
		}
		resp, err := srv.Spreadsheets.Values.Get(id, readRange).Context(ctx).Do()
		if err != nil {
			return nil, err
		}
		return resp.Values, nil
	}), nil
}

// NewSheetsSourceWithFetcher wraps a custom fetcher.
func NewSheetsSourceWithFetcher(fetch ValuesFetcher) *SheetsSource {
	return &SheetsSource{fetch: fetch}
}

// Load fetches the range and converts every cell to text.
func (s *SheetsSource) Load(ctx context.Context, location string, opts LoadOptions) (*Table, error) {
	id, readRange, _ := strings.Cut(location, "/")
	if id == "" {
		return nil, fmt.Errorf("%w: sheets location %q has no spreadsheet id", ErrUnsupportedSource, location)
	}
	values, err := s.fetch(ctx, id, readRange)
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet %s: %w", id, err)
	}
	records := make([][]string, len(values))
	for i, row := range values {
		rec := make([]string, len(row))
		for j, cell := range row {
			rec[j] = fmt.Sprint(cell)
		}
		records[i] = rec
	}
	return FromRecords(records, opts)
}

package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Source fetches a table from a location of one scheme.
type Source interface {
	Load(ctx context.Context, location string, opts LoadOptions) (*Table, error)
}

// Loader dispatches a URI to the source registered for its scheme. Plain
// paths are read from the local file system.
//
// Supported forms:
//
//	data/weekly.csv
//	data/weekly.xlsx
//	s3://bucket/path/weekly.csv
//	sheets://<spreadsheet id>/<range>
type Loader struct {
	sources map[string]Source
	logger  *slog.Logger
}

// NewLoader creates a loader with the local file source registered.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		sources: map[string]Source{"file": fileSource{}},
		logger:  logger,
	}
}

// Register adds a source for a scheme such as "s3" or "sheets".
func (l *Loader) Register(scheme string, src Source) {
	l.sources[scheme] = src
}

// Load reads the table at uri and checks its chronology.
func (l *Loader) Load(ctx context.Context, uri string, opts LoadOptions) (*Table, error) {
	scheme, location := splitURI(uri)
	src, ok := l.sources[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedSource, scheme)
	}

	table, err := src.Load(ctx, location, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", uri, err)
	}
	if err := table.ValidateChronology(); err != nil {
		return nil, err
	}
	l.logger.InfoContext(ctx, "dataset loaded",
		"source", uri,
		"scheme", scheme,
		"rows", table.Len(),
		"columns", len(table.Columns()))
	return table, nil
}

func splitURI(uri string) (scheme, location string) {
	if i := strings.Index(uri, "://"); i > 0 {
		return strings.ToLower(uri[:i]), uri[i+3:]
	}
	return "file", uri
}

type fileSource struct{}

func (fileSource) Load(_ context.Context, path string, opts LoadOptions) (*Table, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readByExtension(path, f, opts)
}

func extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

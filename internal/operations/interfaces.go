package operations

import "context"

// ProgressReporter receives progress updates of running operations
type ProgressReporter interface {
	ReportProgress(ctx context.Context, update ProgressUpdate)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(ctx context.Context, update ProgressUpdate)

// ReportProgress calls f.
func (f ProgressFunc) ReportProgress(ctx context.Context, update ProgressUpdate) {
	f(ctx, update)
}

type nopReporter struct{}

func (nopReporter) ReportProgress(context.Context, ProgressUpdate) {}

// MultiReporter fans updates out to several reporters. Nil entries are
// ignored.
func MultiReporter(reporters ...ProgressReporter) ProgressReporter {
	var live []ProgressReporter
	for _, r := range reporters {
		if r != nil {
			live = append(live, r)
		}
	}
	return ProgressFunc(func(ctx context.Context, update ProgressUpdate) {
		for _, r := range live {
			r.ReportProgress(ctx, update)
		}
	})
}

// Package operations runs the media mix analysis as a pipeline of steps.
//
// A Registry holds the steps and orders them by their dependencies. The
// Manager executes one OperationRequest at a time through that order,
// passing results between steps in the Artifacts of an OperationState:
//
//	prepare   load the table, hold out the test window, fit the scalers
//	fit       sample the posterior of the configured model
//	evaluate  score the hold-out window (skipped without test periods)
//	metrics   posterior summary, channel ROI and contribution
//	optimize  allocate the budget (skipped unless enabled)
//	export    write report files (skipped without an output directory)
//
// A step that fails stops the run and the remaining steps are skipped.
// Validate may return ErrSkipStep to mark a step skipped without failing
// the run. Every step gets its own timeout and trace span.
//
// JobQueue wraps the Manager with a bounded queue and a worker pool for the
// HTTP service. Job progress is mirrored into a JobStore and forwarded to a
// ProgressReporter such as the WebSocket hub.
//
// Example usage:
//
//	registry, err := operations.NewPipeline(operations.PipelineDeps{Logger: logger})
//	if err != nil {
//		return err
//	}
//	manager := operations.NewManager(registry, operations.NewConfig())
//	state, err := manager.Execute(ctx, operations.OperationRequest{ID: "run-1", Config: cfg}, nil)
//	report := operations.BuildReport(state)
package operations

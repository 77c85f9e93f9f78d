// Package shared holds helpers used by more than one internal package.
//
// The testutil subpackage captures slog output in tests:
//
//	logger, logs := testutil.NewTestLogger(t)
//	svc := services.NewRunService(store, manager, services.RunServiceOptions{Logger: logger})
//	...
//	testutil.AssertLogContains(t, logs, slog.LevelInfo, "run queued")
//
// It also builds the weekly spend fixture and a fast run configuration
// shared by the operations, app and cmd tests.
package shared

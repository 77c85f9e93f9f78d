// Package app wires the mmm HTTP service together: configuration,
// telemetry, the run store, the analysis pipeline and its job queue, the
// WebSocket hub and the chi router.
//
// Startup order:
//
//	1. Validate configuration
//	2. Initialize OpenTelemetry and business metrics
//	3. Open the run store (memory or Redis)
//	4. Build the pipeline, manager and run service
//	5. Mount handlers and middleware
//
// Start binds the listener and launches the hub and workers. Stop shuts
// them down in reverse order.
package app

// Package http implements the HTTP handlers of the mmm server. Handlers stay
// thin: they decode and validate requests, call the run and health services
// and render JSON or RFC 7807 problem responses.
//
// # Endpoints
//
//	POST   /api/v1/runs                 submit a run, 202 + Location
//	GET    /api/v1/runs                 list runs (?status=&limit=)
//	GET    /api/v1/runs/{id}            run status and report
//	DELETE /api/v1/runs/{id}            cancel a pending or running run
//	GET    /api/v1/runs/{id}/summary    posterior summary
//	GET    /api/v1/runs/{id}/metrics    channel metrics and contributions
//	POST   /api/v1/runs/{id}/optimize   re-run the budget optimizer
//	GET    /api/v1/health[/ready|/live] checks
//	GET    /api/v1/version              build information
//	GET    /ws                          run progress stream
//
// A run request carries only what differs from the server configuration;
// BuildRunConfig layers it over a copy of the defaults.
package http

// Package services implements the business logic behind the HTTP handlers.
//
// RunService accepts analysis runs, queues them on the operations job
// queue and serves their results from a RunStore. Completed runs keep their
// fitted model in a bounded in-process cache so the budget optimizer can be
// re-run with different settings; after a restart those runs answer with a
// conflict until they are submitted again.
//
// RunStore has an in-memory implementation and a Redis implementation
// that stores each run as a JSON document with a TTL. Posterior draws are
// never stored, only the report of a run.
//
// HealthService reports on the store and the queue.
package services

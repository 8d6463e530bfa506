// Package tasks runs account mutations in bulk with real-time progress reporting.
//
// # Bulk Revocation
//
// [BulkRevoker.Revoke] signs out many account sessions at once:
//
//   - Session ids are de-duplicated and dispatched to a bounded worker pool (1 to 10 workers)
//   - Dispatch is paced by a [rate.Limiter] shared by all workers
//   - Each revocation is its own logical mutation and carries its own idempotency key
//   - Failures are recorded per session with their [mutation.Kind] and never abort the batch
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks

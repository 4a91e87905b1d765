// Package store persists replay outcomes in SQLite.
//
// The log has three tables:
//   - runs: one row per replay with its status and first error
//   - steps: the replay record, one row per dispatched step
//   - bindings: the final identifier/handle snapshot
//
// Operations and identifiers are stored as canonical JSON (RFC 8785) next to
// their domain-separated hashes, so two runs can be compared by hash alone.
//
// # Ordering
//
// Every query orders by seq. Wall-clock columns are informational only.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

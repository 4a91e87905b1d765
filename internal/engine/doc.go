// Package engine replays abstract traces against a concrete target.
//
// A replay walks the trace one step at a time:
//
//  1. The step differ attributes the transition into state i to an action.
//  2. The reactor dispatcher resolves identifier parameters through the
//     binding resolver and asks the registered handler for an operation.
//  3. The executor submits the operation and waits for confirmation with a
//     bounded timeout and retry count, then queries the observed state.
//  4. The validator projects handles back to identifiers and compares the
//     observed state with state i.
//
// Step i+1 is never dispatched before step i is validated, because later
// parameters may reference bindings created at step i. Every step is
// appended to the replay Record, including the failing one.
//
// ERRORS:
//
// Every failure is a *ReplayError with a Kind. Trace format problems are
// found before the first step and never touch the target. Runtime failures
// stop the current replay only; other replays in a Batch keep running.
// The only retried condition is a confirmation timeout.
//
// CONCURRENCY:
//
// A Replayer runs one trace. Batch runs many traces on a bounded worker
// pool; each worker acquires its own target client and owns its own
// resolver and record. Nothing mutable is shared between workers.
//
// Committed operations are never rolled back. A failed or cancelled replay
// leaves the effects of its earlier steps on the target.
package engine

// Package ir provides the value model shared by every kraft package.
//
// Trace states, action parameters, operation descriptors and observed target
// state are all expressed as ir.Value trees. This package imports nothing
// internal; every other internal package may import ir.
//
// Key design constraints:
//   - Values are immutable once constructed. Constructors copy their inputs.
//   - Integers are arbitrary precision (math/big). There are no floats.
//   - Sets and maps are canonicalized at construction (sorted by Compare,
//     duplicates folded), so two content-equal containers have identical
//     layouts and identical canonical encodings.
//   - Handle is the only concrete-domain kind. It never appears in a trace,
//     only in operation descriptors and observed target state.
//   - Equal, Compare and Key agree: Equal(a, b) iff Compare(a, b) == 0 iff
//     Key(a) == Key(b).
package ir

package testutil

// FixedRunIDs names every run with the same id.
//
// Unlike engine.FixedGenerator which returns ids in sequence, this
// generator always returns the same id. Two replays of one trace then
// produce records that are equal field by field.
//
// Thread-safety: FixedRunIDs is stateless and safe for concurrent use.
type FixedRunIDs string

// DefaultRunID is used when the id is empty.
const DefaultRunID = "test-run-default"

// Generate returns the fixed id.
//
// Implements engine.RunIDGenerator interface.
func (f FixedRunIDs) Generate() string {
	if f == "" {
		return DefaultRunID
	}
	return string(f)
}

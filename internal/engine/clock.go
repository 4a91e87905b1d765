package engine

import "sync/atomic"

// Clock is a monotonic logical clock that stamps replay records.
//
// Record entries are ordered by seq, never by wall-clock time, so two
// replays of the same trace produce identically ordered records.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

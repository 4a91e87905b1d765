package engine

import (
	"time"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/reactor"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepOK     StepStatus = "ok"
	StepFailed StepStatus = "failed"
)

// StepRecord is one entry of a replay record.
type StepRecord struct {
	// Seq orders entries within the record, starting at 1.
	Seq int64

	// Step is the trace state index.
	Step   int
	Action string

	Invocation reactor.Invocation
	Operation  reactor.Operation
	Result     Result

	// Expected holds the validated variables of the trace state.
	Expected map[string]ir.Value

	Status StepStatus
	Err    *ReplayError
}

// Status is the outcome of a replay.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Record is the append-only log of one replay.
//
// A record is owned by the goroutine running its replay and must not be
// read until the replay returns.
type Record struct {
	Trace       string
	TraceDigest string
	RunID       string
	Mode        string

	// Validated are the variables checked after each step.
	Validated []string

	Steps []StepRecord

	// Bindings is the resolver snapshot taken when the replay ended.
	Bindings []binding.Binding

	Status Status
}

func (r *Record) append(s StepRecord) {
	r.Steps = append(r.Steps, s)
}

// Succeeded reports whether the replay completed with every step validated.
func (r *Record) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Outcome summarizes one replay.
type Outcome struct {
	Trace    string
	RunID    string
	Status   Status
	Err      *ReplayError
	Record   *Record
	Started  time.Time
	Duration time.Duration
}

// Error returns the replay error, or nil on success.
func (o Outcome) Error() error {
	if o.Err == nil {
		return nil
	}
	return o.Err
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/differ"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/target"
	"github.com/roach88/kraft/internal/trace"
)

// Kind categorizes replay failures.
type Kind string

const (
	// KindTraceFormat: the trace is malformed or a transition cannot be
	// attributed to any declared action.
	KindTraceFormat Kind = "TraceFormatError"

	// KindAmbiguousAction: an inferred transition matches several actions.
	KindAmbiguousAction Kind = "AmbiguousActionError"

	// KindUnknownAction: no handler is registered for the fired action.
	KindUnknownAction Kind = "UnknownActionError"

	// KindBindingConflict: a binding would break injectivity.
	KindBindingConflict Kind = "BindingConflictError"

	// KindSubmission: the target rejected or failed to accept an operation.
	KindSubmission Kind = "SubmissionError"

	// KindSubmissionTimeout: confirmation never arrived within the retries.
	KindSubmissionTimeout Kind = "SubmissionTimeoutError"

	// KindValidation: the observed state differs from the expected state.
	KindValidation Kind = "ValidationError"

	// KindCancelled: the replay was cancelled while a step was in flight.
	KindCancelled Kind = "CancelledError"

	// KindHandler: a reactor handler failed.
	KindHandler Kind = "HandlerError"

	// KindTarget: the target failed outside of submission, for example while
	// allocating a resource or answering a query.
	KindTarget Kind = "TargetError"
)

// NoStep marks errors raised before the first step.
const NoStep = -1

// ReplayError is the single error type surfaced by a replay.
type ReplayError struct {
	Kind Kind

	// Step is the trace state index the error belongs to, or NoStep.
	Step int

	// Action is the fired action, when known.
	Action string

	// Message is a human-readable description. For submission errors it is
	// the target's rejection reason, verbatim.
	Message string

	// Attempts is the number of confirmation waits, for timeout errors.
	Attempts int

	Err error
}

func (e *ReplayError) Error() string {
	where := ""
	switch {
	case e.Step >= 0 && e.Action != "":
		where = fmt.Sprintf(" at step %d (%s)", e.Step, e.Action)
	case e.Step >= 0:
		where = fmt.Sprintf(" at step %d", e.Step)
	}
	return fmt.Sprintf("%s%s: %s", e.Kind, where, e.Message)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// KindOf returns the kind of a *ReplayError in err's chain, or "".
func KindOf(err error) Kind {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// IsCancelled reports whether err is a cancelled replay.
func IsCancelled(err error) bool {
	return IsKind(err, KindCancelled)
}

// classify wraps err in a *ReplayError. Known error types decide the kind;
// anything else gets fallback.
func classify(step int, action string, fallback Kind, err error) *ReplayError {
	var re *ReplayError
	if errors.As(err, &re) {
		return re
	}

	kind := fallback
	var (
		fe *trace.FormatError
		ae *differ.AmbiguousActionError
		ue *reactor.UnknownActionError
		ce *binding.ConflictError
		al *binding.AllocationError
		rj *target.RejectedError
		ve *ValidationError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindCancelled
	case errors.As(err, &fe):
		kind = KindTraceFormat
	case errors.As(err, &ae):
		kind = KindAmbiguousAction
	case errors.As(err, &ue):
		kind = KindUnknownAction
	case errors.As(err, &ce):
		kind = KindBindingConflict
	case errors.As(err, &al):
		kind = KindTarget
	case errors.As(err, &rj):
		return &ReplayError{Kind: KindSubmission, Step: step, Action: action, Message: rj.Reason, Err: err}
	case errors.As(err, &ve):
		kind = KindValidation
	}
	return &ReplayError{Kind: kind, Step: step, Action: action, Message: err.Error(), Err: err}
}

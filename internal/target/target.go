// Package target defines the contract between the replay engine and the
// system under test.
package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/reactor"
)

// ErrTimeout is returned by Await when confirmation did not arrive within
// the timeout. It is the only retryable target error.
var ErrTimeout = errors.New("target: confirmation timed out")

// Observed is a concrete state snapshot keyed by trace variable name.
type Observed map[string]ir.Value

// Clone returns a shallow copy. Values are immutable.
func (o Observed) Clone() Observed {
	if o == nil {
		return nil
	}
	out := make(Observed, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Pending identifies a submitted operation awaiting confirmation.
type Pending struct {
	ID        string
	Operation reactor.Operation
}

// QueryRequest selects the state to observe.
type QueryRequest struct {
	// Variables are the trace variables to report.
	Variables []string

	// Handles are every handle bound so far in the replay.
	Handles []ir.Handle
}

// RejectedError is an explicit rejection by the target system.
// Reason is reported verbatim.
type RejectedError struct {
	Code   uint32
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (code %d): %s", e.Code, e.Reason)
}

// IsRejected reports whether err is or wraps a *RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Client talks to one isolated target instance.
type Client interface {
	// Allocate creates a resource for an abstract identifier.
	Allocate(ctx context.Context, hint ir.Value) (ir.Handle, error)

	// Submit sends an operation without waiting for confirmation.
	Submit(ctx context.Context, op reactor.Operation) (Pending, error)

	// Await waits up to timeout for p to be confirmed. It returns ErrTimeout
	// when the wait expires and a *RejectedError when the system refuses the
	// operation after accepting the submission.
	Await(ctx context.Context, p Pending, timeout time.Duration) error

	// Query observes the current state.
	Query(ctx context.Context, req QueryRequest) (Observed, error)
}

// Provider hands out isolated target instances, one per replay.
type Provider interface {
	Acquire(ctx context.Context, name string) (Client, func(), error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, name string) (Client, func(), error)

func (f ProviderFunc) Acquire(ctx context.Context, name string) (Client, func(), error) {
	return f(ctx, name)
}

// Shared returns a provider that hands the same client to every replay.
// Concurrent replays then rely on the client to serialize submissions.
func Shared(c Client) Provider {
	return ProviderFunc(func(context.Context, string) (Client, func(), error) {
		return c, func() {}, nil
	})
}

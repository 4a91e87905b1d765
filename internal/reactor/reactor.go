// Package reactor turns abstract actions into concrete operations.
//
// Handlers are supplied by the caller and registered by action name. The
// dispatcher resolves identifier parameters into handles before a handler
// sees them, so handlers work purely in the concrete domain.
package reactor

import (
	"context"
	"fmt"

	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/trace"
)

// Operation describes one concrete submission to the target system.
// The zero Operation is NoOp.
type Operation struct {
	Kind   string
	Params ir.Record
}

// NoOp is returned by handlers whose action has no concrete effect.
var NoOp = Operation{}

// IsNoOp reports whether the operation is NoOp.
func (o Operation) IsNoOp() bool { return o.Kind == "" }

// Value returns the operation as a record {kind, params}, the form that is
// hashed and persisted.
func (o Operation) Value() ir.Record {
	return ir.RecordOf(ir.F("kind", ir.String(o.Kind)), ir.F("params", o.Params))
}

func (o Operation) String() string {
	if o.IsNoOp() {
		return "no-op"
	}
	return o.Kind + ir.Format(o.Params)
}

// Binder lets handlers request bindings for identifiers that do not appear
// in declared parameters.
type Binder interface {
	Resolve(ctx context.Context, id ir.Value) (ir.Handle, error)
}

// ReplayContext is read-only information about the replay in progress.
type ReplayContext struct {
	TraceName string
	RunID     string
	Previous  trace.State
	Current   trace.State
}

// Call is the input to a handler.
type Call struct {
	Step   int
	Action string

	// Params are the action parameters with identifiers resolved.
	Params ir.Record

	// Abstract are the parameters exactly as they appear in the trace.
	Abstract ir.Record

	Bind   Binder
	Replay ReplayContext
}

// Param returns the resolved parameter name.
func (c Call) Param(name string) (ir.Value, error) {
	v, ok := c.Params.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: missing parameter %q", c.Action, name)
	}
	return v, nil
}

// Handler maps one action to a concrete operation.
type Handler interface {
	Handle(ctx context.Context, call Call) (Operation, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call Call) (Operation, error)

func (f HandlerFunc) Handle(ctx context.Context, call Call) (Operation, error) {
	return f(ctx, call)
}

// Invocation is the dispatched form of one step.
type Invocation struct {
	Step     int
	Action   string
	Abstract ir.Record
	Resolved ir.Record
}

// UnknownActionError reports an action without a registered handler.
type UnknownActionError struct {
	Step   int
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("step %d: no handler registered for action %q", e.Step, e.Action)
}

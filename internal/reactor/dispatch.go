package reactor

import (
	"context"
	"fmt"

	"github.com/roach88/kraft/internal/differ"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/trace"
)

// Dispatcher routes attributed actions to their handlers.
type Dispatcher struct {
	registry *Registry
	meta     trace.Metadata
}

// NewDispatcher creates a dispatcher for traces described by meta.
func NewDispatcher(registry *Registry, meta trace.Metadata) *Dispatcher {
	return &Dispatcher{registry: registry, meta: meta}
}

// Dispatch resolves the parameters of act and invokes its handler.
//
// Unknown actions fail before any identifier is resolved. Parameters
// declared with kind "id" have every Int and String leaf replaced by its
// handle; all other parameters pass through unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, act differ.Action, bind Binder, rc ReplayContext) (Invocation, Operation, error) {
	inv := Invocation{Step: act.Step, Action: act.Name, Abstract: act.Params}

	h, ok := d.registry.Lookup(act.Name)
	if !ok {
		return inv, NoOp, &UnknownActionError{Step: act.Step, Action: act.Name}
	}

	resolved, err := d.resolve(ctx, act, bind)
	if err != nil {
		return inv, NoOp, err
	}
	inv.Resolved = resolved

	op, err := h.Handle(ctx, Call{
		Step:     act.Step,
		Action:   act.Name,
		Params:   resolved,
		Abstract: act.Params,
		Bind:     bind,
		Replay:   rc,
	})
	if err != nil {
		return inv, NoOp, fmt.Errorf("handler %s: %w", act.Name, err)
	}
	return inv, op, nil
}

func (d *Dispatcher) resolve(ctx context.Context, act differ.Action, bind Binder) (ir.Record, error) {
	sig, _ := d.meta.Action(act.Name)
	fields := act.Params.Fields()
	for _, name := range act.Params.Names() {
		p, declared := sig.Param(name)
		if !declared || p.Kind != trace.ParamID {
			continue
		}
		v, err := ResolveIdentifiers(ctx, fields[name], bind)
		if err != nil {
			return ir.Record{}, fmt.Errorf("parameter %s: %w", name, err)
		}
		fields[name] = v
	}
	return ir.NewRecord(fields), nil
}

// ResolveIdentifiers replaces every Int and String leaf of v with its
// handle. Handles already present are kept; Bool leaves pass through.
func ResolveIdentifiers(ctx context.Context, v ir.Value, bind Binder) (ir.Value, error) {
	return ir.TransformLeaves(v, func(leaf ir.Value) (ir.Value, error) {
		switch leaf.(type) {
		case ir.Int, ir.String:
			h, err := bind.Resolve(ctx, leaf)
			if err != nil {
				return nil, err
			}
			return h, nil
		default:
			return leaf, nil
		}
	})
}

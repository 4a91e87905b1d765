package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/config"
	"github.com/roach88/kraft/internal/engine"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/target"
	"github.com/roach88/kraft/internal/trace"
)

// Result summarizes an artifact replay.
type Result struct {
	Steps int

	// Bindings maps the artifact's identifiers to the handles of the new
	// target, in recorded order.
	Bindings []binding.Binding
}

type options struct {
	cfg    config.Engine
	logger *slog.Logger
}

// Option configures Replay.
type Option func(*options)

// WithConfig sets the timeout and retry settings.
func WithConfig(cfg config.Engine) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Replay runs a against client, which should be a fresh target.
//
// Seeded bindings are reused as recorded; every other identifier gets a
// new resource, allocated in recorded order before the first step. Handles
// in operation params are rewritten to the new resources. Failures are
// returned as *engine.ReplayError.
func Replay(ctx context.Context, a *Artifact, client target.Client, opts ...Option) (*Result, error) {
	o := options{cfg: config.Defaults(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger.With("artifact", a.Name)

	resolver, remap, err := rebind(ctx, a, client)
	if err != nil {
		return nil, err
	}

	exec := engine.NewExecutor(client, engine.WithExecutorConfig(o.cfg), engine.WithExecutorLogger(log))
	validator := engine.NewValidator(a.Validate, resolver)
	handles := make([]ir.Handle, 0, len(remap))
	for _, b := range resolver.Snapshot() {
		handles = append(handles, b.Handle)
	}

	for _, s := range a.Steps {
		op, err := operation(s, remap)
		if err != nil {
			return nil, stepError(s, engine.KindTraceFormat, err)
		}
		expected, err := expectedState(s)
		if err != nil {
			return nil, stepError(s, engine.KindTraceFormat, err)
		}

		res, err := exec.Execute(ctx, s.Index, op, target.QueryRequest{Variables: a.Validate, Handles: handles})
		if err != nil {
			return nil, withAction(err, s.Action)
		}
		if err := validator.Validate(s.Index, expected, res.Observed); err != nil {
			return nil, stepError(s, engine.KindValidation, err)
		}
		log.Debug("artifact step validated", "step", s.Index, "action", s.Action)
	}

	log.Info("artifact replay succeeded", "steps", len(a.Steps))
	return &Result{Steps: len(a.Steps), Bindings: resolver.Snapshot()}, nil
}

func rebind(ctx context.Context, a *Artifact, client target.Client) (*binding.Resolver, map[ir.Handle]ir.Handle, error) {
	resolver := binding.New(nil)
	remap := make(map[ir.Handle]ir.Handle, len(a.Bindings))

	for i, b := range a.Bindings {
		id, err := ir.FromTree(b.ID)
		if err != nil {
			return nil, nil, bindingError(fmt.Errorf("binding %d: %w", i, err))
		}
		recorded := ir.Handle(b.Handle)

		h := recorded
		if !b.Seeded {
			h, err = client.Allocate(ctx, id)
			if err != nil {
				return nil, nil, &engine.ReplayError{
					Kind:    engine.KindTarget,
					Step:    engine.NoStep,
					Message: fmt.Sprintf("allocate %s: %v", ir.Format(id), err),
					Err:     err,
				}
			}
		}
		if err := resolver.Seed(id, h); err != nil {
			return nil, nil, &engine.ReplayError{Kind: engine.KindBindingConflict, Step: engine.NoStep, Message: err.Error(), Err: err}
		}
		remap[recorded] = h
	}
	resolver.Seal()
	return resolver, remap, nil
}

func operation(s Step, remap map[ir.Handle]ir.Handle) (reactor.Operation, error) {
	if s.NoOp() {
		return reactor.NoOp, nil
	}
	tree, err := ir.FromTree(s.Operation.Params)
	if err != nil {
		return reactor.NoOp, fmt.Errorf("operation params: %w", err)
	}
	v, err := ir.TransformLeaves(tree, func(leaf ir.Value) (ir.Value, error) {
		h, ok := leaf.(ir.Handle)
		if !ok {
			return leaf, nil
		}
		if nh, ok := remap[h]; ok {
			return nh, nil
		}
		return nil, fmt.Errorf("handle @%s has no recorded binding", h)
	})
	if err != nil {
		return reactor.NoOp, fmt.Errorf("operation params: %w", err)
	}
	params, ok := v.(ir.Record)
	if !ok {
		return reactor.NoOp, fmt.Errorf("operation params must be a record, got %s", v.Kind())
	}
	return reactor.Operation{Kind: s.Operation.Kind, Params: params}, nil
}

func expectedState(s Step) (trace.State, error) {
	vars := make(map[string]ir.Value, len(s.Expect))
	for name, tree := range s.Expect {
		v, err := ir.FromTree(tree)
		if err != nil {
			return trace.State{}, fmt.Errorf("expect %s: %w", name, err)
		}
		vars[name] = v
	}
	return trace.State{Index: s.Index, Vars: vars}, nil
}

func stepError(s Step, kind engine.Kind, err error) *engine.ReplayError {
	return &engine.ReplayError{Kind: kind, Step: s.Index, Action: s.Action, Message: err.Error(), Err: err}
}

func bindingError(err error) *engine.ReplayError {
	return &engine.ReplayError{Kind: engine.KindTraceFormat, Step: engine.NoStep, Message: err.Error(), Err: err}
}

func withAction(err error, action string) error {
	var re *engine.ReplayError
	if errors.As(err, &re) && re.Action == "" {
		re.Action = action
	}
	return err
}

package reactor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/differ"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/trace"
)

var meta = trace.Metadata{
	ActionVariable: "action",
	Actions: []trace.ActionSig{
		{Name: "Init"},
		{
			Name: "Transfer",
			Params: []trace.ParamSig{
				{Name: "from", Kind: trace.ParamID},
				{Name: "to", Kind: trace.ParamID},
				{Name: "amount", Kind: trace.ParamValue},
			},
		},
	},
}

func newResolver() *binding.Resolver {
	n := 0
	return binding.New(binding.AllocatorFunc(func(context.Context, ir.Value) (ir.Handle, error) {
		n++
		return ir.Handle(fmt.Sprintf("acct-%d", n)), nil
	}))
}

func transferAction() differ.Action {
	return differ.Action{
		Step: 2,
		Name: "Transfer",
		Params: ir.RecordOf(
			ir.F("from", ir.NewInt(1)),
			ir.F("to", ir.NewInt(2)),
			ir.F("amount", ir.NewInt(30)),
		),
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("Init", func(context.Context, Call) (Operation, error) { return NoOp, nil }))
	require.NoError(t, r.Register("Transfer", HandlerFunc(func(context.Context, Call) (Operation, error) { return NoOp, nil })))

	err := r.RegisterFunc("Init", func(context.Context, Call) (Operation, error) { return NoOp, nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Equal(t, []string{"Init", "Transfer"}, r.Names())
	assert.Equal(t, []string{"Mint"}, r.Missing([]string{"Init", "Mint", "Transfer"}))

	r.Freeze()
	assert.ErrorIs(t, r.Register("Mint", HandlerFunc(nil)), ErrFrozen)
}

func TestRegisterRejectsEmptyInput(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register("", HandlerFunc(func(context.Context, Call) (Operation, error) { return NoOp, nil })))
	require.Error(t, r.Register("Init", nil))
}

func TestDispatchResolvesIdentifierParams(t *testing.T) {
	var got Call
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("Transfer", func(_ context.Context, c Call) (Operation, error) {
		got = c
		return Operation{Kind: "transfer", Params: c.Params}, nil
	}))

	res := newResolver()
	d := NewDispatcher(r, meta)
	inv, op, err := d.Dispatch(context.Background(), transferAction(), res, ReplayContext{TraceName: "bank"})
	require.NoError(t, err)

	from, _ := got.Params.Get("from")
	to, _ := got.Params.Get("to")
	amount, _ := got.Params.Get("amount")
	assert.Equal(t, ir.Handle("acct-1"), from)
	assert.Equal(t, ir.Handle("acct-2"), to)
	assert.True(t, ir.Equal(ir.NewInt(30), amount), "value params pass through")

	abstractFrom, _ := got.Abstract.Get("from")
	assert.True(t, ir.Equal(ir.NewInt(1), abstractFrom))
	assert.Equal(t, "bank", got.Replay.TraceName)

	assert.Equal(t, "transfer", op.Kind)
	assert.Equal(t, 2, inv.Step)
	assert.True(t, ir.Equal(got.Params, inv.Resolved))
	assert.Equal(t, 2, res.Len())
}

func TestDispatchUnknownAction(t *testing.T) {
	res := newResolver()
	d := NewDispatcher(NewRegistry(), meta)

	_, _, err := d.Dispatch(context.Background(), transferAction(), res, ReplayContext{})
	require.Error(t, err)

	var ue *UnknownActionError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 2, ue.Step)
	assert.Equal(t, "Transfer", ue.Action)
	assert.Zero(t, res.Len(), "nothing is allocated for unknown actions")
}

func TestDispatchNoOp(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("Init", func(context.Context, Call) (Operation, error) { return NoOp, nil }))

	_, op, err := NewDispatcher(r, meta).Dispatch(context.Background(),
		differ.Action{Step: 1, Name: "Init", Params: ir.NewRecord(nil)}, newResolver(), ReplayContext{})
	require.NoError(t, err)
	assert.True(t, op.IsNoOp())
	assert.Equal(t, "no-op", op.String())
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("Init", func(context.Context, Call) (Operation, error) { return NoOp, boom }))

	_, _, err := NewDispatcher(r, meta).Dispatch(context.Background(),
		differ.Action{Step: 1, Name: "Init", Params: ir.NewRecord(nil)}, newResolver(), ReplayContext{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler Init")
}

func TestDispatchHandlerCanBind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("Init", func(ctx context.Context, c Call) (Operation, error) {
		h, err := c.Bind.Resolve(ctx, ir.NewInt(7))
		if err != nil {
			return NoOp, err
		}
		return Operation{Kind: "create", Params: ir.RecordOf(ir.F("account", h))}, nil
	}))

	res := newResolver()
	_, op, err := NewDispatcher(r, meta).Dispatch(context.Background(),
		differ.Action{Step: 1, Name: "Init", Params: ir.NewRecord(nil)}, res, ReplayContext{})
	require.NoError(t, err)

	account, _ := op.Params.Get("account")
	assert.Equal(t, ir.Handle("acct-1"), account)
	back, err := res.Project("acct-1")
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.NewInt(7), back))
}

func TestResolveIdentifiersNested(t *testing.T) {
	res := newResolver()
	v, err := ResolveIdentifiers(context.Background(),
		ir.NewSeq(ir.NewSet(ir.NewInt(2), ir.NewInt(1)), ir.Bool(true), ir.Handle("fixed")), res)
	require.NoError(t, err)

	want := ir.NewSeq(ir.NewSet(ir.Handle("acct-1"), ir.Handle("acct-2")), ir.Bool(true), ir.Handle("fixed"))
	assert.True(t, ir.Equal(want, v), ir.Format(v))
}

func TestResolveIdentifiersPropagatesBindingErrors(t *testing.T) {
	res := binding.New(binding.AllocatorFunc(func(context.Context, ir.Value) (ir.Handle, error) {
		return "dup", nil
	}))
	_, err := ResolveIdentifiers(context.Background(), ir.NewSeq(ir.NewInt(1), ir.NewInt(2)), res)
	require.Error(t, err)
	assert.True(t, binding.IsConflict(err))
}

func TestCallParam(t *testing.T) {
	c := Call{Action: "Transfer", Params: ir.RecordOf(ir.F("amount", ir.NewInt(5)))}
	v, err := c.Param("amount")
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.NewInt(5), v))

	_, err = c.Param("memo")
	require.Error(t, err)
}

func TestOperationValue(t *testing.T) {
	op := Operation{Kind: "transfer", Params: ir.RecordOf(ir.F("amount", ir.NewInt(5)))}
	assert.Equal(t, `[kind |-> "transfer", params |-> [amount |-> 5]]`, ir.Format(op.Value()))
	assert.Equal(t, "transfer[amount |-> 5]", op.String())
}

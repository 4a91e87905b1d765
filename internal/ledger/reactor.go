package ledger

import (
	"context"
	"fmt"

	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/reactor"
)

// Register installs the handlers for the bank model: Init and Transfer.
func Register(reg *reactor.Registry) error {
	if err := reg.RegisterFunc("Init", Init); err != nil {
		return err
	}
	return reg.RegisterFunc("Transfer", Transfer)
}

// Init opens every account of the post-state balances and funds it.
// Account identifiers are bound through the replay's binder since Init
// declares no parameters.
func Init(ctx context.Context, call reactor.Call) (reactor.Operation, error) {
	v, ok := call.Replay.Current.Get(VarBalances)
	if !ok {
		return reactor.NoOp, fmt.Errorf("trace state has no %s", VarBalances)
	}
	balances, ok := v.(ir.Map)
	if !ok {
		return reactor.NoOp, fmt.Errorf("%s must be a map, got %s", VarBalances, v.Kind())
	}
	if balances.Len() == 0 {
		return reactor.NoOp, nil
	}

	entries := make([]ir.MapEntry, 0, balances.Len())
	for _, e := range balances.Entries() {
		h, err := call.Bind.Resolve(ctx, e.Key)
		if err != nil {
			return reactor.NoOp, err
		}
		entries = append(entries, ir.E(h, e.Value))
	}
	accounts, err := ir.NewMap(entries...)
	if err != nil {
		return reactor.NoOp, err
	}
	return reactor.Operation{
		Kind:   OpGenesis,
		Params: ir.RecordOf(ir.F("accounts", accounts)),
	}, nil
}

// Transfer moves amount from one account to another.
func Transfer(_ context.Context, call reactor.Call) (reactor.Operation, error) {
	from, err := call.Param("from")
	if err != nil {
		return reactor.NoOp, err
	}
	to, err := call.Param("to")
	if err != nil {
		return reactor.NoOp, err
	}
	amount, err := call.Param("amount")
	if err != nil {
		return reactor.NoOp, err
	}
	return reactor.Operation{
		Kind: OpTransfer,
		Params: ir.RecordOf(
			ir.F("from", from),
			ir.F("to", to),
			ir.F("amount", amount),
		),
	}, nil
}

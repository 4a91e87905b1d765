// Package testutil provides deterministic fixtures shared by tests: a wall
// clock, run ids and builders for the two-account bank trace.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/trace"
)

// BankMeta declares the bank model: an explicit action variable, Init and
// Transfer(from: id, to: id, amount: value).
var BankMeta = trace.Metadata{
	ActionVariable: "action",
	Actions: []trace.ActionSig{
		{Name: "Init", Writes: []string{"balances"}},
		{
			Name: "Transfer",
			Params: []trace.ParamSig{
				{Name: "from", Kind: trace.ParamID},
				{Name: "to", Kind: trace.ParamID},
				{Name: "amount", Kind: trace.ParamValue},
			},
			Writes: []string{"balances"},
		},
	},
	Variables: []string{"action", "balances"},
}

// Balances builds a map from alternating account ids and amounts.
func Balances(pairs ...int64) ir.Map {
	entries := make([]ir.MapEntry, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		entries = append(entries, ir.E(ir.NewInt(pairs[i]), ir.NewInt(pairs[i+1])))
	}
	return ir.MustMap(entries...)
}

// Variant builds the action variable value {tag, value: {fields}}.
func Variant(tag string, fields ...ir.Field) ir.Record {
	return ir.RecordOf(ir.F("tag", ir.String(tag)), ir.F("value", ir.RecordOf(fields...)))
}

// Transfer is the action value of a transfer from account 1 to account 2.
func Transfer(amount int64) ir.Record {
	return Variant("Transfer",
		ir.F("from", ir.NewInt(1)),
		ir.F("to", ir.NewInt(2)),
		ir.F("amount", ir.NewInt(amount)),
	)
}

// BankTrace builds the two-account scenario: genesis with 100 and 0, then
// a transfer of amount leaving want1 and want2.
func BankTrace(t testing.TB, name string, amount, want1, want2 int64) *trace.Trace {
	t.Helper()
	tr, err := trace.FromStates(name, BankMeta,
		map[string]ir.Value{"action": ir.String("None"), "balances": Balances()},
		map[string]ir.Value{"action": Variant("Init"), "balances": Balances(1, 100, 2, 0)},
		map[string]ir.Value{"action": Transfer(amount), "balances": Balances(1, want1, 2, want2)},
	)
	require.NoError(t, err)
	return tr
}

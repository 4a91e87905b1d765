package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/target"
	"github.com/roach88/kraft/internal/testutil"
	"github.com/roach88/kraft/internal/trace"
)

func boundResolver(t *testing.T) *binding.Resolver {
	t.Helper()
	r := binding.New(nil)
	require.NoError(t, r.Seed(ir.NewInt(1), "acct-1"))
	require.NoError(t, r.Seed(ir.NewInt(2), "acct-2"))
	return r
}

func expectedState(b ir.Map) trace.State {
	return trace.State{Index: 2, Vars: map[string]ir.Value{"balances": b}}
}

func observedBalances(pairs ...any) target.Observed {
	var entries []ir.MapEntry
	for i := 0; i+1 < len(pairs); i += 2 {
		entries = append(entries, ir.E(ir.Handle(pairs[i].(string)), ir.NewInt(int64(pairs[i+1].(int)))))
	}
	return target.Observed{"balances": ir.MustMap(entries...)}
}

func TestValidator_Match(t *testing.T) {
	v := NewValidator([]string{"balances"}, boundResolver(t))
	err := v.Validate(2, expectedState(testutil.Balances(1, 70, 2, 30)), observedBalances("acct-1", 70, "acct-2", 30))
	assert.NoError(t, err)
}

func TestValidator_Mismatch(t *testing.T) {
	v := NewValidator([]string{"balances"}, boundResolver(t))
	err := v.Validate(2, expectedState(testutil.Balances(1, 70, 2, 30)), observedBalances("acct-1", 100, "acct-2", 0))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ReasonMismatch, ve.Reason)
	assert.Equal(t, "balances", ve.Field)
	assert.Equal(t, 2, ve.Step)
	assert.Equal(t, "[1]: expected 70, observed 100\n[2]: expected 30, observed 0", ir.FormatDifferences(ve.Differences))
	assert.Contains(t, ve.Error(), "step 2: balances: mismatch")

	diff := ve.Diff()
	assert.Contains(t, diff, "--- expected/balances")
	assert.Contains(t, diff, "+++ observed/balances")
}

func TestValidator_MissingVariable(t *testing.T) {
	v := NewValidator([]string{"balances"}, boundResolver(t))
	err := v.Validate(2, expectedState(testutil.Balances(1, 70)), target.Observed{})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ReasonMissing, ve.Reason)
	assert.Nil(t, ve.Observed)
}

func TestValidator_UnknownHandle(t *testing.T) {
	v := NewValidator([]string{"balances"}, boundResolver(t))
	err := v.Validate(2, expectedState(testutil.Balances(1, 70)), observedBalances("acct-1", 70, "stranger", 0))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, ReasonUnknownHandle)
	assert.Contains(t, ve.Reason, "@stranger")
}

func TestValidator_FieldsCheckedInOrder(t *testing.T) {
	v := NewValidator([]string{"balances", "supply"}, boundResolver(t))
	expected := trace.State{Index: 1, Vars: map[string]ir.Value{
		"balances": testutil.Balances(1, 1),
		"supply":   ir.NewInt(1),
	}}
	observed := target.Observed{"balances": ir.MustMap(), "supply": ir.NewInt(2)}

	var ve *ValidationError
	require.ErrorAs(t, v.Validate(1, expected, observed), &ve)
	assert.Equal(t, "balances", ve.Field, "the first failing field is reported")
}

func TestProject(t *testing.T) {
	r := binding.New(binding.AllocatorFunc(func(context.Context, ir.Value) (ir.Handle, error) {
		return "acct-1", nil
	}))
	_, err := r.Resolve(context.Background(), ir.String("alice"))
	require.NoError(t, err)

	got, err := Project(ir.RecordOf(ir.F("owner", ir.Handle("acct-1")), ir.F("n", ir.NewInt(3))), r)
	require.NoError(t, err)
	assert.Equal(t, `[n |-> 3, owner |-> "alice"]`, ir.Format(got))
}

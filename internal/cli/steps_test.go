package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepsText(t *testing.T) {
	out, err := execute(t, "steps", transferTrace)
	require.NoError(t, err)

	assert.Contains(t, out, "transfer (explicit)")
	assert.Contains(t, out, "Init")
	assert.Contains(t, out, "[amount |-> 30, from |-> 1, to |-> 2]")
	assert.Contains(t, out, "balances")
}

func TestStepsJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "steps", "../trace/testdata/transfer-inferred.itf.json")
	require.NoError(t, err)

	resp, result := decode[StepsResult](t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "inferred", result.Mode)
	require.Len(t, result.Steps, 2)

	assert.Equal(t, 1, result.Steps[0].Step)
	assert.Equal(t, "Init", result.Steps[0].Action)

	transfer := result.Steps[1]
	assert.Equal(t, 2, transfer.Step)
	assert.Equal(t, "Transfer", transfer.Action)
	params, ok := transfer.Params.(map[string]any)
	require.True(t, ok, "params: %#v", transfer.Params)
	assert.Equal(t, float64(30), params["amount"])
	assert.Contains(t, transfer.Changed, "balances")
}

func TestStepsInitialOnly(t *testing.T) {
	out, err := execute(t, "--format", "json", "steps", "../trace/testdata/initial-only.itf.json")
	require.NoError(t, err)

	_, result := decode[StepsResult](t, out)
	assert.Empty(t, result.Steps)
}

func TestStepsMissingFile(t *testing.T) {
	_, err := execute(t, "steps", "/nonexistent.itf.json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

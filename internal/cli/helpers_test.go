package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	traceDir      = "../trace/testdata"
	transferTrace = "../trace/testdata/transfer.itf.json"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

// executeContext is execute under ctx.
func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// decode parses a JSON response whose data has the type of data.
func decode[T any](t *testing.T, out string) (CLIResponse, T) {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)

	var data T
	if len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, &data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}, data
}

// variantTrace writes a copy of the transfer trace with old replaced by new.
func variantTrace(t *testing.T, dir, name, old, new string) string {
	t.Helper()
	data, err := os.ReadFile(transferTrace)
	require.NoError(t, err)
	src := string(data)
	require.Contains(t, src, old)

	path := filepath.Join(dir, name+".itf.json")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(src, old, new, 1)), 0o644))
	return path
}

// mismatchTrace expects balances the transfer cannot produce.
func mismatchTrace(t *testing.T, dir string) string {
	return variantTrace(t, dir, "mismatch", "[[1, 70], [2, 30]]", "[[1, 80], [2, 20]]")
}

// overdraftTrace transfers more than the source account holds.
func overdraftTrace(t *testing.T, dir string) string {
	return variantTrace(t, dir, "overdraft", `"amount": 30}`, `"amount": 130}`)
}

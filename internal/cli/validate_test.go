package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTraceDirectory(t *testing.T) {
	out, err := execute(t, "validate", traceDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ transfer (3 states, explicit")
	assert.Contains(t, out, "✓ transfer-inferred (3 states, inferred")
	assert.Contains(t, out, "✓ All traces valid")
}

func TestValidateJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", transferTrace)
	require.NoError(t, err)

	resp, result := decode[ValidationResult](t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	require.Len(t, result.Traces, 1)

	s := result.Traces[0]
	assert.Equal(t, "transfer", s.Name)
	assert.Equal(t, "explicit", s.Mode)
	assert.Equal(t, 3, s.States)
	assert.Len(t, s.Digest, 64)
	assert.Equal(t, map[string]int{"Init": 1, "Transfer": 1}, s.Actions)
}

func TestValidateMalformedTrace(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "broken.itf.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"#meta": `), 0o644))

	out, err := execute(t, "validate", transferTrace, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ transfer")
	assert.Contains(t, out, "✗ "+bad)
	assert.NotContains(t, out, "All traces valid")
}

func TestValidateMalformedTraceJSON(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "broken.itf.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[]`), 0o644))

	out, err := execute(t, "--format", "json", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp, result := decode[ValidationResult](t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTraceFailed, resp.Error.Code)
	assert.False(t, result.Valid)
	require.Len(t, result.Traces, 1)
	assert.NotEmpty(t, result.Traces[0].Error)
}

func TestValidateNonExistentPath(t *testing.T) {
	out, err := execute(t, "validate", "/nonexistent/trace.itf.json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp, _ := decode[ValidationResult](t, out)
	assert.Equal(t, ErrCodeNoTraces, resp.Error.Code)
}

func TestFindTraces(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.itf.json", "a.itf.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	explicit := filepath.Join(dir, "notes.txt")

	got, err := FindTraces([]string{dir, explicit, filepath.Join(dir, "a.itf.json")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.itf.json"),
		filepath.Join(dir, "b.itf.json"),
		explicit,
	}, got)
}

package artifact

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kraft/internal/config"
	"github.com/roach88/kraft/internal/engine"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/ledger"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/trace"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() config.Engine {
	cfg := config.Defaults()
	cfg.Timeout = 50 * time.Millisecond
	cfg.RetryInterval = time.Millisecond
	return cfg
}

func replayTransfer(t *testing.T, opts ...engine.Option) engine.Outcome {
	t.Helper()
	tr, err := trace.Load("testdata/transfer.itf.json")
	require.NoError(t, err)

	reg := reactor.NewRegistry()
	require.NoError(t, ledger.Register(reg))

	base := []engine.Option{
		engine.WithConfig(fastConfig()),
		engine.WithLogger(quiet()),
		engine.WithRunIDs(engine.NewFixedGenerator("run-artifact")),
	}
	return engine.NewReplayer(reg, append(base, opts...)...).Run(context.Background(), tr, ledger.New())
}

func emitTransfer(t *testing.T) *Artifact {
	t.Helper()
	out := replayTransfer(t)
	require.NoError(t, out.Error())
	a, err := Emit(out.Record)
	require.NoError(t, err)
	return a
}

func TestEmit_Golden(t *testing.T) {
	a := emitTransfer(t)

	doc := a.body()
	doc["digest"] = a.Digest
	data, err := ir.MarshalCanonicalTree(doc)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "transfer", data)
}

func TestEmit_Contents(t *testing.T) {
	a := emitTransfer(t)

	assert.Equal(t, Version, a.Version)
	assert.Equal(t, "transfer", a.Name)
	assert.Equal(t, ir.EngineVersion, a.EngineVersion)
	assert.Len(t, a.TraceDigest, 64)
	require.Len(t, a.Bindings, 2)
	assert.Equal(t, "acct-1", a.Bindings[0].Handle)
	require.Len(t, a.Steps, 2)
	assert.Equal(t, "Init", a.Steps[0].Action)
	assert.Equal(t, ledger.OpTransfer, a.Steps[1].Operation.Kind)
	assert.NoError(t, a.Verify())
}

func TestEmit_RefusesFailedReplay(t *testing.T) {
	reg := reactor.NewRegistry()
	require.NoError(t, reg.RegisterFunc("Init", ledger.Init))
	tr, err := trace.Load("testdata/transfer.itf.json")
	require.NoError(t, err)

	out := engine.NewReplayer(reg, engine.WithLogger(quiet())).Run(context.Background(), tr, ledger.New())
	require.Error(t, out.Error())

	_, err = Emit(out.Record)
	assert.ErrorIs(t, err, ErrReplayNotSuccessful)

	_, err = Emit(nil)
	assert.ErrorIs(t, err, ErrReplayNotSuccessful)
}

func TestMarshal_RoundTripKeepsDigest(t *testing.T) {
	a := emitTransfer(t)

	data, err := Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), "'#map':")

	back, err := Unmarshal(data)
	require.NoError(t, err)
	require.NoError(t, back.Verify())
	assert.Equal(t, a.Digest, back.Digest)

	again, err := Marshal(back)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again), "encoding is stable")
}

func TestUnmarshal_RejectsUnknownFields(t *testing.T) {
	_, err := Unmarshal([]byte("version: \"1\"\nname: x\nstepz: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stepz")
}

func TestVerify_DetectsTampering(t *testing.T) {
	a := emitTransfer(t)
	a.Steps[1].Operation.Params = map[string]any{"amount": 31}

	err := a.Verify()
	assert.ErrorIs(t, err, ErrDigestMismatch)

	a.Version = "9"
	assert.ErrorContains(t, a.Verify(), "unsupported version")
}

func TestWriteLoad(t *testing.T) {
	a := emitTransfer(t)
	path := filepath.Join(t.TempDir(), "transfer.yaml")

	require.NoError(t, Write(path, a))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, back.Digest)
}

func TestReplay_FreshTarget(t *testing.T) {
	a := emitTransfer(t)
	data, err := Marshal(a)
	require.NoError(t, err)
	loaded, err := Unmarshal(data)
	require.NoError(t, err)

	l := ledger.New()
	res, err := Replay(context.Background(), loaded, l, WithConfig(fastConfig()), WithLogger(quiet()))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps)
	require.Len(t, res.Bindings, 2)
	assert.Len(t, l.Applied(), 2)

	bal, _ := l.Balance("acct-2")
	assert.Equal(t, "30", bal.String())
}

func TestReplay_RewritesHandlesForNewResources(t *testing.T) {
	a := emitTransfer(t)

	// Ledger ids on the new target start after a pre-existing account.
	l := ledger.New(ledger.WithAccount("acct-1", 0))
	res, err := Replay(context.Background(), a, l, WithConfig(fastConfig()), WithLogger(quiet()))
	require.Error(t, err, "the pre-existing account is reported but unbound")
	assert.Nil(t, res)
	assert.True(t, engine.IsKind(err, engine.KindValidation))

	assert.Len(t, l.Applied(), 1, "genesis ran against the new accounts")
	bal, ok := l.Balance("acct-2")
	require.True(t, ok)
	assert.Equal(t, "100", bal.String())
}

func TestReplay_ReusesSeededHandles(t *testing.T) {
	l := ledger.New(ledger.WithAccount("treasury", 0))
	reg := reactor.NewRegistry()
	require.NoError(t, ledger.Register(reg))
	tr, err := trace.Load("testdata/transfer.itf.json")
	require.NoError(t, err)
	rec := engine.NewReplayer(reg,
		engine.WithLogger(quiet()),
		engine.WithSeeds(config.Seed{ID: ir.NewInt(1), Handle: "treasury"}),
	).Run(context.Background(), tr, l)
	require.NoError(t, rec.Error())

	a, err := Emit(rec.Record)
	require.NoError(t, err)
	assert.True(t, a.Bindings[0].Seeded)

	fresh := ledger.New(ledger.WithAccount("treasury", 0))
	res, err := Replay(context.Background(), a, fresh, WithLogger(quiet()))
	require.NoError(t, err)
	assert.Equal(t, ir.Handle("treasury"), res.Bindings[0].Handle)
	bal, _ := fresh.Balance("treasury")
	assert.Equal(t, "70", bal.String())
}

func TestReplay_ReportsRejection(t *testing.T) {
	a := emitTransfer(t)
	a.Steps[1].Operation.Params = map[string]any{
		"from":   map[string]any{"#handle": "acct-1"},
		"to":     map[string]any{"#handle": "acct-2"},
		"amount": 500,
	}

	_, err := Replay(context.Background(), a, ledger.New(), WithConfig(fastConfig()), WithLogger(quiet()))
	var re *engine.ReplayError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, engine.KindSubmission, re.Kind)
	assert.Equal(t, 2, re.Step)
	assert.Equal(t, "Transfer", re.Action)
}

func TestReplay_UnboundHandle(t *testing.T) {
	a := emitTransfer(t)
	a.Steps[1].Operation.Params = map[string]any{"from": map[string]any{"#handle": "ghost"}}

	_, err := Replay(context.Background(), a, ledger.New(), WithLogger(quiet()))
	assert.True(t, engine.IsKind(err, engine.KindTraceFormat))
	assert.ErrorContains(t, err, "@ghost has no recorded binding")
}

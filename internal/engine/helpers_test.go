package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kraft/internal/config"
	"github.com/roach88/kraft/internal/ledger"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/target"
	"github.com/roach88/kraft/internal/testutil"
)

func bankRegistry(t *testing.T) *reactor.Registry {
	t.Helper()
	reg := reactor.NewRegistry()
	require.NoError(t, ledger.Register(reg))
	reg.Freeze()
	return reg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() config.Engine {
	cfg := config.Defaults()
	cfg.Timeout = 50 * time.Millisecond
	cfg.RetryInterval = time.Millisecond
	return cfg
}

func newTestReplayer(t *testing.T, reg *reactor.Registry, opts ...Option) *Replayer {
	t.Helper()
	base := []Option{
		WithConfig(fastConfig()),
		WithLogger(quietLogger()),
		WithRunIDs(NewFixedGenerator()),
		WithNow(testutil.FrozenClock().Now),
	}
	return NewReplayer(reg, append(base, opts...)...)
}

// scriptedClient wraps a target client and lets tests intercept calls.
type scriptedClient struct {
	target.Client
	onSubmit func(ctx context.Context, op reactor.Operation) error
	onQuery  func(ctx context.Context) error
	submits  int
	queries  int
}

func (c *scriptedClient) Submit(ctx context.Context, op reactor.Operation) (target.Pending, error) {
	c.submits++
	if c.onSubmit != nil {
		if err := c.onSubmit(ctx, op); err != nil {
			return target.Pending{}, err
		}
	}
	return c.Client.Submit(ctx, op)
}

func (c *scriptedClient) Query(ctx context.Context, req target.QueryRequest) (target.Observed, error) {
	c.queries++
	if c.onQuery != nil {
		if err := c.onQuery(ctx); err != nil {
			return nil, err
		}
	}
	return c.Client.Query(ctx, req)
}

type memorySink struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (s *memorySink) SaveOutcome(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return s.err
}

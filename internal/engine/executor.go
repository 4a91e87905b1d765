package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/kraft/internal/config"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/target"
)

// Result is the outcome of executing one operation.
type Result struct {
	// Observed is the queried state, restricted to the requested variables.
	Observed target.Observed

	// NoOp marks steps whose operation was skipped.
	NoOp bool

	// PendingID is the target's id for the submission.
	PendingID string

	// Attempts counts confirmation waits, including the successful one.
	Attempts int
}

// Executor submits operations to one target client.
//
// An executor belongs to one replay. It remembers the last observed state
// so that no-op steps can report it without touching the target.
type Executor struct {
	client   target.Client
	timeout  time.Duration
	retries  int
	interval time.Duration
	logger   *slog.Logger

	last    target.Observed
	hasLast bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorConfig applies the timeout and retry settings of cfg.
func WithExecutorConfig(cfg config.Engine) ExecutorOption {
	return func(e *Executor) {
		e.timeout = cfg.Timeout
		e.retries = cfg.Retries
		e.interval = cfg.RetryInterval
	}
}

// WithExecutorLogger sets the logger. Default: slog.Default().
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an executor using the default engine settings.
func NewExecutor(client target.Client, opts ...ExecutorOption) *Executor {
	cfg := config.Defaults()
	e := &Executor{
		client:   client,
		timeout:  cfg.Timeout,
		retries:  cfg.Retries,
		interval: cfg.RetryInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op for step and observes the state described by req.
//
// No-op operations skip submission and return the last observed state; the
// first no-op of a replay queries once instead. Otherwise the operation is
// submitted and its confirmation awaited, retrying the wait only after a
// timeout. Failures are returned as *ReplayError.
func (e *Executor) Execute(ctx context.Context, step int, op reactor.Operation, req target.QueryRequest) (Result, error) {
	if op.IsNoOp() {
		if e.hasLast {
			return Result{Observed: e.last.Clone(), NoOp: true}, nil
		}
		observed, err := e.query(ctx, step, req)
		if err != nil {
			return Result{}, err
		}
		return Result{Observed: observed, NoOp: true}, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, classify(step, "", KindCancelled, err)
	}

	pending, err := e.client.Submit(ctx, op)
	if err != nil {
		if target.IsRejected(err) {
			e.logger.Info("operation rejected", "step", step, "kind", op.Kind, "error", err)
		}
		return Result{}, classify(step, "", KindSubmission, err)
	}
	e.logger.Debug("operation submitted", "step", step, "kind", op.Kind, "pending", pending.ID)

	attempts, err := e.await(ctx, step, pending)
	if err != nil {
		return Result{}, err
	}

	observed, err := e.query(ctx, step, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Observed: observed, PendingID: pending.ID, Attempts: attempts}, nil
}

// await waits for confirmation of pending. Each attempt runs under its own
// deadline, so a client that ignores the timeout argument still times out.
func (e *Executor) await(ctx context.Context, step int, pending target.Pending) (int, error) {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := e.awaitOnce(ctx, pending)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, target.ErrTimeout):
			e.logger.Warn("confirmation timed out",
				"step", step,
				"pending", pending.ID,
				"attempt", attempts,
				"max_attempts", e.retries+1,
			)
			return struct{}{}, err
		default:
			if target.IsRejected(err) {
				e.logger.Info("operation rejected", "step", step, "pending", pending.ID, "error", err)
			}
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(e.interval)),
		backoff.WithMaxTries(uint(e.retries+1)),
	)
	if err == nil {
		return attempts, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return attempts, classify(step, "", KindCancelled, ctxErr)
	}
	if errors.Is(err, target.ErrTimeout) {
		return attempts, &ReplayError{
			Kind:     KindSubmissionTimeout,
			Step:     step,
			Message:  fmt.Sprintf("no confirmation for %s after %d attempts of %s", pending.ID, attempts, e.timeout),
			Attempts: attempts,
			Err:      err,
		}
	}
	return attempts, classify(step, "", KindSubmission, err)
}

func (e *Executor) awaitOnce(ctx context.Context, pending target.Pending) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.client.Await(attemptCtx, pending, e.timeout)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return target.ErrTimeout
	}
	return err
}

func (e *Executor) query(ctx context.Context, step int, req target.QueryRequest) (target.Observed, error) {
	observed, err := e.client.Query(ctx, req)
	if err != nil {
		return nil, classify(step, "", KindTarget, fmt.Errorf("query: %w", err))
	}

	subset := make(target.Observed, len(req.Variables))
	for _, name := range req.Variables {
		if v, ok := observed[name]; ok {
			subset[name] = v
		}
	}
	e.last, e.hasLast = subset, true
	return subset.Clone(), nil
}

package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/kraft/internal/target"
	"github.com/roach88/kraft/internal/trace"
)

// Batch replays traces concurrently on at most cfg.Workers workers.
//
// Each trace gets its own client from provider, released when its replay
// ends. A failing trace never stops the others. Outcomes are returned in
// the order of traces.
func (r *Replayer) Batch(ctx context.Context, traces []*trace.Trace, provider target.Provider) []Outcome {
	outcomes := make([]Outcome, len(traces))

	var g errgroup.Group
	g.SetLimit(max(r.cfg.Workers, 1))
	for i, tr := range traces {
		g.Go(func() error {
			outcomes[i] = r.runAcquired(ctx, tr, provider)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (r *Replayer) runAcquired(ctx context.Context, tr *trace.Trace, provider target.Provider) Outcome {
	client, release, err := provider.Acquire(ctx, tr.Name())
	if err != nil {
		rerr := classify(NoStep, "", KindTarget, fmt.Errorf("acquire target for %s: %w", tr.Name(), err))
		status := StatusFailed
		if rerr.Kind == KindCancelled {
			status = StatusCancelled
		}
		out := Outcome{Trace: tr.Name(), RunID: r.runIDs.Generate(), Status: status, Err: rerr, Started: r.now()}
		log := r.logger.With("trace", out.Trace, "run", out.RunID)
		log.Warn("acquire target failed", "error", err)
		r.persist(ctx, log, out)
		return out
	}
	defer release()

	return r.Run(ctx, tr, client)
}

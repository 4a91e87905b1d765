package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/config"
	"github.com/roach88/kraft/internal/differ"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/target"
	"github.com/roach88/kraft/internal/trace"
)

const tracerName = "github.com/roach88/kraft/internal/engine"

// Sink receives every finished replay. Implemented by *store.Store.
type Sink interface {
	SaveOutcome(ctx context.Context, o Outcome) error
}

// Replayer replays traces with a fixed set of handlers.
//
// A Replayer holds no per-replay state and may run several traces at once;
// see Batch.
type Replayer struct {
	registry *reactor.Registry
	cfg      config.Engine
	logger   *slog.Logger
	seeds    []config.Seed
	sink     Sink
	runIDs   RunIDGenerator
	now      func() time.Time
	tracer   oteltrace.Tracer
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithConfig sets the engine settings. Default: config.Defaults().
func WithConfig(cfg config.Engine) Option {
	return func(r *Replayer) {
		r.cfg = cfg
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Replayer) {
		r.logger = l
	}
}

// WithSeeds pre-binds identifiers to existing resources in every replay.
func WithSeeds(seeds ...config.Seed) Option {
	return func(r *Replayer) {
		r.seeds = append(r.seeds, seeds...)
	}
}

// WithSink persists every outcome.
func WithSink(s Sink) Option {
	return func(r *Replayer) {
		r.sink = s
	}
}

// WithRunIDs sets the run id generator. Default: UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(r *Replayer) {
		r.runIDs = g
	}
}

// WithNow sets the wall clock used for outcome timing.
func WithNow(now func() time.Time) Option {
	return func(r *Replayer) {
		r.now = now
	}
}

// WithTracerProvider sets the OpenTelemetry provider. Default: the global
// provider, which is a no-op unless telemetry was set up.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(r *Replayer) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// NewReplayer creates a replayer dispatching to the handlers in registry.
func NewReplayer(registry *reactor.Registry, opts ...Option) *Replayer {
	r := &Replayer{
		registry: registry,
		cfg:      config.Defaults(),
		logger:   slog.Default(),
		runIDs:   UUIDv7Generator{},
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run replays tr against client and always returns an Outcome.
//
// Every step of the trace is attributed before the first target call, so
// format and ambiguity errors never leave partial effects. A runtime error
// stops the replay at its step; the record keeps every step up to and
// including the failing one.
func (r *Replayer) Run(ctx context.Context, tr *trace.Trace, client target.Client) Outcome {
	started := r.now()
	runID := r.runIDs.Generate()
	meta := tr.Metadata()
	d := differ.New(meta)
	log := r.logger.With("trace", tr.Name(), "run", runID)

	rec := &Record{
		Trace:       tr.Name(),
		TraceDigest: tr.Digest(),
		RunID:       runID,
		Mode:        string(d.Mode()),
		Validated:   meta.Validated(),
	}

	ctx, span := r.tracer.Start(ctx, "kraft.replay", oteltrace.WithAttributes(
		attribute.String("kraft.trace", tr.Name()),
		attribute.String("kraft.run_id", runID),
		attribute.Int("kraft.states", tr.Len()),
	))
	defer span.End()

	resolver := binding.New(client)
	rerr := r.replay(ctx, log, tr, d, resolver, client, rec)
	rec.Bindings = resolver.Snapshot()

	switch {
	case rerr == nil:
		rec.Status = StatusSuccess
		log.Info("replay succeeded", "steps", len(rec.Steps), "bindings", len(rec.Bindings))
	case rerr.Kind == KindCancelled:
		rec.Status = StatusCancelled
		log.Warn("replay cancelled", "step", rerr.Step)
	default:
		rec.Status = StatusFailed
		log.Warn("replay failed", "kind", rerr.Kind, "step", rerr.Step, "action", rerr.Action, "error", rerr.Message)
	}
	if rerr != nil {
		span.RecordError(rerr)
		span.SetStatus(codes.Error, string(rerr.Kind))
	}

	out := Outcome{
		Trace:    tr.Name(),
		RunID:    runID,
		Status:   rec.Status,
		Record:   rec,
		Started:  started,
		Duration: r.now().Sub(started),
	}
	if rerr != nil {
		out.Err = rerr
	}

	r.persist(ctx, log, out)
	return out
}

// persist hands out to the sink, if any. Cancelled replays are saved too.
func (r *Replayer) persist(ctx context.Context, log *slog.Logger, out Outcome) {
	if r.sink == nil {
		return
	}
	if err := r.sink.SaveOutcome(context.WithoutCancel(ctx), out); err != nil {
		log.Error("save replay outcome", "error", err)
	}
}

func (r *Replayer) replay(
	ctx context.Context,
	log *slog.Logger,
	tr *trace.Trace,
	d *differ.Differ,
	resolver *binding.Resolver,
	client target.Client,
	rec *Record,
) *ReplayError {
	meta := tr.Metadata()

	if steps := tr.Len() - 1; r.cfg.MaxSteps > 0 && steps > r.cfg.MaxSteps {
		return &ReplayError{
			Kind:    KindTraceFormat,
			Step:    NoStep,
			Message: fmt.Sprintf("trace has %d steps, limit is %d", steps, r.cfg.MaxSteps),
		}
	}

	for _, err := range d.Walk(tr) {
		if err != nil {
			return classify(stepOf(err), "", KindTraceFormat, err)
		}
	}

	for _, name := range r.registry.Missing(meta.ActionNames()) {
		log.Warn("no handler registered for declared action", "action", name)
	}

	for _, s := range r.seeds {
		if err := resolver.Seed(s.ID, s.Handle); err != nil {
			return classify(NoStep, "", KindBindingConflict, err)
		}
	}
	resolver.Seal()

	log.Info("replay started", "states", tr.Len(), "mode", d.Mode(), "seeds", len(r.seeds))

	s := &stepper{
		tracer:   r.tracer,
		log:      log,
		rec:      rec,
		clock:    NewClock(),
		differ:   d,
		dispatch: reactor.NewDispatcher(r.registry, meta),
		exec:     NewExecutor(client, WithExecutorConfig(r.cfg), WithExecutorLogger(log)),
		validate: NewValidator(meta.Validated(), resolver),
		resolver: resolver,
	}

	var prev trace.State
	first := true
	for cur, err := range tr.States() {
		if err != nil {
			return classify(stepOf(err), "", KindTraceFormat, err)
		}
		if first {
			prev, first = cur, false
			continue
		}
		if rerr := s.step(ctx, prev, cur); rerr != nil {
			return rerr
		}
		prev = cur
	}
	return nil
}

// stepper holds the collaborators of one replay.
type stepper struct {
	tracer   oteltrace.Tracer
	log      *slog.Logger
	rec      *Record
	clock    *Clock
	differ   *differ.Differ
	dispatch *reactor.Dispatcher
	exec     *Executor
	validate *Validator
	resolver *binding.Resolver
}

func (s *stepper) step(ctx context.Context, prev, cur trace.State) *ReplayError {
	ctx, span := s.tracer.Start(ctx, "kraft.step", oteltrace.WithAttributes(
		attribute.Int("kraft.step", cur.Index),
	))
	defer span.End()

	entry := StepRecord{
		Seq:      s.clock.Next(),
		Step:     cur.Index,
		Expected: expectedVars(cur, s.validate.Variables()),
	}
	fail := func(rerr *ReplayError) *ReplayError {
		if rerr.Step == NoStep {
			rerr.Step = cur.Index
		}
		if rerr.Action == "" {
			rerr.Action = entry.Action
		}
		entry.Status = StepFailed
		entry.Err = rerr
		s.rec.append(entry)
		span.RecordError(rerr)
		span.SetStatus(codes.Error, string(rerr.Kind))
		return rerr
	}

	if err := ctx.Err(); err != nil {
		return fail(classify(cur.Index, "", KindCancelled, err))
	}

	act, err := s.differ.Step(prev, cur)
	if err != nil {
		return fail(classify(cur.Index, "", KindTraceFormat, err))
	}
	entry.Action = act.Name
	span.SetAttributes(attribute.String("kraft.action", act.Name))

	inv, op, err := s.dispatch.Dispatch(ctx, act, s.resolver, reactor.ReplayContext{
		TraceName: s.rec.Trace,
		RunID:     s.rec.RunID,
		Previous:  prev,
		Current:   cur,
	})
	entry.Invocation = inv
	if err != nil {
		return fail(classify(cur.Index, act.Name, KindHandler, err))
	}
	entry.Operation = op

	res, err := s.exec.Execute(ctx, cur.Index, op, target.QueryRequest{
		Variables: s.validate.Variables(),
		Handles:   boundHandles(s.resolver),
	})
	if err != nil {
		return fail(classify(cur.Index, act.Name, KindTarget, err))
	}
	entry.Result = res

	if err := s.validate.Validate(cur.Index, cur, res.Observed); err != nil {
		return fail(classify(cur.Index, act.Name, KindValidation, err))
	}

	entry.Status = StepOK
	s.rec.append(entry)
	s.log.Debug("step validated",
		"step", cur.Index,
		"action", act.Name,
		"op", op.String(),
		"attempts", res.Attempts,
	)
	return nil
}

func expectedVars(st trace.State, vars []string) map[string]ir.Value {
	out := make(map[string]ir.Value, len(vars))
	for _, name := range vars {
		if v, ok := st.Get(name); ok {
			out[name] = v
		}
	}
	return out
}

func boundHandles(r *binding.Resolver) []ir.Handle {
	snap := r.Snapshot()
	out := make([]ir.Handle, len(snap))
	for i, b := range snap {
		out[i] = b.Handle
	}
	return out
}

// stepOf extracts the step index carried by attribution errors.
func stepOf(err error) int {
	var fe *trace.FormatError
	if errors.As(err, &fe) && fe.Step >= 0 {
		return fe.Step
	}
	var ae *differ.AmbiguousActionError
	if errors.As(err, &ae) {
		return ae.Step
	}
	return NoStep
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/ir"
)

// ErrRunNotFound is returned when a run id is not in the log.
var ErrRunNotFound = errors.New("store: run not found")

// Run is one stored replay.
type Run struct {
	Seq          int64
	ID           string
	Trace        string
	TraceDigest  string
	Mode         string
	Validated    []string
	Status       string
	ErrorKind    string
	ErrorStep    int
	ErrorAction  string
	ErrorMessage string
	Started      time.Time
	Duration     time.Duration
}

// Step is one stored record entry.
type Step struct {
	Seq           int64
	Step          int
	Action        string
	Operation     ir.Value
	OperationHash string
	NoOp          bool
	PendingID     string
	Attempts      int
	Status        string
	ErrorKind     string
	ErrorMessage  string
}

// StatusCount is the number of runs with one status.
type StatusCount struct {
	Status string
	Count  int
}

const runColumns = `seq, id, trace, trace_digest, mode, validated, status,
	error_kind, error_step, error_action, error_message, started_at, duration_ms`

// ReadRun returns the run with the given id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns stored runs in insertion order, optionally restricted to
// one trace. Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListRuns(ctx context.Context, trace string) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if trace != "" {
		query += ` WHERE trace = ?`
		args = append(args, trace)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadSteps returns the record of a run ordered by seq.
func (s *Store) ReadSteps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, step, action, operation, operation_hash, noop, pending_id, attempts,
		       status, error_kind, error_message
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	for rows.Next() {
		var st Step
		var opJSON string
		var noop int
		if err := rows.Scan(
			&st.Seq, &st.Step, &st.Action, &opJSON, &st.OperationHash, &noop, &st.PendingID,
			&st.Attempts, &st.Status, &st.ErrorKind, &st.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		op, err := unmarshalValue(opJSON)
		if err != nil {
			return nil, fmt.Errorf("step %d operation: %w", st.Step, err)
		}
		st.Operation = op
		st.NoOp = noop != 0
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// ReadBindings returns the binding snapshot of a run in creation order.
func (s *Store) ReadBindings(ctx context.Context, runID string) ([]binding.Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, identifier, handle, seeded
		FROM bindings
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	out := []binding.Binding{}
	for rows.Next() {
		var b binding.Binding
		var idJSON, handle string
		var seeded int
		if err := rows.Scan(&b.Seq, &idJSON, &handle, &seeded); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		id, err := unmarshalValue(idJSON)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", b.Seq, err)
		}
		b.ID, b.Handle, b.Seeded = id, ir.Handle(handle), seeded != 0
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}
	return out, nil
}

// StatusCounts returns the number of runs per status, ordered by status.
func (s *Store) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM runs GROUP BY status ORDER BY status COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	out := []StatusCount{}
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var validated, started string
	var durationMS int64
	if err := row.Scan(
		&r.Seq, &r.ID, &r.Trace, &r.TraceDigest, &r.Mode, &validated, &r.Status,
		&r.ErrorKind, &r.ErrorStep, &r.ErrorAction, &r.ErrorMessage, &started, &durationMS,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("run %s started_at: %w", r.ID, err)
	}
	r.Started = t
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Validated = splitNames(validated)
	return r, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/kraft/internal/engine"
	"github.com/roach88/kraft/internal/ir"
)

// SaveOutcome writes a finished replay: its run row, every record entry and
// the binding snapshot, in one transaction.
//
// Uses ON CONFLICT DO NOTHING for idempotency: saving the same run twice
// leaves the first copy in place.
func (s *Store) SaveOutcome(ctx context.Context, o engine.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save outcome %s: %w", o.RunID, err)
	}
	defer tx.Rollback()

	if err := writeRun(ctx, tx, o); err != nil {
		return fmt.Errorf("save outcome %s: %w", o.RunID, err)
	}
	if o.Record != nil {
		for _, st := range o.Record.Steps {
			if err := writeStep(ctx, tx, o.RunID, st); err != nil {
				return fmt.Errorf("save outcome %s: step %d: %w", o.RunID, st.Step, err)
			}
		}
		for _, b := range o.Record.Bindings {
			if err := writeBinding(ctx, tx, o.RunID, b.Seq, b.ID, b.Handle, b.Seeded); err != nil {
				return fmt.Errorf("save outcome %s: binding %d: %w", o.RunID, b.Seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save outcome %s: commit: %w", o.RunID, err)
	}
	return nil
}

func writeRun(ctx context.Context, tx *sql.Tx, o engine.Outcome) error {
	var digest, mode string
	var validated []string
	if o.Record != nil {
		digest, mode, validated = o.Record.TraceDigest, o.Record.Mode, o.Record.Validated
	}

	var kind, action, message string
	step := engine.NoStep
	if o.Err != nil {
		kind, step, action, message = string(o.Err.Kind), o.Err.Step, o.Err.Action, o.Err.Message
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, trace, trace_digest, mode, validated, status,
		 error_kind, error_step, error_action, error_message,
		 started_at, duration_ms, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		o.RunID,
		o.Trace,
		digest,
		mode,
		joinNames(validated),
		string(o.Status),
		kind,
		step,
		action,
		message,
		o.Started.UTC().Format(time.RFC3339Nano),
		o.Duration.Milliseconds(),
		ir.EngineVersion,
		ir.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

func writeStep(ctx context.Context, tx *sql.Tx, runID string, st engine.StepRecord) error {
	opValue := st.Operation.Value()
	opJSON, err := marshalValue(opValue)
	if err != nil {
		return err
	}
	opHash, err := ir.Hash(ir.DomainOperation, opValue)
	if err != nil {
		return err
	}

	var kind, message string
	if st.Err != nil {
		kind, message = string(st.Err.Kind), st.Err.Message
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps
		(run_id, seq, step, action, operation, operation_hash, noop, pending_id, attempts,
		 status, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		st.Seq,
		st.Step,
		st.Action,
		opJSON,
		opHash,
		boolToInt(st.Operation.IsNoOp()),
		st.Result.PendingID,
		st.Result.Attempts,
		string(st.Status),
		kind,
		message,
	)
	if err != nil {
		return fmt.Errorf("write step: %w", err)
	}
	return nil
}

func writeBinding(ctx context.Context, tx *sql.Tx, runID string, seq int64, id ir.Value, h ir.Handle, seeded bool) error {
	idJSON, err := marshalValue(id)
	if err != nil {
		return err
	}
	hash, err := ir.Hash(ir.DomainBinding, ir.RecordOf(ir.F("id", id), ir.F("handle", h)))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bindings (run_id, seq, identifier, handle, seeded, binding_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, seq, idJSON, string(h), boolToInt(seeded), hash)
	if err != nil {
		return fmt.Errorf("write binding: %w", err)
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/differ"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/target"
	"github.com/roach88/kraft/internal/trace"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"format", &trace.FormatError{Step: 2, Message: "bad"}, KindTraceFormat},
		{"ambiguous", &differ.AmbiguousActionError{Step: 2}, KindAmbiguousAction},
		{"unknown", &reactor.UnknownActionError{Step: 2, Action: "Transfer"}, KindUnknownAction},
		{"conflict", fmt.Errorf("parameter from: %w", &binding.ConflictError{ID: ir.NewInt(1), Handle: "h"}), KindBindingConflict},
		{"rejected", &target.RejectedError{Code: 5, Reason: "insufficient funds"}, KindSubmission},
		{"validation", &ValidationError{Step: 2, Field: "balances"}, KindValidation},
		{"cancelled", fmt.Errorf("allocate: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindCancelled},
		{"allocation", &binding.AllocationError{ID: ir.NewInt(1), Err: errors.New("faucet empty")}, KindTarget},
		{"other", errors.New("boom"), KindHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := classify(2, "Transfer", KindHandler, tt.err)
			assert.Equal(t, tt.want, re.Kind)
			assert.Equal(t, 2, re.Step)
			assert.ErrorIs(t, re, tt.err)
		})
	}
}

func TestClassifyKeepsRejectionReasonVerbatim(t *testing.T) {
	re := classify(2, "Transfer", KindTarget, &target.RejectedError{Code: 5, Reason: "insufficient funds: 0 < 30"})
	assert.Equal(t, "insufficient funds: 0 < 30", re.Message)
	assert.Equal(t, "SubmissionError at step 2 (Transfer): insufficient funds: 0 < 30", re.Error())
}

func TestClassifyPassesReplayErrorsThrough(t *testing.T) {
	orig := &ReplayError{Kind: KindSubmissionTimeout, Step: 3, Attempts: 4}
	assert.Same(t, orig, classify(1, "x", KindHandler, fmt.Errorf("wrapped: %w", orig)))
}

func TestKindHelpers(t *testing.T) {
	err := fmt.Errorf("run: %w", &ReplayError{Kind: KindCancelled, Step: NoStep, Message: "stopped"})
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.True(t, IsCancelled(err))
	assert.False(t, IsKind(err, KindValidation))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "CancelledError: stopped", (&ReplayError{Kind: KindCancelled, Step: NoStep, Message: "stopped"}).Error())
}

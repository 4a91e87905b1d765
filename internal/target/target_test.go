package target

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kraft/internal/ir"
)

func TestRejectedError(t *testing.T) {
	err := fmt.Errorf("submit: %w", &RejectedError{Code: 5, Reason: "insufficient funds"})
	assert.True(t, IsRejected(err))
	assert.Equal(t, "submit: rejected (code 5): insufficient funds", err.Error())
	assert.False(t, IsRejected(ErrTimeout))
}

func TestObservedClone(t *testing.T) {
	o := Observed{"balances": ir.MustMap()}
	c := o.Clone()
	c["extra"] = ir.NewInt(1)
	assert.Len(t, o, 1)
	assert.Nil(t, Observed(nil).Clone())
}

func TestShared(t *testing.T) {
	p := Shared(nil)
	c, release, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)
	assert.Nil(t, c)
	release()
}

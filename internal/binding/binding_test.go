package binding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kraft/internal/ir"
)

// countingAllocator issues acct-1, acct-2, ... and counts calls.
type countingAllocator struct {
	calls int
}

func (a *countingAllocator) Allocate(_ context.Context, _ ir.Value) (ir.Handle, error) {
	a.calls++
	return ir.Handle(fmt.Sprintf("acct-%d", a.calls)), nil
}

func TestResolveIsIdempotent(t *testing.T) {
	alloc := &countingAllocator{}
	r := New(alloc)
	ctx := context.Background()

	h1, err := r.Resolve(ctx, ir.NewInt(1))
	require.NoError(t, err)
	h2, err := r.Resolve(ctx, ir.NewInt(1))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, alloc.calls)
	assert.Equal(t, 1, r.Len())
}

func TestResolveIsInjective(t *testing.T) {
	r := New(&countingAllocator{})
	ctx := context.Background()

	ids := []ir.Value{ir.NewInt(1), ir.NewInt(2), ir.String("1"), ir.NewSeq(ir.NewInt(1))}
	seen := make(map[ir.Handle]ir.Value)
	for _, id := range ids {
		h, err := r.Resolve(ctx, id)
		require.NoError(t, err)
		prev, dup := seen[h]
		require.False(t, dup, "%s and %s share @%s", ir.Format(prev), ir.Format(id), h)
		seen[h] = id
	}
}

func TestProjectInvertsResolve(t *testing.T) {
	r := New(&countingAllocator{})
	ctx := context.Background()

	for _, id := range []ir.Value{ir.NewInt(1), ir.String("alice"), ir.NewSet(ir.NewInt(2))} {
		h, err := r.Resolve(ctx, id)
		require.NoError(t, err)
		back, err := r.Project(h)
		require.NoError(t, err)
		assert.True(t, ir.Equal(id, back))
	}
}

func TestProjectUnknownHandle(t *testing.T) {
	r := New(&countingAllocator{})
	_, err := r.Project("never-issued")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownHandle))
}

func TestEqualIdentifiersShareBinding(t *testing.T) {
	r := New(&countingAllocator{})
	ctx := context.Background()

	a, err := r.Resolve(ctx, ir.NewSet(ir.NewInt(1), ir.NewInt(2)))
	require.NoError(t, err)
	b, err := r.Resolve(ctx, ir.NewSet(ir.NewInt(2), ir.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSeed(t *testing.T) {
	alloc := &countingAllocator{}
	r := New(alloc)

	require.NoError(t, r.Seed(ir.NewInt(0), "validator-0"))
	require.NoError(t, r.Seed(ir.NewInt(0), "validator-0"), "reseeding the same pair is a no-op")

	h, err := r.Resolve(context.Background(), ir.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, ir.Handle("validator-0"), h)
	assert.Zero(t, alloc.calls)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Seeded)
}

func TestSeedConflicts(t *testing.T) {
	r := New(&countingAllocator{})
	require.NoError(t, r.Seed(ir.NewInt(0), "validator-0"))

	err := r.Seed(ir.NewInt(0), "validator-1")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "identifier already bound to @validator-0")

}

func TestSeedAliases(t *testing.T) {
	r := New(AllocatorFunc(func(context.Context, ir.Value) (ir.Handle, error) {
		return "validator-0", nil
	}))
	ctx := context.Background()

	require.NoError(t, r.Seed(ir.NewInt(0), "validator-0"))
	require.NoError(t, r.Seed(ir.NewInt(9), "validator-0"))

	h, err := r.Resolve(ctx, ir.NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, ir.Handle("validator-0"), h)

	id, err := r.Project("validator-0")
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.NewInt(0), id), "aliased handle projects to the first seeded id")

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.True(t, snap[0].Seeded)
	assert.True(t, snap[1].Seeded)

	r.Seal()
	assert.ErrorIs(t, r.Seed(ir.NewInt(5), "validator-0"), ErrSealed)

	_, err = r.Resolve(ctx, ir.NewInt(7))
	require.Error(t, err)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Seeding)
	assert.True(t, ir.Equal(ir.NewInt(0), ce.BoundBy))
}

func TestSeedOntoAllocatedHandle(t *testing.T) {
	r := New(&countingAllocator{})
	h, err := r.Resolve(context.Background(), ir.NewInt(1))
	require.NoError(t, err)

	err = r.Seed(ir.NewInt(2), h)
	require.Error(t, err)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Seeding)
	assert.True(t, ir.Equal(ir.NewInt(1), ce.BoundBy))
}

func TestSeedAfterSeal(t *testing.T) {
	r := New(&countingAllocator{})
	r.Seal()
	assert.ErrorIs(t, r.Seed(ir.NewInt(0), "validator-0"), ErrSealed)
}

func TestResolveRejectsReusedHandle(t *testing.T) {
	r := New(AllocatorFunc(func(context.Context, ir.Value) (ir.Handle, error) {
		return "same", nil
	}))
	ctx := context.Background()

	_, err := r.Resolve(ctx, ir.NewInt(1))
	require.NoError(t, err)
	_, err = r.Resolve(ctx, ir.NewInt(2))
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestResolveWrapsAllocatorError(t *testing.T) {
	boom := errors.New("faucet empty")
	r := New(AllocatorFunc(func(context.Context, ir.Value) (ir.Handle, error) {
		return "", boom
	}))

	_, err := r.Resolve(context.Background(), ir.NewInt(1))
	require.ErrorIs(t, err, boom)
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "allocate 1: faucet empty", err.Error())
	assert.Equal(t, 0, r.Len())
}

func TestResolveHonorsCancellation(t *testing.T) {
	alloc := &countingAllocator{}
	r := New(alloc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, ir.NewInt(1))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, alloc.calls)
}

func TestSnapshotOrder(t *testing.T) {
	r := New(&countingAllocator{})
	ctx := context.Background()
	require.NoError(t, r.Seed(ir.NewInt(0), "validator-0"))
	_, err := r.Resolve(ctx, ir.NewInt(2))
	require.NoError(t, err)
	_, err = r.Resolve(ctx, ir.NewInt(1))
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{snap[0].Seq, snap[1].Seq, snap[2].Seq})
	assert.Equal(t, ir.Handle("acct-1"), snap[1].Handle)
	assert.True(t, ir.Equal(ir.NewInt(2), snap[1].ID))
}

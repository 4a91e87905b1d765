// Package binding maps abstract trace identifiers to concrete handles.
//
// A Resolver owns the identifier space of exactly one replay. Its mapping is
// injective: no two identifiers share a handle, and an identifier keeps its
// handle for the lifetime of the replay.
package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/kraft/internal/ir"
)

var (
	// ErrSealed is returned by Seed once the replay has started.
	ErrSealed = errors.New("binding: resolver is sealed")

	// ErrUnknownHandle is returned by Project for handles this resolver
	// never produced.
	ErrUnknownHandle = errors.New("binding: unknown handle")
)

// Allocator creates a concrete resource for an abstract identifier.
// The identifier is passed as a hint; allocators may ignore it.
type Allocator interface {
	Allocate(ctx context.Context, hint ir.Value) (ir.Handle, error)
}

// AllocatorFunc adapts a function to Allocator.
type AllocatorFunc func(ctx context.Context, hint ir.Value) (ir.Handle, error)

func (f AllocatorFunc) Allocate(ctx context.Context, hint ir.Value) (ir.Handle, error) {
	return f(ctx, hint)
}

// Binding is one identifier/handle pair.
type Binding struct {
	ID     ir.Value
	Handle ir.Handle

	// Seeded marks bindings registered with Seed rather than allocated.
	Seeded bool

	// Seq orders bindings by creation, starting at 1.
	Seq int64
}

// ConflictError reports an attempt to break injectivity.
type ConflictError struct {
	ID      ir.Value
	Handle  ir.Handle
	BoundTo ir.Handle // handle already bound to ID, if any
	BoundBy ir.Value  // identifier already bound to Handle, if any
	Seeding bool
}

func (e *ConflictError) Error() string {
	op := "resolve"
	if e.Seeding {
		op = "seed"
	}
	if e.BoundBy != nil {
		return fmt.Sprintf("binding conflict: %s %s -> @%s: handle already bound to %s",
			op, ir.Format(e.ID), e.Handle, ir.Format(e.BoundBy))
	}
	return fmt.Sprintf("binding conflict: %s %s -> @%s: identifier already bound to @%s",
		op, ir.Format(e.ID), e.Handle, e.BoundTo)
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// AllocationError reports a failed allocator call.
type AllocationError struct {
	ID  ir.Value
	Err error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %s: %v", ir.Format(e.ID), e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Resolver is safe for concurrent use, though a replay drives it from a
// single goroutine.
type Resolver struct {
	alloc Allocator

	mu       sync.Mutex
	entries  []Binding
	byID     map[string]int
	byHandle map[ir.Handle]int
	sealed   bool
}

// New creates a resolver that allocates missing handles through alloc.
func New(alloc Allocator) *Resolver {
	return &Resolver{
		alloc:    alloc,
		byID:     make(map[string]int),
		byHandle: make(map[ir.Handle]int),
	}
}

// Seed pre-registers a binding for a resource that exists before the replay.
// Seeding the same pair twice is a no-op. Several identifiers may be seeded
// onto one handle; the handle projects to the first of them.
func (r *Resolver) Seed(id ir.Value, h ir.Handle) error {
	if id == nil || h == "" {
		return fmt.Errorf("binding: seed requires an identifier and a handle")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	if i, ok := r.byID[ir.Key(id)]; ok {
		if r.entries[i].Handle == h {
			return nil
		}
		return &ConflictError{ID: id, Handle: h, BoundTo: r.entries[i].Handle, Seeding: true}
	}
	if i, ok := r.byHandle[h]; ok && !r.entries[i].Seeded {
		return &ConflictError{ID: id, Handle: h, BoundBy: r.entries[i].ID, Seeding: true}
	}
	r.add(id, h, true)
	return nil
}

// Seal forbids further seeding. Called when the first step is dispatched.
func (r *Resolver) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the handle bound to id, allocating one on first use.
func (r *Resolver) Resolve(ctx context.Context, id ir.Value) (ir.Handle, error) {
	if id == nil {
		return "", fmt.Errorf("binding: resolve requires an identifier")
	}
	key := ir.Key(id)

	r.mu.Lock()
	if i, ok := r.byID[key]; ok {
		h := r.entries[i].Handle
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.alloc == nil {
		return "", fmt.Errorf("binding: no allocator for %s", ir.Format(id))
	}

	h, err := r.alloc.Allocate(ctx, id)
	if err != nil {
		return "", &AllocationError{ID: id, Err: err}
	}
	if h == "" {
		return "", &AllocationError{ID: id, Err: errors.New("allocator returned an empty handle")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have bound id while the allocator ran.
	if i, ok := r.byID[key]; ok {
		if r.entries[i].Handle == h {
			return h, nil
		}
		return "", &ConflictError{ID: id, Handle: h, BoundTo: r.entries[i].Handle}
	}
	if i, ok := r.byHandle[h]; ok {
		return "", &ConflictError{ID: id, Handle: h, BoundBy: r.entries[i].ID}
	}
	r.add(id, h, false)
	return h, nil
}

// Project returns the identifier bound to h.
func (r *Resolver) Project(h ir.Handle) (ir.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byHandle[h]
	if !ok {
		return nil, fmt.Errorf("%w: @%s", ErrUnknownHandle, h)
	}
	return r.entries[i].ID, nil
}

// Snapshot returns every binding in creation order.
func (r *Resolver) Snapshot() []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Binding, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of bindings.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Resolver) add(id ir.Value, h ir.Handle, seeded bool) {
	r.entries = append(r.entries, Binding{
		ID:     id,
		Handle: h,
		Seeded: seeded,
		Seq:    int64(len(r.entries) + 1),
	})
	i := len(r.entries) - 1
	r.byID[ir.Key(id)] = i
	if _, aliased := r.byHandle[h]; !aliased {
		r.byHandle[h] = i
	}
}

package reactor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrFrozen is returned when registering on a frozen registry.
var ErrFrozen = errors.New("reactor: registry is frozen")

// Registry maps action names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Each action name may be registered once.
func (r *Registry) Register(action string, h Handler) error {
	if action == "" {
		return fmt.Errorf("reactor: empty action name")
	}
	if h == nil {
		return fmt.Errorf("reactor: nil handler for %q", action)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if _, ok := r.handlers[action]; ok {
		return fmt.Errorf("reactor: handler for %q already registered", action)
	}
	r.handlers[action] = h
	r.order = append(r.order, action)
	return nil
}

// RegisterFunc is Register for plain functions.
func (r *Registry) RegisterFunc(action string, fn func(ctx context.Context, call Call) (Operation, error)) error {
	return r.Register(action, HandlerFunc(fn))
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the handler for action.
func (r *Registry) Lookup(action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[action]
	return h, ok
}

// Names returns the registered action names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Missing returns the declared actions that have no handler.
func (r *Registry) Missing(declared []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range declared {
		if _, ok := r.handlers[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

package hostfunc

import (
	"context"
	"sort"
	"sync"
)

// Func is a host function reachable from a guest through the call protocol.
// Implementations must honour ctx: it expires with the guest's execution deadline.
type Func func(ctx context.Context, args map[string]any) (any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy, so callers can add per-executor
// built-ins without mutating a registry shared elsewhere.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{funcs: make(map[string]Func, len(r.funcs))}
	for name, fn := range r.funcs {
		c.funcs[name] = fn
	}
	return c
}

// RegisterIfAbsent keeps a caller-provided function over a built-in of the same name.
func (r *Registry) RegisterIfAbsent(name string, fn Func) {
	r.mu.Lock()
	if _, ok := r.funcs[name]; !ok {
		r.funcs[name] = fn
	}
	r.mu.Unlock()
}

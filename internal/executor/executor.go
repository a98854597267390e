// Package executor runs migration handlers through named engines.
package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// DefaultEngine is used when a migration names no engine.
const DefaultEngine = "sql"

// ErrUnknownEngine is returned when no engine is registered under a name.
var ErrUnknownEngine = errors.New("unknown engine")

// Engine executes one handler, e.g. a SQL script location.
type Engine interface {
	Execute(ctx context.Context, handler string) error
}

// Func adapts a function to the Engine interface.
type Func func(ctx context.Context, handler string) error

func (f Func) Execute(ctx context.Context, handler string) error {
	return f(ctx, handler)
}

// Registry maps engine names to engines.
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds e under name. Names must be unique.
func (r *Registry) Register(name string, e Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[name]; ok {
		return fmt.Errorf("engine %q already registered", name)
	}
	r.engines[name] = e
	return nil
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Execute runs handler with the named engine. An empty name selects
// DefaultEngine.
func (r *Registry) Execute(ctx context.Context, engine, handler string) error {
	if engine == "" {
		engine = DefaultEngine
	}
	r.mu.RLock()
	e, ok := r.engines[engine]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("execute %s: %w %q", handler, ErrUnknownEngine, engine)
	}
	if err := e.Execute(ctx, handler); err != nil {
		return fmt.Errorf("execute %s with %s: %w", handler, engine, err)
	}
	return nil
}

package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Provider runs one workload to completion. Implementations are resolved by
// name from a Registry during bootstrap and invoked exactly once.
type Provider interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// Invocation is everything a provider receives when it is invoked.
type Invocation struct {
	Selectors Selectors
	// Stdout and Stderr are the captured workload output streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Result summarizes a completed invocation.
type Result struct {
	Selectors int
	Duration  time.Duration
}

// Params is what a Factory receives to construct a provider.
type Params struct {
	Config      map[string]any
	Environment map[string]string
	Logger      *slog.Logger
}

// Factory constructs a named provider.
type Factory struct {
	Name string
	// New builds the provider. Errors here are bootstrap failures.
	New func(p Params) (Provider, error)
	// Validate checks provider config without constructing anything. Optional.
	Validate func(cfg map[string]any) error
}

// Registry holds the providers a worker can be booted with.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, f := range []Factory{ProcessFactory(), EchoFactory(), FailFactory()} {
		if err := r.Add(f); err != nil {
			panic(err)
		}
	}
	return r
}

// Add registers a factory. Names must be unique.
func (r *Registry) Add(f Factory) error {
	if f.Name == "" {
		return fmt.Errorf("provider name is empty")
	}
	if f.New == nil {
		return fmt.Errorf("provider %q has no constructor", f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[f.Name]; exists {
		return fmt.Errorf("provider %q already registered", f.Name)
	}
	r.factories[f.Name] = f
	return nil
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate runs the named provider's config validation.
func (r *Registry) Validate(name string, cfg map[string]any) error {
	f, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q (registered: %v)", ErrUnknownProvider, name, r.Names())
	}
	if f.Validate == nil {
		return nil
	}
	return f.Validate(cfg)
}

// Resolve validates and constructs the named provider.
func (r *Registry) Resolve(name string, p Params) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: no provider configured", ErrUnknownProvider)
	}
	if err := r.Validate(name, p.Config); err != nil {
		return nil, err
	}
	f, _ := r.Get(name)
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	prov, err := f.New(p)
	if err != nil {
		return nil, fmt.Errorf("construct provider %q: %w", name, err)
	}
	return prov, nil
}

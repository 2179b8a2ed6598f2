// internal/adapter/registry.go
package adapter

import (
	"fmt"
)

// Registry holds the closed adapter set. Register during startup, then
// Seal; sealed registries reject further registration so concurrent
// reconciliations never observe a mutating dispatch table.
type Registry struct {
	adapters map[CLIType]Adapter
	sealed   bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[CLIType]Adapter)}
}

// NewDefaultRegistry builds and seals a registry with all six adapters.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, a := range []Adapter{
		newClaudeAdapter(),
		newCodexAdapter(),
		newCursorAdapter(),
		newFactoryAdapter(),
		newGeminiAdapter(),
		newOpenCodeAdapter(),
	} {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	r.Seal()
	return r, nil
}

// Register adds an adapter. Fails on duplicates or after sealing.
func (r *Registry) Register(a Adapter) error {
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, a.Type())
	}
	if _, exists := r.adapters[a.Type()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAdapter, a.Type())
	}
	r.adapters[a.Type()] = a
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.sealed = true
}

// Resolve returns the adapter for a CLI type.
func (r *Registry) Resolve(t CLIType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, t)
	}
	return a, nil
}

// Types returns the registered CLI types.
func (r *Registry) Types() []CLIType {
	types := make([]CLIType, 0, len(r.adapters))
	for _, t := range AllCLITypes() {
		if _, ok := r.adapters[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

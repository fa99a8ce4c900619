// factory.go: Entrypoint-keyed plugin unit factories
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"sync"
)

// PluginFactory constructs a plugin unit from its manifest. Factories
// receive the full manifest so Settings can drive construction; they
// must not start the unit, that is Load's job.
type PluginFactory func(manifest *Manifest) (PluginUnit, error)

// FactoryRegistry maps manifest entrypoints to plugin unit factories.
//
// The loader resolves every manifest's Entrypoint against this registry
// before constructing the unit. Registration is typically done once at
// startup, before the runtime starts, but the registry is safe for
// concurrent use.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]PluginFactory
}

// NewFactoryRegistry creates an empty factory registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		factories: make(map[string]PluginFactory),
	}
}

// Register binds a factory to an entrypoint. Registering an entrypoint
// twice is an error; use Replace for deliberate overrides.
func (r *FactoryRegistry) Register(entrypoint string, factory PluginFactory) error {
	if entrypoint == "" {
		return NewEntrypointUnknownError(entrypoint)
	}
	if factory == nil {
		return NewLoadValidationError(entrypoint, "factory must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[entrypoint]; exists {
		return NewDuplicateFactoryError(entrypoint)
	}
	r.factories[entrypoint] = factory
	return nil
}

// Replace binds a factory to an entrypoint, overwriting any existing
// binding.
func (r *FactoryRegistry) Replace(entrypoint string, factory PluginFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[entrypoint] = factory
}

// Resolve returns the factory bound to the entrypoint.
func (r *FactoryRegistry) Resolve(entrypoint string) (PluginFactory, error) {
	r.mu.RLock()
	factory, ok := r.factories[entrypoint]
	r.mu.RUnlock()
	if !ok {
		return nil, NewEntrypointUnknownError(entrypoint)
	}
	return factory, nil
}

// Entrypoints returns the registered entrypoint names.
func (r *FactoryRegistry) Entrypoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

// plugin.go: Plugin unit contract
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"sync"
	"sync/atomic"
)

// PluginUnit is the lifecycle contract every loadable plugin implements.
//
// The runtime constructs units through registered factories, calls Load
// exactly once per successful load, and calls Unload exactly once per
// unregistration. Implementations must tolerate Unload without a prior
// successful Load.
//
// Load and Unload receive a context carrying the runtime's deadline;
// implementations should return promptly when it is cancelled.
type PluginUnit interface {
	// Descriptor returns the unit's identity and activity flag.
	Descriptor() PluginDescriptor

	// Load initializes the unit. It is called once, before Ready may
	// return true.
	Load(ctx context.Context) error

	// Unload releases the unit's resources. After Unload returns nil
	// the unit is never used again.
	Unload(ctx context.Context) error

	// Ready reports whether the unit is loaded and able to serve.
	Ready() bool
}

// Snapshotter is optionally implemented by plugin units that can
// capture and restore their configuration and state. The lifecycle
// manager uses it to populate rollback points before upgrades and to
// restore them on downgrade. Units that do not implement it still
// participate in versioning; their rollback points carry empty
// snapshots.
type Snapshotter interface {
	// Snapshot captures the unit's current configuration and state.
	Snapshot() (config map[string]any, state map[string]any, err error)

	// Restore applies a previously captured configuration and state.
	Restore(config map[string]any, state map[string]any) error
}

// BasePlugin provides the bookkeeping shared by most plugin unit
// implementations: descriptor storage and an atomic active flag wired
// into Load, Unload and Ready. Embed it and override the lifecycle
// methods that need real work:
//
//	type cachePlugin struct {
//		pluginkit.BasePlugin
//		store *bigcache.BigCache
//	}
//
//	func (p *cachePlugin) Load(ctx context.Context) error {
//		store, err := bigcache.New(ctx, bigcache.DefaultConfig(time.Minute))
//		if err != nil {
//			return err
//		}
//		p.store = store
//		return p.BasePlugin.Load(ctx)
//	}
type BasePlugin struct {
	mu         sync.RWMutex
	descriptor PluginDescriptor
	active     atomic.Bool
}

// NewBasePlugin creates a base plugin with the given identity.
func NewBasePlugin(name, version string) *BasePlugin {
	return &BasePlugin{
		descriptor: PluginDescriptor{Name: name, Version: version},
	}
}

// Descriptor returns the unit's identity with the live activity flag.
func (p *BasePlugin) Descriptor() PluginDescriptor {
	p.mu.RLock()
	d := p.descriptor
	p.mu.RUnlock()
	d.IsActive = p.active.Load()
	return d
}

// Load marks the unit active.
func (p *BasePlugin) Load(ctx context.Context) error {
	p.active.Store(true)
	return nil
}

// Unload marks the unit inactive.
func (p *BasePlugin) Unload(ctx context.Context) error {
	p.active.Store(false)
	return nil
}

// Ready reports whether Load has completed without a later Unload.
func (p *BasePlugin) Ready() bool {
	return p.active.Load()
}

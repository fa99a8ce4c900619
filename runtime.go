// runtime.go: Runtime orchestration of discovery, registration and recovery
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"sync/atomic"
)

// Runtime lifecycle states
const (
	runtimeCreated int32 = iota
	runtimeStarted
	runtimeStopped
)

// Runtime is the top-level plugin lifecycle runtime. It owns every
// component and wires them together: scanner feeding the registry,
// dependency-ordered registration through the controller, health
// checking with breaker protection, error recovery, and versioned
// lifecycle management.
//
// Construction is explicit; there is no package-level singleton. Create
// a Runtime, start it, and pass it (or the components it exposes) to
// whatever needs them.
type Runtime struct {
	config     RuntimeConfig
	logger     Logger
	bus        *EventBus
	scanner    *ManifestScanner
	registry   *MetadataRegistry
	factories  *FactoryRegistry
	loader     *PluginLoader
	controller *RegistrationController
	monitor    *HealthMonitor
	breakers   *BreakerSet
	recovery   *RecoverySubsystem
	lifecycle  *LifecycleManager

	state atomic.Int32
}

// NewRuntime builds a runtime from the configuration and factory set.
// Zero config fields take defaults; a nil logger silences all output.
func NewRuntime(config RuntimeConfig, factories *FactoryRegistry, logger Logger) (*Runtime, error) {
	if factories == nil {
		return nil, NewRuntimeStateError("factory registry is required")
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	setRuntimeConfigDefaults(&config)

	rt := &Runtime{
		config:    config,
		logger:    logger,
		factories: factories,
	}

	rt.bus = NewEventBus(logger)
	rt.scanner = NewManifestScanner(config.Scanner, logger)
	rt.registry = NewMetadataRegistry(logger)
	rt.loader = NewPluginLoader(config.Loader, rt.registry, factories, logger)
	rt.controller = NewRegistrationController(config.Controller, rt.registry, rt.loader, rt.bus, logger)
	rt.breakers = NewBreakerSet(config.Breaker, rt.onBreakerStateChange)
	rt.monitor = NewHealthMonitor(config.Health, logger)
	rt.recovery = NewRecoverySubsystem(config.Recovery, rt, rt.bus, logger)
	rt.lifecycle = NewLifecycleManager(config.Lifecycle, rt.loader, logger)

	// Health checking follows registration wherever it happens: the
	// startup sweep, retry timers, manifest-change reloads and direct
	// controller calls all publish these events.
	if config.Health.Enabled {
		rt.bus.Subscribe(EventRegistered, func(e Event) { rt.watchHealth(e.Plugin) })
		rt.bus.Subscribe(EventUnregistered, func(e Event) { rt.monitor.Unregister(e.Plugin) })
	}

	return rt, nil
}

// Start scans for plugins, registers them in dependency order and
// begins watching and health checking as configured. Start can be
// called once; a stopped runtime cannot be restarted.
func (rt *Runtime) Start(ctx context.Context) error {
	if !rt.state.CompareAndSwap(runtimeCreated, runtimeStarted) {
		return NewRuntimeStateError("runtime already started")
	}

	discovered, err := rt.scanner.Scan(ctx)
	if err != nil {
		rt.logger.Warn("Initial scan reported an error", "error", err)
	}

	for _, meta := range discovered {
		if meta.Manifest == nil || meta.Manifest.Name == "" {
			rt.logger.Warn("Discovered manifest has no name, skipping", "path", meta.SourceLocation)
			continue
		}
		if err := rt.registry.Upsert(meta); err != nil {
			rt.logger.Warn("Cannot register metadata", "path", meta.SourceLocation, "error", err)
			continue
		}
		if meta.IsValid {
			_ = rt.lifecycle.Install(meta.Manifest.Name, PluginVersion{
				Version:     meta.Manifest.Version,
				Author:      meta.Manifest.Author,
				Description: meta.Manifest.Description,
				Checksum:    meta.Checksum,
			})
		}
	}

	if rt.config.Controller.AutoRegister {
		if err := rt.registerDiscovered(ctx); err != nil {
			return err
		}
	}

	if rt.config.WatchManifests {
		if err := rt.scanner.Watch(rt.onManifestChange); err != nil {
			return err
		}
	}

	rt.logger.Info("Runtime started",
		"discovered", len(discovered), "registered", len(rt.controller.RegisteredNames()))
	return nil
}

// registerDiscovered registers every valid discovered plugin in
// dependency order. Individual failures do not stop the sweep; the
// controller's retry machinery keeps working on them.
func (rt *Runtime) registerDiscovered(ctx context.Context) error {
	order, err := rt.registry.ResolveLoadOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		meta, getErr := rt.registry.Get(name)
		if getErr != nil || !meta.IsValid {
			continue
		}
		if regErr := rt.controller.Register(ctx, name); regErr != nil {
			rt.recovery.Report(ctx, name, CategoryPluginLoad, SeverityHigh,
				regErr.Error(), map[string]any{"phase": "startup"})
		}
	}
	return nil
}

// watchHealth starts breaker-protected health checking for a
// registered plugin.
func (rt *Runtime) watchHealth(name string) {
	var breaker *CircuitBreaker
	if rt.config.Breaker.Enabled {
		breaker = rt.breakers.Get(name)
	}
	probe := func(ctx context.Context) HealthResult {
		handle, ok := rt.loader.Handle(name)
		if !ok {
			return HealthResult{Status: HealthOffline, Message: "not loaded"}
		}
		if !handle.Unit.Ready() {
			return HealthResult{Status: HealthUnhealthy, Message: "unit not ready"}
		}
		return HealthResult{Status: HealthHealthy}
	}

	err := rt.monitor.Register(name, probe, breaker, func(component string, result HealthResult) {
		// Remedial work runs off the check loop: a reload re-registers
		// the component, which replaces this very checker, and stopping
		// a checker from its own loop would wait forever.
		go func() {
			rt.bus.Publish(Event{Type: EventAlertTriggered, Plugin: component, Data: map[string]any{
				"alert":  "component_offline",
				"status": result.Status.String(),
			}})
			rt.recovery.Report(context.Background(), component, CategoryHealth, SeverityHigh,
				result.Message, map[string]any{"status": result.Status.String()})
			if rt.config.Health.AutoReload {
				if reloadErr := rt.controller.Reload(context.Background(), component); reloadErr != nil {
					rt.logger.Error("Auto-reload failed", "plugin", component, "error", reloadErr)
				}
			}
		}()
	})
	if err != nil {
		rt.logger.Error("Cannot start health checker", "plugin", name, "error", err)
	}
}

// onManifestChange reacts to watched manifest events: deletions
// unregister and forget the plugin, modifications update the registry
// and reload the plugin.
func (rt *Runtime) onManifestChange(change ManifestChange) {
	ctx := context.Background()

	if change.Deleted {
		name := rt.nameForSource(change.Path)
		rt.bus.Publish(Event{Type: EventManifestChanged, Plugin: name, Data: map[string]any{
			"path":    change.Path,
			"deleted": true,
		}})
		if name == "" {
			return
		}
		if err := rt.controller.Unregister(ctx, name); err != nil {
			rt.logger.Warn("Unregister after manifest delete failed", "plugin", name, "error", err)
		}
		rt.monitor.Unregister(name)
		rt.breakers.Remove(name)
		rt.registry.Remove(name)
		return
	}

	meta := change.Metadata
	if meta == nil || meta.Manifest == nil || meta.Manifest.Name == "" {
		rt.logger.Warn("Changed manifest has no name, ignoring", "path", change.Path)
		return
	}
	name := meta.Manifest.Name

	rt.bus.Publish(Event{Type: EventManifestChanged, Plugin: name, Data: map[string]any{
		"path":  change.Path,
		"valid": meta.IsValid,
	}})

	if err := rt.registry.Upsert(meta); err != nil {
		rt.logger.Warn("Cannot update metadata after change", "path", change.Path, "error", err)
		return
	}
	if !meta.IsValid {
		rt.logger.Warn("Changed manifest is invalid, keeping current plugin", "plugin", name)
		return
	}
	if err := rt.controller.Reload(ctx, name); err != nil {
		rt.recovery.Report(ctx, name, CategoryConfiguration, SeverityMedium,
			err.Error(), map[string]any{"phase": "manifest_change"})
	}
}

// nameForSource finds the registered plugin whose metadata came from
// the given manifest path.
func (rt *Runtime) nameForSource(path string) string {
	for _, meta := range rt.registry.List() {
		if meta.SourceLocation == path {
			return meta.Manifest.Name
		}
	}
	return ""
}

// onBreakerStateChange publishes an alert when a circuit opens.
func (rt *Runtime) onBreakerStateChange(component string, from, to BreakerState) {
	rt.logger.Warn("Circuit breaker state change",
		"component", component, "from", from.String(), "to", to.String())
	if to == BreakerOpen {
		rt.bus.Publish(Event{Type: EventAlertTriggered, Plugin: component, Data: map[string]any{
			"alert": "circuit_open",
			"from":  from.String(),
		}})
	}
}

// Shutdown stops watching and health checking, cancels pending retries
// and unregisters every plugin best-effort. Unload failures are logged
// and do not stop the drain.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if !rt.state.CompareAndSwap(runtimeStarted, runtimeStopped) {
		return NewRuntimeStateError("runtime is not running")
	}

	if err := rt.scanner.Stop(); err != nil {
		rt.logger.Warn("Scanner stop failed", "error", err)
	}
	rt.monitor.Stop()
	rt.controller.Close()
	rt.controller.drain(ctx)

	rt.logger.Info("Runtime stopped")
	return nil
}

// RetryComponent implements RecoveryActions by re-running the
// component's registration.
func (rt *Runtime) RetryComponent(ctx context.Context, component string) error {
	return rt.controller.Register(ctx, component)
}

// ReloadComponent implements RecoveryActions by unregistering and
// re-registering the component.
func (rt *Runtime) ReloadComponent(ctx context.Context, component string) error {
	return rt.controller.Reload(ctx, component)
}

// RollbackComponent implements RecoveryActions by downgrading the
// component to its most recent rollback point.
func (rt *Runtime) RollbackComponent(ctx context.Context, component string) error {
	return rt.lifecycle.Downgrade(ctx, component, "")
}

// Registry exposes the metadata registry.
func (rt *Runtime) Registry() *MetadataRegistry { return rt.registry }

// Loader exposes the plugin loader.
func (rt *Runtime) Loader() *PluginLoader { return rt.loader }

// Controller exposes the registration controller.
func (rt *Runtime) Controller() *RegistrationController { return rt.controller }

// Health exposes the health monitor.
func (rt *Runtime) Health() *HealthMonitor { return rt.monitor }

// Breakers exposes the circuit breaker set.
func (rt *Runtime) Breakers() *BreakerSet { return rt.breakers }

// Recovery exposes the recovery subsystem.
func (rt *Runtime) Recovery() *RecoverySubsystem { return rt.recovery }

// Lifecycle exposes the lifecycle manager.
func (rt *Runtime) Lifecycle() *LifecycleManager { return rt.lifecycle }

// Events exposes the event bus.
func (rt *Runtime) Events() *EventBus { return rt.bus }

// IsRunning reports whether the runtime has started and not stopped.
func (rt *Runtime) IsRunning() bool {
	return rt.state.Load() == runtimeStarted
}

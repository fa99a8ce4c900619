// controller.go: Registration state machine with per-plugin serialization
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// RegistrationInfo is the controller's record for one plugin.
type RegistrationInfo struct {
	PluginName   string             `json:"plugin_name"`
	Status       RegistrationStatus `json:"status"`
	Metadata     *PluginMetadata    `json:"metadata,omitempty"`
	Handle       *PluginHandle      `json:"-"`
	LastError    string             `json:"last_error,omitempty"`
	RegisteredAt time.Time          `json:"registered_at,omitempty"`
	LastUpdated  time.Time          `json:"last_updated"`
	LoadTime     time.Duration      `json:"load_time"`
	RetryCount   int                `json:"retry_count"`
}

// keyedMutex serializes operations per key. Mutexes are created on
// first use and retained; the set of keys is bounded by plugin names.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// RegistrationController drives plugins through the registration state
// machine: NotRegistered -> Registering -> Registered or Failed, and
// Registered -> Unregistering -> removed.
//
// All transitions for one plugin name are serialized on that name, so
// concurrent Register calls for the same plugin collapse into one
// registration and an idempotent success. Failed registrations retry on
// a fixed delay until the retry budget is spent.
type RegistrationController struct {
	config   ControllerConfig
	registry *MetadataRegistry
	loader   *PluginLoader
	bus      *EventBus
	logger   Logger

	names  *keyedMutex
	closed atomic.Bool

	mu     sync.RWMutex
	infos  map[string]*RegistrationInfo
	timers map[string]*time.Timer
}

// NewRegistrationController creates a controller over the given
// registry and loader.
func NewRegistrationController(config ControllerConfig, registry *MetadataRegistry,
	loader *PluginLoader, bus *EventBus, logger Logger) *RegistrationController {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &RegistrationController{
		config:   config,
		registry: registry,
		loader:   loader,
		bus:      bus,
		logger:   logger,
		names:    newKeyedMutex(),
		infos:    make(map[string]*RegistrationInfo),
		timers:   make(map[string]*time.Timer),
	}
}

// Register drives the named plugin to Registered. Registering an
// already registered plugin is an idempotent no-op.
func (c *RegistrationController) Register(ctx context.Context, name string) error {
	if c.closed.Load() {
		return NewControllerClosedError()
	}

	unlock := c.names.lock(name)
	defer unlock()
	return c.registerLocked(ctx, name)
}

// registerLocked runs a registration attempt. The caller must hold the
// name lock.
func (c *RegistrationController) registerLocked(ctx context.Context, name string) error {
	now := timecache.CachedTime()

	c.mu.Lock()
	info, exists := c.infos[name]
	if exists && info.Status == StatusRegistered {
		c.mu.Unlock()
		c.logger.Debug("Plugin already registered", "plugin", name)
		return nil
	}
	if !exists {
		info = &RegistrationInfo{PluginName: name}
		c.infos[name] = info
	}
	info.Status = StatusRegistering
	info.LastUpdated = now
	c.mu.Unlock()

	meta, err := c.registry.Get(name)
	if err != nil {
		return c.failRegistration(name, err)
	}

	report, err := c.registry.ValidateDependencies(name)
	if err != nil {
		return c.failRegistration(name, err)
	}
	if !report.Valid {
		return c.failRegistration(name, NewDependencyMissingError(name, report.Missing))
	}

	result := c.loader.Load(ctx, name)
	if !result.Success {
		return c.failRegistration(name, result.Err)
	}

	now = timecache.CachedTime()
	c.mu.Lock()
	info = c.infos[name]
	info.Status = StatusRegistered
	info.Metadata = meta
	info.Handle = result.Handle
	info.LastError = ""
	info.RegisteredAt = now
	info.LastUpdated = now
	info.LoadTime = result.LoadTime
	info.RetryCount = 0
	c.mu.Unlock()

	c.logger.Info("Plugin registered", "plugin", name, "version", meta.Manifest.Version, "load_time", result.LoadTime)
	c.publish(EventRegistered, name, map[string]any{"version": meta.Manifest.Version})
	return nil
}

// failRegistration marks the attempt failed and schedules a retry when
// budget remains.
func (c *RegistrationController) failRegistration(name string, cause error) error {
	c.mu.Lock()
	info := c.infos[name]
	info.Status = StatusRegistrationFailed
	info.LastError = cause.Error()
	info.LastUpdated = timecache.CachedTime()

	retryScheduled := false
	if info.RetryCount < c.config.MaxRetryAttempts && !c.closed.Load() {
		info.RetryCount++
		retryScheduled = true
		attempt := info.RetryCount
		c.timers[name] = time.AfterFunc(c.config.RetryDelay, func() {
			c.retry(name, attempt)
		})
	}
	c.mu.Unlock()

	c.logger.Error("Plugin registration failed",
		"plugin", name, "error", cause, "retry_scheduled", retryScheduled)
	c.publish(EventRegistrationFailed, name, map[string]any{
		"error":           cause.Error(),
		"retry_scheduled": retryScheduled,
	})

	return NewRegistrationFailedError(name, cause)
}

// retry runs a scheduled registration attempt.
func (c *RegistrationController) retry(name string, attempt int) {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	delete(c.timers, name)
	c.mu.Unlock()

	c.logger.Info("Retrying plugin registration", "plugin", name, "attempt", attempt)

	unlock := c.names.lock(name)
	defer unlock()

	// A concurrent register or unregister may have settled the plugin
	// while the timer was pending.
	c.mu.RLock()
	info, exists := c.infos[name]
	settled := !exists || info.Status == StatusRegistered
	c.mu.RUnlock()
	if settled {
		return
	}

	_ = c.registerLocked(context.Background(), name)
}

// Unregister removes a registered plugin: unloads its unit and deletes
// the registration record. On unload failure the record keeps its
// previous status and the error is returned.
func (c *RegistrationController) Unregister(ctx context.Context, name string) error {
	if c.closed.Load() {
		return NewControllerClosedError()
	}

	unlock := c.names.lock(name)
	defer unlock()
	return c.unregisterLocked(ctx, name)
}

// unregisterLocked runs an unregistration. The caller must hold the
// name lock.
func (c *RegistrationController) unregisterLocked(ctx context.Context, name string) error {
	c.mu.Lock()
	info, exists := c.infos[name]
	if !exists {
		c.mu.Unlock()
		return NewPluginNotFoundError(name)
	}
	previous := info.Status
	info.Status = StatusUnregistering
	info.LastUpdated = timecache.CachedTime()
	if timer, ok := c.timers[name]; ok {
		timer.Stop()
		delete(c.timers, name)
	}
	c.mu.Unlock()

	if err := c.loader.Unload(ctx, name); err != nil {
		c.mu.Lock()
		info.Status = previous
		info.LastError = err.Error()
		info.LastUpdated = timecache.CachedTime()
		c.mu.Unlock()
		return NewUnregisterFailedError(name, err)
	}

	c.mu.Lock()
	delete(c.infos, name)
	c.mu.Unlock()

	c.logger.Info("Plugin unregistered", "plugin", name)
	c.publish(EventUnregistered, name, nil)
	return nil
}

// Reload unregisters and re-registers a plugin under a single name
// lock, so no other operation can interleave between the two halves.
// A plugin that was never registered is simply registered.
func (c *RegistrationController) Reload(ctx context.Context, name string) error {
	if c.closed.Load() {
		return NewControllerClosedError()
	}

	unlock := c.names.lock(name)
	defer unlock()

	c.mu.RLock()
	_, exists := c.infos[name]
	c.mu.RUnlock()
	if exists {
		if err := c.unregisterLocked(ctx, name); err != nil {
			return err
		}
	}
	return c.registerLocked(ctx, name)
}

// Status returns a copy of the registration record for a plugin. A
// plugin without a record reports StatusNotRegistered.
func (c *RegistrationController) Status(name string) RegistrationInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if info, ok := c.infos[name]; ok {
		return *info
	}
	return RegistrationInfo{PluginName: name, Status: StatusNotRegistered}
}

// List returns a copy of every registration record.
func (c *RegistrationController) List() []RegistrationInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RegistrationInfo, 0, len(c.infos))
	for _, info := range c.infos {
		out = append(out, *info)
	}
	return out
}

// RegisteredNames returns the names of all plugins currently in the
// Registered state.
func (c *RegistrationController) RegisteredNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.infos))
	for name, info := range c.infos {
		if info.Status == StatusRegistered {
			out = append(out, name)
		}
	}
	return out
}

// ControllerStats summarizes the controller's registration records.
type ControllerStats struct {
	CountsByStatus  map[string]int `json:"counts_by_status"`
	AverageLoadTime time.Duration  `json:"average_load_time"`
	RetryRate       float64        `json:"retry_rate"`
}

// Stats returns counts by status, average load time across registered
// plugins, and the fraction of plugins that have retried at least once.
func (c *RegistrationController) Stats() ControllerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := ControllerStats{CountsByStatus: make(map[string]int)}
	var totalLoad time.Duration
	var loaded, retried int
	for _, info := range c.infos {
		stats.CountsByStatus[info.Status.String()]++
		if info.Status == StatusRegistered {
			totalLoad += info.LoadTime
			loaded++
		}
		if info.RetryCount > 0 {
			retried++
		}
	}
	if loaded > 0 {
		stats.AverageLoadTime = totalLoad / time.Duration(loaded)
	}
	if len(c.infos) > 0 {
		stats.RetryRate = float64(retried) / float64(len(c.infos))
	}
	return stats
}

// Close stops the controller: pending retry timers are cancelled and
// further Register and Unregister calls fail.
func (c *RegistrationController) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	for name, timer := range c.timers {
		timer.Stop()
		delete(c.timers, name)
	}
	c.mu.Unlock()
}

// drain unregisters every known plugin best-effort during shutdown.
// Errors are logged, not returned; shutdown keeps going.
func (c *RegistrationController) drain(ctx context.Context) {
	c.mu.RLock()
	names := make([]string, 0, len(c.infos))
	for name := range c.infos {
		names = append(names, name)
	}
	c.mu.RUnlock()

	for _, name := range names {
		unlock := c.names.lock(name)
		if err := c.unregisterLocked(ctx, name); err != nil {
			c.logger.Warn("Shutdown unregister failed", "plugin", name, "error", err)
		}
		unlock()
	}
}

func (c *RegistrationController) publish(t EventType, plugin string, data map[string]any) {
	if c.bus != nil {
		c.bus.Publish(Event{Type: t, Plugin: plugin, Data: data})
	}
}

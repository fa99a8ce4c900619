// loader.go: Gated plugin loading with timeouts and bounded parallelism
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// PluginHandle is a live, loaded plugin unit with its metadata.
type PluginHandle struct {
	Name     string          `json:"name"`
	Unit     PluginUnit      `json:"-"`
	Metadata *PluginMetadata `json:"metadata"`
	LoadedAt time.Time       `json:"loaded_at"`
}

// LoadResult is the outcome of a single load attempt.
//
// A cache hit returns the existing handle with Success=true, a zero
// LoadTime and a warning noting the reuse.
type LoadResult struct {
	Success  bool          `json:"success"`
	Handle   *PluginHandle `json:"handle,omitempty"`
	Err      error         `json:"-"`
	LoadTime time.Duration `json:"load_time"`
	Warnings []string      `json:"warnings,omitempty"`
}

// LoadRecord accumulates per-plugin load statistics.
type LoadRecord struct {
	Name          string        `json:"name"`
	LoadCount     int64         `json:"load_count"`
	FailureCount  int64         `json:"failure_count"`
	LastLoadTime  time.Duration `json:"last_load_time"`
	TotalLoadTime time.Duration `json:"total_load_time"`
	LastError     string        `json:"last_error,omitempty"`
}

// PluginLoader turns registry metadata into live plugin handles.
//
// Every load passes through the same gates, in order: cache reuse,
// metadata validity and runtime version bounds, dependency presence,
// factory resolution, and finally the unit's own Load under a hard
// timeout. A load that exceeds the timeout is reported failed and its
// partial handle is discarded; if the late Load eventually succeeds the
// unit is unloaded in the background so nothing leaks.
type PluginLoader struct {
	config    LoaderConfig
	registry  *MetadataRegistry
	factories *FactoryRegistry
	logger    Logger

	mu      sync.RWMutex
	handles map[string]*PluginHandle
	records map[string]*LoadRecord
}

// NewPluginLoader creates a loader over the given registry and factories.
// Zero config fields take the same defaults NewRuntime applies.
func NewPluginLoader(config LoaderConfig, registry *MetadataRegistry, factories *FactoryRegistry, logger Logger) *PluginLoader {
	if logger == nil {
		logger = DefaultLogger()
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 30 * time.Second
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 3
	}
	if config.RuntimeVersion == "" {
		config.RuntimeVersion = RuntimeVersion
	}
	return &PluginLoader{
		config:    config,
		registry:  registry,
		factories: factories,
		logger:    logger,
		handles:   make(map[string]*PluginHandle),
		records:   make(map[string]*LoadRecord),
	}
}

// Load loads a single plugin by name through all gates.
func (l *PluginLoader) Load(ctx context.Context, name string) *LoadResult {
	// Gate 1: cache reuse
	l.mu.RLock()
	existing := l.handles[name]
	l.mu.RUnlock()
	if existing != nil {
		l.logger.Warn("Plugin already loaded, reusing handle", "plugin", name)
		return &LoadResult{
			Success:  true,
			Handle:   existing,
			Warnings: []string{"plugin already loaded, existing handle reused"},
		}
	}

	meta, err := l.registry.Get(name)
	if err != nil {
		return l.failure(name, 0, err)
	}

	// Gate 2: validity and runtime version bounds
	if !meta.IsValid {
		return l.failure(name, 0, NewLoadValidationError(name, "manifest did not validate"))
	}
	if !meta.Manifest.SupportsRuntime(l.config.RuntimeVersion) {
		bound := meta.Manifest.MinimumRuntimeVersion
		if max := meta.Manifest.MaximumRuntimeVersion; max != "" && CompareNumeric(l.config.RuntimeVersion, max) > 0 {
			bound = max
		}
		return l.failure(name, 0, NewRuntimeVersionError(name, bound, l.config.RuntimeVersion))
	}

	// Gate 3: dependencies must already be loaded
	var missing []string
	l.mu.RLock()
	for _, dep := range meta.Manifest.Dependencies {
		if _, loaded := l.handles[dep]; !loaded {
			missing = append(missing, dep)
		}
	}
	l.mu.RUnlock()
	if len(missing) > 0 {
		return l.failure(name, 0, NewLoadDependencyError(name, missing))
	}

	// Gate 4: factory resolution
	factory, err := l.factories.Resolve(meta.Manifest.Entrypoint)
	if err != nil {
		return l.failure(name, 0, err)
	}

	unit, err := factory(meta.Manifest)
	if err != nil {
		return l.failure(name, 0, NewLoadFailedError(name, err))
	}

	// Gate 5: the unit's own Load under the hard timeout
	start := time.Now()
	loadCtx, cancel := context.WithTimeout(ctx, l.config.LoadTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- unit.Load(loadCtx) }()

	select {
	case err = <-done:
		if err != nil {
			return l.failure(name, time.Since(start), NewLoadFailedError(name, err))
		}
	case <-loadCtx.Done():
		// Discard the partial handle. If the late Load still manages to
		// finish, unload the orphan so its resources are released.
		go func() {
			if lateErr := <-done; lateErr == nil {
				_ = unit.Unload(context.Background())
			}
		}()
		return l.failure(name, time.Since(start), NewLoadTimeoutError(name, l.config.LoadTimeout))
	}

	elapsed := time.Since(start)
	handle := &PluginHandle{
		Name:     name,
		Unit:     unit,
		Metadata: meta,
		LoadedAt: timecache.CachedTime(),
	}

	l.mu.Lock()
	// A concurrent load may have won the race; keep the first handle.
	if prior, exists := l.handles[name]; exists {
		l.mu.Unlock()
		go func() { _ = unit.Unload(context.Background()) }()
		return &LoadResult{
			Success:  true,
			Handle:   prior,
			Warnings: []string{"plugin already loaded, existing handle reused"},
		}
	}
	l.handles[name] = handle
	record := l.recordLocked(name)
	record.LoadCount++
	record.LastLoadTime = elapsed
	record.TotalLoadTime += elapsed
	record.LastError = ""
	l.mu.Unlock()

	l.logger.Info("Plugin loaded", "plugin", name, "load_time", elapsed)
	return &LoadResult{Success: true, Handle: handle, LoadTime: elapsed}
}

// BulkLoadResult is the aggregate outcome of LoadMany.
type BulkLoadResult struct {
	Succeeded []string               `json:"succeeded"`
	Failed    []string               `json:"failed"`
	Results   map[string]*LoadResult `json:"results"`
	WallTime  time.Duration          `json:"wall_time"`
}

// LoadMany loads the named plugins in chunks of the configured size.
// A failure in one chunk member never blocks its siblings. Order within
// a chunk is concurrent; callers needing dependency order pass names
// sorted by ResolveLoadOrder, or accept the per-plugin dependency gate
// failing fast.
func (l *PluginLoader) LoadMany(ctx context.Context, names []string) *BulkLoadResult {
	start := time.Now()
	bulk := &BulkLoadResult{Results: make(map[string]*LoadResult, len(names))}
	var resultsMu sync.Mutex

	chunk := l.config.ChunkSize
	for offset := 0; offset < len(names); offset += chunk {
		end := offset + chunk
		if end > len(names) {
			end = len(names)
		}

		var wg sync.WaitGroup
		for _, name := range names[offset:end] {
			wg.Add(1)
			go func(pluginName string) {
				defer wg.Done()
				result := l.Load(ctx, pluginName)
				resultsMu.Lock()
				bulk.Results[pluginName] = result
				if result.Success {
					bulk.Succeeded = append(bulk.Succeeded, pluginName)
				} else {
					bulk.Failed = append(bulk.Failed, pluginName)
				}
				resultsMu.Unlock()
			}(name)
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	bulk.WallTime = time.Since(start)
	return bulk
}

// Unload unloads a plugin and removes its handle. Unloading a plugin
// that is not loaded is a no-op.
func (l *PluginLoader) Unload(ctx context.Context, name string) error {
	l.mu.Lock()
	handle, exists := l.handles[name]
	if exists {
		delete(l.handles, name)
	}
	l.mu.Unlock()
	if !exists {
		return nil
	}

	if err := handle.Unit.Unload(ctx); err != nil {
		l.logger.Error("Plugin unload failed", "plugin", name, "error", err)
		return NewUnloadFailedError(name, err)
	}
	l.logger.Info("Plugin unloaded", "plugin", name)
	return nil
}

// Handle returns the live handle for a loaded plugin.
func (l *PluginLoader) Handle(name string) (*PluginHandle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	handle, ok := l.handles[name]
	return handle, ok
}

// LoadedNames returns the names of all currently loaded plugins.
func (l *PluginLoader) LoadedNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.handles))
	for name := range l.handles {
		out = append(out, name)
	}
	return out
}

// Stats returns a copy of the per-plugin load records.
func (l *PluginLoader) Stats() map[string]LoadRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]LoadRecord, len(l.records))
	for name, record := range l.records {
		out[name] = *record
	}
	return out
}

// failure records a failed attempt and builds its result.
func (l *PluginLoader) failure(name string, elapsed time.Duration, err error) *LoadResult {
	l.mu.Lock()
	record := l.recordLocked(name)
	record.FailureCount++
	record.LastError = err.Error()
	l.mu.Unlock()

	l.logger.Error("Plugin load failed", "plugin", name, "error", err)
	return &LoadResult{Err: err, LoadTime: elapsed}
}

// recordLocked returns the load record for a name, creating it if
// needed. Callers must hold l.mu.
func (l *PluginLoader) recordLocked(name string) *LoadRecord {
	record, ok := l.records[name]
	if !ok {
		record = &LoadRecord{Name: name}
		l.records[name] = record
	}
	return record
}

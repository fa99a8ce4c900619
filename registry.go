// registry.go: Atomic snapshot registry of discovered plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DependencyReport is the outcome of checking a plugin's declared
// dependencies against the registry.
type DependencyReport struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing,omitempty"`
}

// registrySnapshot is the immutable state published to readers. Writers
// build a fresh snapshot under the write lock and swap it in atomically,
// so reads never block and never observe a partial update.
type registrySnapshot struct {
	byName       map[string]*PluginMetadata
	byCapability map[string][]*PluginMetadata
	byCategory   map[string][]*PluginMetadata
}

// MetadataRegistry holds the metadata of every discovered plugin and
// answers lookup queries from an atomic snapshot.
type MetadataRegistry struct {
	writeMu  sync.Mutex
	snapshot atomic.Pointer[registrySnapshot]
	logger   Logger
}

// NewMetadataRegistry creates an empty registry.
func NewMetadataRegistry(logger Logger) *MetadataRegistry {
	if logger == nil {
		logger = DefaultLogger()
	}
	r := &MetadataRegistry{logger: logger}
	r.snapshot.Store(newRegistrySnapshot(nil))
	return r
}

func newRegistrySnapshot(byName map[string]*PluginMetadata) *registrySnapshot {
	snap := &registrySnapshot{
		byName:       make(map[string]*PluginMetadata, len(byName)),
		byCapability: make(map[string][]*PluginMetadata),
		byCategory:   make(map[string][]*PluginMetadata),
	}
	for name, meta := range byName {
		snap.byName[name] = meta
		for _, capability := range meta.Manifest.Capabilities {
			snap.byCapability[capability] = append(snap.byCapability[capability], meta)
		}
		if cat := meta.Manifest.Category; cat != "" {
			snap.byCategory[cat] = append(snap.byCategory[cat], meta)
		}
	}
	return snap
}

// Upsert inserts or replaces the metadata for a plugin, keyed by its
// manifest name. Metadata without a name cannot be keyed and is
// rejected.
func (r *MetadataRegistry) Upsert(meta *PluginMetadata) error {
	if meta == nil || meta.Manifest == nil || meta.Manifest.Name == "" {
		return NewManifestInvalidError(sourceOf(meta), []string{"manifest has no name"})
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snapshot.Load()
	next := make(map[string]*PluginMetadata, len(current.byName)+1)
	for name, m := range current.byName {
		next[name] = m
	}
	next[meta.Manifest.Name] = meta
	r.snapshot.Store(newRegistrySnapshot(next))

	r.logger.Debug("Registry upsert", "plugin", meta.Manifest.Name, "valid", meta.IsValid)
	return nil
}

// Remove deletes a plugin's metadata. Removing an unknown name is a
// no-op.
func (r *MetadataRegistry) Remove(name string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snapshot.Load()
	if _, exists := current.byName[name]; !exists {
		return
	}
	next := make(map[string]*PluginMetadata, len(current.byName)-1)
	for n, m := range current.byName {
		if n != name {
			next[n] = m
		}
	}
	r.snapshot.Store(newRegistrySnapshot(next))
	r.logger.Debug("Registry remove", "plugin", name)
}

// Get returns the metadata for a plugin name.
func (r *MetadataRegistry) Get(name string) (*PluginMetadata, error) {
	if meta, ok := r.snapshot.Load().byName[name]; ok {
		return meta, nil
	}
	return nil, NewPluginNotFoundError(name)
}

// List returns all registered metadata sorted by plugin name.
func (r *MetadataRegistry) List() []*PluginMetadata {
	snap := r.snapshot.Load()
	out := make([]*PluginMetadata, 0, len(snap.byName))
	for _, meta := range snap.byName {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Manifest.Name < out[j].Manifest.Name
	})
	return out
}

// Count returns the number of registered plugins.
func (r *MetadataRegistry) Count() int {
	return len(r.snapshot.Load().byName)
}

// FindByCapability returns all plugins declaring the capability.
func (r *MetadataRegistry) FindByCapability(capability string) []*PluginMetadata {
	return append([]*PluginMetadata(nil), r.snapshot.Load().byCapability[capability]...)
}

// FindByCategory returns all plugins in the category.
func (r *MetadataRegistry) FindByCategory(category string) []*PluginMetadata {
	return append([]*PluginMetadata(nil), r.snapshot.Load().byCategory[category]...)
}

// RegistryStats aggregates counts over the current snapshot.
type RegistryStats struct {
	Total        int            `json:"total"`
	Valid        int            `json:"valid"`
	Invalid      int            `json:"invalid"`
	ByCategory   map[string]int `json:"by_category"`
	ByCapability map[string]int `json:"by_capability"`
}

// Stats returns aggregate counts for the current snapshot.
func (r *MetadataRegistry) Stats() RegistryStats {
	snap := r.snapshot.Load()
	stats := RegistryStats{
		Total:        len(snap.byName),
		ByCategory:   make(map[string]int),
		ByCapability: make(map[string]int),
	}
	for _, meta := range snap.byName {
		if meta.IsValid {
			stats.Valid++
		} else {
			stats.Invalid++
		}
	}
	for category, metas := range snap.byCategory {
		stats.ByCategory[category] = len(metas)
	}
	for capability, metas := range snap.byCapability {
		stats.ByCapability[capability] = len(metas)
	}
	return stats
}

// ValidateDependencies checks that every dependency declared by the
// named plugin is present in the registry.
func (r *MetadataRegistry) ValidateDependencies(name string) (*DependencyReport, error) {
	snap := r.snapshot.Load()
	meta, ok := snap.byName[name]
	if !ok {
		return nil, NewPluginNotFoundError(name)
	}

	report := &DependencyReport{Valid: true}
	for _, dep := range meta.Manifest.Dependencies {
		if _, present := snap.byName[dep]; !present {
			report.Missing = append(report.Missing, dep)
		}
	}
	report.Valid = len(report.Missing) == 0
	return report, nil
}

// ResolveLoadOrder returns all valid plugin names in dependency order:
// every plugin appears after the plugins it depends on. Dependencies on
// unknown plugins are ignored here (the loader gates on them); a
// dependency cycle is an error.
//
// Kahn's algorithm with name-sorted tie breaking keeps the order
// deterministic across runs.
func (r *MetadataRegistry) ResolveLoadOrder() ([]string, error) {
	snap := r.snapshot.Load()

	inDegree := make(map[string]int, len(snap.byName))
	dependents := make(map[string][]string, len(snap.byName))
	for name, meta := range snap.byName {
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
		for _, dep := range meta.Manifest.Dependencies {
			if _, known := snap.byName[dep]; !known {
				continue
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	ready := make([]string, 0, len(inDegree))
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(inDegree))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, dependent := range next {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(inDegree) {
		var cyclic []string
		for name, degree := range inDegree {
			if degree > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, NewDependencyCycleError(cyclic)
	}
	return order, nil
}

func sourceOf(meta *PluginMetadata) string {
	if meta == nil {
		return ""
	}
	return meta.SourceLocation
}

// lifecycle.go: Versioned install, upgrade and downgrade with rollback
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// PluginVersion describes one released version of a plugin.
type PluginVersion struct {
	Version         string    `json:"version"`
	Changelog       string    `json:"changelog,omitempty"`
	BreakingChanges bool      `json:"breaking_changes,omitempty"`
	Dependencies    []string  `json:"dependencies,omitempty"`
	ReleaseDate     time.Time `json:"release_date,omitempty"`
	Checksum        string    `json:"checksum,omitempty"`
	Author          string    `json:"author,omitempty"`
	Description     string    `json:"description,omitempty"`
}

// RollbackPoint captures a plugin's configuration and state at a
// moment it can be returned to.
type RollbackPoint struct {
	Version        string         `json:"version"`
	Timestamp      time.Time      `json:"timestamp"`
	Description    string         `json:"description"`
	ConfigSnapshot map[string]any `json:"config_snapshot,omitempty"`
	StateSnapshot  map[string]any `json:"state_snapshot,omitempty"`
}

// CompatibilityReport is the outcome of an upgrade compatibility check.
//
// Issues block the upgrade; warnings (breaking changes declared by the
// target version) do not.
type CompatibilityReport struct {
	Compatible bool     `json:"compatible"`
	Issues     []string `json:"issues,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// MigrationHook runs custom migration work during an upgrade from one
// specific version to another. A non-nil error aborts the upgrade and
// leaves the previous version installed.
type MigrationHook func(ctx context.Context, pluginName, fromVersion, toVersion string) error

type migrationKey struct {
	From string
	To   string
}

// LifecycleManager tracks installed plugin versions and moves plugins
// between them.
//
// Upgrades always create a rollback point before anything else touches
// the plugin, so a failed migration or a later regression can be backed
// out. Rollback history is bounded per plugin; the oldest point is
// evicted first.
type LifecycleManager struct {
	config LifecycleConfig
	loader *PluginLoader
	logger Logger

	mu        sync.RWMutex
	installed map[string]string
	history   map[string][]PluginVersion
	points    map[string][]RollbackPoint
	hooks     map[string]map[migrationKey]MigrationHook
}

// NewLifecycleManager creates a lifecycle manager. The loader is used
// to reach live units for snapshot and restore; it may be nil in tests
// that exercise version bookkeeping only.
func NewLifecycleManager(config LifecycleConfig, loader *PluginLoader, logger Logger) *LifecycleManager {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &LifecycleManager{
		config:    config,
		loader:    loader,
		logger:    logger,
		installed: make(map[string]string),
		history:   make(map[string][]PluginVersion),
		points:    make(map[string][]RollbackPoint),
		hooks:     make(map[string]map[migrationKey]MigrationHook),
	}
}

// Install records a plugin version as installed. Installing the version
// that is already current is an idempotent no-op; installing over a
// different version is rejected, that is what Upgrade and Downgrade are
// for.
func (m *LifecycleManager) Install(name string, version PluginVersion) error {
	if _, err := ParseVersion(version.Version); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.installed[name]
	if exists {
		if current == version.Version {
			m.logger.Debug("Plugin version already installed", "plugin", name, "version", current)
			return nil
		}
		return NewInstallFailedError(name,
			fmt.Errorf("version %s already installed, use Upgrade or Downgrade", current))
	}

	m.installed[name] = version.Version
	m.history[name] = append(m.history[name], version)
	m.logger.Info("Plugin version installed", "plugin", name, "version", version.Version)
	return nil
}

// InstalledVersion returns the currently installed version of a plugin.
func (m *LifecycleManager) InstalledVersion(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	version, ok := m.installed[name]
	return version, ok
}

// History returns the recorded versions of a plugin, oldest first.
func (m *LifecycleManager) History(name string) []PluginVersion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PluginVersion(nil), m.history[name]...)
}

// RollbackPoints returns a plugin's rollback history, oldest first.
func (m *LifecycleManager) RollbackPoints(name string) []RollbackPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RollbackPoint(nil), m.points[name]...)
}

// RegisterMigrationHook binds a hook to one (from, to) version pair of
// a plugin.
func (m *LifecycleManager) RegisterMigrationHook(name, fromVersion, toVersion string, hook MigrationHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hooks[name] == nil {
		m.hooks[name] = make(map[migrationKey]MigrationHook)
	}
	m.hooks[name][migrationKey{From: fromVersion, To: toVersion}] = hook
}

// CheckUpgrade reports whether the target version is a valid upgrade:
// the plugin must be installed and the target strictly greater on its
// numeric version tuple. Declared breaking changes surface as warnings.
func (m *LifecycleManager) CheckUpgrade(name string, target PluginVersion) *CompatibilityReport {
	report := &CompatibilityReport{}

	m.mu.RLock()
	current, installed := m.installed[name]
	m.mu.RUnlock()

	if !installed {
		report.Issues = append(report.Issues, "plugin is not installed")
	} else if CompareNumeric(target.Version, current) <= 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("target version %s is not greater than installed %s", target.Version, current))
	}
	if target.BreakingChanges {
		report.Warnings = append(report.Warnings, "target version declares breaking changes")
	}
	report.Compatible = len(report.Issues) == 0
	return report
}

// Upgrade moves a plugin to a strictly newer version.
//
// Order matters: the rollback point is captured before the version
// record changes and before any migration hook runs, so every upgrade
// leaves a way back. A failing hook aborts the upgrade with the prior
// version still installed.
func (m *LifecycleManager) Upgrade(ctx context.Context, name string, target PluginVersion) error {
	report := m.CheckUpgrade(name, target)
	if !report.Compatible {
		current, _ := m.InstalledVersion(name)
		return NewIncompatibleUpgradeError(name, current, target.Version, report.Issues)
	}

	m.mu.RLock()
	current := m.installed[name]
	m.mu.RUnlock()

	point := m.captureRollbackPoint(name, current, "before upgrade to "+target.Version)

	m.mu.Lock()
	m.points[name] = append(m.points[name], point)
	for len(m.points[name]) > m.config.MaxRollbackPoints {
		m.points[name] = m.points[name][1:]
	}
	m.history[name] = append(m.history[name], target)
	hook := m.hooks[name][migrationKey{From: current, To: target.Version}]
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, name, current, target.Version); err != nil {
			// Abort: drop the version record just added so the prior
			// version remains current.
			m.mu.Lock()
			history := m.history[name]
			if len(history) > 0 && history[len(history)-1].Version == target.Version {
				m.history[name] = history[:len(history)-1]
			}
			m.mu.Unlock()
			return NewMigrationFailedError(name, current, target.Version, err)
		}
	}

	m.mu.Lock()
	m.installed[name] = target.Version
	m.mu.Unlock()

	m.logger.Info("Plugin upgraded", "plugin", name, "from", current, "to", target.Version)
	return nil
}

// Downgrade returns a plugin to a rollback point: the one matching the
// target version exactly, or the most recent point when the target is
// empty. The point's snapshots are restored on the live unit when it
// supports restoration.
func (m *LifecycleManager) Downgrade(ctx context.Context, name, targetVersion string) error {
	m.mu.RLock()
	current, installed := m.installed[name]
	points := m.points[name]
	m.mu.RUnlock()

	if !installed {
		return NewVersionUnknownError(name)
	}

	var point *RollbackPoint
	if targetVersion != "" {
		for i := len(points) - 1; i >= 0; i-- {
			if points[i].Version == targetVersion {
				point = &points[i]
				break
			}
		}
	} else if len(points) > 0 {
		point = &points[len(points)-1]
	}
	if point == nil {
		return NewNoRollbackPointError(name, targetVersion)
	}

	if err := m.restoreSnapshot(name, point); err != nil {
		return err
	}

	m.mu.Lock()
	m.installed[name] = point.Version
	m.mu.Unlock()

	m.logger.Info("Plugin downgraded", "plugin", name, "from", current, "to", point.Version)
	return nil
}

// captureRollbackPoint snapshots the live unit when it can snapshot
// itself. Units without snapshot support still get a rollback point
// carrying the version alone.
func (m *LifecycleManager) captureRollbackPoint(name, version, description string) RollbackPoint {
	point := RollbackPoint{
		Version:     version,
		Timestamp:   timecache.CachedTime(),
		Description: description,
	}

	if m.loader == nil {
		return point
	}
	handle, ok := m.loader.Handle(name)
	if !ok {
		return point
	}
	snapshotter, ok := handle.Unit.(Snapshotter)
	if !ok {
		return point
	}

	config, state, err := snapshotter.Snapshot()
	if err != nil {
		m.logger.Warn("Snapshot failed, rollback point has no state", "plugin", name, "error", err)
		return point
	}
	point.ConfigSnapshot = config
	point.StateSnapshot = state
	return point
}

// restoreSnapshot applies a rollback point's snapshots to the live unit.
func (m *LifecycleManager) restoreSnapshot(name string, point *RollbackPoint) error {
	if m.loader == nil {
		return nil
	}
	handle, ok := m.loader.Handle(name)
	if !ok {
		return nil
	}
	snapshotter, ok := handle.Unit.(Snapshotter)
	if !ok {
		return nil
	}
	if err := snapshotter.Restore(point.ConfigSnapshot, point.StateSnapshot); err != nil {
		return NewRestoreFailedError(name, point.Version, err)
	}
	return nil
}

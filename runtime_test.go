// runtime_test.go: End-to-end tests for the plugin runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runtimeTestConfig(roots ...string) RuntimeConfig {
	cfg := DefaultRuntimeConfig()
	cfg.Scanner.Roots = roots
	cfg.Controller.AutoRegister = true
	cfg.Controller.RetryDelay = 20 * time.Millisecond
	cfg.Loader.LoadTimeout = 200 * time.Millisecond
	cfg.Health.Interval = 20 * time.Millisecond
	cfg.Health.Timeout = 50 * time.Millisecond
	return cfg
}

func runtimeFactories(units map[string]*fakeUnit) *FactoryRegistry {
	factories := NewFactoryRegistry()
	_ = factories.Register("test", func(m *Manifest) (PluginUnit, error) {
		unit, ok := units[m.Name]
		if !ok {
			unit = newFakeUnit(m.Name, m.Version)
			units[m.Name] = unit
		}
		return unit, nil
	})
	return factories
}

func TestRuntimeStartRegistersDiscoveredPlugins(t *testing.T) {
	dir := t.TempDir()
	writeManifestFile(t, filepath.Join(dir, "alpha"), "plugin.json", validManifestJSON("alpha"))
	writeManifestFile(t, filepath.Join(dir, "beta"), "plugin.json", validManifestJSON("beta"))

	units := make(map[string]*fakeUnit)
	rt, err := NewRuntime(runtimeTestConfig(dir), runtimeFactories(units), NewTestLogger())
	require.NoError(t, err)

	var mu sync.Mutex
	var registered []string
	rt.Events().Subscribe(EventRegistered, func(e Event) {
		mu.Lock()
		registered = append(registered, e.Plugin)
		mu.Unlock()
	})

	require.NoError(t, rt.Start(context.Background()))
	defer func() { _ = rt.Shutdown(context.Background()) }()

	assert.True(t, rt.IsRunning())
	assert.Equal(t, 2, rt.Registry().Count())
	assert.ElementsMatch(t, []string{"alpha", "beta"}, rt.Controller().RegisteredNames())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"alpha", "beta"}, registered)

	// discovery also records the installed versions
	version, ok := rt.Lifecycle().InstalledVersion("alpha")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", version)
}

func TestRuntimeDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	app := `{
		"name": "app",
		"version": "1.0.0",
		"description": "depends on base",
		"entrypoint": "test",
		"capabilities": ["testing"],
		"dependencies": ["base"]
	}`
	writeManifestFile(t, filepath.Join(dir, "app"), "plugin.json", app)
	writeManifestFile(t, filepath.Join(dir, "base"), "plugin.json", validManifestJSON("base"))

	units := make(map[string]*fakeUnit)
	rt, err := NewRuntime(runtimeTestConfig(dir), runtimeFactories(units), NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, rt.Start(context.Background()))
	defer func() { _ = rt.Shutdown(context.Background()) }()

	assert.ElementsMatch(t, []string{"app", "base"}, rt.Controller().RegisteredNames(),
		"dependency-ordered startup registers dependents after their dependencies")
}

func TestRuntimeToleratesInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifestFile(t, filepath.Join(dir, "good"), "plugin.json", validManifestJSON("good"))
	writeManifestFile(t, filepath.Join(dir, "bad"), "plugin.json",
		`{"name": "bad", "version": "1.0.0", "description": "no entrypoint"}`)

	units := make(map[string]*fakeUnit)
	rt, err := NewRuntime(runtimeTestConfig(dir), runtimeFactories(units), NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, rt.Start(context.Background()))
	defer func() { _ = rt.Shutdown(context.Background()) }()

	assert.Equal(t, 2, rt.Registry().Count(), "invalid metadata stays queryable")
	assert.Equal(t, []string{"good"}, rt.Controller().RegisteredNames())

	stats := rt.Registry().Stats()
	assert.Equal(t, 1, stats.Valid)
	assert.Equal(t, 1, stats.Invalid)
}

func TestRuntimeShutdownDrains(t *testing.T) {
	dir := t.TempDir()
	writeManifestFile(t, filepath.Join(dir, "alpha"), "plugin.json", validManifestJSON("alpha"))

	units := make(map[string]*fakeUnit)
	rt, err := NewRuntime(runtimeTestConfig(dir), runtimeFactories(units), NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))

	require.NoError(t, rt.Shutdown(context.Background()))
	assert.False(t, rt.IsRunning())
	assert.Empty(t, rt.Loader().LoadedNames(), "shutdown unloads every plugin")
	assert.False(t, units["alpha"].Ready())

	assert.Error(t, rt.Shutdown(context.Background()), "second shutdown fails")
	assert.Error(t, rt.Start(context.Background()), "a stopped runtime cannot restart")
}

func TestRuntimeStateGuards(t *testing.T) {
	_, err := NewRuntime(DefaultRuntimeConfig(), nil, nil)
	assert.Error(t, err, "factories are required")

	rt, err := NewRuntime(runtimeTestConfig(t.TempDir()), NewFactoryRegistry(), NewTestLogger())
	require.NoError(t, err)
	assert.Error(t, rt.Shutdown(context.Background()), "cannot stop before start")

	require.NoError(t, rt.Start(context.Background()))
	assert.Error(t, rt.Start(context.Background()), "double start fails")
	require.NoError(t, rt.Shutdown(context.Background()))
}

func TestRuntimeRecoveryActionsWired(t *testing.T) {
	dir := t.TempDir()
	writeManifestFile(t, filepath.Join(dir, "alpha"), "plugin.json", validManifestJSON("alpha"))

	units := make(map[string]*fakeUnit)
	rt, err := NewRuntime(runtimeTestConfig(dir), runtimeFactories(units), NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	defer func() { _ = rt.Shutdown(context.Background()) }()

	require.NoError(t, rt.Recovery().RegisterStrategy(RecoveryStrategy{
		ID:         "reload-on-health",
		Categories: []ErrorCategory{CategoryHealth},
		Actions: []RecoveryAction{
			func(ctx context.Context, record *ErrorRecord, actions RecoveryActions) error {
				return actions.ReloadComponent(ctx, record.Component)
			},
		},
	}))

	record := rt.Recovery().Report(context.Background(), "alpha", CategoryHealth, SeverityHigh, "probe failed", nil)
	assert.True(t, record.Resolved)
	assert.Equal(t, "reload-on-health", record.ResolutionMethod)
	assert.Equal(t, int32(2), units["alpha"].loadCalls.Load(), "reload performed a second load")
	assert.Equal(t, StatusRegistered, rt.Controller().Status("alpha").Status)
}

func TestRuntimeHealthWatchFollowsLateRegistration(t *testing.T) {
	dir := t.TempDir()
	writeManifestFile(t, filepath.Join(dir, "flaky"), "plugin.json", validManifestJSON("flaky"))

	// the first factory call fails, so registration only succeeds on retry
	var attempts atomic.Int32
	unit := newFakeUnit("flaky", "1.0.0")
	factories := NewFactoryRegistry()
	require.NoError(t, factories.Register("test", func(m *Manifest) (PluginUnit, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("factory warming up")
		}
		return unit, nil
	}))

	cfg := runtimeTestConfig(dir)
	cfg.Health.Enabled = true
	rt, err := NewRuntime(cfg, factories, NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	defer func() { _ = rt.Shutdown(context.Background()) }()

	assert.Empty(t, rt.Controller().RegisteredNames(), "first attempt fails")
	_, watched := rt.Health().Checker("flaky")
	assert.False(t, watched, "an unregistered plugin is not health checked")

	waitFor(t, 2*time.Second, func() bool {
		return rt.Controller().Status("flaky").Status == StatusRegistered
	}, "the retry timer should register the plugin")

	waitFor(t, 2*time.Second, func() bool {
		_, ok := rt.Health().Checker("flaky")
		return ok
	}, "registration through a retry should start health checking")
}

func TestRuntimeBreakerAlertEvent(t *testing.T) {
	units := make(map[string]*fakeUnit)
	rt, err := NewRuntime(runtimeTestConfig(t.TempDir()), runtimeFactories(units), NewTestLogger())
	require.NoError(t, err)

	var mu sync.Mutex
	var alerts []Event
	rt.Events().Subscribe(EventAlertTriggered, func(e Event) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})

	breaker := rt.Breakers().Get("flaky")
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Equal(t, "flaky", alerts[0].Plugin)
	assert.Equal(t, "circuit_open", alerts[0].Data["alert"])
}

func TestRuntimeManifestChangeReload(t *testing.T) {
	dir := t.TempDir()
	writeManifestFile(t, filepath.Join(dir, "alpha"), "plugin.json", validManifestJSON("alpha"))

	cfg := runtimeTestConfig(dir)
	cfg.WatchManifests = true
	cfg.Scanner.PollInterval = 20 * time.Millisecond
	cfg.Scanner.CacheTTL = 10 * time.Millisecond

	units := make(map[string]*fakeUnit)
	rt, err := NewRuntime(cfg, runtimeFactories(units), NewTestLogger())
	require.NoError(t, err)

	var mu sync.Mutex
	var changes []Event
	rt.Events().Subscribe(EventManifestChanged, func(e Event) {
		mu.Lock()
		changes = append(changes, e)
		mu.Unlock()
	})

	require.NoError(t, rt.Start(context.Background()))
	defer func() { _ = rt.Shutdown(context.Background()) }()

	require.Equal(t, []string{"alpha"}, rt.Controller().RegisteredNames())

	// rewrite the manifest with a new version
	updated := `{
		"name": "alpha",
		"version": "1.1.0",
		"description": "updated plugin",
		"entrypoint": "test",
		"capabilities": ["testing"]
	}`
	writeManifestFile(t, filepath.Join(dir, "alpha"), "plugin.json", updated)

	waitFor(t, 2*time.Second, func() bool {
		meta, err := rt.Registry().Get("alpha")
		return err == nil && meta.Manifest.Version == "1.1.0"
	}, "manifest change should update the registry")

	waitFor(t, 2*time.Second, func() bool {
		info := rt.Controller().Status("alpha")
		return info.Status == StatusRegistered && units["alpha"].loadCalls.Load() >= 2
	}, "changed plugin should be reloaded")

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, changes)
}

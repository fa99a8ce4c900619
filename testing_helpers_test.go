// testing_helpers_test.go: Shared fixtures for the runtime test suite
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// fakeUnit is a controllable PluginUnit (and Snapshotter) for tests.
type fakeUnit struct {
	name    string
	version string

	loadErr   error
	loadDelay time.Duration
	unloadErr error

	loadCalls   atomic.Int32
	unloadCalls atomic.Int32
	ready       atomic.Bool

	config map[string]any
	state  map[string]any

	restoredConfig map[string]any
	restoredState  map[string]any
}

func newFakeUnit(name, version string) *fakeUnit {
	return &fakeUnit{name: name, version: version}
}

func (f *fakeUnit) Descriptor() PluginDescriptor {
	return PluginDescriptor{Name: f.name, Version: f.version, IsActive: f.ready.Load()}
}

func (f *fakeUnit) Load(ctx context.Context) error {
	f.loadCalls.Add(1)
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.loadErr != nil {
		return f.loadErr
	}
	f.ready.Store(true)
	return nil
}

func (f *fakeUnit) Unload(ctx context.Context) error {
	f.unloadCalls.Add(1)
	if f.unloadErr != nil {
		return f.unloadErr
	}
	f.ready.Store(false)
	return nil
}

func (f *fakeUnit) Ready() bool { return f.ready.Load() }

func (f *fakeUnit) Snapshot() (map[string]any, map[string]any, error) {
	return f.config, f.state, nil
}

func (f *fakeUnit) Restore(config map[string]any, state map[string]any) error {
	f.restoredConfig = config
	f.restoredState = state
	return nil
}

// testEnv bundles the components most tests need, wired the same way
// the runtime wires them.
type testEnv struct {
	registry   *MetadataRegistry
	factories  *FactoryRegistry
	loader     *PluginLoader
	controller *RegistrationController
	bus        *EventBus
	units      map[string]*fakeUnit
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := NewTestLogger()
	env := &testEnv{
		registry:  NewMetadataRegistry(logger),
		factories: NewFactoryRegistry(),
		bus:       NewEventBus(logger),
		units:     make(map[string]*fakeUnit),
	}
	env.loader = NewPluginLoader(LoaderConfig{
		LoadTimeout:    200 * time.Millisecond,
		ChunkSize:      3,
		RuntimeVersion: "1.0.0",
	}, env.registry, env.factories, logger)
	env.controller = NewRegistrationController(ControllerConfig{
		MaxRetryAttempts: 3,
		RetryDelay:       20 * time.Millisecond,
	}, env.registry, env.loader, env.bus, logger)

	if err := env.factories.Register("test", func(m *Manifest) (PluginUnit, error) {
		unit, ok := env.units[m.Name]
		if !ok {
			unit = newFakeUnit(m.Name, m.Version)
			env.units[m.Name] = unit
		}
		return unit, nil
	}); err != nil {
		t.Fatalf("factory registration failed: %v", err)
	}
	return env
}

// addPlugin puts valid metadata for a plugin into the registry and
// pre-creates its fake unit.
func (env *testEnv) addPlugin(t *testing.T, name string, deps ...string) *fakeUnit {
	t.Helper()
	unit := newFakeUnit(name, "1.0.0")
	env.units[name] = unit
	meta := testMetadata(name, deps...)
	if err := env.registry.Upsert(meta); err != nil {
		t.Fatalf("upsert %s failed: %v", name, err)
	}
	return unit
}

func testManifest(name string, deps ...string) *Manifest {
	return &Manifest{
		Name:         name,
		Version:      "1.0.0",
		Description:  "test plugin " + name,
		Entrypoint:   "test",
		Capabilities: []string{"testing"},
		Dependencies: deps,
	}
}

func testMetadata(name string, deps ...string) *PluginMetadata {
	return &PluginMetadata{
		Manifest:       testManifest(name, deps...),
		SourceLocation: "/plugins/" + name + "/plugin.json",
		IsValid:        true,
		LastModified:   time.Now(),
		Checksum:       ManifestChecksum([]byte(name)),
	}
}

// writeManifestFile writes a manifest file into dir and returns its path.
func writeManifestFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest failed: %v", err)
	}
	return path
}

func validManifestJSON(name string) string {
	return fmt.Sprintf(`{
		"name": %q,
		"version": "1.0.0",
		"description": "test plugin %s",
		"entrypoint": "test",
		"capabilities": ["testing"]
	}`, name, name)
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

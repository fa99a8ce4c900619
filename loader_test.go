// loader_test.go: Tests for gated plugin loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSuccess(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "alpha")

	result := env.loader.Load(context.Background(), "alpha")
	require.True(t, result.Success)
	require.NotNil(t, result.Handle)
	assert.Equal(t, "alpha", result.Handle.Name)
	assert.True(t, unit.Ready())
	assert.Equal(t, int32(1), unit.loadCalls.Load())
	assert.Empty(t, result.Warnings)
}

func TestLoadCacheReuse(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "alpha")

	first := env.loader.Load(context.Background(), "alpha")
	require.True(t, first.Success)

	second := env.loader.Load(context.Background(), "alpha")
	require.True(t, second.Success)
	assert.Same(t, first.Handle, second.Handle, "cache reuse returns the same handle")
	assert.Zero(t, second.LoadTime, "cache hit reports zero load time")
	assert.NotEmpty(t, second.Warnings, "cache hit carries a reuse warning")
	assert.Equal(t, int32(1), unit.loadCalls.Load(), "no second load is performed")
}

func TestLoadValidationGate(t *testing.T) {
	env := newTestEnv(t)
	meta := testMetadata("broken")
	meta.IsValid = false
	require.NoError(t, env.registry.Upsert(meta))

	result := env.loader.Load(context.Background(), "broken")
	assert.False(t, result.Success)
	assert.Error(t, result.Err)
}

func TestLoadRuntimeVersionGate(t *testing.T) {
	env := newTestEnv(t)

	tooNew := testMetadata("too-new")
	tooNew.Manifest.MinimumRuntimeVersion = "2.0.0"
	require.NoError(t, env.registry.Upsert(tooNew))
	assert.False(t, env.loader.Load(context.Background(), "too-new").Success)

	tooOld := testMetadata("too-old")
	tooOld.Manifest.MaximumRuntimeVersion = "0.9.0"
	require.NoError(t, env.registry.Upsert(tooOld))
	assert.False(t, env.loader.Load(context.Background(), "too-old").Success)

	inRange := testMetadata("in-range")
	inRange.Manifest.MinimumRuntimeVersion = "0.9.0"
	inRange.Manifest.MaximumRuntimeVersion = "1.1.0"
	env.units["in-range"] = newFakeUnit("in-range", "1.0.0")
	require.NoError(t, env.registry.Upsert(inRange))
	assert.True(t, env.loader.Load(context.Background(), "in-range").Success)
}

func TestLoadDependencyGate(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "base")
	env.addPlugin(t, "app", "base")

	// base discovered but not loaded: the loader gate must fail
	result := env.loader.Load(context.Background(), "app")
	assert.False(t, result.Success)

	require.True(t, env.loader.Load(context.Background(), "base").Success)
	assert.True(t, env.loader.Load(context.Background(), "app").Success)
}

func TestLoadUnknownEntrypoint(t *testing.T) {
	env := newTestEnv(t)
	meta := testMetadata("stranger")
	meta.Manifest.Entrypoint = "unmapped"
	require.NoError(t, env.registry.Upsert(meta))

	result := env.loader.Load(context.Background(), "stranger")
	assert.False(t, result.Success)
}

func TestLoadFactoryError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.factories.Register("exploding", func(m *Manifest) (PluginUnit, error) {
		return nil, errors.New("boom")
	}))
	meta := testMetadata("victim")
	meta.Manifest.Entrypoint = "exploding"
	require.NoError(t, env.registry.Upsert(meta))

	result := env.loader.Load(context.Background(), "victim")
	assert.False(t, result.Success)

	stats := env.loader.Stats()
	assert.Equal(t, int64(1), stats["victim"].FailureCount)
	assert.NotEmpty(t, stats["victim"].LastError)
}

func TestLoadTimeout(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "sluggish")
	unit.loadDelay = time.Second // well past the 200ms test timeout

	result := env.loader.Load(context.Background(), "sluggish")
	assert.False(t, result.Success)
	assert.Error(t, result.Err)

	_, cached := env.loader.Handle("sluggish")
	assert.False(t, cached, "a timed-out load never caches a handle")
}

func TestLoadManySeparatesOutcomes(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "one")
	env.addPlugin(t, "two")
	meta := testMetadata("three")
	meta.IsValid = false
	require.NoError(t, env.registry.Upsert(meta))

	bulk := env.loader.LoadMany(context.Background(), []string{"one", "two", "three"})
	assert.ElementsMatch(t, []string{"one", "two"}, bulk.Succeeded)
	assert.Equal(t, []string{"three"}, bulk.Failed)
	assert.Len(t, bulk.Results, 3)
	assert.Greater(t, bulk.WallTime, time.Duration(0))
}

func TestLoaderZeroConfigDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "alpha")
	env.addPlugin(t, "beta")
	loader := NewPluginLoader(LoaderConfig{}, env.registry, env.factories, NewTestLogger())

	bulk := loader.LoadMany(context.Background(), []string{"alpha", "beta"})
	assert.ElementsMatch(t, []string{"alpha", "beta"}, bulk.Succeeded,
		"a zero-value config must fall back to usable defaults")
}

func TestUnload(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "alpha")
	require.True(t, env.loader.Load(context.Background(), "alpha").Success)

	require.NoError(t, env.loader.Unload(context.Background(), "alpha"))
	assert.False(t, unit.Ready())
	assert.Equal(t, int32(1), unit.unloadCalls.Load())

	_, cached := env.loader.Handle("alpha")
	assert.False(t, cached)
	assert.NoError(t, env.loader.Unload(context.Background(), "alpha"), "unloading twice is a no-op")
}

func TestUnloadFailureSurfaces(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "stuck")
	require.True(t, env.loader.Load(context.Background(), "stuck").Success)
	unit.unloadErr = errors.New("resource busy")

	assert.Error(t, env.loader.Unload(context.Background(), "stuck"))
}

func TestLoadStats(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "alpha")

	require.True(t, env.loader.Load(context.Background(), "alpha").Success)
	stats := env.loader.Stats()
	record := stats["alpha"]
	assert.Equal(t, int64(1), record.LoadCount)
	assert.Equal(t, int64(0), record.FailureCount)
	assert.Empty(t, record.LastError)
}

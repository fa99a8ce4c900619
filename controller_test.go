// controller_test.go: Tests for the registration state machine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "alpha")

	var events []Event
	var eventsMu sync.Mutex
	env.bus.Subscribe(EventRegistered, func(e Event) {
		eventsMu.Lock()
		events = append(events, e)
		eventsMu.Unlock()
	})

	require.NoError(t, env.controller.Register(context.Background(), "alpha"))

	info := env.controller.Status("alpha")
	assert.Equal(t, StatusRegistered, info.Status)
	assert.NotNil(t, info.Handle)
	assert.False(t, info.RegisteredAt.IsZero())
	assert.Zero(t, info.RetryCount)

	eventsMu.Lock()
	defer eventsMu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "alpha", events[0].Plugin)
}

func TestRegisterIdempotent(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "alpha")

	require.NoError(t, env.controller.Register(context.Background(), "alpha"))
	first := env.controller.Status("alpha").Handle

	require.NoError(t, env.controller.Register(context.Background(), "alpha"))
	assert.Same(t, first, env.controller.Status("alpha").Handle,
		"second register returns the same handle")
	assert.Equal(t, int32(1), unit.loadCalls.Load(), "no second load is performed")
}

func TestRegisterUnknownPluginFails(t *testing.T) {
	env := newTestEnv(t)
	err := env.controller.Register(context.Background(), "ghost")
	assert.Error(t, err)
	assert.Equal(t, StatusRegistrationFailed, env.controller.Status("ghost").Status)
}

func TestRegisterDependencyGate(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "app", "absent")

	var failed []Event
	var mu sync.Mutex
	env.bus.Subscribe(EventRegistrationFailed, func(e Event) {
		mu.Lock()
		failed = append(failed, e)
		mu.Unlock()
	})

	assert.Error(t, env.controller.Register(context.Background(), "app"))
	assert.NotEqual(t, StatusRegistered, env.controller.Status("app").Status,
		"a plugin with an undiscovered dependency never reaches Registered")

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, failed)
}

func TestRetryEventuallySucceeds(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "flaky")
	unit.loadErr = assert.AnError

	assert.Error(t, env.controller.Register(context.Background(), "flaky"))
	assert.Equal(t, StatusRegistrationFailed, env.controller.Status("flaky").Status)

	// let the scheduled retry find a working unit
	unit.loadErr = nil
	waitFor(t, time.Second, func() bool {
		return env.controller.Status("flaky").Status == StatusRegistered
	}, "retry should register the plugin once loading works")
}

func TestRetryExhaustion(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "doomed")
	unit.loadErr = assert.AnError

	assert.Error(t, env.controller.Register(context.Background(), "doomed"))

	// initial attempt plus 3 scheduled retries at 20ms each
	waitFor(t, time.Second, func() bool {
		return unit.loadCalls.Load() == 4
	}, "three retries should follow the initial attempt")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(4), unit.loadCalls.Load(), "no further retry after exhaustion")
	info := env.controller.Status("doomed")
	assert.Equal(t, StatusRegistrationFailed, info.Status)
	assert.Equal(t, 3, info.RetryCount)
}

func TestUnregister(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "alpha")
	require.NoError(t, env.controller.Register(context.Background(), "alpha"))

	var unregistered []Event
	var mu sync.Mutex
	env.bus.Subscribe(EventUnregistered, func(e Event) {
		mu.Lock()
		unregistered = append(unregistered, e)
		mu.Unlock()
	})

	require.NoError(t, env.controller.Unregister(context.Background(), "alpha"))
	assert.Equal(t, StatusNotRegistered, env.controller.Status("alpha").Status,
		"unregistered plugin has no record")
	assert.Equal(t, int32(1), unit.unloadCalls.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, unregistered, 1)
}

func TestUnregisterFailureRevertsStatus(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "stuck")
	require.NoError(t, env.controller.Register(context.Background(), "stuck"))
	unit.unloadErr = assert.AnError

	assert.Error(t, env.controller.Unregister(context.Background(), "stuck"))
	assert.Equal(t, StatusRegistered, env.controller.Status("stuck").Status,
		"failed unregister reverts to the prior status")
}

func TestUnregisterUnknown(t *testing.T) {
	env := newTestEnv(t)
	assert.Error(t, env.controller.Unregister(context.Background(), "ghost"))
}

func TestReload(t *testing.T) {
	env := newTestEnv(t)
	unit := env.addPlugin(t, "alpha")
	require.NoError(t, env.controller.Register(context.Background(), "alpha"))

	require.NoError(t, env.controller.Reload(context.Background(), "alpha"))
	assert.Equal(t, StatusRegistered, env.controller.Status("alpha").Status)
	assert.Equal(t, int32(2), unit.loadCalls.Load())
	assert.Equal(t, int32(1), unit.unloadCalls.Load())
}

func TestNoDoubleHandles(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "contested")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(register bool) {
			defer wg.Done()
			if register {
				_ = env.controller.Register(context.Background(), "contested")
			} else {
				_ = env.controller.Unregister(context.Background(), "contested")
			}
		}(i%2 == 0)
	}
	wg.Wait()

	// settle on registered, then verify exactly one live handle
	_ = env.controller.Register(context.Background(), "contested")
	names := env.loader.LoadedNames()
	count := 0
	for _, name := range names {
		if name == "contested" {
			count++
		}
	}
	assert.Equal(t, 1, count, "at most one live handle per name")
}

func TestControllerStats(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "good")
	bad := env.addPlugin(t, "bad")
	bad.loadErr = assert.AnError

	require.NoError(t, env.controller.Register(context.Background(), "good"))
	assert.Error(t, env.controller.Register(context.Background(), "bad"))

	stats := env.controller.Stats()
	assert.Equal(t, 1, stats.CountsByStatus[StatusRegistered.String()])
	assert.Equal(t, 1, stats.CountsByStatus[StatusRegistrationFailed.String()])
	assert.InDelta(t, 0.5, stats.RetryRate, 0.01, "one of two plugins has retried")
}

func TestControllerClose(t *testing.T) {
	env := newTestEnv(t)
	env.addPlugin(t, "alpha")
	env.controller.Close()

	assert.Error(t, env.controller.Register(context.Background(), "alpha"))
	assert.Error(t, env.controller.Unregister(context.Background(), "alpha"))
	env.controller.Close() // closing twice is a no-op
}

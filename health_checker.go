// health_checker.go: Periodic component health probing
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

// HealthProbe performs one health check of a component. Probes should
// honor the context deadline; a probe that outlives it is counted as a
// timeout regardless of what it later returns.
type HealthProbe func(ctx context.Context) HealthResult

// HealthChecker runs a probe for one component on a fixed interval.
//
// The checker tracks consecutive failures and escalates to Offline when
// they reach the configured limit. When a circuit breaker is attached,
// an open circuit short-circuits the probe entirely and the check is
// recorded as Offline without touching the component. Probe outcomes
// feed the breaker, so repeated failures trip it and successful trials
// close it again.
type HealthChecker struct {
	component string
	config    HealthCheckConfig
	probe     HealthProbe
	breaker   *CircuitBreaker
	logger    Logger

	// onUnhealthy fires on the transition into Offline
	onUnhealthy func(component string, result HealthResult)

	running  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}

	mu                  sync.RWMutex
	lastResult          HealthResult
	consecutiveFailures int
}

// NewHealthChecker creates a checker for a component. The breaker and
// onUnhealthy callback are optional.
func NewHealthChecker(component string, config HealthCheckConfig, probe HealthProbe,
	breaker *CircuitBreaker, onUnhealthy func(component string, result HealthResult), logger Logger) *HealthChecker {
	if logger == nil {
		logger = DefaultLogger()
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = 3
	}
	return &HealthChecker{
		component:   component,
		config:      config,
		probe:       probe,
		breaker:     breaker,
		logger:      logger,
		onUnhealthy: onUnhealthy,
		lastResult:  HealthResult{Status: HealthUnknown},
	}
}

// Start begins periodic checking. The first check runs after one
// interval; use CheckNow for an immediate check.
func (h *HealthChecker) Start() error {
	if !h.running.CompareAndSwap(false, true) {
		return NewRuntimeStateError("health checker already running")
	}

	h.stopChan = make(chan struct{})
	h.doneChan = make(chan struct{})

	go func() {
		defer close(h.doneChan)
		ticker := time.NewTicker(h.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.CheckNow(context.Background())
			case <-h.stopChan:
				return
			}
		}
	}()

	h.logger.Debug("Health checker started", "component", h.component, "interval", h.config.Interval)
	return nil
}

// Stop halts periodic checking and waits for the loop to exit.
func (h *HealthChecker) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	close(h.stopChan)
	<-h.doneChan
	h.logger.Debug("Health checker stopped", "component", h.component)
}

// CheckNow performs one health check immediately and returns its result.
func (h *HealthChecker) CheckNow(ctx context.Context) HealthResult {
	if h.breaker != nil && !h.breaker.Allow() {
		result := HealthResult{
			Status:    HealthOffline,
			Message:   "circuit breaker open",
			Err:       NewCircuitOpenError(h.component),
			CheckedAt: timecache.CachedTime(),
		}
		h.record(result, false)
		return result
	}

	result := h.runProbe(ctx)
	healthy := result.Status == HealthHealthy || result.Status == HealthDegraded
	if !healthy && result.Err == nil {
		result.Err = NewHealthCheckFailedError(h.component, result.Message)
	}

	if h.breaker != nil {
		if healthy {
			h.breaker.RecordSuccess()
		} else {
			h.breaker.RecordFailure()
		}
	}

	h.record(result, healthy)
	return result
}

// runProbe executes the probe with the soft timeout. A probe that does
// not answer in time is reported Unhealthy with a timeout message; its
// late result is discarded.
func (h *HealthChecker) runProbe(ctx context.Context) HealthResult {
	probeCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	start := time.Now()
	resultChan := make(chan HealthResult, 1)
	go func() { resultChan <- h.probe(probeCtx) }()

	select {
	case result := <-resultChan:
		result.CheckedAt = timecache.CachedTime()
		result.ResponseTime = time.Since(start)
		return result
	case <-probeCtx.Done():
		return HealthResult{
			Status:       HealthUnhealthy,
			Message:      "timeout",
			Err:          NewHealthCheckTimeoutError(h.component, h.config.Timeout),
			CheckedAt:    timecache.CachedTime(),
			ResponseTime: time.Since(start),
		}
	}
}

// record updates failure tracking and fires the unhealthy callback on
// the edge into Offline. Failures below the limit only build the streak.
func (h *HealthChecker) record(result HealthResult, healthy bool) {
	h.mu.Lock()
	previous := h.lastResult.Status
	if healthy {
		h.consecutiveFailures = 0
	} else {
		h.consecutiveFailures++
		if h.consecutiveFailures >= h.config.MaxConsecutiveFailures {
			result.Status = HealthOffline
		}
	}
	failures := h.consecutiveFailures
	h.lastResult = result
	h.mu.Unlock()

	if result.Status == HealthOffline && previous != HealthOffline {
		h.logger.Warn("Component went offline",
			"component", h.component, "failures", failures, "message", result.Message)
		if h.onUnhealthy != nil {
			h.onUnhealthy(h.component, result)
		}
	}
}

// LastResult returns the most recent check result.
func (h *HealthChecker) LastResult() HealthResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastResult
}

// ConsecutiveFailures returns the current failure streak.
func (h *HealthChecker) ConsecutiveFailures() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consecutiveFailures
}

// IsRunning reports whether periodic checking is active.
func (h *HealthChecker) IsRunning() bool {
	return h.running.Load()
}

// HealthMonitor aggregates the checkers of all monitored components.
type HealthMonitor struct {
	config HealthCheckConfig
	logger Logger

	mu       sync.RWMutex
	checkers map[string]*HealthChecker
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor(config HealthCheckConfig, logger Logger) *HealthMonitor {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &HealthMonitor{
		config:   config,
		logger:   logger,
		checkers: make(map[string]*HealthChecker),
	}
}

// Register creates and starts a checker for a component, replacing and
// stopping any existing one.
func (m *HealthMonitor) Register(component string, probe HealthProbe,
	breaker *CircuitBreaker, onUnhealthy func(component string, result HealthResult)) error {
	checker := NewHealthChecker(component, m.config, probe, breaker, onUnhealthy, m.logger)

	m.mu.Lock()
	previous := m.checkers[component]
	m.checkers[component] = checker
	m.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
	return checker.Start()
}

// Unregister stops and removes a component's checker.
func (m *HealthMonitor) Unregister(component string) {
	m.mu.Lock()
	checker := m.checkers[component]
	delete(m.checkers, component)
	m.mu.Unlock()

	if checker != nil {
		checker.Stop()
	}
}

// Checker returns the checker for a component.
func (m *HealthMonitor) Checker(component string) (*HealthChecker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	checker, ok := m.checkers[component]
	return checker, ok
}

// Snapshot returns the last result of every monitored component.
func (m *HealthMonitor) Snapshot() map[string]HealthResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]HealthResult, len(m.checkers))
	for component, checker := range m.checkers {
		out[component] = checker.LastResult()
	}
	return out
}

// Overall returns the worst health state across all components, or
// HealthUnknown when nothing is monitored.
func (m *HealthMonitor) Overall() HealthState {
	snapshot := m.Snapshot()
	if len(snapshot) == 0 {
		return HealthUnknown
	}
	worst := HealthHealthy
	for _, result := range snapshot {
		if result.Status == HealthUnknown {
			continue
		}
		if result.Status > worst {
			worst = result.Status
		}
	}
	return worst
}

// Stop halts every checker.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	checkers := make([]*HealthChecker, 0, len(m.checkers))
	for _, checker := range m.checkers {
		checkers = append(checkers, checker)
	}
	m.checkers = make(map[string]*HealthChecker)
	m.mu.Unlock()

	for _, checker := range checkers {
		checker.Stop()
	}
}

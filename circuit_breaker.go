// circuit_breaker.go: Per-component circuit breaker with gradual recovery
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// BreakerState represents the circuit breaker state.
type BreakerState int32

const (
	// BreakerClosed allows all calls (normal operation)
	BreakerClosed BreakerState = iota
	// BreakerOpen short-circuits all calls until the recovery timeout
	BreakerOpen
	// BreakerHalfOpen allows exactly one trial call
	BreakerHalfOpen
)

// String returns a human-readable representation of the breaker state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerStats is a point-in-time view of a breaker's counters.
type BreakerStats struct {
	Component    string       `json:"component"`
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	SuccessCount int64        `json:"success_count"`
	TotalTrips   int64        `json:"total_trips"`
	LastFailure  time.Time    `json:"last_failure,omitempty"`
	NextAttempt  time.Time    `json:"next_attempt,omitempty"`
}

// CircuitBreaker protects a single component from repeated failures.
//
// The failure count rises on failure and falls on success, so a
// component that mostly works but occasionally fails hovers below the
// threshold instead of ratcheting toward a trip. Crossing the threshold
// opens the circuit; after the recovery timeout one trial call is
// admitted, and its outcome decides between closing again and another
// open period.
//
// All methods are safe for concurrent use.
type CircuitBreaker struct {
	component string
	config    CircuitBreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	lastFailure   time.Time
	nextAttempt   time.Time
	trialInFlight bool

	successCount atomic.Int64
	totalTrips   atomic.Int64

	// onStateChange is invoked outside the lock after each transition
	onStateChange func(component string, from, to BreakerState)
}

// NewCircuitBreaker creates a breaker for a component. The optional
// onStateChange callback observes every transition.
func NewCircuitBreaker(component string, config CircuitBreakerConfig, onStateChange func(component string, from, to BreakerState)) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessDecrement <= 0 {
		config.SuccessDecrement = 1
	}
	return &CircuitBreaker{
		component:     component,
		config:        config,
		state:         BreakerClosed,
		onStateChange: onStateChange,
	}
}

// Allow reports whether a call may proceed right now.
//
// Closed always allows. Open allows nothing until the recovery timeout
// has passed, at which point the breaker moves to half-open and admits
// exactly one trial call; further Allow calls return false until that
// trial's outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()

	switch cb.state {
	case BreakerClosed:
		cb.mu.Unlock()
		return true

	case BreakerOpen:
		if timecache.CachedTime().Before(cb.nextAttempt) {
			cb.mu.Unlock()
			return false
		}
		from := cb.state
		cb.state = BreakerHalfOpen
		cb.trialInFlight = true
		cb.mu.Unlock()
		cb.notify(from, BreakerHalfOpen)
		return true

	case BreakerHalfOpen:
		if cb.trialInFlight {
			cb.mu.Unlock()
			return false
		}
		cb.trialInFlight = true
		cb.mu.Unlock()
		return true
	}

	cb.mu.Unlock()
	return false
}

// RecordSuccess records a successful call. In half-open state the
// trial's success closes the circuit and clears the failure count; in
// closed state it decrements the failure count, never below zero.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.successCount.Add(1)

	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerClosed
		cb.failureCount = 0
		cb.trialInFlight = false
	case BreakerClosed:
		cb.failureCount -= cb.config.SuccessDecrement
		if cb.failureCount < 0 {
			cb.failureCount = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

// RecordFailure records a failed call. In half-open state the trial's
// failure reopens the circuit for another recovery period; in closed
// state the failure count rises and opens the circuit once it reaches
// the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	now := timecache.CachedTime()
	cb.lastFailure = now

	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.nextAttempt = now.Add(cb.config.RecoveryTimeout)
		cb.trialInFlight = false
		cb.totalTrips.Add(1)
	case BreakerClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.state = BreakerOpen
			cb.nextAttempt = now.Add(cb.config.RecoveryTimeout)
			cb.totalTrips.Add(1)
		}
	case BreakerOpen:
		cb.failureCount++
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = BreakerClosed
	cb.failureCount = 0
	cb.trialInFlight = false
	cb.nextAttempt = time.Time{}
	cb.mu.Unlock()

	if from != BreakerClosed {
		cb.notify(from, BreakerClosed)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	stats := BreakerStats{
		Component:    cb.component,
		State:        cb.state,
		FailureCount: cb.failureCount,
		LastFailure:  cb.lastFailure,
		NextAttempt:  cb.nextAttempt,
	}
	cb.mu.Unlock()
	stats.SuccessCount = cb.successCount.Load()
	stats.TotalTrips = cb.totalTrips.Load()
	return stats
}

func (cb *CircuitBreaker) notify(from, to BreakerState) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.component, from, to)
	}
}

// BreakerSet manages one breaker per component, creating them on first
// use with a shared configuration and transition callback.
type BreakerSet struct {
	config        CircuitBreakerConfig
	onStateChange func(component string, from, to BreakerState)

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty breaker set.
func NewBreakerSet(config CircuitBreakerConfig, onStateChange func(component string, from, to BreakerState)) *BreakerSet {
	return &BreakerSet{
		config:        config,
		onStateChange: onStateChange,
		breakers:      make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a component, creating it if needed.
func (s *BreakerSet) Get(component string) *CircuitBreaker {
	s.mu.RLock()
	breaker, ok := s.breakers[component]
	s.mu.RUnlock()
	if ok {
		return breaker
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if breaker, ok = s.breakers[component]; ok {
		return breaker
	}
	breaker = NewCircuitBreaker(component, s.config, s.onStateChange)
	s.breakers[component] = breaker
	return breaker
}

// Remove drops the breaker for a component.
func (s *BreakerSet) Remove(component string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, component)
}

// Stats returns a snapshot of every breaker in the set.
func (s *BreakerSet) Stats() map[string]BreakerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]BreakerStats, len(s.breakers))
	for component, breaker := range s.breakers {
		out[component] = breaker.Stats()
	}
	return out
}

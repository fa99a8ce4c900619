// types.go: Common data types and enumerations for the plugin runtime
//
// This file contains the shared data type definitions used throughout the
// lifecycle runtime: registration states, health states, error severities
// and categories. Keeping these separate from the component implementations
// mirrors the rest of the codebase's file-per-concern layout.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"time"
)

// RegistrationStatus represents the state of a plugin in the registration
// state machine owned by the RegistrationController.
//
// Valid transitions:
//   - NotRegistered -> Registering (register requested)
//   - Registering   -> Registered | RegistrationFailed
//   - Registered    -> Unregistering (unregister requested)
//   - Unregistering -> record removed (success) | previous status (failure)
//   - RegistrationFailed -> Registering (retry or manual re-registration)
//
// A newly discovered plugin has no record at all, which is the implicit
// NotRegistered state.
type RegistrationStatus int

const (
	StatusNotRegistered RegistrationStatus = iota
	StatusRegistering
	StatusRegistered
	StatusRegistrationFailed
	StatusUnregistering
)

// String returns a human-readable representation of the registration status.
func (s RegistrationStatus) String() string {
	switch s {
	case StatusNotRegistered:
		return "not_registered"
	case StatusRegistering:
		return "registering"
	case StatusRegistered:
		return "registered"
	case StatusRegistrationFailed:
		return "failed"
	case StatusUnregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// HealthState represents the observed operational state of a monitored
// component.
//
//   - HealthUnknown: no check has completed yet
//   - HealthHealthy: the component responds and reports ready
//   - HealthDegraded: the component responds but with reduced capability
//   - HealthUnhealthy: the component failed its last check
//   - HealthOffline: consecutive failures exceeded the configured limit
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
	HealthOffline
)

// String returns a human-readable representation of the health state.
func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// HealthResult contains the outcome of a single health check.
//
// Results are produced by HealthChecker probes and aggregated by the
// HealthMonitor. ResponseTime reflects how long the probe took; a probe
// that exceeded its soft timeout carries the message "timeout". Failed
// checks carry the typed reason in Err.
type HealthResult struct {
	Status       HealthState   `json:"status"`
	Message      string        `json:"message,omitempty"`
	Err          error         `json:"-"`
	CheckedAt    time.Time     `json:"checked_at"`
	ResponseTime time.Duration `json:"response_time"`
}

// ErrorSeverity classifies reported errors by operational impact.
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns a human-readable representation of the severity.
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ErrorCategory classifies reported errors by origin. Recovery strategies
// match on categories to decide which remedial actions apply.
type ErrorCategory string

const (
	CategoryPluginLoad    ErrorCategory = "plugin_load"
	CategoryMemory        ErrorCategory = "memory"
	CategoryNetwork       ErrorCategory = "network"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryHealth        ErrorCategory = "health"
	CategoryLifecycle     ErrorCategory = "lifecycle"
)

// PluginDescriptor is the identity block every plugin unit exposes.
//
// The runtime never inspects a unit beyond its lifecycle contract and this
// descriptor.
type PluginDescriptor struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	IsActive bool   `json:"is_active"`
}

// config.go: Configuration structures and defaults for the runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"time"
)

// ScannerConfig controls filesystem manifest discovery.
//
// Fields:
//   - Roots: directories scanned for manifest files
//   - MaxDepth: how many directory levels below each root are visited
//   - ManifestNames: filenames recognized as manifests
//   - ExcludePatterns: glob patterns (matched against base names) to skip
//   - PollInterval: watcher poll cadence for manifest change detection
//   - CacheTTL: watcher stat-cache lifetime, must be below PollInterval
//   - MaxWatchedFiles: upper bound on concurrently watched manifests
type ScannerConfig struct {
	Roots           []string      `json:"roots" yaml:"roots"`
	MaxDepth        int           `json:"max_depth" yaml:"max_depth"`
	ManifestNames   []string      `json:"manifest_names" yaml:"manifest_names"`
	ExcludePatterns []string      `json:"exclude_patterns,omitempty" yaml:"exclude_patterns,omitempty"`
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval"`
	CacheTTL        time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	MaxWatchedFiles int           `json:"max_watched_files" yaml:"max_watched_files"`
}

// LoaderConfig controls gated plugin loading.
//
// Fields:
//   - LoadTimeout: hard deadline for a single unit Load call
//   - ChunkSize: how many plugins LoadMany processes concurrently
//   - RuntimeVersion: the version checked against manifest bounds
type LoaderConfig struct {
	LoadTimeout    time.Duration `json:"load_timeout" yaml:"load_timeout"`
	ChunkSize      int           `json:"chunk_size" yaml:"chunk_size"`
	RuntimeVersion string        `json:"runtime_version" yaml:"runtime_version"`
}

// ControllerConfig controls the registration state machine.
//
// Fields:
//   - MaxRetryAttempts: how many retries follow a failed registration
//   - RetryDelay: fixed delay between registration attempts
//   - AutoRegister: register newly discovered plugins automatically
type ControllerConfig struct {
	MaxRetryAttempts int           `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	RetryDelay       time.Duration `json:"retry_delay" yaml:"retry_delay"`
	AutoRegister     bool          `json:"auto_register" yaml:"auto_register"`
}

// HealthCheckConfig controls periodic component health probing.
//
// Fields:
//   - Enabled: start a health checker for every registered plugin
//   - Interval: time between checks for each component
//   - Timeout: soft deadline per probe; a late probe counts as unhealthy
//   - MaxConsecutiveFailures: failures before a component is marked offline
//   - AutoReload: reload a plugin when its checker escalates to offline
type HealthCheckConfig struct {
	Enabled                bool          `json:"enabled" yaml:"enabled"`
	Interval               time.Duration `json:"interval" yaml:"interval"`
	Timeout                time.Duration `json:"timeout" yaml:"timeout"`
	MaxConsecutiveFailures int           `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	AutoReload             bool          `json:"auto_reload" yaml:"auto_reload"`
}

// CircuitBreakerConfig controls per-component circuit breakers.
//
// Fields:
//   - Enabled: attach a circuit breaker to every health checker
//   - FailureThreshold: consecutive-failure count that opens the circuit
//   - RecoveryTimeout: how long an open circuit waits before a trial call
//   - SuccessDecrement: how much each success reduces the failure count
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	SuccessDecrement int           `json:"success_decrement" yaml:"success_decrement"`
}

// RecoveryConfig controls error reporting and automatic recovery.
//
// Fields:
//   - MaxRecords: cap on retained error records (oldest evicted first)
//   - AutoRecover: run matching strategies when an error is reported
type RecoveryConfig struct {
	MaxRecords  int  `json:"max_records" yaml:"max_records"`
	AutoRecover bool `json:"auto_recover" yaml:"auto_recover"`
}

// LifecycleConfig controls versioned install/upgrade/downgrade.
//
// Fields:
//   - MaxRollbackPoints: per-plugin rollback history cap (FIFO eviction)
type LifecycleConfig struct {
	MaxRollbackPoints int `json:"max_rollback_points" yaml:"max_rollback_points"`
}

// RuntimeConfig aggregates the configuration of every runtime component.
type RuntimeConfig struct {
	Scanner    ScannerConfig        `json:"scanner" yaml:"scanner"`
	Loader     LoaderConfig         `json:"loader" yaml:"loader"`
	Controller ControllerConfig     `json:"controller" yaml:"controller"`
	Health     HealthCheckConfig    `json:"health" yaml:"health"`
	Breaker    CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Recovery   RecoveryConfig       `json:"recovery" yaml:"recovery"`
	Lifecycle  LifecycleConfig      `json:"lifecycle" yaml:"lifecycle"`

	// WatchManifests enables filesystem watching after the initial scan
	WatchManifests bool `json:"watch_manifests" yaml:"watch_manifests"`
}

// DefaultRuntimeConfig returns a runtime configuration with production
// defaults. Callers override what they need and pass the result to
// NewRuntime.
func DefaultRuntimeConfig() RuntimeConfig {
	cfg := RuntimeConfig{}
	cfg.Controller.MaxRetryAttempts = 3
	cfg.Breaker.Enabled = true
	cfg.Recovery.AutoRecover = true
	setRuntimeConfigDefaults(&cfg)
	return cfg
}

// setRuntimeConfigDefaults fills zero values with defaults. It is
// applied to every config passed to NewRuntime, so partially populated
// configs are safe.
func setRuntimeConfigDefaults(cfg *RuntimeConfig) {
	if cfg.Scanner.MaxDepth <= 0 {
		cfg.Scanner.MaxDepth = 3
	}
	if len(cfg.Scanner.ManifestNames) == 0 {
		cfg.Scanner.ManifestNames = []string{"plugin.json", "plugin.yaml", "plugin.yml", "manifest.json"}
	}
	if cfg.Scanner.PollInterval <= 0 {
		cfg.Scanner.PollInterval = 2 * time.Second
	}
	if cfg.Scanner.CacheTTL <= 0 {
		cfg.Scanner.CacheTTL = cfg.Scanner.PollInterval / 2
	}
	if cfg.Scanner.MaxWatchedFiles <= 0 {
		cfg.Scanner.MaxWatchedFiles = 256
	}

	if cfg.Loader.LoadTimeout <= 0 {
		cfg.Loader.LoadTimeout = 30 * time.Second
	}
	if cfg.Loader.ChunkSize <= 0 {
		cfg.Loader.ChunkSize = 3
	}
	if cfg.Loader.RuntimeVersion == "" {
		cfg.Loader.RuntimeVersion = RuntimeVersion
	}

	if cfg.Controller.MaxRetryAttempts < 0 {
		cfg.Controller.MaxRetryAttempts = 0
	}
	if cfg.Controller.RetryDelay <= 0 {
		cfg.Controller.RetryDelay = 5 * time.Second
	}

	if cfg.Health.Interval <= 0 {
		cfg.Health.Interval = 30 * time.Second
	}
	if cfg.Health.Timeout <= 0 {
		cfg.Health.Timeout = 5 * time.Second
	}
	if cfg.Health.MaxConsecutiveFailures <= 0 {
		cfg.Health.MaxConsecutiveFailures = 3
	}

	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.RecoveryTimeout <= 0 {
		cfg.Breaker.RecoveryTimeout = 60 * time.Second
	}
	if cfg.Breaker.SuccessDecrement <= 0 {
		cfg.Breaker.SuccessDecrement = 1
	}

	if cfg.Recovery.MaxRecords <= 0 {
		cfg.Recovery.MaxRecords = 100
	}

	if cfg.Lifecycle.MaxRollbackPoints <= 0 {
		cfg.Lifecycle.MaxRollbackPoints = 10
	}
}

// RuntimeVersion is the version of this runtime, checked against
// manifest runtime bounds when LoaderConfig.RuntimeVersion is unset.
const RuntimeVersion = "1.0.0"

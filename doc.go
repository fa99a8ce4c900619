// Package pluginkit provides a production-ready plugin lifecycle runtime for
// Go applications. It discovers plugin manifests on the filesystem, resolves
// declared dependencies, loads and registers plugin units, monitors their
// health, recovers automatically from failures, and manages versioned
// upgrades and downgrades with rollback points.
//
// Key Features:
//   - Filesystem manifest discovery with bounded recursion and watch mode
//   - Atomic registry snapshots with name/capability/category lookups
//   - Gated loading: validation, dependency checks, and hard load timeouts
//   - Per-plugin registration state machine with fixed-delay retries
//   - Periodic health checks with automatic reload of unhealthy plugins
//   - Circuit breakers per component with gradual failure-count recovery
//   - Error reporting routed through prioritized recovery strategies
//   - Versioned install/upgrade/downgrade with FIFO rollback history
//
// Basic Usage:
//
//	// Register a constructor for the manifest entrypoint
//	factories := pluginkit.NewFactoryRegistry()
//	factories.Register("analytics", func(m *pluginkit.Manifest) (pluginkit.PluginUnit, error) {
//		return newAnalyticsPlugin(m), nil
//	})
//
//	// Construct and start the runtime
//	cfg := pluginkit.DefaultRuntimeConfig()
//	cfg.Scanner.Roots = []string{"/opt/plugins"}
//	rt, err := pluginkit.NewRuntime(cfg, factories, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := rt.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Shutdown(context.Background())
//
// Concurrency:
// All state machine transitions and load/unload calls for a single plugin
// name are serialized on that name. Cross-plugin operations (discovery, bulk
// loading, statistics queries) run concurrently with bounded parallelism.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package pluginkit

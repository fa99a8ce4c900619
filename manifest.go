// manifest.go: Plugin manifest model, parsing and validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest describes a discovered plugin: its identity, entrypoint,
// declared capabilities and dependencies, and runtime requirements.
//
// Manifest files are JSON or YAML documents named plugin.json,
// plugin.yaml, plugin.yml or manifest.json.
type Manifest struct {
	// Name uniquely identifies the plugin within the runtime
	Name string `json:"name" yaml:"name"`

	// Version is the plugin's own semantic version
	Version string `json:"version" yaml:"version"`

	// Description is free-form text shown in listings
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Entrypoint names the factory that constructs the plugin unit
	Entrypoint string `json:"entrypoint" yaml:"entrypoint"`

	// Capabilities lists what the plugin provides (used for lookup)
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Dependencies lists plugin names that must be loaded first
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Permissions lists access grants the plugin requests
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`

	// Author identifies the plugin's maintainer
	Author string `json:"author,omitempty" yaml:"author,omitempty"`

	// Category groups related plugins (used for lookup)
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	// MinimumRuntimeVersion is the lowest runtime version the plugin supports
	MinimumRuntimeVersion string `json:"minimum_runtime_version,omitempty" yaml:"minimum_runtime_version,omitempty"`

	// MaximumRuntimeVersion is the highest runtime version the plugin supports
	MaximumRuntimeVersion string `json:"maximum_runtime_version,omitempty" yaml:"maximum_runtime_version,omitempty"`

	// ConfigSchema optionally describes the shape of Settings
	ConfigSchema map[string]any `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`

	// Settings carries plugin-specific configuration passed to the factory
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// PluginMetadata is a discovered manifest plus everything the scanner
// learned about it: where it came from, whether it validated, and a
// content checksum for change detection.
type PluginMetadata struct {
	Manifest         *Manifest `json:"manifest"`
	SourceLocation   string    `json:"source_location"`
	IsValid          bool      `json:"is_valid"`
	ValidationErrors []string  `json:"validation_errors,omitempty"`
	LastModified     time.Time `json:"last_modified"`
	Checksum         string    `json:"checksum"`
}

// ParseManifest decodes raw manifest bytes as JSON first, then YAML.
// The dual decode keeps a single code path for both formats: valid JSON
// is valid YAML, but trying JSON first preserves its stricter errors
// for .json files.
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err == nil {
		return &manifest, nil
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Validate checks the manifest's required fields and value formats.
// It returns all problems found, not just the first.
func (m *Manifest) Validate() []string {
	var problems []string

	if m.Name == "" {
		problems = append(problems, "name is required")
	}
	if m.Version == "" {
		problems = append(problems, "version is required")
	} else if _, err := ParseVersion(m.Version); err != nil {
		problems = append(problems, fmt.Sprintf("version %q is not valid semver", m.Version))
	}
	if m.Description == "" {
		problems = append(problems, "description is required")
	}
	if m.Entrypoint == "" {
		problems = append(problems, "entrypoint is required")
	}
	if len(m.Capabilities) == 0 {
		problems = append(problems, "at least one capability is required")
	}
	for _, dep := range m.Dependencies {
		if dep == "" {
			problems = append(problems, "dependencies must not contain empty names")
		}
		if dep == m.Name {
			problems = append(problems, "plugin cannot depend on itself")
		}
	}
	if m.MinimumRuntimeVersion != "" && m.MaximumRuntimeVersion != "" {
		if CompareNumeric(m.MinimumRuntimeVersion, m.MaximumRuntimeVersion) > 0 {
			problems = append(problems,
				fmt.Sprintf("minimum_runtime_version %q exceeds maximum_runtime_version %q",
					m.MinimumRuntimeVersion, m.MaximumRuntimeVersion))
		}
	}

	return problems
}

// SupportsRuntime reports whether the manifest's declared runtime
// version bounds admit the given runtime version. Bounds are inclusive
// and compared on numeric tuples; empty bounds are unbounded.
func (m *Manifest) SupportsRuntime(runtimeVersion string) bool {
	if m.MinimumRuntimeVersion != "" && CompareNumeric(runtimeVersion, m.MinimumRuntimeVersion) < 0 {
		return false
	}
	if m.MaximumRuntimeVersion != "" && CompareNumeric(runtimeVersion, m.MaximumRuntimeVersion) > 0 {
		return false
	}
	return true
}

// ManifestChecksum computes the hex-encoded SHA-256 digest of raw
// manifest bytes. Equal bytes always produce equal checksums, which the
// watcher uses to suppress spurious change events.
func ManifestChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// version.go: Semantic version parsing and comparison
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"fmt"
	"strconv"
	"strings"
)

// Version represents a parsed semantic version.
//
// Fields:
//   - Major, Minor, Patch: numeric version components
//   - Prerelease: prerelease identifier after '-' (e.g. "beta.1")
//   - Build: build metadata after '+' (ignored in comparisons)
//   - Original: the input string, preserved for display
type Version struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
	Build      string `json:"build,omitempty"`
	Original   string `json:"original"`
}

// ParseVersion parses a semantic version string. A leading "v" is
// accepted. Missing minor or patch components default to zero, so
// "1.2" parses as 1.2.0.
func ParseVersion(version string) (*Version, error) {
	original := version
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if version == "" {
		return nil, NewVersionParseError(original, fmt.Errorf("empty version string"))
	}

	// Build metadata comes after '+', prerelease after '-'
	var build string
	if idx := strings.Index(version, "+"); idx != -1 {
		build = version[idx+1:]
		version = version[:idx]
	}
	var prerelease string
	if idx := strings.Index(version, "-"); idx != -1 {
		prerelease = version[idx+1:]
		version = version[:idx]
	}

	parts := strings.Split(version, ".")
	if len(parts) > 3 {
		return nil, NewVersionParseError(original, fmt.Errorf("too many version components: %d", len(parts)))
	}

	nums := [3]int{}
	for i, part := range parts {
		if part == "" {
			return nil, NewVersionParseError(original, fmt.Errorf("empty version component at position %d", i))
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, NewVersionParseError(original, fmt.Errorf("invalid version component %q", part))
		}
		nums[i] = n
	}

	return &Version{
		Major:      nums[0],
		Minor:      nums[1],
		Patch:      nums[2],
		Prerelease: prerelease,
		Build:      build,
		Original:   original,
	}, nil
}

// String returns the original version string when available, otherwise
// the canonical major.minor.patch rendering.
func (v *Version) String() string {
	if v.Original != "" {
		return v.Original
	}
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// Compare returns -1, 0 or 1 if v is less than, equal to or greater
// than other. Numeric components are compared first; a prerelease
// version sorts before the same release version. Build metadata is
// ignored.
func (v *Version) Compare(other *Version) int {
	if c := compareInt(v.Major, other.Major); c != 0 {
		return c
	}
	if c := compareInt(v.Minor, other.Minor); c != 0 {
		return c
	}
	if c := compareInt(v.Patch, other.Patch); c != 0 {
		return c
	}
	// 1.0.0-beta < 1.0.0
	if v.Prerelease == "" && other.Prerelease != "" {
		return 1
	}
	if v.Prerelease != "" && other.Prerelease == "" {
		return -1
	}
	return strings.Compare(v.Prerelease, other.Prerelease)
}

// CompareNumeric compares two version strings on their numeric
// major.minor.patch tuples only. Missing components are treated as
// zero, prerelease and build are ignored, and unparseable components
// count as zero. This is the comparison used for runtime version
// bounds and upgrade compatibility, where loose inputs must not fail.
func CompareNumeric(a, b string) int {
	at := numericTuple(a)
	bt := numericTuple(b)
	for i := 0; i < 3; i++ {
		if c := compareInt(at[i], bt[i]); c != 0 {
			return c
		}
	}
	return 0
}

// numericTuple extracts up to three leading numeric components.
func numericTuple(version string) [3]int {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if idx := strings.IndexAny(version, "-+"); idx != -1 {
		version = version[:idx]
	}
	var out [3]int
	for i, part := range strings.SplitN(version, ".", 3) {
		if i >= 3 {
			break
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			continue
		}
		out[i] = n
	}
	return out
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

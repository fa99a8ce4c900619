// version_test.go: Tests for semantic version parsing and comparison
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantMajor int
		wantMinor int
		wantPatch int
		wantPre   string
		wantBuild string
		wantErr   bool
	}{
		{name: "full version", input: "1.2.3", wantMajor: 1, wantMinor: 2, wantPatch: 3},
		{name: "v prefix", input: "v2.0.1", wantMajor: 2, wantMinor: 0, wantPatch: 1},
		{name: "missing patch", input: "1.2", wantMajor: 1, wantMinor: 2, wantPatch: 0},
		{name: "major only", input: "3", wantMajor: 3},
		{name: "prerelease", input: "1.0.0-beta.1", wantMajor: 1, wantPre: "beta.1"},
		{name: "build metadata", input: "1.0.0+build.42", wantMajor: 1, wantBuild: "build.42"},
		{name: "prerelease and build", input: "2.1.0-rc.1+sha.abc", wantMajor: 2, wantMinor: 1, wantPre: "rc.1", wantBuild: "sha.abc"},
		{name: "empty", input: "", wantErr: true},
		{name: "non numeric", input: "a.b.c", wantErr: true},
		{name: "negative", input: "1.-2.3", wantErr: true},
		{name: "too many components", input: "1.2.3.4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMajor, v.Major)
			assert.Equal(t, tt.wantMinor, v.Minor)
			assert.Equal(t, tt.wantPatch, v.Patch)
			assert.Equal(t, tt.wantPre, v.Prerelease)
			assert.Equal(t, tt.wantBuild, v.Build)
			assert.Equal(t, tt.input, v.Original)
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.2.0", "1.10.0", -1},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0-beta", "1.0.0", -1},
		{"1.0.0", "1.0.0-rc.1", 1},
		{"1.0.0-alpha", "1.0.0-beta", -1},
		{"1.0.0+build.1", "1.0.0+build.2", 0},
	}

	for _, tt := range tests {
		a, err := ParseVersion(tt.a)
		require.NoError(t, err)
		b, err := ParseVersion(tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.Compare(b), "%s vs %s", tt.a, tt.b)
	}
}

func TestCompareNumeric(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2", "1.2.0", 0},
		{"2", "2.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.9.0", "1.10.0", -1},
		{"v2.0.0", "1.9.9", 1},
		// numeric tuple comparison ignores prerelease
		{"1.0.0-beta", "1.0.0", 0},
		{"garbage", "0.0.0", 0},
		{"", "0", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareNumeric(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestVersionString(t *testing.T) {
	v, err := ParseVersion("v1.2.3-rc.1")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3-rc.1", v.String())

	constructed := &Version{Major: 1, Minor: 2, Patch: 3, Prerelease: "rc.1", Build: "b7"}
	assert.Equal(t, "1.2.3-rc.1+b7", constructed.String())
}

// scanner.go: Filesystem manifest discovery and watching
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agilira/argus"
)

// ManifestChange describes a single watched-manifest event.
//
// Deleted changes carry only the Path; create and modify changes carry
// the freshly re-parsed metadata.
type ManifestChange struct {
	Path     string
	Metadata *PluginMetadata
	Deleted  bool
}

// ManifestScanner discovers plugin manifests under configured roots and
// optionally watches them for changes.
//
// Scanning is tolerant: an unreadable root, an unparseable file or an
// invalid manifest never aborts the scan. Invalid manifests are
// returned with IsValid=false and the problems recorded, so callers can
// surface them without losing the valid ones.
type ManifestScanner struct {
	config ScannerConfig
	logger Logger

	watcher *argus.Watcher
	running atomic.Bool

	mu        sync.Mutex
	checksums map[string]string // manifest path -> last seen checksum
}

// NewManifestScanner creates a scanner for the given configuration.
func NewManifestScanner(config ScannerConfig, logger Logger) *ManifestScanner {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ManifestScanner{
		config:    config,
		logger:    logger,
		checksums: make(map[string]string),
	}
}

// Scan walks every configured root up to the depth bound and returns
// metadata for each manifest file found. The context cancels a scan in
// progress between files.
func (s *ManifestScanner) Scan(ctx context.Context) ([]*PluginMetadata, error) {
	var results []*PluginMetadata

	for _, root := range s.config.Roots {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			s.logger.Warn("Skipping unreadable scan root", "root", root, "error", err)
			continue
		}

		err = s.walkManifests(ctx, root, func(path string) {
			if meta := s.loadMetadata(path); meta != nil {
				results = append(results, meta)
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				return results, err
			}
			return results, NewScanRootError(root, err)
		}
	}

	s.logger.Debug("Manifest scan complete", "roots", len(s.config.Roots), "found", len(results))
	return results, nil
}

// walkManifests walks one root honoring the depth bound and exclusion
// patterns and calls visit for every manifest file it finds.
func (s *ManifestScanner) walkManifests(ctx context.Context, root string, visit func(path string)) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("Skipping unreadable path", "path", path, "error", walkErr)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.isExcluded(entry.Name()) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if s.depthBelow(root, path) > s.config.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if s.isManifestName(entry.Name()) {
			visit(path)
		}
		return nil
	})
}

// loadMetadata reads, parses and validates a single manifest file.
// Every failure mode still yields metadata so the caller can report it.
func (s *ManifestScanner) loadMetadata(path string) *PluginMetadata {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("Cannot read manifest", "path", path, "error", err)
		return nil
	}

	info, statErr := os.Stat(path)
	meta := &PluginMetadata{
		SourceLocation: path,
		Checksum:       ManifestChecksum(data),
	}
	if statErr == nil {
		meta.LastModified = info.ModTime()
	}

	s.mu.Lock()
	s.checksums[path] = meta.Checksum
	s.mu.Unlock()

	manifest, err := ParseManifest(data)
	if err != nil {
		perr := NewManifestParseError(path, err)
		s.logger.Warn("Manifest parse failed", "path", path, "error", perr)
		meta.Manifest = &Manifest{}
		meta.ValidationErrors = []string{perr.Error()}
		return meta
	}

	meta.Manifest = manifest
	if problems := manifest.Validate(); len(problems) > 0 {
		meta.ValidationErrors = problems
		s.logger.Warn("Manifest validation failed", "path", path, "problems", strings.Join(problems, "; "))
	} else {
		meta.IsValid = true
	}

	return meta
}

// Watch starts monitoring every manifest path seen by prior scans and
// invokes onChange for each real content change. Events whose bytes
// hash to the last seen checksum are suppressed.
//
// The root directories are watched too: a change to a root's entries
// triggers a re-scan of that subtree, so manifests dropped in after
// startup are adopted and watched. A manifest created inside an
// existing subdirectory without touching the root is only picked up by
// the next Scan.
func (s *ManifestScanner) Watch(onChange func(ManifestChange)) error {
	if !s.running.CompareAndSwap(false, true) {
		return NewRuntimeStateError("scanner watch already started")
	}

	watcher := argus.New(argus.Config{
		PollInterval:         s.config.PollInterval,
		CacheTTL:             s.config.CacheTTL,
		MaxWatchedFiles:      s.config.MaxWatchedFiles,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			s.logger.Error("Manifest watcher error", "path", filepath, "error", err)
		},
	})

	s.mu.Lock()
	paths := make([]string, 0, len(s.checksums))
	for path := range s.checksums {
		paths = append(paths, path)
	}
	s.mu.Unlock()

	for _, path := range paths {
		if err := s.watchManifest(watcher, path, onChange); err != nil {
			s.running.Store(false)
			return NewWatcherError("cannot watch manifest", err)
		}
	}

	for _, root := range s.config.Roots {
		r := root
		if err := watcher.Watch(r, func(argus.ChangeEvent) {
			s.handleRootChange(watcher, r, onChange)
		}); err != nil {
			s.logger.Warn("Cannot watch scan root", "root", r, "error", err)
		}
	}

	if err := watcher.Start(); err != nil {
		s.running.Store(false)
		return NewWatcherError("cannot start watcher", err)
	}

	s.watcher = watcher
	s.logger.Info("Manifest watching started", "files", len(paths), "poll_interval", s.config.PollInterval)
	return nil
}

// watchManifest registers one manifest file with the watcher.
func (s *ManifestScanner) watchManifest(watcher *argus.Watcher, path string, onChange func(ManifestChange)) error {
	return watcher.Watch(path, func(event argus.ChangeEvent) {
		s.handleChange(path, event, onChange)
	})
}

// handleRootChange re-walks a changed root and adopts manifests that no
// prior scan has seen: each is parsed, watched and reported as a change.
func (s *ManifestScanner) handleRootChange(watcher *argus.Watcher, root string, onChange func(ManifestChange)) {
	_ = s.walkManifests(context.Background(), root, func(path string) {
		s.mu.Lock()
		_, known := s.checksums[path]
		s.mu.Unlock()
		if known {
			return
		}
		meta := s.loadMetadata(path)
		if meta == nil {
			return
		}
		if err := s.watchManifest(watcher, path, onChange); err != nil {
			s.logger.Warn("Cannot watch new manifest", "path", path, "error", err)
		}
		s.logger.Info("New manifest discovered", "path", path, "valid", meta.IsValid)
		onChange(ManifestChange{Path: path, Metadata: meta})
	})
}

// handleChange re-reads a changed manifest and forwards real changes.
func (s *ManifestScanner) handleChange(path string, event argus.ChangeEvent, onChange func(ManifestChange)) {
	if event.IsDelete {
		s.mu.Lock()
		delete(s.checksums, path)
		s.mu.Unlock()
		onChange(ManifestChange{Path: path, Deleted: true})
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("Cannot re-read changed manifest", "path", path, "error", err)
		return
	}

	checksum := ManifestChecksum(data)
	s.mu.Lock()
	previous := s.checksums[path]
	s.checksums[path] = checksum
	s.mu.Unlock()
	if checksum == previous {
		return
	}

	meta := s.loadMetadata(path)
	if meta == nil {
		return
	}
	onChange(ManifestChange{Path: path, Metadata: meta})
}

// Stop halts watching. It is safe to call when watching never started.
func (s *ManifestScanner) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			return NewWatcherError("cannot stop watcher", err)
		}
		s.watcher = nil
	}
	return nil
}

// IsWatching reports whether the watcher is running.
func (s *ManifestScanner) IsWatching() bool {
	return s.running.Load()
}

// isExcluded matches a base name against the exclusion patterns.
// Invalid patterns never match.
func (s *ManifestScanner) isExcluded(name string) bool {
	for _, pattern := range s.config.ExcludePatterns {
		if matched, err := filepath.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

func (s *ManifestScanner) isManifestName(name string) bool {
	for _, candidate := range s.config.ManifestNames {
		if name == candidate {
			return true
		}
	}
	return false
}

// depthBelow counts directory levels between root and path.
func (s *ManifestScanner) depthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

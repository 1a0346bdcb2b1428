// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the hybrid tiered filesystem: every operation is
// routed to one or both of a hot and cold backend.Backend, placed by a size
// threshold, with a locationcache.Cache short-circuiting repeat lookups.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hybridtier/rhssfs/clock"
	"github.com/hybridtier/rhssfs/internal/backend"
	"github.com/hybridtier/rhssfs/internal/locationcache"
	"github.com/hybridtier/rhssfs/internal/metrics"
	"github.com/hybridtier/rhssfs/internal/rhsserrors"
)

// Store is the hybrid tiered filesystem over a hot and cold backend.Backend,
// with a size threshold in bytes deciding placement.
type Store struct {
	Hot       backend.Backend
	Cold      backend.Backend
	Threshold uint64
	cache     *locationcache.Cache

	// MigrationConcurrency bounds the fan-out of MigrateDirectory's
	// per-entry MigrateFile calls. Zero means sequential (one entry at a
	// time).
	MigrationConcurrency int

	// Metrics, when non-nil, receives per-operation counters. A nil handle
	// disables instrumentation.
	Metrics *metrics.Metrics
}

// New constructs a Store. c may be nil, in which case a cache with spec
// defaults is created using clock.RealClock{}.
func New(hot, cold backend.Backend, threshold uint64, c *locationcache.Cache) *Store {
	if c == nil {
		c = locationcache.New(locationcache.DefaultTTL, locationcache.DefaultCapacity, clock.RealClock{})
	}
	return &Store{Hot: hot, Cold: cold, Threshold: threshold, cache: c}
}

// Cache exposes the location cache for stats reporting and shutdown
// clearing; the store remains its only writer during normal operation.
func (s *Store) Cache() *locationcache.Cache {
	return s.cache
}

func isIgnoredName(name string) bool {
	return strings.HasPrefix(filepath.Base(name), "._")
}

// List returns the deduplicated union of both tiers' directory listing,
// batch-updating the location cache with each entry's observed tier(s).
func (s *Store) List(ctx context.Context, path string) ([]string, error) {
	hotNames, err := s.Hot.List(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("store: list %q: %w", path, err)
	}
	coldNames, err := s.Cold.List(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("store: list %q: %w", path, err)
	}

	inHot := make(map[string]bool, len(hotNames))
	for _, n := range hotNames {
		if !isIgnoredName(n) {
			inHot[n] = true
		}
	}
	inCold := make(map[string]bool, len(coldNames))
	for _, n := range coldNames {
		if !isIgnoredName(n) {
			inCold[n] = true
		}
	}

	seen := make(map[string]bool, len(inHot)+len(inCold))
	var out []string
	var batch []locationcache.BatchEntry
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)

		var loc locationcache.StorageLocation
		switch {
		case inHot[name] && inCold[name]:
			loc = locationcache.LocationBoth
		case inHot[name]:
			loc = locationcache.LocationHot
		default:
			loc = locationcache.LocationCold
		}
		batch = append(batch, locationcache.BatchEntry{
			Path:     filepath.Join(path, name),
			Location: loc,
		})
	}
	for _, n := range hotNames {
		if !isIgnoredName(n) {
			add(n)
		}
	}
	for _, n := range coldNames {
		if !isIgnoredName(n) {
			add(n)
		}
	}

	s.cache.BatchUpdate(batch)
	return out, nil
}

// Stat returns the hot tier's metadata if present, else the cold tier's.
func (s *Store) Stat(ctx context.Context, path string) (backend.Metadata, error) {
	if isIgnoredName(path) {
		return backend.Metadata{}, fmt.Errorf("store: stat %q: %w", path, rhsserrors.ErrNotFound)
	}
	md, err := s.Hot.Stat(ctx, path)
	if err == nil {
		return md, nil
	}
	md, err = s.Cold.Stat(ctx, path)
	if err != nil {
		return backend.Metadata{}, fmt.Errorf("store: stat %q: %w", path, rhsserrors.ErrNotFound)
	}
	return md, nil
}

// Read returns path's content, consulting the location cache first and
// falling back to a hot-then-cold probe.
func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	if loc, ok := s.cache.Get(path); ok {
		s.Metrics.CacheHit()
		order := tierOrder(loc)
		for _, tier := range order {
			data, err := s.tier(tier).Read(ctx, path)
			if err == nil {
				s.Metrics.StoreOp("read", tier.String())
				return data, nil
			}
		}
		s.cache.Remove(path)
	} else {
		s.Metrics.CacheMiss()
	}

	if data, err := s.Hot.Read(ctx, path); err == nil {
		size := uint64(len(data))
		s.cache.Set(path, locationcache.LocationHot, &size)
		s.Metrics.StoreOp("read", "hot")
		return data, nil
	}
	if data, err := s.Cold.Read(ctx, path); err == nil {
		size := uint64(len(data))
		s.cache.Set(path, locationcache.LocationCold, &size)
		s.Metrics.StoreOp("read", "cold")
		return data, nil
	}
	return nil, fmt.Errorf("store: read %q: %w", path, rhsserrors.ErrNotFound)
}

func (s *Store) tier(loc locationcache.StorageLocation) backend.Backend {
	if loc == locationcache.LocationCold {
		return s.Cold
	}
	return s.Hot
}

func tierOrder(loc locationcache.StorageLocation) []locationcache.StorageLocation {
	switch loc {
	case locationcache.LocationCold:
		return []locationcache.StorageLocation{locationcache.LocationCold}
	case locationcache.LocationBoth:
		return []locationcache.StorageLocation{locationcache.LocationHot, locationcache.LocationCold}
	default:
		return []locationcache.StorageLocation{locationcache.LocationHot}
	}
}

// Write places data in the tier its size dictates, deleting any copy on the
// opposite tier first, and updates the location cache.
func (s *Store) Write(ctx context.Context, path string, data []byte) error {
	size := uint64(len(data))
	target, other := s.Hot, s.Cold
	targetLoc := locationcache.LocationHot
	if size >= s.Threshold {
		target, other = s.Cold, s.Hot
		targetLoc = locationcache.LocationCold
	}

	exists, err := other.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("store: write %q: checking opposite tier: %w", path, err)
	}
	if exists {
		if err := other.Delete(ctx, path); err != nil {
			return fmt.Errorf("store: write %q: clearing opposite tier: %w", path, err)
		}
	}

	if err := target.Write(ctx, path, data); err != nil {
		return fmt.Errorf("store: write %q: %w", path, err)
	}
	s.cache.Set(path, targetLoc, &size)
	s.Metrics.StoreOp("write", targetLoc.String())
	return nil
}

// CreateEmpty creates a zero-length file in the hot tier only. It does not
// purge a same-named entry in the cold tier; a subsequent Write enforces
// single-tier placement.
func (s *Store) CreateEmpty(ctx context.Context, path string) error {
	if err := s.Hot.CreateEmpty(ctx, path); err != nil {
		return fmt.Errorf("store: create %q: %w", path, err)
	}
	var zero uint64
	s.cache.Set(path, locationcache.LocationHot, &zero)
	return nil
}

// Mkdir creates path in the hot tier only. Directories are never migrated.
func (s *Store) Mkdir(ctx context.Context, path string) error {
	if err := s.Hot.Mkdir(ctx, path); err != nil {
		return fmt.Errorf("store: mkdir %q: %w", path, err)
	}
	return nil
}

// Delete removes path from both tiers, succeeding if at least one succeeds.
func (s *Store) Delete(ctx context.Context, path string) error {
	hotErr := s.Hot.Delete(ctx, path)
	coldErr := s.Cold.Delete(ctx, path)
	s.cache.Remove(path)
	if hotErr == nil || coldErr == nil {
		return nil
	}
	return fmt.Errorf("store: delete %q: %w", path, errors.Join(hotErr, coldErr))
}

// Exists reports whether path is present in either tier.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	ok, err := s.Hot.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("store: exists %q: %w", path, err)
	}
	if ok {
		return true, nil
	}
	ok, err = s.Cold.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("store: exists %q: %w", path, err)
	}
	return ok, nil
}

// MigrateFile moves path to the tier its current size dictates, if it is
// not already there, and reports whether a migration occurred.
func (s *Store) MigrateFile(ctx context.Context, path string) (bool, error) {
	md, err := s.Stat(ctx, path)
	if err != nil {
		return false, fmt.Errorf("store: migrate %q: %w", path, err)
	}
	expected := locationcache.LocationHot
	if md.Size >= s.Threshold {
		expected = locationcache.LocationCold
	}

	inHot, err := s.Hot.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("store: migrate %q: %w", path, err)
	}
	inCold, err := s.Cold.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("store: migrate %q: %w", path, err)
	}

	var actual locationcache.StorageLocation
	switch {
	case inHot && inCold:
		actual = locationcache.LocationBoth
	case inCold:
		actual = locationcache.LocationCold
	default:
		actual = locationcache.LocationHot
	}

	if actual == expected || actual == locationcache.LocationBoth {
		return false, nil
	}

	from, to := s.tier(actual), s.tier(expected)
	data, err := from.Read(ctx, path)
	if err != nil {
		return false, fmt.Errorf("store: migrate %q: reading from %s: %w", path, actual, err)
	}
	if err := to.Write(ctx, path, data); err != nil {
		return false, fmt.Errorf("store: migrate %q: writing to %s: %w", path, expected, err)
	}
	_ = from.Delete(ctx, path)

	s.cache.MoveLocation(path, actual, expected)
	s.Metrics.Migration()
	return true, nil
}

// MigrationStats summarizes a MigrateDirectory call.
type MigrationStats struct {
	Checked  int
	Migrated int
}

// MigrateDirectory lists path and calls MigrateFile for each entry, fanning
// out up to MigrationConcurrency at a time. It is not recursive; the caller
// drives recursion for whole-tree migration.
func (s *Store) MigrateDirectory(ctx context.Context, path string) (MigrationStats, error) {
	names, err := s.List(ctx, path)
	if err != nil {
		return MigrationStats{}, fmt.Errorf("store: migrate directory %q: %w", path, err)
	}

	limit := s.MigrationConcurrency
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var stats MigrationStats
	var mu sync.Mutex
	for _, name := range names {
		name := name
		g.Go(func() error {
			migrated, err := s.MigrateFile(gctx, filepath.Join(path, name))
			mu.Lock()
			stats.Checked++
			if migrated {
				stats.Migrated++
			}
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("migrating %q: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("store: migrate directory %q: %w", path, err)
	}
	return stats, nil
}

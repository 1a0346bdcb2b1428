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

// Package backend defines the path-keyed storage primitives that the hybrid
// tiered store routes operations to. Two implementations exist: Generic
// (plain os/io calls, plus a short-TTL stat cache) and Posix (direct
// golang.org/x/sys/unix syscalls). The store treats both interchangeably.
package backend

import (
	"context"
	"time"
)

// Metadata describes a single path's attributes, as owned by whichever
// backend reported it.
type Metadata struct {
	Size  uint64
	IsDir bool
	Mode  uint32
	Mtime time.Time
}

// Backend is the minimal set of path-keyed primitives the store needs. All
// paths are relative to the backend's own base directory. Every method fails
// with one of the sentinel errors in internal/rhsserrors; none leave partial
// state on error.
type Backend interface {
	// List returns child names only (no path prefix), order unspecified.
	// Returns an empty slice, not an error, if path does not exist.
	List(ctx context.Context, path string) ([]string, error)

	// Stat returns metadata for path. Fails with rhsserrors.ErrNotFound if
	// absent.
	Stat(ctx context.Context, path string) (Metadata, error)

	// Read returns the full contents of path. Fails with
	// rhsserrors.ErrNotFound if absent.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write replaces path's content with data, creating parent directories
	// as needed. Whole-file replace; not a partial/range write.
	Write(ctx context.Context, path string, data []byte) error

	// CreateEmpty creates a zero-length regular file at path, creating
	// parent directories as needed.
	CreateEmpty(ctx context.Context, path string) error

	// Mkdir creates path and any missing parents. Succeeds if path already
	// exists as a directory.
	Mkdir(ctx context.Context, path string) error

	// Delete removes path, recursively if it is a directory. A missing
	// path may be reported as rhsserrors.ErrNotFound or swallowed, at the
	// backend's discretion; the store does not rely on either behavior.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)
}

// Mode selects which Backend implementation a base directory is served by.
type Mode string

const (
	ModeGeneric Mode = "generic"
	ModePosix   Mode = "posix"
)

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

// Package rhsserrors defines the sentinel error kinds the storage layer
// surfaces. Every Backend and Store method fails with one of these, wrapped
// with fmt.Errorf("...: %w", ...) so errors.Is still matches the sentinel.
package rhsserrors

import "errors"

var (
	// ErrIO wraps an underlying backend I/O failure (open, read, write,
	// rename, etc. syscall/os errors).
	ErrIO = errors.New("io error")

	// ErrStorage indicates a backend rejected an operation semantically,
	// e.g. deleting a non-empty directory a backend refuses to recurse into.
	ErrStorage = errors.New("storage error")

	// ErrMetadata indicates a stat-time inconsistency, e.g. a path that
	// toggled between file and directory between two backend calls.
	ErrMetadata = errors.New("metadata error")

	// ErrNotFound indicates the path is absent from every backend consulted.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates a backend refused the operation due to
	// host filesystem permissions.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidOperation indicates a structurally impossible request, e.g.
	// resolving a file handle or inode that was never allocated.
	ErrInvalidOperation = errors.New("invalid operation")
)

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

// Package inodetable implements the session-scoped bookkeeping the
// filesystem adapter needs to translate kernel identifiers (inode numbers,
// file handles) to and from paths: separate maps guarded by a
// syncutil.InvariantMutex, monotonic id counters, no reuse.
package inodetable

import (
	"fmt"
	"path"

	"github.com/jacobsa/syncutil"
)

// RootInode is reserved for the filesystem root, matching fuseops.RootInodeID.
const RootInode uint64 = 1

// Table holds the bidirectional inode<->path map and the one-way handle->path
// map. The zero value is not usable; construct with New.
type Table struct {
	mu syncutil.InvariantMutex

	nextIno uint64 // GUARDED_BY(mu)
	nextFh  uint64 // GUARDED_BY(mu)

	pathToIno map[string]uint64 // GUARDED_BY(mu)
	inoToPath map[uint64]string // GUARDED_BY(mu)
	fhToPath  map[uint64]string // GUARDED_BY(mu)
}

// New returns a Table with inode 1 pre-populated for the root path ("").
func New() *Table {
	t := &Table{
		nextIno:   RootInode + 1,
		nextFh:    1,
		pathToIno: map[string]uint64{"": RootInode},
		inoToPath: map[uint64]string{RootInode: ""},
		fhToPath:  make(map[uint64]string),
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *Table) checkInvariants() {
	if len(t.pathToIno) != len(t.inoToPath) {
		panic(fmt.Sprintf("inodetable: map size mismatch: pathToIno=%d inoToPath=%d",
			len(t.pathToIno), len(t.inoToPath)))
	}
	for p, ino := range t.pathToIno {
		if ino < RootInode || ino >= t.nextIno {
			panic(fmt.Sprintf("inodetable: inode %d for path %q out of range", ino, p))
		}
		if got := t.inoToPath[ino]; got != p {
			panic(fmt.Sprintf("inodetable: asymmetric map: path %q -> ino %d -> path %q", p, ino, got))
		}
	}
}

// AllocateIno returns the existing inode for path if already known,
// otherwise assigns the next counter value and records both directions.
func (t *Table) AllocateIno(path string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ino, ok := t.pathToIno[path]; ok {
		return ino
	}
	ino := t.nextIno
	t.nextIno++
	t.pathToIno[path] = ino
	t.inoToPath[ino] = path
	return ino
}

// PathForIno returns the path recorded for ino.
func (t *Table) PathForIno(ino uint64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.inoToPath[ino]
	return p, ok
}

// InoForPath returns the inode recorded for path, if any.
func (t *Table) InoForPath(path string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ino, ok := t.pathToIno[path]
	return ino, ok
}

// Forget removes path (and its inode) from the table, e.g. after unlink or
// rmdir. It is a no-op for unknown paths and refuses to remove the root.
func (t *Table) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ino, ok := t.pathToIno[path]
	if !ok || ino == RootInode {
		return
	}
	delete(t.pathToIno, path)
	delete(t.inoToPath, ino)
}

// Resolve composes parent's recorded path with an optional child name,
// returning an error if parent is unknown. A zero-length name returns
// parent's own path (used for "." style lookups).
func (t *Table) Resolve(parentIno uint64, name string) (string, error) {
	t.mu.Lock()
	parentPath, ok := t.inoToPath[parentIno]
	t.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("inodetable: unknown parent inode %d", parentIno)
	}
	if name == "" {
		return parentPath, nil
	}
	return path.Join(parentPath, name), nil
}

// AllocateHandle assigns and records a new file handle for path.
func (t *Table) AllocateHandle(path string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	fh := t.nextFh
	t.nextFh++
	t.fhToPath[fh] = path
	return fh
}

// PathForHandle returns the path recorded for fh.
func (t *Table) PathForHandle(fh uint64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.fhToPath[fh]
	return p, ok
}

// ReleaseHandle removes fh's record, e.g. on the release callback.
func (t *Table) ReleaseHandle(fh uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.fhToPath, fh)
}

// HandleCount reports how many file handles are currently outstanding,
// polled during shutdown to decide when draining is complete.
func (t *Table) HandleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fhToPath)
}

// ClearHandles force-releases every outstanding file handle, the shutdown
// fallback once the drain deadline has passed.
func (t *Table) ClearHandles() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fhToPath = make(map[uint64]string)
}

// Clear empties all tables except the pre-populated root inode, used during
// shutdown.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pathToIno = map[string]uint64{"": RootInode}
	t.inoToPath = map[uint64]string{RootInode: ""}
	t.fhToPath = make(map[uint64]string)
}

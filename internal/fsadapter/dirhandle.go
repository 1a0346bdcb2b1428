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

package fsadapter

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/hybridtier/rhssfs/internal/inodetable"
)

// dirEntry is one resolved, typed entry in a directory snapshot.
type dirEntry struct {
	name string
	ino  fuseops.InodeID
	typ  fuseutil.DirentType
}

// dirHandle is a read-once, offset-addressable snapshot of a directory's
// contents taken at OpenDir time: the kernel expects successive ReadDir
// calls against the same handle to see a consistent listing even if the
// backing store changes mid-read.
type dirHandle struct {
	mu      sync.Mutex
	entries []dirEntry
}

func (fs *FileSystem) snapshotDir(ctx context.Context, dirPath string) (*dirHandle, error) {
	names, err := fs.store.List(ctx, dirPath)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	// "." carries the directory's own inode and ".." its parent's; the root
	// is its own parent.
	parentPath := ""
	if i := strings.LastIndex(dirPath, "/"); i >= 0 {
		parentPath = dirPath[:i]
	}
	dirIno := fs.table.AllocateIno(dirPath)
	parentIno := fs.table.AllocateIno(parentPath)

	dh := &dirHandle{entries: make([]dirEntry, 0, len(names)+2)}
	dh.entries = append(dh.entries,
		dirEntry{name: ".", ino: fuseops.InodeID(dirIno), typ: fuseutil.DT_Directory},
		dirEntry{name: "..", ino: fuseops.InodeID(parentIno), typ: fuseutil.DT_Directory},
	)
	for _, name := range names {
		childPath := path.Join(dirPath, name)
		if fs.filter.ShouldIgnore(childPath) {
			continue
		}

		md, err := fs.store.Stat(ctx, childPath)
		if err != nil {
			continue
		}

		typ := fuseutil.DT_File
		if md.IsDir {
			typ = fuseutil.DT_Directory
		}
		ino := fs.table.AllocateIno(childPath)
		dh.entries = append(dh.entries, dirEntry{name: name, ino: fuseops.InodeID(ino), typ: typ})
	}
	return dh, nil
}

// OpenDir verifies the inode is a known directory path and takes a listing
// snapshot for the new handle.
func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	var dirPath string
	if uint64(op.Inode) == inodetable.RootInode {
		dirPath = ""
	} else {
		p, ok := fs.table.PathForIno(uint64(op.Inode))
		if !ok {
			return syscall.ESTALE
		}
		dirPath = p
	}

	dh, err := fs.snapshotDir(ctx, dirPath)
	if err != nil {
		return errnoFor(err)
	}

	fs.dirHandlesMu.Lock()
	handle := fs.nextDirHandle
	fs.nextDirHandle++
	if fs.dirHandles == nil {
		fs.dirHandles = make(map[fuseops.HandleID]*dirHandle)
	}
	fs.dirHandles[handle] = dh
	fs.dirHandlesMu.Unlock()

	op.Handle = handle
	return nil
}

// ReadDir serves op.Dst from the handle's snapshot starting at op.Offset.
// Kernel offsets into this handle are indices into `entries`, not byte
// counts into op.Dst.
func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.dirHandlesMu.Lock()
	dh := fs.dirHandles[op.Handle]
	fs.dirHandlesMu.Unlock()
	if dh == nil {
		return syscall.EBADF
	}

	dh.mu.Lock()
	defer dh.mu.Unlock()

	for i := int(op.Offset); i < len(dh.entries); i++ {
		e := dh.entries[i]
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  e.ino,
			Name:   e.name,
			Type:   e.typ,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

// ReleaseDirHandle drops the handle's snapshot.
func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.dirHandlesMu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.dirHandlesMu.Unlock()
	return nil
}

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

// Package fsadapter implements fuseutil.FileSystem over a store.Store,
// translating kernel inode/handle identifiers to and from store paths via
// an inodetable.Table. Every callback resolves its identifiers under the
// table's lock, releases it, then calls into the store.
package fsadapter

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/hybridtier/rhssfs/clock"
	"github.com/hybridtier/rhssfs/internal/backend"
	"github.com/hybridtier/rhssfs/internal/ignorefilter"
	"github.com/hybridtier/rhssfs/internal/inodetable"
	"github.com/hybridtier/rhssfs/internal/logger"
	"github.com/hybridtier/rhssfs/internal/metrics"
	"github.com/hybridtier/rhssfs/internal/rhsserrors"
	"github.com/hybridtier/rhssfs/internal/store"
)

// Config carries the attribute defaults the adapter synthesizes for every
// inode it hands back to the kernel, since the store itself has no notion
// of uid/gid/permission bits.
type Config struct {
	Uid      uint32
	Gid      uint32
	FileMode os.FileMode
	DirMode  os.FileMode

	// Metrics, when non-nil, tracks the live file-handle gauge.
	Metrics *metrics.Metrics
}

// FileSystem implements fuseutil.FileSystem over a store.Store. Unsupported
// ops (symlinks, hard links, rename, xattrs) fall through to
// NotImplementedFileSystem's ENOSYS.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	store  *store.Store
	table  *inodetable.Table
	filter *ignorefilter.Filter
	cfg    Config
	clock  clock.Clock

	dirHandlesMu  sync.Mutex
	nextDirHandle fuseops.HandleID
	dirHandles    map[fuseops.HandleID]*dirHandle

	shutdown shutdownState
}

// New constructs a FileSystem ready to be wrapped by
// fuseutil.NewFileSystemServer.
func New(st *store.Store, filter *ignorefilter.Filter, cfg Config, clk clock.Clock) *FileSystem {
	if filter == nil {
		filter = ignorefilter.Default()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &FileSystem{
		store:         st,
		table:         inodetable.New(),
		filter:        filter,
		cfg:           cfg,
		clock:         clk,
		nextDirHandle: 1,
		dirHandles:    make(map[fuseops.HandleID]*dirHandle),
	}
}

// errnoFor maps a rhsserrors sentinel to the syscall.Errno the kernel
// expects on the wire; jacobsa/fuse type-asserts returned errors to
// syscall.Errno to pick a reply code, falling back to EIO.
func errnoFor(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rhsserrors.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, rhsserrors.ErrPermissionDenied):
		return syscall.EACCES
	case errors.Is(err, rhsserrors.ErrInvalidOperation):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

func (fs *FileSystem) attrsForMetadata(md backend.Metadata) fuseops.InodeAttributes {
	mode := fs.cfg.FileMode
	nlink := uint32(1)
	if md.IsDir {
		mode = fs.cfg.DirMode | os.ModeDir
		nlink = 2
	}
	mtime := md.Mtime
	if mtime.IsZero() {
		mtime = fs.clock.Now()
	}
	return fuseops.InodeAttributes{
		Size:  md.Size,
		Nlink: nlink,
		Mode:  mode,
		Uid:   fs.cfg.Uid,
		Gid:   fs.cfg.Gid,
		Atime: mtime,
		Mtime: mtime,
		Ctime: mtime,
	}
}

// entryTTL bounds how long the kernel may cache a looked-up entry and its
// attributes before revalidating.
const entryTTL = time.Second

func (fs *FileSystem) stampEntryExpiration(e *fuseops.ChildInodeEntry) {
	exp := fs.clock.Now().Add(entryTTL)
	e.AttributesExpiration = exp
	e.EntryExpiration = exp
}

func (fs *FileSystem) rootAttrs() fuseops.InodeAttributes {
	now := fs.clock.Now()
	return fuseops.InodeAttributes{
		Size:  0,
		Nlink: 2,
		Mode:  fs.cfg.DirMode | os.ModeDir,
		Uid:   fs.cfg.Uid,
		Gid:   fs.cfg.Gid,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

// LookUpInode resolves op.Parent/op.Name to a path, stats it through the
// store, and mints or reuses the child's inode number.
func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	childPath, err := fs.table.Resolve(uint64(op.Parent), op.Name)
	if err != nil {
		return syscall.ENOENT
	}

	md, err := fs.store.Stat(ctx, childPath)
	if err != nil {
		if fs.filter.ShouldIgnore(childPath) {
			logger.Debugf("fsadapter: lookup %q: %v", childPath, err)
		} else {
			logger.Errorf("fsadapter: lookup %q: %v", childPath, err)
		}
		return errnoFor(err)
	}

	ino := fs.table.AllocateIno(childPath)
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = fs.attrsForMetadata(md)
	fs.stampEntryExpiration(&op.Entry)
	return nil
}

// GetInodeAttributes stats the inode's path directly, except for the root
// which is synthesized since it has no backing store entry.
func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if uint64(op.Inode) == inodetable.RootInode {
		op.Attributes = fs.rootAttrs()
		return nil
	}

	p, ok := fs.table.PathForIno(uint64(op.Inode))
	if !ok {
		return syscall.ESTALE
	}

	md, err := fs.store.Stat(ctx, p)
	if err != nil {
		return errnoFor(err)
	}
	op.Attributes = fs.attrsForMetadata(md)
	return nil
}

// SetInodeAttributes only supports truncating regular files via Size; mode
// and time changes are accepted silently (the store tracks no independent
// permission or timestamp state beyond what the backend reports).
func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	if fs.Draining() {
		return syscall.ENOSYS
	}

	if uint64(op.Inode) == inodetable.RootInode {
		op.Attributes = fs.rootAttrs()
		return nil
	}

	p, ok := fs.table.PathForIno(uint64(op.Inode))
	if !ok {
		return syscall.ESTALE
	}

	if op.Size != nil {
		data, err := fs.store.Read(ctx, p)
		if err != nil {
			return errnoFor(err)
		}
		if int(*op.Size) <= len(data) {
			data = data[:*op.Size]
		} else {
			grown := make([]byte, *op.Size)
			copy(grown, data)
			data = grown
		}
		if err := fs.store.Write(ctx, p, data); err != nil {
			return errnoFor(err)
		}
	}

	md, err := fs.store.Stat(ctx, p)
	if err != nil {
		return errnoFor(err)
	}
	op.Attributes = fs.attrsForMetadata(md)
	return nil
}

// ForgetInode drops the path<->inode mapping once the kernel guarantees it
// will not be referenced again.
func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	if p, ok := fs.table.PathForIno(uint64(op.Inode)); ok {
		fs.table.Forget(p)
	}
	return nil
}

// MkDir creates a directory in the hot tier and mints its inode.
func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	if fs.Draining() {
		return syscall.ENOSYS
	}

	childPath, err := fs.table.Resolve(uint64(op.Parent), op.Name)
	if err != nil {
		return syscall.ENOENT
	}

	if exists, err := fs.store.Exists(ctx, childPath); err != nil {
		return errnoFor(err)
	} else if exists {
		return syscall.EEXIST
	}

	if err := fs.store.Mkdir(ctx, childPath); err != nil {
		return errnoFor(err)
	}

	ino := fs.table.AllocateIno(childPath)
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = fs.attrsForMetadata(backend.Metadata{IsDir: true, Mtime: fs.clock.Now()})
	fs.stampEntryExpiration(&op.Entry)
	return nil
}

// CreateFile creates an empty file in the hot tier, mints its inode, and
// allocates a handle in the same call, matching the kernel's combined
// create-and-open semantics.
func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	if fs.Draining() {
		return syscall.ENOSYS
	}

	childPath, err := fs.table.Resolve(uint64(op.Parent), op.Name)
	if err != nil {
		return syscall.ENOENT
	}

	if exists, err := fs.store.Exists(ctx, childPath); err != nil {
		return errnoFor(err)
	} else if exists {
		return syscall.EEXIST
	}

	if err := fs.store.CreateEmpty(ctx, childPath); err != nil {
		return errnoFor(err)
	}

	ino := fs.table.AllocateIno(childPath)
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = fs.attrsForMetadata(backend.Metadata{Mtime: fs.clock.Now()})
	fs.stampEntryExpiration(&op.Entry)
	op.Handle = fuseops.HandleID(fs.table.AllocateHandle(childPath))
	fs.cfg.Metrics.HandleOpened()
	return nil
}

// RmDir removes a directory, refusing if it is not empty.
func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	if fs.Draining() {
		return syscall.ENOSYS
	}

	childPath, err := fs.table.Resolve(uint64(op.Parent), op.Name)
	if err != nil {
		return syscall.ENOENT
	}

	entries, err := fs.store.List(ctx, childPath)
	if err != nil {
		return errnoFor(err)
	}
	if len(entries) != 0 {
		return syscall.ENOTEMPTY
	}

	if err := fs.store.Delete(ctx, childPath); err != nil {
		return errnoFor(err)
	}
	fs.table.Forget(childPath)
	return nil
}

// Unlink removes a file.
func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	if fs.Draining() {
		return syscall.ENOSYS
	}

	childPath, err := fs.table.Resolve(uint64(op.Parent), op.Name)
	if err != nil {
		return syscall.ENOENT
	}

	if err := fs.store.Delete(ctx, childPath); err != nil {
		return errnoFor(err)
	}
	fs.table.Forget(childPath)
	return nil
}

// OpenFile just sanity-checks the inode is known; the actual handle used by
// Read/Write is allocated here since the store is pathname-addressed and
// carries no separate file-descriptor state.
func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	p, ok := fs.table.PathForIno(uint64(op.Inode))
	if !ok {
		return syscall.ESTALE
	}
	op.Handle = fuseops.HandleID(fs.table.AllocateHandle(p))
	op.KeepPageCache = false
	fs.cfg.Metrics.HandleOpened()
	return nil
}

// ReadFile reads the handle's full backing content and copies the requested
// range into op.Dst, since the store's Read/Write operate on whole files
// rather than byte ranges. A request at or past end-of-file replies ENOENT
// rather than a short read.
func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	p, ok := fs.table.PathForHandle(uint64(op.Handle))
	if !ok {
		return syscall.EBADF
	}

	data, err := fs.store.Read(ctx, p)
	if err != nil {
		return errnoFor(err)
	}

	if op.Offset < 0 || int64(len(data)) <= op.Offset {
		return syscall.ENOENT
	}
	op.BytesRead = copy(op.Dst, data[op.Offset:])
	return nil
}

// WriteFile replaces the handle's entire backing content. A nonzero
// op.Offset is accepted but ignored: the write is always a full replace.
// Editors that append through multiple small writes will truncate prior
// content; a per-handle buffered view flushed on release would lift this.
func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	if fs.Draining() {
		return syscall.ENOSYS
	}

	p, ok := fs.table.PathForHandle(uint64(op.Handle))
	if !ok {
		return syscall.EBADF
	}

	if err := fs.store.Write(ctx, p, op.Data); err != nil {
		return errnoFor(err)
	}
	return nil
}

// SyncFile and FlushFile are no-ops: every WriteFile call already commits
// synchronously to the backing tier.
func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

// ReleaseFileHandle drops the handle's path mapping. This is the only path
// by which file handles are reclaimed during normal operation.
func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.table.ReleaseHandle(uint64(op.Handle))
	fs.cfg.Metrics.HandleReleased()
	return nil
}

// OpenHandleCount reports how many file handles the kernel still holds,
// polled by the shutdown sequence while draining.
func (fs *FileSystem) OpenHandleCount() int {
	return fs.table.HandleCount()
}

// ForceReleaseHandles drops every outstanding file handle, the fallback once
// the shutdown drain deadline has passed.
func (fs *FileSystem) ForceReleaseHandles() {
	fs.table.ClearHandles()
}

// Destroy transitions the shutdown state machine and clears the inode
// table; called once by the mount driver after fuse.MountedFileSystem.Join
// returns.
func (fs *FileSystem) Destroy() {
	fs.shutdown.advance(stateStopped)
	fs.table.Clear()

	fs.dirHandlesMu.Lock()
	fs.dirHandles = make(map[fuseops.HandleID]*dirHandle)
	fs.dirHandlesMu.Unlock()
}

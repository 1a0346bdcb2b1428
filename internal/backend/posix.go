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

package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hybridtier/rhssfs/internal/rhsserrors"
)

// Posix is a Backend whose primitives are direct golang.org/x/sys/unix
// syscalls, selected with --mode posix.
type Posix struct {
	base string
}

// NewPosix returns a Posix backend rooted at base. base is created if
// missing.
func NewPosix(base string) (*Posix, error) {
	if err := unix.Mkdir(base, 0o755); err != nil && err != unix.EEXIST {
		return nil, fmt.Errorf("backend: creating base dir %q: %w", base, rhsserrors.ErrIO)
	}
	return &Posix{base: base}, nil
}

func (p *Posix) full(path string) string {
	return filepath.Join(p.base, filepath.FromSlash(path))
}

// mkdirAll creates dir and any missing parents using raw unix.Mkdir calls.
func mkdirAll(dir string) error {
	if dir == "" || dir == string(filepath.Separator) {
		return nil
	}
	if err := unix.Mkdir(dir, 0o755); err == nil || err == unix.EEXIST {
		return nil
	}
	if err := mkdirAll(filepath.Dir(dir)); err != nil {
		return err
	}
	if err := unix.Mkdir(dir, 0o755); err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}

func (p *Posix) List(_ context.Context, path string) ([]string, error) {
	fd, err := unix.Open(p.full(path), unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, nil
		}
		return nil, fmt.Errorf("backend: list %q: %w", path, rhsserrors.ErrIO)
	}
	defer unix.Close(fd)

	var names []string
	buf := make([]byte, 8192)
	for {
		n, err := unix.Getdents(fd, buf)
		if err != nil {
			return nil, fmt.Errorf("backend: list %q: %w", path, rhsserrors.ErrIO)
		}
		if n == 0 {
			break
		}
		names = append(names, parseDirentNames(buf[:n])...)
	}
	out := names[:0]
	for _, n := range names {
		if n == "." || n == ".." {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (p *Posix) Stat(_ context.Context, path string) (Metadata, error) {
	if strings.HasPrefix(filepath.Base(path), "._") {
		return Metadata{}, fmt.Errorf("backend: stat %q: %w", path, rhsserrors.ErrNotFound)
	}
	var st unix.Stat_t
	if err := unix.Stat(p.full(path), &st); err != nil {
		if err == unix.ENOENT {
			return Metadata{}, fmt.Errorf("backend: stat %q: %w", path, rhsserrors.ErrNotFound)
		}
		return Metadata{}, fmt.Errorf("backend: stat %q: %w", path, rhsserrors.ErrIO)
	}
	return Metadata{
		Size:  uint64(st.Size),
		IsDir: st.Mode&unix.S_IFMT == unix.S_IFDIR,
		Mode:  uint32(st.Mode & 0o7777),
		Mtime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
	}, nil
}

func (p *Posix) Read(_ context.Context, path string) ([]byte, error) {
	fd, err := unix.Open(p.full(path), unix.O_RDONLY, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, fmt.Errorf("backend: read %q: %w", path, rhsserrors.ErrNotFound)
		}
		return nil, fmt.Errorf("backend: read %q: %w", path, rhsserrors.ErrIO)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("backend: read %q: %w", path, rhsserrors.ErrIO)
	}
	data := make([]byte, st.Size)
	off := 0
	for off < len(data) {
		n, err := unix.Pread(fd, data[off:], int64(off))
		if err != nil {
			return nil, fmt.Errorf("backend: read %q: %w", path, rhsserrors.ErrIO)
		}
		if n == 0 {
			break
		}
		off += n
	}
	return data[:off], nil
}

func (p *Posix) Write(_ context.Context, path string, data []byte) error {
	full := p.full(path)
	if err := mkdirAll(filepath.Dir(full)); err != nil {
		return fmt.Errorf("backend: write %q: creating parents: %w", path, rhsserrors.ErrIO)
	}
	fd, err := unix.Open(full, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("backend: write %q: %w", path, rhsserrors.ErrIO)
	}
	defer unix.Close(fd)

	off := 0
	for off < len(data) {
		n, err := unix.Pwrite(fd, data[off:], int64(off))
		if err != nil {
			return fmt.Errorf("backend: write %q: %w", path, rhsserrors.ErrIO)
		}
		off += n
	}
	return nil
}

func (p *Posix) CreateEmpty(_ context.Context, path string) error {
	full := p.full(path)
	if err := mkdirAll(filepath.Dir(full)); err != nil {
		return fmt.Errorf("backend: create %q: creating parents: %w", path, rhsserrors.ErrIO)
	}
	fd, err := unix.Open(full, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("backend: create %q: %w", path, rhsserrors.ErrIO)
	}
	return unix.Close(fd)
}

func (p *Posix) Mkdir(_ context.Context, path string) error {
	if err := mkdirAll(p.full(path)); err != nil {
		return fmt.Errorf("backend: mkdir %q: %w", path, rhsserrors.ErrIO)
	}
	return nil
}

func (p *Posix) Delete(_ context.Context, path string) error {
	full := p.full(path)
	var st unix.Stat_t
	if err := unix.Stat(full, &st); err != nil {
		if err == unix.ENOENT {
			return nil
		}
		return fmt.Errorf("backend: delete %q: %w", path, rhsserrors.ErrIO)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		if err := removeAllPosix(full); err != nil {
			return fmt.Errorf("backend: delete %q: %w", path, rhsserrors.ErrIO)
		}
		return nil
	}
	if err := unix.Unlink(full); err != nil && err != unix.ENOENT {
		return fmt.Errorf("backend: delete %q: %w", path, rhsserrors.ErrIO)
	}
	return nil
}

func (p *Posix) Exists(_ context.Context, path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(p.full(path), &st); err != nil {
		if err == unix.ENOENT {
			return false, nil
		}
		return false, fmt.Errorf("backend: exists %q: %w", path, rhsserrors.ErrIO)
	}
	return true, nil
}

var _ Backend = (*Posix)(nil)

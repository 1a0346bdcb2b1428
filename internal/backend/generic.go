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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hybridtier/rhssfs/internal/rhsserrors"
	"github.com/hybridtier/rhssfs/ttlcache"
)

// Generic is a Backend built on the os/io standard library. It layers a
// short-TTL stat cache in front of os.Stat to cut down duplicate stats
// during list/exists fan-out across the two tiers.
type Generic struct {
	base      string
	statCache *ttlcache.Cache[string, fs.FileInfo]
}

// NewGeneric returns a Generic backend rooted at base. base is created if
// missing.
func NewGeneric(base string) (*Generic, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("backend: creating base dir %q: %w", base, err)
	}
	return &Generic{
		base:      base,
		statCache: ttlcache.New[string, fs.FileInfo](2*time.Second, time.Second),
	}, nil
}

func (g *Generic) full(path string) string {
	return filepath.Join(g.base, filepath.FromSlash(path))
}

func (g *Generic) List(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(g.full(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("backend: list %q: %w", path, rhsserrors.ErrIO)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (g *Generic) Stat(_ context.Context, path string) (Metadata, error) {
	if strings.HasPrefix(filepath.Base(path), "._") {
		return Metadata{}, fmt.Errorf("backend: stat %q: %w", path, rhsserrors.ErrNotFound)
	}
	info, ok := g.statCache.Get(path)
	if !ok {
		fi, statErr := os.Stat(g.full(path))
		if statErr != nil {
			if errors.Is(statErr, os.ErrNotExist) {
				return Metadata{}, fmt.Errorf("backend: stat %q: %w", path, rhsserrors.ErrNotFound)
			}
			return Metadata{}, fmt.Errorf("backend: stat %q: %w", path, rhsserrors.ErrIO)
		}
		info = fi
		g.statCache.Set(path, fi)
	}
	return Metadata{
		Size:  uint64(info.Size()),
		IsDir: info.IsDir(),
		Mode:  uint32(info.Mode().Perm()),
		Mtime: info.ModTime(),
	}, nil
}

func (g *Generic) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(g.full(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("backend: read %q: %w", path, rhsserrors.ErrNotFound)
		}
		return nil, fmt.Errorf("backend: read %q: %w", path, rhsserrors.ErrIO)
	}
	return data, nil
}

func (g *Generic) Write(_ context.Context, path string, data []byte) error {
	full := g.full(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("backend: write %q: creating parents: %w", path, rhsserrors.ErrIO)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("backend: write %q: %w", path, rhsserrors.ErrIO)
	}
	g.statCache.Delete(path)
	return nil
}

func (g *Generic) CreateEmpty(_ context.Context, path string) error {
	full := g.full(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("backend: create %q: creating parents: %w", path, rhsserrors.ErrIO)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("backend: create %q: %w", path, rhsserrors.ErrIO)
	}
	defer f.Close()
	g.statCache.Delete(path)
	return nil
}

func (g *Generic) Mkdir(_ context.Context, path string) error {
	if err := os.MkdirAll(g.full(path), 0o755); err != nil {
		return fmt.Errorf("backend: mkdir %q: %w", path, rhsserrors.ErrIO)
	}
	g.statCache.Delete(path)
	return nil
}

func (g *Generic) Delete(_ context.Context, path string) error {
	full := g.full(path)
	info, statErr := os.Stat(full)
	g.statCache.Delete(path)
	if statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("backend: delete %q: %w", path, rhsserrors.ErrIO)
	}
	var err error
	if info.IsDir() {
		err = os.RemoveAll(full)
	} else {
		err = os.Remove(full)
	}
	if err != nil {
		return fmt.Errorf("backend: delete %q: %w", path, rhsserrors.ErrIO)
	}
	return nil
}

func (g *Generic) Exists(_ context.Context, path string) (bool, error) {
	if _, ok := g.statCache.Get(path); ok {
		return true, nil
	}
	_, err := os.Stat(g.full(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("backend: exists %q: %w", path, rhsserrors.ErrIO)
}

var _ Backend = (*Generic)(nil)

// Copyright 2024 Google Inc. All Rights Reserved.
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

package cmd

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridtier/rhssfs/cfg"
	"github.com/hybridtier/rhssfs/internal/backend"
	"github.com/hybridtier/rhssfs/internal/exclusivelock"
)

func TestUnmountCommandArgs(t *testing.T) {
	plain := unmountCommand("/mnt/x", false)
	force := unmountCommand("/mnt/x", true)

	if runtime.GOOS == "darwin" {
		assert.Equal(t, []string{"diskutil", "unmount", "/mnt/x"}, plain.Args)
		assert.Equal(t, []string{"diskutil", "unmount", "force", "/mnt/x"}, force.Args)
	} else {
		assert.Equal(t, []string{"fusermount", "-u", "/mnt/x"}, plain.Args)
		assert.Equal(t, []string{"fusermount", "-uz", "/mnt/x"}, force.Args)
	}
}

func TestManualUnmountHintNamesMountPoint(t *testing.T) {
	assert.Contains(t, manualUnmountHint("/mnt/x"), "/mnt/x")
}

func TestNewBackendSelectsImplementation(t *testing.T) {
	dir := t.TempDir()

	b, err := newBackend(cfg.ModeGeneric, filepath.Join(dir, "g"))
	require.NoError(t, err)
	assert.IsType(t, &backend.Generic{}, b)

	b, err = newBackend(cfg.ModePosix, filepath.Join(dir, "p"))
	require.NoError(t, err)
	assert.IsType(t, &backend.Posix{}, b)
}

func TestCopyTreeSkipsLockFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, exclusivelock.LockFileName), []byte("{}"), 0o644))

	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "sub", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = os.Stat(filepath.Join(dst, exclusivelock.LockFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestCopyTreeMissingSourceIsEmpty(t *testing.T) {
	dst := t.TempDir()
	assert.NoError(t, copyTree(filepath.Join(dst, "does-not-exist"), dst))
}

func TestHiddenStorageRoundTrip(t *testing.T) {
	hot := t.TempDir()
	cold := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(hot, "small.txt"), []byte("s"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cold, "big.bin"), []byte("bbbb"), 0o644))

	h, err := setupHiddenStorage(hot, cold)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(h.hot, "small.txt"))
	require.NoError(t, err)
	assert.Equal(t, "s", string(data))

	// New data written while relocated must survive the copy back out.
	require.NoError(t, os.WriteFile(filepath.Join(h.cold, "new.bin"), []byte("n"), 0o644))

	require.NoError(t, h.restore())

	data, err = os.ReadFile(filepath.Join(cold, "new.bin"))
	require.NoError(t, err)
	assert.Equal(t, "n", string(data))

	_, err = os.Stat(h.root)
	assert.True(t, os.IsNotExist(err))
}

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

package exclusivelock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirs(t *testing.T) (hot, cold string) {
	t.Helper()
	base := t.TempDir()
	hot = filepath.Join(base, "hot")
	cold = filepath.Join(base, "cold")
	require.NoError(t, os.MkdirAll(hot, 0o755))
	require.NoError(t, os.MkdirAll(cold, 0o755))
	return hot, cold
}

func TestLock_AcquireAndRelease(t *testing.T) {
	hot, cold := newDirs(t)
	l := New("test", hot, cold)

	require.NoError(t, l.TryLock())
	assert.True(t, l.IsLocked())

	for _, d := range []string{hot, cold} {
		st, err := os.Stat(d)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), st.Mode().Perm())
		_, err = os.Stat(filepath.Join(d, LockFileName))
		assert.NoError(t, err)
	}

	require.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())

	for _, d := range []string{hot, cold} {
		st, err := os.Stat(d)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())
		_, err = os.Stat(filepath.Join(d, LockFileName))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestLock_ConflictingAcquireFails(t *testing.T) {
	hot, cold := newDirs(t)
	l1 := New("test", hot, cold)
	l2 := New("test", hot, cold)

	require.NoError(t, l1.TryLock())

	err := l2.TryLock()
	require.Error(t, err)
	var conflict *Conflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, os.Getpid(), conflict.PID)

	require.NoError(t, l1.Unlock())
	require.NoError(t, l2.TryLock())
	require.NoError(t, l2.Unlock())
}

func TestLock_StaleLockFromDeadProcessIsCleaned(t *testing.T) {
	hot, cold := newDirs(t)

	payload := info{
		PID:        999999, // assumed not to exist
		StartTime:  time.Now().Unix(),
		Hostname:   "somehost",
		CreatedAt:  time.Now().Unix(),
		Version:    "old",
		InstanceID: "dead-instance",
	}
	writeLockFile(t, filepath.Join(hot, LockFileName), payload)

	l := New("test", hot, cold)
	require.NoError(t, l.TryLock())
	require.NoError(t, l.Unlock())
}

func TestLock_StaleLockByAgeIsCleaned(t *testing.T) {
	hot, cold := newDirs(t)

	payload := info{
		PID:       os.Getpid(),
		CreatedAt: time.Now().Add(-48 * time.Hour).Unix(),
		Hostname:  "somehost",
		Version:   "old",
	}
	writeLockFile(t, filepath.Join(hot, LockFileName), payload)

	l := New("test", hot, cold)
	require.NoError(t, l.TryLock())
	require.NoError(t, l.Unlock())
}

func TestLock_ForceLockBypassesConflict(t *testing.T) {
	hot, cold := newDirs(t)
	l1 := New("test", hot, cold)
	require.NoError(t, l1.TryLock())

	l2 := New("test", hot, cold)
	require.NoError(t, l2.ForceLock())
	require.NoError(t, l2.Unlock())
}

func TestLock_UnlockOnlyRemovesOwnPIDsLock(t *testing.T) {
	hot, cold := newDirs(t)

	l := New("test", hot, cold)
	require.NoError(t, l.TryLock())

	// Simulate another process having overwritten the lock file after
	// acquisition (e.g. a race); Unlock must not clobber it.
	other := info{PID: 123456, CreatedAt: time.Now().Unix(), Hostname: "x"}
	writeLockFile(t, filepath.Join(hot, LockFileName), other)

	require.NoError(t, l.Unlock())
	_, err := os.Stat(filepath.Join(hot, LockFileName))
	assert.NoError(t, err, "lock file owned by a different pid must survive Unlock")
}

func writeLockFile(t *testing.T, path string, in info) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc, err := json.MarshalIndent(in, "", "  ")
	require.NoError(t, err)
	_, err = f.Write(enc)
	require.NoError(t, err)
}

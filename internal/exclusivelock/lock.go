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

// Package exclusivelock implements the per-backend-directory advisory lock
// that keeps two instances from racing on the same hot/cold pair: one
// ".rhss.lock" JSON file per directory, stale-lock auto-clean, 0o700 chmod
// while held.
package exclusivelock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sys/unix"
)

// LockFileName is the advisory lock file written into each backend base
// directory while a mount holds it.
const LockFileName = ".rhss.lock"

const (
	staleAge     = 24 * time.Hour
	restoredMode = 0o755
	heldMode     = 0o700
)

// info is the JSON payload written into each lock file.
type info struct {
	PID        int    `json:"pid"`
	StartTime  int64  `json:"start_time"`
	Hostname   string `json:"hostname"`
	CreatedAt  int64  `json:"created_at"`
	Version    string `json:"version"`
	InstanceID string `json:"instance_id"`
}

// Lock guards a hot/cold directory pair with one lock file each.
type Lock struct {
	dirs         []string
	lockFiles    []string
	originalMode []os.FileMode
	haveOriginal []bool
	locked       bool
	version      string
	clock        timeutil.Clock
}

// Conflict describes why acquisition failed: another live process holds
// the lock.
type Conflict struct {
	LockFile string
	PID      int
	Hostname string
	Age      time.Duration
}

func (c *Conflict) Error() string {
	return fmt.Sprintf(
		"storage directory already locked by pid %d on %s (%s ago); lock file: %s\n"+
			"if you are certain that process has exited, remove the lock file or pass --force",
		c.PID, c.Hostname, c.Age.Round(time.Second), c.LockFile)
}

// New returns a Lock over the given backend base directories (typically the
// hot and cold roots). version is recorded in each lock file's payload.
func New(version string, dirs ...string) *Lock {
	lockFiles := make([]string, len(dirs))
	for i, d := range dirs {
		lockFiles[i] = filepath.Join(d, LockFileName)
	}
	return &Lock{
		dirs:         dirs,
		lockFiles:    lockFiles,
		originalMode: make([]os.FileMode, len(dirs)),
		haveOriginal: make([]bool, len(dirs)),
		version:      version,
		clock:        timeutil.RealClock(),
	}
}

// SetClock replaces the clock used for stale-age decisions, for tests.
func (l *Lock) SetClock(c timeutil.Clock) {
	l.clock = c
}

// TryLock attempts to acquire the lock over every directory, cleaning stale
// locks along the way. It fails with a *Conflict if a live process holds
// any directory's lock.
func (l *Lock) TryLock() error {
	if l.locked {
		return nil
	}
	for _, lf := range l.lockFiles {
		if err := l.cleanStaleLock(lf); err != nil {
			return err
		}
		if err := l.createLockFile(lf); err != nil {
			return err
		}
	}
	if err := l.restrictDirs(); err != nil {
		return err
	}
	l.locked = true
	return nil
}

// ForceLock deletes any existing lock files before acquiring, bypassing the
// staleness check entirely.
func (l *Lock) ForceLock() error {
	if l.locked {
		return nil
	}
	for _, lf := range l.lockFiles {
		if err := os.Remove(lf); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("exclusivelock: force removing %q: %w", lf, err)
		}
	}
	return l.TryLock()
}

func (l *Lock) restrictDirs() error {
	for i, dir := range l.dirs {
		st, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("exclusivelock: statting %q: %w", dir, err)
		}
		l.originalMode[i] = st.Mode().Perm()
		l.haveOriginal[i] = true
		if err := os.Chmod(dir, heldMode); err != nil {
			return fmt.Errorf("exclusivelock: chmod %q: %w", dir, err)
		}
	}
	return nil
}

// Unlock restores each directory's prior mode and removes each lock file it
// owns (matching pid only). Safe to call when not locked.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	for i, dir := range l.dirs {
		mode := os.FileMode(restoredMode)
		if l.haveOriginal[i] {
			mode = l.originalMode[i]
		}
		if _, err := os.Stat(dir); err == nil {
			if err := os.Chmod(dir, mode); err != nil {
				return fmt.Errorf("exclusivelock: restoring mode on %q: %w", dir, err)
			}
		}
	}
	for _, lf := range l.lockFiles {
		existing, err := readLockInfo(lf)
		if err != nil {
			continue
		}
		if existing.PID == os.Getpid() {
			if err := os.Remove(lf); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("exclusivelock: removing %q: %w", lf, err)
			}
		}
	}
	l.locked = false
	return nil
}

// IsLocked reports whether this Lock currently holds the lock.
func (l *Lock) IsLocked() bool {
	return l.locked
}

func (l *Lock) cleanStaleLock(lockFile string) error {
	existing, err := readLockInfo(lockFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Unreadable JSON: treat as stale and remove.
		if rmErr := os.Remove(lockFile); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("exclusivelock: removing corrupt lock %q: %w", lockFile, rmErr)
		}
		return nil
	}

	if !processAlive(existing.PID) {
		return removeStale(lockFile)
	}
	age := l.clock.Now().Sub(time.Unix(existing.CreatedAt, 0))
	if age > staleAge {
		return removeStale(lockFile)
	}
	return nil
}

func removeStale(lockFile string) error {
	if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("exclusivelock: removing stale lock %q: %w", lockFile, err)
	}
	return nil
}

func (l *Lock) createLockFile(lockFile string) error {
	f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			existing, readErr := readLockInfo(lockFile)
			if readErr != nil {
				return fmt.Errorf("exclusivelock: %q is locked but unreadable: %w", lockFile, readErr)
			}
			return &Conflict{
				LockFile: lockFile,
				PID:      existing.PID,
				Hostname: existing.Hostname,
				Age:      l.clock.Now().Sub(time.Unix(existing.CreatedAt, 0)),
			}
		}
		return fmt.Errorf("exclusivelock: creating %q: %w", lockFile, err)
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	now := l.clock.Now()
	payload := info{
		PID:        os.Getpid(),
		StartTime:  now.Unix(),
		Hostname:   hostname,
		CreatedAt:  now.Unix(),
		Version:    l.version,
		InstanceID: uuid.NewString(),
	}
	enc, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("exclusivelock: encoding lock payload: %w", err)
	}
	if _, err := f.Write(enc); err != nil {
		return fmt.Errorf("exclusivelock: writing %q: %w", lockFile, err)
	}
	return f.Sync()
}

func readLockInfo(lockFile string) (info, error) {
	data, err := os.ReadFile(lockFile)
	if err != nil {
		return info{}, err
	}
	var in info
	if err := json.Unmarshal(data, &in); err != nil {
		return info{}, err
	}
	return in, nil
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

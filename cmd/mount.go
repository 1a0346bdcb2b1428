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
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/hybridtier/rhssfs/cfg"
	"github.com/hybridtier/rhssfs/clock"
	"github.com/hybridtier/rhssfs/internal/backend"
	"github.com/hybridtier/rhssfs/internal/exclusivelock"
	"github.com/hybridtier/rhssfs/internal/fsadapter"
	"github.com/hybridtier/rhssfs/internal/ignorefilter"
	"github.com/hybridtier/rhssfs/internal/locationcache"
	"github.com/hybridtier/rhssfs/internal/logger"
	"github.com/hybridtier/rhssfs/internal/metrics"
	"github.com/hybridtier/rhssfs/internal/store"
)

// version is recorded in each backend lock file's payload so an operator
// diagnosing a lock conflict can see which release wrote it.
const version = "0.9.1"

const (
	// handleDrainAttempts x handleDrainInterval bounds how long shutdown
	// waits for the kernel to release outstanding file handles.
	handleDrainAttempts = 30
	handleDrainInterval = 100 * time.Millisecond

	// joinDeadline bounds how long shutdown waits for the kernel to confirm
	// an unmount before escalating to a forced one.
	joinDeadline = 5 * time.Second

	unmountVerifyAttempts = 3
	unmountVerifyInterval = time.Second
)

func newBackend(mode cfg.BackendMode, dir string) (backend.Backend, error) {
	switch mode {
	case cfg.ModePosix:
		return backend.NewPosix(dir)
	default:
		return backend.NewGeneric(dir)
	}
}

func getFuseMountConfig(config *cfg.Config) *fuse.MountConfig {
	mountCfg := &fuse.MountConfig{
		FSName:     "rhssfs",
		Subtype:    "rhssfs",
		VolumeName: "rhssfs",
		Options: map[string]string{
			"default_permissions": "",
		},
	}

	if config.Logging.Severity.Rank() <= cfg.ErrorLogSeverity.Rank() {
		mountCfg.ErrorLogger = logger.NewStdLogger(logger.LevelError, "fuse: ")
	}
	if config.Logging.Severity.Rank() <= cfg.TraceLogSeverity.Rank() {
		mountCfg.DebugLogger = logger.NewStdLogger(logger.LevelTrace, "fuse_debug: ")
	}
	return mountCfg
}

// runMount is the whole mount lifecycle: logging, optional hidden-storage
// relocation, exclusive lock, backend/store/adapter construction, the
// blocking kernel mount, and the signal-driven shutdown sequence.
func runMount(ctx context.Context, config *cfg.Config) error {
	if err := logger.InitLogFile(config.Logging); err != nil {
		return fmt.Errorf("initializing log file: %w", err)
	}
	logger.SetLogFormat(config.Logging.Format)
	defer logger.Close()

	if config.Debug.ExitOnInvariantViolation {
		syncutil.EnableInvariantChecking()
	}

	mountPoint := string(config.Mount)
	hotDir, coldDir := string(config.Hot), string(config.Cold)

	var hidden *hiddenStorage
	if config.HiddenStorage {
		h, err := setupHiddenStorage(hotDir, coldDir)
		if err != nil {
			return fmt.Errorf("relocating storage: %w", err)
		}
		hidden = h
		hotDir, coldDir = h.hot, h.cold
		logger.Infof("Relocated backends under %q for the mount's lifetime", h.root)
	}

	for _, d := range []string{mountPoint, hotDir, coldDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %q: %w", d, err)
		}
	}

	lock := exclusivelock.New(version, hotDir, coldDir)
	var err error
	if config.Force {
		err = lock.ForceLock()
	} else {
		err = lock.TryLock()
	}
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	hot, err := newBackend(config.Mode, hotDir)
	if err != nil {
		return fmt.Errorf("creating hot backend: %w", err)
	}
	cold, err := newBackend(config.Mode, coldDir)
	if err != nil {
		return fmt.Errorf("creating cold backend: %w", err)
	}

	// Each in-flight kernel request can pin a descriptor in both tiers.
	var rl unix.Rlimit
	if rlErr := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); rlErr == nil && rl.Cur < 1024 {
		logger.Warnf("File descriptor limit is low (%d); parallel requests may starve", rl.Cur)
	}

	registry := prometheus.NewRegistry()
	metricHandle := metrics.New(registry)

	cache := locationcache.New(locationcache.DefaultTTL, locationcache.DefaultCapacity, clock.RealClock{})
	st := store.New(hot, cold, config.Threshold, cache)
	st.MigrationConcurrency = 4
	st.Metrics = metricHandle

	uid, gid := os.Getuid(), os.Getgid()
	if uid == 0 && config.FileSystem.Uid < 0 {
		fmt.Fprintln(os.Stdout, `
WARNING: rhssfs invoked as root. This will cause all files to be owned by
root. If this is not what you intended, invoke rhssfs as the user that will
be interacting with the file system.`)
	}
	if config.FileSystem.Uid >= 0 {
		uid = config.FileSystem.Uid
	}
	if config.FileSystem.Gid >= 0 {
		gid = config.FileSystem.Gid
	}

	adapter := fsadapter.New(st, ignorefilter.Default(), fsadapter.Config{
		Uid:      uint32(uid),
		Gid:      uint32(gid),
		FileMode: os.FileMode(config.FileSystem.FileMode),
		DirMode:  os.FileMode(config.FileSystem.DirMode),
		Metrics:  metricHandle,
	}, clock.RealClock{})

	logger.Infof("Mounting %q (hot=%q cold=%q threshold=%d mode=%s)",
		mountPoint, hotDir, coldDir, config.Threshold, config.Mode)
	mfs, err := fuse.Mount(mountPoint, fuseutil.NewFileSystemServer(adapter), getFuseMountConfig(config))
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	logger.Infof("File system has been successfully mounted at %q", mountPoint)

	joinErr := make(chan error, 1)
	go func() { joinErr <- mfs.Join(context.Background()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case err = <-joinErr:
		// Unmounted externally (e.g. fusermount -u by the operator).
		logger.Infof("Mount %q ended externally", mountPoint)
		adapter.RequestUnmount()
	case sig := <-sigCh:
		logger.Infof("Received %v, shutting down", sig)
		err = shutdownMount(adapter, lock, joinErr, mountPoint)
	}

	verifyErr := verifyUnmounted(mountPoint)
	if verifyErr == nil {
		adapter.ConfirmUnmount()
	}

	stats := st.Cache().Stats()
	logger.Debugf("Location cache at shutdown: total=%d hot=%d cold=%d both=%d expired=%d",
		stats.Total, stats.Hot, stats.Cold, stats.Both, stats.Expired)

	adapter.Destroy()
	st.Cache().Clear()

	if hidden != nil {
		// Restore before the deferred Unlock so the copied-back tree never
		// contains a live lock file.
		if restoreErr := hidden.restore(); restoreErr != nil {
			logger.Errorf("Restoring hidden storage: %v", restoreErr)
			if err == nil {
				err = restoreErr
			}
		}
	}

	if err != nil {
		return err
	}
	if verifyErr != nil {
		return verifyErr
	}
	logger.Infof("Unmounted %q cleanly, final state %s", mountPoint, adapter.ShutdownState())
	return nil
}

// shutdownMount runs the signal-initiated half of the lifecycle: release the
// lock early so a peer can take over even if the unmount stalls, stop
// accepting mutating ops, drain handles, then ask the kernel to unmount and
// escalate to a forced unmount if it does not confirm in time.
func shutdownMount(adapter *fsadapter.FileSystem, lock *exclusivelock.Lock, joinErr chan error, mountPoint string) error {
	if unlockErr := lock.Unlock(); unlockErr != nil {
		logger.Warnf("Releasing lock during shutdown: %v", unlockErr)
	}

	adapter.BeginDraining()
	drainFileHandles(adapter)

	adapter.RequestUnmount()
	runUnmount(mountPoint, false)

	select {
	case err := <-joinErr:
		return err
	case <-time.After(joinDeadline):
		logger.Warnf("Unmount of %q did not complete within %v; forcing", mountPoint, joinDeadline)
		runUnmount(mountPoint, true)
	}

	select {
	case err := <-joinErr:
		return err
	case <-time.After(joinDeadline):
		return fmt.Errorf("mount %q did not shut down; unmount manually with: %s",
			mountPoint, manualUnmountHint(mountPoint))
	}
}

func drainFileHandles(adapter *fsadapter.FileSystem) {
	for i := 0; i < handleDrainAttempts; i++ {
		if adapter.OpenHandleCount() == 0 {
			return
		}
		time.Sleep(handleDrainInterval)
	}
	n := adapter.OpenHandleCount()
	logger.Warnf("%d file handles still open after drain deadline; force-releasing", n)
	adapter.ForceReleaseHandles()
}

// unmountCommand picks the host-appropriate unmount invocation.
func unmountCommand(mountPoint string, force bool) *exec.Cmd {
	if runtime.GOOS == "darwin" {
		if force {
			return exec.Command("diskutil", "unmount", "force", mountPoint)
		}
		return exec.Command("diskutil", "unmount", mountPoint)
	}
	if force {
		return exec.Command("fusermount", "-uz", mountPoint)
	}
	return exec.Command("fusermount", "-u", mountPoint)
}

// manualUnmountHint is printed when shutdown gives up, so the operator knows
// the host-specific command to run by hand.
func manualUnmountHint(mountPoint string) string {
	if runtime.GOOS == "darwin" {
		return fmt.Sprintf("diskutil unmount force %s", mountPoint)
	}
	return fmt.Sprintf("fusermount -uz %s", mountPoint)
}

func runUnmount(mountPoint string, force bool) {
	cmd := unmountCommand(mountPoint, force)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return
	}
	logger.Debugf("%s: %v (output: %s)", strings.Join(cmd.Args, " "), err, strings.TrimSpace(string(out)))

	if runtime.GOOS == "darwin" && !force {
		fallback := exec.Command("umount", mountPoint)
		if out, err := fallback.CombinedOutput(); err != nil {
			logger.Debugf("umount %s: %v (output: %s)", mountPoint, err, strings.TrimSpace(string(out)))
		}
	}
}

// verifyUnmounted polls the host mount table, retriggering a forced unmount
// on each failed check.
func verifyUnmounted(mountPoint string) error {
	for i := 0; i < unmountVerifyAttempts; i++ {
		if !isMountPointListed(mountPoint) {
			return nil
		}
		runUnmount(mountPoint, true)
		time.Sleep(unmountVerifyInterval)
	}
	if isMountPointListed(mountPoint) {
		return fmt.Errorf("%q is still mounted; unmount manually with: %s",
			mountPoint, manualUnmountHint(mountPoint))
	}
	return nil
}

func isMountPointListed(mountPoint string) bool {
	if runtime.GOOS == "linux" {
		f, err := os.Open("/proc/mounts")
		if err != nil {
			return false
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) >= 2 && fields[1] == mountPoint {
				return true
			}
		}
		return false
	}

	out, err := exec.Command("mount").Output()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, " on "+mountPoint+" ") {
			return true
		}
	}
	return false
}

// hiddenStorage relocates the hot and cold directories under a temp root for
// the mount's lifetime, copying contents in at startup and back out at a
// clean shutdown.
type hiddenStorage struct {
	origHot, origCold string
	root, hot, cold   string
}

func setupHiddenStorage(hotDir, coldDir string) (*hiddenStorage, error) {
	root, err := os.MkdirTemp("", "rhssfs-hidden-")
	if err != nil {
		return nil, err
	}
	h := &hiddenStorage{
		origHot:  hotDir,
		origCold: coldDir,
		root:     root,
		hot:      filepath.Join(root, "hot"),
		cold:     filepath.Join(root, "cold"),
	}
	if err := copyTree(hotDir, h.hot); err != nil {
		return nil, fmt.Errorf("copying hot tier in: %w", err)
	}
	if err := copyTree(coldDir, h.cold); err != nil {
		return nil, fmt.Errorf("copying cold tier in: %w", err)
	}
	return h, nil
}

func (h *hiddenStorage) restore() error {
	if err := copyTree(h.hot, h.origHot); err != nil {
		return fmt.Errorf("copying hot tier back: %w", err)
	}
	if err := copyTree(h.cold, h.origCold); err != nil {
		return fmt.Errorf("copying cold tier back: %w", err)
	}
	return os.RemoveAll(h.root)
}

// copyTree recursively copies regular files and directories from src into
// dst, skipping lock files. A missing src is treated as empty.
func copyTree(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() || d.Name() == exclusivelock.LockFileName {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

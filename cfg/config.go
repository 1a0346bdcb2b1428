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

// Package cfg defines the mount configuration: a Config struct with yaml
// tags, TextUnmarshaler value types, and a BindFlags/ValidateConfig pair
// wired through cobra/pflag/viper.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a mount, after flags,
// config file, and defaults have all been merged by viper.
type Config struct {
	// Mount is the host directory the filesystem is exposed at.
	Mount ResolvedPath `yaml:"mount"`

	// Hot is the backend base directory intended for low-latency storage.
	Hot ResolvedPath `yaml:"hot"`

	// Cold is the backend base directory intended for bulk storage.
	Cold ResolvedPath `yaml:"cold"`

	// Threshold is the byte size at and above which a write routes to Cold.
	Threshold uint64 `yaml:"threshold"`

	// Mode selects the backend.Backend implementation (generic or posix)
	// used for both Hot and Cold.
	Mode BackendMode `yaml:"mode"`

	// Force clears any existing lock file before acquiring the exclusive
	// lock, bypassing the staleness check.
	Force bool `yaml:"force"`

	// HiddenStorage relocates Hot and Cold under a temporary directory for
	// the duration of the mount, copying contents in at startup and back out
	// at a clean shutdown.
	HiddenStorage bool `yaml:"hidden-storage"`

	FileSystem FileSystemConfig `yaml:"file-system"`
	Logging    LoggingConfig    `yaml:"logging"`
	Debug      DebugConfig      `yaml:"debug"`
}

// FileSystemConfig holds the inode/file attribute defaults the adapter
// synthesizes for entries it cannot otherwise derive (the root inode; file
// and directory permission bits).
type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`
	DirMode  Octal `yaml:"dir-mode"`
	Uid      int   `yaml:"uid"`
	Gid      int   `yaml:"gid"`
}

// LoggingConfig holds severity, format, an optional file path, and rotation
// parameters passed straight through to lumberjack.
type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity"`
	Format    string                 `yaml:"format"`
	FilePath  ResolvedPath           `yaml:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig configures gopkg.in/natefinch/lumberjack.v2.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// DebugConfig holds knobs that trade runtime cost for diagnosability.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
	LogMutex                 bool `yaml:"log-mutex"`
}

// BindFlags registers every supported flag and binds each to viper.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("mount", "", "", "Mount point (required).")
	if err = viper.BindPFlag("mount", flagSet.Lookup("mount")); err != nil {
		return err
	}

	flagSet.StringP("hot", "", "", "Hot backend base directory (required).")
	if err = viper.BindPFlag("hot", flagSet.Lookup("hot")); err != nil {
		return err
	}

	flagSet.StringP("cold", "", "", "Cold backend base directory (required).")
	if err = viper.BindPFlag("cold", flagSet.Lookup("cold")); err != nil {
		return err
	}

	flagSet.Uint64P("threshold", "", 1<<20, "Byte size at and above which writes route to cold.")
	if err = viper.BindPFlag("threshold", flagSet.Lookup("threshold")); err != nil {
		return err
	}

	flagSet.StringP("mode", "", string(ModeGeneric), "Backend implementation: generic or posix.")
	if err = viper.BindPFlag("mode", flagSet.Lookup("mode")); err != nil {
		return err
	}

	flagSet.BoolP("force", "", false, "Clear any existing lock before acquiring it.")
	if err = viper.BindPFlag("force", flagSet.Lookup("force")); err != nil {
		return err
	}

	flagSet.BoolP("hidden-storage", "", false, "Relocate hot/cold under a temp directory for the mount's lifetime.")
	if err = viper.BindPFlag("hidden-storage", flagSet.Lookup("hidden-storage")); err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Permission bits for regular files, in octal.")
	if err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Permission bits for directories, in octal.")
	if err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes; -1 uses the process's own UID.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes; -1 uses the process's own GID.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "json", "Log line format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file; empty logs to stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "Maximum size in megabytes a log file may reach before it is rotated.")
	if err = viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "Number of rotated log files to retain; 0 retains all.")
	if err = viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count")); err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Compress rotated log files with gzip.")
	if err = viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Panic when inode table invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Has no effect; mutex hold times are not logged.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	return nil
}

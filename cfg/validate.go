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

package cfg

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if config.Mount == "" {
		return fmt.Errorf("--mount is required")
	}
	if config.Hot == "" {
		return fmt.Errorf("--hot is required")
	}
	if config.Cold == "" {
		return fmt.Errorf("--cold is required")
	}
	if config.Hot == config.Cold {
		return fmt.Errorf("--hot and --cold must be distinct directories")
	}
	if config.Mode != ModeGeneric && config.Mode != ModePosix {
		return fmt.Errorf("--mode must be %q or %q, got %q", ModeGeneric, ModePosix, config.Mode)
	}
	if config.FileSystem.FileMode&^0o7777 != 0 {
		return fmt.Errorf("illegal file-mode: %o", config.FileSystem.FileMode)
	}
	if config.FileSystem.DirMode&^0o7777 != 0 {
		return fmt.Errorf("illegal dir-mode: %o", config.FileSystem.DirMode)
	}
	if _, ok := severityRanking[config.Logging.Severity]; !ok {
		return fmt.Errorf("invalid log-severity: %q", config.Logging.Severity)
	}
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	return nil
}

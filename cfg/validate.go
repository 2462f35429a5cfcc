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

func isValidMountConfig(m *MountConfig) error {
	if m.SocketPath == "" {
		return fmt.Errorf("socket-path is required")
	}
	if _, _, ok := BackendSchemeOf(m.BackendURI); !ok {
		return fmt.Errorf("backend-uri must be of the form scheme://path, got %q", m.BackendURI)
	}
	if m.QueueSize <= 0 {
		return fmt.Errorf("queue-size must be positive")
	}
	if m.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker-pool-size must be positive")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if err := isValidMountConfig(&config.Mount); err != nil {
		return fmt.Errorf("error parsing mount config: %w", err)
	}
	return nil
}

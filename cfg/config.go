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

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Logging LoggingConfig `yaml:"logging"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Mount MountConfig `yaml:"mount"`

	Debug DebugConfig `yaml:"debug"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format string `yaml:"format"`

	FilePath ResolvedPath `yaml:"file-path"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

type FileSystemConfig struct {
	DirMode Octal `yaml:"dir-mode"`

	FileMode Octal `yaml:"file-mode"`

	Uid int `yaml:"uid"`

	Gid int `yaml:"gid"`

	EntryTimeoutSecs float64 `yaml:"entry-timeout-secs"`
}

type MountConfig struct {
	SocketPath ResolvedPath `yaml:"socket-path"`

	BackendURI string `yaml:"backend-uri"`

	QueueSize int `yaml:"queue-size"`

	WorkerPoolSize int `yaml:"worker-pool-size"`

	// MetricsAddr, if non-empty, serves Prometheus metrics at
	// http://<addr>/metrics (e.g. ":9090").
	MetricsAddr string `yaml:"metrics-addr"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "ovfs", "The application name of this mount.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "json", "Log output format: json or text.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to the log file. Empty means log to stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-size-mb", "", 512, "Maximum size in MB of a log file before it gets rotated.")
	if err = viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-count", "", 10, "Number of rotated log files to retain.")
	if err = viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-count")); err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Compress rotated log files.")
	if err = viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress")); err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Permission bits for directories, in octal.")
	if err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Permission bits for files, in octal.")
	if err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes. -1 uses the default.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes. -1 uses the default.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.Float64P("entry-timeout-secs", "", 1.0, "TTL, in seconds, reported on EntryOut/AttrOut replies.")
	if err = viper.BindPFlag("file-system.entry-timeout-secs", flagSet.Lookup("entry-timeout-secs")); err != nil {
		return err
	}

	flagSet.StringP("socket-path", "", "", "Path to the vhost-user control-plane Unix domain socket.")
	if err = viper.BindPFlag("mount.socket-path", flagSet.Lookup("socket-path")); err != nil {
		return err
	}

	flagSet.StringP("backend-uri", "", "", "Storage backend URI, e.g. gcs://bucket, s3://bucket, mem://.")
	if err = viper.BindPFlag("mount.backend-uri", flagSet.Lookup("backend-uri")); err != nil {
		return err
	}

	flagSet.IntP("queue-size", "", 1024, "Expected virtqueue depth; validated to be positive, while each vring uses the depth the driver sets.")
	if err = viper.BindPFlag("mount.queue-size", flagSet.Lookup("queue-size")); err != nil {
		return err
	}

	flagSet.IntP("worker-pool-size", "", 4, "Size of the async executor pool backend calls run on.")
	if err = viper.BindPFlag("mount.worker-pool-size", flagSet.Lookup("worker-pool-size")); err != nil {
		return err
	}

	flagSet.StringP("metrics-addr", "", "", "If set, serve Prometheus metrics at http://<addr>/metrics.")
	if err = viper.BindPFlag("mount.metrics-addr", flagSet.Lookup("metrics-addr")); err != nil {
		return err
	}

	flagSet.BoolP("debug-invariants", "", false, "Exit when internal filesystem-state invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug-mutex", "", false, "Accepted but has no effect: mutex hold times are not tracked.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	return nil
}

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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/objfuse/ovfs/cfg"
	"github.com/objfuse/ovfs/internal/util"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	MountConfig   cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "ovfs [flags] [backend-uri] [socket-path]",
	Short: "Serve a storage backend as a virtio-fs device over a vhost-user socket",
	Long: `ovfs is a vhost-user backend that exposes an object storage bucket
          (GCS, S3, or an in-memory store for testing) as a virtio-fs
          device, for a VMM to attach to a guest without a kernel FUSE
          driver in the host path.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}

		cfgCopy := MountConfig
		if err := populateArgs(args, &cfgCopy); err != nil {
			return err
		}
		if err := validateConfig(&cfgCopy); err != nil {
			return err
		}
		return runServe(cmd.Context(), &cfgCopy)
	},
}

// populateArgs lets the backend URI and socket path be given as
// positional arguments, overriding whatever the flags/config file set.
func populateArgs(args []string, c *cfg.Config) error {
	switch len(args) {
	case 0:
	case 1:
		c.Mount.BackendURI = args[0]
	case 2:
		c.Mount.BackendURI = args[0]
		c.Mount.SocketPath = cfg.ResolvedPath(args[1])
	default:
		return fmt.Errorf("ovfs takes at most two arguments: backend-uri socket-path")
	}
	return nil
}

func validateConfig(c *cfg.Config) error {
	if c.Mount.BackendURI == "" {
		return fmt.Errorf("a backend URI is required (--backend-uri, or the first positional argument)")
	}
	if c.Mount.SocketPath == "" {
		return fmt.Errorf("a vhost-user socket path is required (--socket-path, or the second positional argument)")
	}
	if c.Mount.QueueSize <= 0 {
		return fmt.Errorf("queue-size must be positive, got %d", c.Mount.QueueSize)
	}
	if c.Mount.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker-pool-size must be positive, got %d", c.Mount.WorkerPoolSize)
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig)
		return
	}

	resolved, err := util.GetResolvedPath(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig)
}

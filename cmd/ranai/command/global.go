/*
 *
 * Copyright 2025 The ns3-platform Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package command implements the ranai subcommands.
package command

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"github.com/qiliang336/ns3-platform/internal/config"
	"github.com/qiliang336/ns3-platform/internal/logger"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

const (
	cliName        = "ranai"
	cliDescription = "Shared memory bridge between an ns-3 RAN simulation and its controller."
)

// GlobalFlags are the flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	PoolKey    int32
	BlockKey   int32
	Capacity   uint64
	Backend    string
	ShmDir     string
	JSON       bool
}

// GlobalFlagsInstance holds the parsed global flags.
var GlobalFlagsInstance = GlobalFlags{}

// NewRootCommand returns the ranai root command with every subcommand
// attached and the global flags reset.
func NewRootCommand() *cobra.Command {
	GlobalFlagsInstance = GlobalFlags{}
	defaults := config.Default()

	rootCmd := &cobra.Command{
		Use:           cliName,
		Short:         cliDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := logger.InitLogger(); err != nil {
				return err
			}
			logger.SetLevel(GlobalFlagsInstance.LogLevel)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&GlobalFlagsInstance.ConfigPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&GlobalFlagsInstance.LogLevel, "log-level", "", "log level (debug|info|warn|error), default from LOG_LEVEL or config")
	flags.Int32Var(&GlobalFlagsInstance.PoolKey, "pool-key", defaults.Pool.Key, "shared memory pool key")
	flags.Int32Var(&GlobalFlagsInstance.BlockKey, "block-key", defaults.Pool.BlockKey, "exchange block key")
	flags.Uint64Var(&GlobalFlagsInstance.Capacity, "capacity", defaults.Pool.Capacity, "pool capacity in bytes")
	flags.StringVar(&GlobalFlagsInstance.Backend, "backend", defaults.Pool.Backend, "shared memory backend (sysv|file)")
	flags.StringVar(&GlobalFlagsInstance.ShmDir, "shm-dir", "", "directory of file-backed pools, default /dev/shm")
	flags.BoolVar(&GlobalFlagsInstance.JSON, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(
		NewLayoutCommand(),
		NewConstantsCommand(),
		NewPoolCommand(),
		NewServeCommand(),
		NewSimulateCommand(),
		NewPlotCommand(),
		NewDumpCommand(),
	)
	return rootCmd
}

// loadConfig reads the configuration file and environment, then applies
// the global flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Read(GlobalFlagsInstance.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("pool-key") {
		cfg.Pool.Key = GlobalFlagsInstance.PoolKey
	}
	if flags.Changed("block-key") {
		cfg.Pool.BlockKey = GlobalFlagsInstance.BlockKey
	}
	if flags.Changed("capacity") {
		cfg.Pool.Capacity = GlobalFlagsInstance.Capacity
	}
	if flags.Changed("backend") {
		cfg.Pool.Backend = GlobalFlagsInstance.Backend
	}
	if flags.Changed("shm-dir") {
		cfg.Pool.Dir = GlobalFlagsInstance.ShmDir
	}
	if !flags.Changed("log-level") {
		logger.SetLevel(cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openOrCreatePool attaches to the configured pool, creating it when
// create is set and it does not exist yet.
func openOrCreatePool(cfg config.Config, create bool) (*shm.Pool, error) {
	opts := cfg.ShmOptions()
	p, err := shm.OpenPool(cfg.Pool.Key, opts)
	if err == nil || !create {
		return p, err
	}
	p, cerr := shm.CreatePool(cfg.Pool.Key, cfg.Pool.Capacity, opts)
	if cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	logger.Log.Info("Created pool - ", "pool-key: ", cfg.Pool.Key, " , capacity: ", cfg.Pool.Capacity, " , backend: ", p.Backend())
	return p, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := sonnet.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

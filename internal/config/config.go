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

// Package config loads the bridge configuration: the shared memory keys
// both processes must agree on, and the controller's runtime settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qiliang336/ns3-platform/internal/constants"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

// Environment variables that override the file.
const (
	PoolKeyEnvName      = "RANAI_POOL_KEY"
	BlockKeyEnvName     = "RANAI_BLOCK_KEY"
	PoolCapacityEnvName = "RANAI_POOL_CAPACITY"
	BackendEnvName      = "RANAI_BACKEND"
	ShmDirEnvName       = "RANAI_SHM_DIR"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration.
type Config struct {
	Pool     PoolConfig    `yaml:"pool"`
	Agent    AgentConfig   `yaml:"agent"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Trace    TraceConfig   `yaml:"trace"`
	LogLevel string        `yaml:"logLevel"`
}

// PoolConfig identifies the shared memory segment. Key, BlockKey and
// Capacity must hold the same values in the simulator.
type PoolConfig struct {
	Key      int32  `yaml:"key"`
	BlockKey int32  `yaml:"blockKey"`
	Capacity uint64 `yaml:"capacity"`
	Backend  string `yaml:"backend"`
	Dir      string `yaml:"dir"`
}

// AgentConfig holds the controller loop settings.
type AgentConfig struct {
	// StepTimeout bounds the wait for each observation; zero waits forever.
	StepTimeout time.Duration `yaml:"stepTimeout"`
	// Actions is the pair the static policy answers with.
	Actions [2]int16 `yaml:"actions"`
	// StaleAfter logs a warning when the simulator has not published for
	// this long; zero disables the check.
	StaleAfter time.Duration `yaml:"staleAfter"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TraceConfig configures the step trace database.
type TraceConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration matching the simulator defaults.
func Default() Config {
	return Config{
		Pool: PoolConfig{
			Key:      constants.DefaultPoolKey,
			BlockKey: constants.DefaultBlockKey,
			Capacity: constants.DefaultPoolCapacity,
			Backend:  string(shm.BackendSysV),
		},
		Agent: AgentConfig{
			StaleAfter: 10 * constants.StepDuration,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that override fields
// before validating.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides pool settings from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(PoolKeyEnvName); v != "" {
		key, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", PoolKeyEnvName, v, err)
		}
		c.Pool.Key = int32(key)
	}
	if v := os.Getenv(BlockKeyEnvName); v != "" {
		key, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", BlockKeyEnvName, v, err)
		}
		c.Pool.BlockKey = int32(key)
	}
	if v := os.Getenv(PoolCapacityEnvName); v != "" {
		capacity, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", PoolCapacityEnvName, v, err)
		}
		c.Pool.Capacity = capacity
	}
	if v := os.Getenv(BackendEnvName); v != "" {
		c.Pool.Backend = v
	}
	if v := os.Getenv(ShmDirEnvName); v != "" {
		c.Pool.Dir = v
	}
	return nil
}

// Validate checks the settings that would otherwise fail at attach time.
func (c Config) Validate() error {
	if c.Pool.Key <= 0 {
		return fmt.Errorf("pool key %d must be positive: %w", c.Pool.Key, ErrInvalid)
	}
	if c.Pool.BlockKey <= 0 {
		return fmt.Errorf("block key %d must be positive: %w", c.Pool.BlockKey, ErrInvalid)
	}
	if err := shm.ValidateCapacity(c.Pool.Capacity); err != nil {
		return fmt.Errorf("pool: %w: %w", err, ErrInvalid)
	}
	if _, err := shm.ParseBackend(c.Pool.Backend); err != nil {
		return fmt.Errorf("pool: %w: %w", err, ErrInvalid)
	}
	if c.Agent.StepTimeout < 0 || c.Agent.StaleAfter < 0 {
		return fmt.Errorf("agent durations must not be negative: %w", ErrInvalid)
	}
	return nil
}

// ShmOptions returns the options to open the configured pool with.
func (c Config) ShmOptions() shm.Options {
	backend, _ := shm.ParseBackend(c.Pool.Backend)
	return shm.Options{Backend: backend, Dir: c.Pool.Dir}
}

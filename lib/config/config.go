// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads host configuration for weft daemons.
//
// Configuration comes from a single YAML file named by the WEFT_CONFIG
// environment variable or the --config flag. There are no fallbacks or
// automatic discovery; a host's configuration is deterministic and
// auditable.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable pointing at the config file.
const EnvVar = "WEFT_CONFIG"

// HostConfig is the full configuration of one weft host.
type HostConfig struct {
	// Lattice is the lattice to join. Defaults to "default".
	Lattice string `yaml:"lattice"`

	// SeedFile is the path to the host's base64 signing seed. When
	// empty the host generates an ephemeral identity at startup.
	SeedFile string `yaml:"seed_file,omitempty"`

	// DataDir holds the host's durable state: the key-value store
	// and the chunk staging area. When empty the host runs
	// memory-only.
	DataDir string `yaml:"data_dir,omitempty"`

	// Labels are the host's placement labels, merged over the
	// hostcore ones.
	Labels map[string]string `yaml:"labels,omitempty"`

	// AllowLiveUpdates grants live updates to actors on this host.
	// Off by default: an update command or watched-file reload is
	// rejected unless the operator opted in.
	AllowLiveUpdates bool `yaml:"allow_live_updates,omitempty"`

	// StrictUpdates rejects live updates that change an actor's
	// claimed capability set.
	StrictUpdates bool `yaml:"strict_updates,omitempty"`

	// Compression selects the chunk frame compression: "none",
	// "lz4" (the default) or "zstd".
	Compression string `yaml:"compression,omitempty"`

	// Actors are started when the host comes up.
	Actors []ActorConfig `yaml:"actors,omitempty"`

	// Providers are registered when the host comes up. Contract ids
	// must name built-in provider implementations.
	Providers []ProviderConfig `yaml:"providers,omitempty"`

	// LogLevel is "debug", "info", "warn" or "error". Defaults to
	// "info".
	LogLevel string `yaml:"log_level,omitempty"`
}

// ActorConfig starts one actor at host startup.
type ActorConfig struct {
	// Path is the signed module file.
	Path string `yaml:"path"`

	// Replicas is the instance count. Defaults to 1.
	Replicas int `yaml:"replicas,omitempty"`

	// Watch hot-reloads the actor when the module file changes.
	Watch bool `yaml:"watch,omitempty"`
}

// ProviderConfig registers one provider at host startup.
type ProviderConfig struct {
	// ProviderID is the provider's public identity on the lattice.
	ProviderID string `yaml:"provider_id"`

	// ContractID names the capability contract, and selects the
	// built-in implementation.
	ContractID string `yaml:"contract_id"`

	// LinkName defaults to "default".
	LinkName string `yaml:"link_name,omitempty"`
}

// Load reads and validates the config file at path. An empty path
// falls back to the WEFT_CONFIG environment variable.
func Load(path string) (*HostConfig, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file (set %s or pass --config)", EnvVar)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg HostConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *HostConfig) applyDefaults() {
	if c.Lattice == "" {
		c.Lattice = "default"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Actors {
		if c.Actors[i].Replicas == 0 {
			c.Actors[i].Replicas = 1
		}
	}
	for i := range c.Providers {
		if c.Providers[i].LinkName == "" {
			c.Providers[i].LinkName = "default"
		}
	}
}

func (c *HostConfig) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}
	for _, actor := range c.Actors {
		if actor.Path == "" {
			return fmt.Errorf("actor with empty path")
		}
		if actor.Replicas < 1 {
			return fmt.Errorf("actor %s: replicas %d is below 1", actor.Path, actor.Replicas)
		}
		if actor.Watch && !c.AllowLiveUpdates {
			return fmt.Errorf("actor %s: watch requires allow_live_updates", actor.Path)
		}
	}
	for _, p := range c.Providers {
		if p.ProviderID == "" || p.ContractID == "" {
			return fmt.Errorf("provider needs provider_id and contract_id")
		}
	}
	return nil
}

// StorePath is the key-value store location under the data directory.
func (c *HostConfig) StorePath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "weft.db")
}

// ChunkDir is the chunk staging location under the data directory.
func (c *HostConfig) ChunkDir() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "chunks")
}

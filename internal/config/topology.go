// Copyright 2025 Certen Protocol
//
// Optional YAML topology overlay, layered on top of the environment-derived
// Config. Supports ${ENV_VAR} substitution in string fields, mirroring the
// node's own anchor topology file convention.

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Topology is the on-disk shape of the YAML overlay file.
type Topology struct {
	StorageBackend string                `yaml:"storage_backend"`
	Chains         []TopologyChainConfig `yaml:"chains"`
}

// TopologyChainConfig mirrors ChainPoolConfig with YAML tags; RPCURL and
// RegistryAddress support ${ENV_VAR} substitution so secrets never live in
// the checked-in file.
type TopologyChainConfig struct {
	ChainID            uint64 `yaml:"chain_id"`
	RPCURL             string `yaml:"rpc_url"`
	NativeSymbol       string `yaml:"native_symbol"`
	MaxConnections     int    `yaml:"max_connections"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	BurstSize          int    `yaml:"burst_size"`
	HealthCheckSeconds int    `yaml:"health_check_seconds"`
	ConnectTimeoutSecs int    `yaml:"connect_timeout_seconds"`
	RegistryAddress    string `yaml:"registry_address"`
}

// LoadTopologyFile reads path, substitutes ${ENV_VAR} references, and merges
// the result into cfg. A missing file is not an error — the caller runs on
// the built-in chain allowlist and defaults.
func LoadTopologyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read topology file: %w", err)
	}

	substituted := substituteEnvVars(raw)

	var topo Topology
	if err := yaml.Unmarshal(substituted, &topo); err != nil {
		return fmt.Errorf("parse topology file: %w", err)
	}

	if topo.StorageBackend != "" {
		cfg.StorageBackend = topo.StorageBackend
	}
	if len(topo.Chains) > 0 {
		merged := make(map[uint64]ChainPoolConfig, len(topo.Chains))
		for _, c := range topo.Chains {
			merged[c.ChainID] = ChainPoolConfig{
				ChainID:            c.ChainID,
				RPCURL:             c.RPCURL,
				NativeSymbol:       c.NativeSymbol,
				MaxConnections:     c.MaxConnections,
				RateLimitPerMinute: c.RateLimitPerMinute,
				BurstSize:          c.BurstSize,
				HealthCheckSeconds: c.HealthCheckSeconds,
				ConnectTimeoutSecs: c.ConnectTimeoutSecs,
				RegistryAddress:    c.RegistryAddress,
			}
		}
		cfg.Chains = merged
	}
	return cfg.Validate()
}

func substituteEnvVars(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

// Package config loads and validates the reconciler configuration from a
// JSON file, falling back to the embedded defaults where settings are omitted.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	configSubdir   = "config"
	configFileName = "reconciler_config.json"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Set defaults for the token feed
	if cfg.TokenFeedRefreshSeconds == 0 {
		cfg.TokenFeedRefreshSeconds = 60
	}
	if cfg.TokenFeedSyncTimeoutSeconds == 0 {
		cfg.TokenFeedSyncTimeoutSeconds = 8
	}

	// Initialize ChainConfigs if absent
	if len(cfg.ChainConfigs) == 0 {
		var defaultCfg Config
		if err := json.Unmarshal(defaultConfigJSON, &defaultCfg); err == nil {
			cfg.ChainConfigs = defaultCfg.ChainConfigs
		} else {
			cfg.ChainConfigs = make(map[string]ChainConfig)
		}
	}

	for chainID, cc := range cfg.ChainConfigs {
		if cc.Chain == "" {
			cc.Chain = chainID
		}
		if cc.Chain != chainID {
			return fmt.Errorf("chain config key %s does not match chain id %s", chainID, cc.Chain)
		}
		switch cc.VMType {
		case VMTypeEVM, VMTypeSVM:
		default:
			return fmt.Errorf("chain %s: vm_type must be 'evm' or 'svm'", chainID)
		}
		if cc.PollIntervalSeconds == 0 {
			if cc.VMType == VMTypeEVM {
				cc.PollIntervalSeconds = 15
			} else {
				cc.PollIntervalSeconds = 5
			}
		}
		if cc.PageSize == 0 {
			if cc.VMType == VMTypeEVM {
				cc.PageSize = 200
			} else {
				cc.PageSize = 1000
			}
		}
		if cc.PageDelayMillis == 0 {
			cc.PageDelayMillis = 250
		}
		if cc.MinConfirmations == 0 {
			cc.MinConfirmations = 1
		}
		if cc.StartBlock == 0 {
			cc.StartBlock = -1
		}
		// Addresses and token identifiers are matched case-normalized
		for i := range cc.MonitoredAddresses {
			ma := &cc.MonitoredAddresses[i]
			if ma.Address == "" {
				return fmt.Errorf("chain %s: monitored address missing address", chainID)
			}
			ma.Token = strings.ToLower(ma.Token)
			if cc.VMType == VMTypeEVM {
				ma.Address = strings.ToLower(ma.Address)
				ma.TokenAddress = strings.ToLower(ma.TokenAddress)
			}
		}
		cfg.ChainConfigs[chainID] = cc
	}

	return nil
}

// Save writes the given config to <basePath>/config/reconciler_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads, validates and returns the config from
// <basePath>/config/reconciler_config.json.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = basePath
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON.
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return &cfg, nil
}

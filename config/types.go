package config

import "fmt"

// VM type identifiers for chain families.
const (
	VMTypeEVM = "evm"
	VMTypeSVM = "svm"
)

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Data directory for the ledger and per-chain scan-state databases
	DataDir string `json:"data_dir"`

	// Optional Redis URL for the advisory last-processed-signature cache.
	// Empty disables Redis; correctness never depends on it.
	RedisURL string `json:"redis_url"`

	// Supported-token feed
	TokenFeedPath               string `json:"token_feed_path"`                // JSON file listing supported tokens per chain
	TokenFeedRefreshSeconds     int    `json:"token_feed_refresh_seconds"`     // how often to check the feed for changes (default: 60)
	TokenFeedSyncTimeoutSeconds int    `json:"token_feed_sync_timeout_seconds"` // per-sync timeout (default: 8)

	// Per-chain configuration, keyed by CAIP-2 chain ID
	ChainConfigs map[string]ChainConfig `json:"chain_configs"`
}

// ChainConfig holds all chain-specific settings in one place.
type ChainConfig struct {
	Chain  string `json:"chain"`   // CAIP-2 chain ID, e.g. "eip155:11155111" or "solana:EtWTRA..."
	VMType string `json:"vm_type"` // "evm" or "svm"

	RPCURLs []string `json:"rpc_urls"`

	// Scanner settings
	PollIntervalSeconds int   `json:"poll_interval_seconds"` // catch-up/watch poll interval (default: evm 15, svm 5)
	PageSize            int   `json:"page_size"`             // signatures/blocks per page (default: 1000 svm, 200 evm)
	PageDelayMillis     int   `json:"page_delay_millis"`     // provider rate-limit delay between pages (default: 250)
	StartBlock          int64 `json:"start_block"`           // first scan start; -1 = latest block/slot

	// Minimum confirmation depth before a transfer is treated as final (EVM; default: 1)
	MinConfirmations uint64 `json:"min_confirmations"`

	// Treasury-controlled addresses watched on this chain
	MonitoredAddresses []MonitoredAddress `json:"monitored_addresses"`

	// Supported tokens, populated from the token feed at runtime.
	// Not read from the config file.
	Tokens []TokenInfo `json:"-"`
}

// MonitoredAddress is one treasury-controlled address, optionally scoped
// to a single token (empty TokenAddress = native currency).
type MonitoredAddress struct {
	Address      string `json:"address"`
	Token        string `json:"token"`         // symbol, e.g. "eth", "sol", "usdc"
	TokenAddress string `json:"token_address"` // contract/mint; empty = native
	Decimals     uint8  `json:"decimals"`
}

// TokenInfo describes one supported fungible token on a chain.
// Resolved once at configuration load; carried as structured fields
// instead of ad hoc symbol strings.
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"` // contract (EVM) or mint (SVM); empty = native
	Decimals uint8  `json:"decimals"`
}

// Native reports whether the token is the chain's native currency.
func (t TokenInfo) Native() bool {
	return t.Address == ""
}

// GetChainConfig returns the configuration for a specific chain.
func (c *Config) GetChainConfig(chainID string) (ChainConfig, error) {
	if c.ChainConfigs == nil {
		return ChainConfig{}, fmt.Errorf("no chain configs found")
	}
	cc, ok := c.ChainConfigs[chainID]
	if !ok {
		return ChainConfig{}, fmt.Errorf("no config found for chain %s", chainID)
	}
	return cc, nil
}

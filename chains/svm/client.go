package svm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/db"
)

// Client implements the ChainClient interface for Solana chains
type Client struct {
	*common.BaseChainClient
	logger       zerolog.Logger
	genesisHash  string // genesis hash prefix extracted from CAIP-2
	rpcClient    *rpc.Client
	scanStore    *common.ScanStore
	retryManager *common.RetryManager
	listener     *Listener
	stopCh       chan struct{}
}

// NewClient creates a new Solana chain client
func NewClient(cfg config.ChainConfig, database *db.DB, logger zerolog.Logger) (*Client, error) {
	if cfg.VMType != config.VMTypeSVM {
		return nil, fmt.Errorf("invalid VM type for Solana client: %q", cfg.VMType)
	}

	// Parse CAIP-2 chain ID (e.g., "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
	genesisHash, err := parseSolanaChainID(cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chain ID: %w", err)
	}

	return &Client{
		BaseChainClient: common.NewBaseChainClient(cfg),
		logger: logger.With().
			Str("component", "solana_client").
			Str("chain", cfg.Chain).
			Logger(),
		genesisHash:  genesisHash,
		scanStore:    common.NewScanStore(database),
		retryManager: common.NewRetryManager(nil, logger),
		stopCh:       make(chan struct{}),
	}, nil
}

// parseSolanaChainID extracts the genesis hash prefix from a CAIP-2 identifier.
func parseSolanaChainID(caip2 string) (string, error) {
	parts := strings.Split(caip2, ":")
	if len(parts) != 2 || parts[0] != "solana" || parts[1] == "" {
		return "", fmt.Errorf("invalid Solana CAIP-2 chain ID: %q", caip2)
	}
	return parts[1], nil
}

// Start establishes the RPC connection and, when a transfer sink is
// configured, starts the live transfer listener for the monitored addresses.
func (c *Client) Start(ctx context.Context) error {
	clientCtx := context.Background()
	c.SetContext(clientCtx)

	cfg := c.GetConfig()
	if len(cfg.RPCURLs) == 0 {
		return fmt.Errorf("no RPC URLs configured for chain %s", cfg.Chain)
	}

	c.logger.Info().
		Strs("rpc_urls", cfg.RPCURLs).
		Int("monitored_addresses", len(cfg.MonitoredAddresses)).
		Msg("starting Solana chain client")

	err := c.retryManager.ExecuteWithRetry(ctx, "initial_connection", func() error {
		return c.connect(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to establish initial connection: %w", err)
	}

	if sink := c.Sink(); sink != nil {
		c.listener = newListener(c, sink, c.logger)
		if err := c.listener.Start(c.Context()); err != nil {
			return fmt.Errorf("failed to start transfer listener: %w", err)
		}
	}

	return nil
}

// connect dials the configured endpoints in order and keeps the first
// healthy one.
func (c *Client) connect(ctx context.Context) error {
	var lastErr error
	for _, url := range c.GetConfig().RPCURLs {
		rpcClient := rpc.New(url)

		health, err := rpcClient.GetHealth(ctx)
		if err != nil {
			lastErr = err
			c.logger.Warn().Err(err).Str("url", url).Msg("failed to query node health")
			continue
		}
		if health != rpc.HealthOk {
			lastErr = fmt.Errorf("endpoint %s reports health %q", url, health)
			c.logger.Warn().Err(lastErr).Msg("unhealthy endpoint")
			continue
		}

		c.rpcClient = rpcClient
		c.logger.Info().Str("url", url).Msg("connected to Solana RPC endpoint")
		return nil
	}
	return fmt.Errorf("no usable RPC endpoint: %w", lastErr)
}

// Stop shuts down the Solana chain client and deregisters the live listener
func (c *Client) Stop() error {
	c.logger.Info().Msg("stopping Solana chain client")

	if c.listener != nil {
		if err := c.listener.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to stop transfer listener")
		}
		c.listener = nil
	}

	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}

	c.Cancel()
	c.rpcClient = nil

	return nil
}

// IsHealthy returns true if the client is connected and responsive
func (c *Client) IsHealthy() bool {
	if c.rpcClient == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := c.rpcClient.GetHealth(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("health check failed")
		return false
	}
	return health == rpc.HealthOk
}

// GetLatestBlock returns the latest finalized slot.
func (c *Client) GetLatestBlock(ctx context.Context) (uint64, error) {
	if c.rpcClient == nil {
		return 0, fmt.Errorf("rpc client not connected")
	}

	var slot uint64
	err := c.retryManager.ExecuteWithRetry(ctx, "get_latest_slot", func() error {
		var innerErr error
		slot, innerErr = c.rpcClient.GetSlot(ctx, rpc.CommitmentFinalized)
		return innerErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get latest slot: %w", err)
	}
	return slot, nil
}

// ScanStore exposes the per-chain cursor store.
func (c *Client) ScanStore() *common.ScanStore {
	return c.scanStore
}

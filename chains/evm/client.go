package evm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/db"
)

// Client implements the ChainClient interface for EVM chains
type Client struct {
	*common.BaseChainClient
	logger       zerolog.Logger
	chainID      int64 // numeric chain ID extracted from CAIP-2
	ethClient    *ethclient.Client
	scanStore    *common.ScanStore
	retryManager *common.RetryManager
	listener     *Listener
	stopCh       chan struct{}
}

// NewClient creates a new EVM chain client
func NewClient(cfg config.ChainConfig, database *db.DB, logger zerolog.Logger) (*Client, error) {
	if cfg.VMType != config.VMTypeEVM {
		return nil, fmt.Errorf("invalid VM type for EVM client: %q", cfg.VMType)
	}

	// Parse CAIP-2 chain ID (e.g., "eip155:11155111")
	chainID, err := parseEVMChainID(cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chain ID: %w", err)
	}

	return &Client{
		BaseChainClient: common.NewBaseChainClient(cfg),
		logger: logger.With().
			Str("component", "evm_client").
			Str("chain", cfg.Chain).
			Logger(),
		chainID:      chainID,
		scanStore:    common.NewScanStore(database),
		retryManager: common.NewRetryManager(nil, logger),
		stopCh:       make(chan struct{}),
	}, nil
}

// parseEVMChainID extracts the numeric chain ID from a CAIP-2 identifier.
func parseEVMChainID(caip2 string) (int64, error) {
	parts := strings.Split(caip2, ":")
	if len(parts) != 2 || parts[0] != "eip155" {
		return 0, fmt.Errorf("invalid EVM CAIP-2 chain ID: %q", caip2)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric chain ID in %q: %w", caip2, err)
	}
	return id, nil
}

// Start establishes the RPC connection and, when a transfer sink is
// configured, starts the live transfer listener for the monitored addresses.
func (c *Client) Start(ctx context.Context) error {
	// Long-lived client context, independent of the caller's.
	clientCtx := context.Background()
	c.SetContext(clientCtx)

	cfg := c.GetConfig()
	if len(cfg.RPCURLs) == 0 {
		return fmt.Errorf("no RPC URLs configured for chain %s", cfg.Chain)
	}

	c.logger.Info().
		Int64("chain_id", c.chainID).
		Strs("rpc_urls", cfg.RPCURLs).
		Int("monitored_addresses", len(cfg.MonitoredAddresses)).
		Msg("starting EVM chain client")

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

// connect dials the configured endpoints in order and keeps the first one
// whose reported chain ID matches the configuration.
func (c *Client) connect(ctx context.Context) error {
	var lastErr error
	for _, url := range c.GetConfig().RPCURLs {
		ethClient, err := ethclient.DialContext(ctx, url)
		if err != nil {
			lastErr = err
			c.logger.Warn().Err(err).Str("url", url).Msg("failed to dial RPC endpoint")
			continue
		}

		remoteID, err := ethClient.ChainID(ctx)
		if err != nil {
			ethClient.Close()
			lastErr = err
			c.logger.Warn().Err(err).Str("url", url).Msg("failed to query chain ID")
			continue
		}
		if remoteID.Int64() != c.chainID {
			ethClient.Close()
			lastErr = fmt.Errorf("endpoint %s reports chain ID %d, expected %d", url, remoteID.Int64(), c.chainID)
			c.logger.Warn().Err(lastErr).Msg("chain ID mismatch")
			continue
		}

		c.ethClient = ethClient
		c.logger.Info().Str("url", url).Msg("connected to EVM RPC endpoint")
		return nil
	}
	return fmt.Errorf("no usable RPC endpoint: %w", lastErr)
}

// Stop shuts down the EVM chain client and deregisters the live listener
func (c *Client) Stop() error {
	c.logger.Info().Msg("stopping EVM chain client")

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

	if c.ethClient != nil {
		c.ethClient.Close()
		c.ethClient = nil
	}

	return nil
}

// IsHealthy returns true if the client is connected and responsive
func (c *Client) IsHealthy() bool {
	if c.ethClient == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.ethClient.BlockNumber(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("health check failed")
		return false
	}
	return true
}

// GetLatestBlock returns the current chain head number.
func (c *Client) GetLatestBlock(ctx context.Context) (uint64, error) {
	if c.ethClient == nil {
		return 0, fmt.Errorf("eth client not connected")
	}

	var latest uint64
	err := c.retryManager.ExecuteWithRetry(ctx, "get_latest_block", func() error {
		var innerErr error
		latest, innerErr = c.ethClient.BlockNumber(ctx)
		return innerErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return latest, nil
}

// ScanStore exposes the per-chain cursor store.
func (c *Client) ScanStore() *common.ScanStore {
	return c.scanStore
}

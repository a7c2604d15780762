package common

import (
	"context"

	"github.com/halcyonpay/reconciler/config"
)

// ChainClient defines the interface for chain-specific implementations.
// It is the system's only view of a blockchain: a retryable, rate-limited
// read capability plus a push subscription.
type ChainClient interface {
	// ChainID returns the CAIP-2 format chain identifier
	ChainID() string

	// Start initializes the chain client and begins live subscriptions
	// for every monitored address
	Start(ctx context.Context) error

	// Stop gracefully shuts down the chain client and deregisters all
	// live subscriptions
	Stop() error

	// IsHealthy checks if the chain client is operational
	IsHealthy() bool

	// GetConfig returns the chain configuration the client was built with
	GetConfig() config.ChainConfig

	// SetTransferSink sets the consumer for live-subscription transfers.
	// Must be called before Start.
	SetTransferSink(sink TransferSink)

	// GetLatestBlock returns the latest block number (or slot)
	GetLatestBlock(ctx context.Context) (uint64, error)

	// ScanStore returns the per-chain cursor store backing catch-up scans
	ScanStore() *ScanStore

	// FetchTransfers returns all transfers touching the monitored address
	// since the cursor, oldest first, together with the advanced cursor.
	// Returns ErrAddressNotFound when the address has no on-chain footprint.
	FetchTransfers(ctx context.Context, monitored config.MonitoredAddress, cursor ScanCursor) ([]*TransferEvent, ScanCursor, error)
}

// BaseChainClient provides common functionality for all chain implementations.
type BaseChainClient struct {
	config config.ChainConfig
	sink   TransferSink
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBaseChainClient creates a new base chain client.
func NewBaseChainClient(cfg config.ChainConfig) *BaseChainClient {
	return &BaseChainClient{config: cfg}
}

// ChainID returns the CAIP-2 format chain identifier.
func (b *BaseChainClient) ChainID() string {
	return b.config.Chain
}

// GetConfig returns the chain configuration.
func (b *BaseChainClient) GetConfig() config.ChainConfig {
	return b.config
}

// SetTransferSink sets the consumer for live-subscription transfers.
func (b *BaseChainClient) SetTransferSink(sink TransferSink) {
	b.sink = sink
}

// Sink returns the configured transfer sink, or nil.
func (b *BaseChainClient) Sink() TransferSink {
	return b.sink
}

// SetContext sets the long-lived context for the chain client.
func (b *BaseChainClient) SetContext(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
}

// Context returns the chain client's context.
func (b *BaseChainClient) Context() context.Context {
	return b.ctx
}

// Cancel cancels the chain client's context.
func (b *BaseChainClient) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
}

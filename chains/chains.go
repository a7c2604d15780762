// Package chains manages the per-chain clients: creating them from
// configuration, restarting them when configuration (including the supported
// token set) changes, and tearing them down. Replacing a client always stops
// the old one first, so live listeners are deregistered before new ones are
// installed, so re-registration never double-delivers.
package chains

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/chains/evm"
	"github.com/halcyonpay/reconciler/chains/svm"
	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/db"
)

// Registry manages chain clients keyed by CAIP-2 chain ID.
type Registry struct {
	mu        sync.RWMutex
	chains    map[string]common.ChainClient
	logger    zerolog.Logger
	dbManager *db.Manager
	sink      common.TransferSink
}

// NewRegistry creates a new chain registry.
func NewRegistry(dbManager *db.Manager, logger zerolog.Logger) *Registry {
	return &Registry{
		chains:    make(map[string]common.ChainClient),
		logger:    logger.With().Str("component", "chain_registry").Logger(),
		dbManager: dbManager,
	}
}

// SetTransferSink sets the live-subscription consumer used by every chain
// client created from now on, and rewires existing clients.
func (r *Registry) SetTransferSink(sink common.TransferSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
	for _, client := range r.chains {
		client.SetTransferSink(sink)
	}
}

// createChainClient creates a chain client based on VM type.
func (r *Registry) createChainClient(cfg config.ChainConfig) (common.ChainClient, error) {
	chainDB, err := r.dbManager.ChainDB(cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to get database for chain %s: %w", cfg.Chain, err)
	}

	switch cfg.VMType {
	case config.VMTypeEVM:
		return evm.NewClient(cfg, chainDB, r.logger)
	case config.VMTypeSVM:
		return svm.NewClient(cfg, chainDB, r.logger)
	default:
		return nil, fmt.Errorf("unsupported VM type: %q", cfg.VMType)
	}
}

// AddOrUpdateChain adds a new chain or replaces an existing one whose
// configuration changed. A changed token set counts as a config change:
// the old client (and all its listeners) is stopped before the replacement
// starts, which prevents duplicate delivery and listener leakage.
func (r *Registry) AddOrUpdateChain(ctx context.Context, cfg config.ChainConfig) error {
	if cfg.Chain == "" {
		return fmt.Errorf("invalid chain config")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chainID := cfg.Chain

	if existing, exists := r.chains[chainID]; exists {
		if configsEqual(existing.GetConfig(), cfg) {
			r.logger.Debug().
				Str("chain", chainID).
				Msg("chain config unchanged, skipping update")
			return nil
		}

		r.logger.Info().
			Str("chain", chainID).
			Msg("stopping existing chain client for update")
		if err := existing.Stop(); err != nil {
			r.logger.Error().
				Err(err).
				Str("chain", chainID).
				Msg("failed to stop existing chain client")
		}
		delete(r.chains, chainID)
	}

	client, err := r.createChainClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create chain client for %s: %w", chainID, err)
	}

	if r.sink != nil {
		client.SetTransferSink(r.sink)
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start chain client for %s: %w", chainID, err)
	}

	r.chains[chainID] = client
	r.logger.Info().
		Str("chain", chainID).
		Int("monitored_addresses", len(cfg.MonitoredAddresses)).
		Int("tokens", len(cfg.Tokens)).
		Msg("chain client added/updated")

	return nil
}

// RemoveChain stops and removes a chain from the registry.
func (r *Registry) RemoveChain(chainID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, exists := r.chains[chainID]
	if !exists {
		return
	}

	r.logger.Info().Str("chain", chainID).Msg("removing chain client")
	if err := client.Stop(); err != nil {
		r.logger.Error().
			Err(err).
			Str("chain", chainID).
			Msg("error stopping chain client during removal")
	}

	delete(r.chains, chainID)
}

// GetChain retrieves a chain client by ID.
func (r *Registry) GetChain(chainID string) common.ChainClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chains[chainID]
}

// GetAllChains returns a copy of all registered chain clients.
func (r *Registry) GetAllChains() map[string]common.ChainClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make(map[string]common.ChainClient, len(r.chains))
	for k, v := range r.chains {
		chains[k] = v
	}
	return chains
}

// ChainsByVMType returns the registered clients for one chain family.
func (r *Registry) ChainsByVMType(vmType string) map[string]common.ChainClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make(map[string]common.ChainClient)
	for k, v := range r.chains {
		if v.GetConfig().VMType == vmType {
			chains[k] = v
		}
	}
	return chains
}

// StopAll stops all chain clients.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info().Msg("stopping all chain clients")
	for chainID, client := range r.chains {
		if err := client.Stop(); err != nil {
			r.logger.Error().
				Err(err).
				Str("chain", chainID).
				Msg("error stopping chain client")
		}
	}
	r.chains = make(map[string]common.ChainClient)
}

// GetHealthStatus returns the health status of all chains.
func (r *Registry) GetHealthStatus() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]bool, len(r.chains))
	for chainID, client := range r.chains {
		status[chainID] = client.IsHealthy()
	}
	return status
}

// configsEqual compares the fields whose change requires a client restart.
func configsEqual(a, b config.ChainConfig) bool {
	if a.Chain != b.Chain ||
		a.VMType != b.VMType ||
		a.PollIntervalSeconds != b.PollIntervalSeconds ||
		a.PageSize != b.PageSize ||
		a.PageDelayMillis != b.PageDelayMillis ||
		a.MinConfirmations != b.MinConfirmations {
		return false
	}
	if len(a.RPCURLs) != len(b.RPCURLs) {
		return false
	}
	for i := range a.RPCURLs {
		if a.RPCURLs[i] != b.RPCURLs[i] {
			return false
		}
	}
	if len(a.MonitoredAddresses) != len(b.MonitoredAddresses) {
		return false
	}
	for i := range a.MonitoredAddresses {
		if a.MonitoredAddresses[i] != b.MonitoredAddresses[i] {
			return false
		}
	}
	if len(a.Tokens) != len(b.Tokens) {
		return false
	}
	for i := range a.Tokens {
		if a.Tokens[i] != b.Tokens[i] {
			return false
		}
	}
	return true
}

// Package cron holds the background refresh jobs. There is only one today:
// the token registry job, which keeps chain clients in sync with the
// supported-token feed.
package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/cache"
	"github.com/halcyonpay/reconciler/chains"
	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/tokens"
)

// TokenRegistryJob periodically reloads the token feed and pushes the result
// into the token cache and the chain registry. A chain whose token set
// changed is restarted by the registry, so listener re-registration after a
// token update is handled in one place.
type TokenRegistryJob struct {
	cache          *cache.TokenCache
	feed           *tokens.FileFeed
	registry       *chains.Registry
	appConfig      *config.Config
	interval       time.Duration
	perSyncTimeout time.Duration
	logger         zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	forceCh chan struct{}
	wg      sync.WaitGroup
}

func NewTokenRegistryJob(
	ca *cache.TokenCache,
	feed *tokens.FileFeed,
	registry *chains.Registry,
	appConfig *config.Config,
	interval, perSyncTimeout time.Duration,
	logger zerolog.Logger,
) *TokenRegistryJob {
	if interval <= 0 {
		interval = time.Minute
	}
	if perSyncTimeout <= 0 {
		perSyncTimeout = 8 * time.Second
	}
	return &TokenRegistryJob{
		cache:          ca,
		feed:           feed,
		registry:       registry,
		appConfig:      appConfig,
		interval:       interval,
		perSyncTimeout: perSyncTimeout,
		logger:         logger.With().Str("component", "token_registry_cron").Logger(),
	}
}

// Start launches the background loop and returns immediately (non-blocking).
// Safe to call multiple times; subsequent calls are no-ops.
func (j *TokenRegistryJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	if j.cache == nil || j.feed == nil || j.registry == nil || j.appConfig == nil {
		return errors.New("cron: cache, feed, registry and config must be non-nil")
	}

	j.stopCh = make(chan struct{})
	j.forceCh = make(chan struct{}, 1) // buffered so ForceSync won't block
	j.running = true
	j.wg.Add(1)

	go j.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
// Safe to call multiple times.
func (j *TokenRegistryJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopCh)
	j.running = false
	j.mu.Unlock()
	j.wg.Wait()
}

// ForceSync requests an immediate refresh without waiting for the ticker.
func (j *TokenRegistryJob) ForceSync() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	select {
	case j.forceCh <- struct{}{}:
	default:
	}
}

func (j *TokenRegistryJob) run(parent context.Context) {
	defer j.wg.Done()

	// Initial sync so chains come up without waiting a full interval.
	if err := j.syncOnce(parent); err != nil {
		j.logger.Warn().Err(err).Msg("initial token feed sync failed; retrying on next tick")
	}

	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-parent.Done():
			j.logger.Info().Msg("token registry cron: context canceled; stopping")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("token registry cron: stop requested; stopping")
			return
		case <-t.C:
			if err := j.syncOnce(parent); err != nil {
				j.logger.Warn().Err(err).Msg("periodic token feed refresh failed; keeping previous token set")
			}
		case <-j.forceCh:
			if err := j.syncOnce(parent); err != nil {
				j.logger.Warn().Err(err).Msg("forced token feed refresh failed; keeping previous token set")
			}
		}
	}
}

func (j *TokenRegistryJob) syncOnce(parent context.Context) error {
	timeout := j.perSyncTimeout
	if dl, ok := parent.Deadline(); ok {
		if remain := time.Until(dl); remain > 0 && remain < timeout {
			timeout = remain
		}
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	modifiedAt, err := j.feed.LastModified()
	if err != nil {
		return err
	}

	firstSync := j.cache.LastUpdated().IsZero()
	if !firstSync && !modifiedAt.After(j.cache.LastUpdated()) {
		j.logger.Debug().Msg("token feed unchanged, skipping refresh")
		return nil
	}

	byChain, loadedAt, err := j.feed.Load()
	if err != nil {
		return err
	}
	j.cache.UpdateTokens(byChain, loadedAt)

	seenChains := make(map[string]bool)

	for chainID, cc := range j.appConfig.ChainConfigs {
		chainTokens := byChain[chainID]
		if len(chainTokens) == 0 {
			j.logger.Debug().
				Str("chain", chainID).
				Msg("no supported tokens for chain, removing if exists")
			j.registry.RemoveChain(chainID)
			continue
		}

		seenChains[chainID] = true

		cc.Tokens = chainTokens
		if err := j.registry.AddOrUpdateChain(ctx, cc); err != nil {
			j.logger.Error().
				Err(err).
				Str("chain", chainID).
				Msg("failed to add/update chain")
			// Continue with other chains
		}
	}

	// Remove chains that no longer exist in the config
	for chainID := range j.registry.GetAllChains() {
		if !seenChains[chainID] {
			j.logger.Info().
				Str("chain", chainID).
				Msg("removing chain no longer in config")
			j.registry.RemoveChain(chainID)
		}
	}

	return nil
}

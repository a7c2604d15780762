// Package cache holds the advisory, performance-oriented state: the
// in-memory supported-token cache fed by the configuration feed, and the
// optional Redis-backed last-processed-signature keys. Neither is a source
// of truth; correctness lives in the ledger's unique indexes.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/config"
)

// TokenCache is a thread-safe store of the currently supported tokens per
// chain. Data can only be changed via UpdateTokens.
type TokenCache struct {
	mu         sync.RWMutex
	tokens     map[string][]config.TokenInfo // chainID -> tokens
	lastUpdate time.Time
	logger     zerolog.Logger
}

// NewTokenCache creates a new TokenCache instance.
func NewTokenCache(logger zerolog.Logger) *TokenCache {
	return &TokenCache{
		tokens: make(map[string][]config.TokenInfo),
		logger: logger.With().Str("component", "token_cache").Logger(),
	}
}

// LastUpdated returns the last time the cache was refreshed.
func (c *TokenCache) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// UpdateTokens atomically replaces the entire cache.
func (c *TokenCache) UpdateTokens(tokens map[string][]config.TokenInfo, updatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newMap := make(map[string][]config.TokenInfo, len(tokens))
	total := 0
	for chainID, list := range tokens {
		if chainID == "" {
			continue
		}
		cp := make([]config.TokenInfo, len(list))
		copy(cp, list)
		newMap[chainID] = cp
		total += len(cp)
	}

	c.tokens = newMap
	c.lastUpdate = updatedAt

	c.logger.Info().
		Int("chains", len(newMap)).
		Int("tokens", total).
		Time("updated_at", updatedAt).
		Msg("token cache updated")
}

// GetChainTokens returns a slice copy of the supported tokens for a chain.
func (c *TokenCache) GetChainTokens(chainID string) []config.TokenInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list, ok := c.tokens[chainID]
	if !ok {
		return nil
	}
	out := make([]config.TokenInfo, len(list))
	copy(out, list)
	return out
}

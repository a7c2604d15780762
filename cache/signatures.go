package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const signatureKeyTTL = 7 * 24 * time.Hour

// SignatureCache keeps a per-address "last processed signature" key in
// Redis as a secondary idempotency signal for operators and fast restart
// probes. It is advisory only: a nil *SignatureCache is valid and all
// methods are no-ops on it, and a Redis failure is logged, never propagated.
type SignatureCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewSignatureCache connects to Redis at the given URL. An empty URL
// returns a nil cache, which disables the feature.
func NewSignatureCache(url string, logger zerolog.Logger) (*SignatureCache, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &SignatureCache{
		client: redis.NewClient(opts),
		logger: logger.With().Str("component", "signature_cache").Logger(),
	}, nil
}

func signatureKey(chainID, address string) string {
	return fmt.Sprintf("reconciler:last_sig:%s:%s", chainID, address)
}

// SetLastProcessed records the newest processed signature/hash for an
// address after its batch committed.
func (c *SignatureCache) SetLastProcessed(ctx context.Context, chainID, address, signature string) {
	if c == nil || signature == "" {
		return
	}
	if err := c.client.Set(ctx, signatureKey(chainID, address), signature, signatureKeyTTL).Err(); err != nil {
		c.logger.Warn().
			Err(err).
			Str("chain", chainID).
			Str("address", address).
			Msg("failed to update last-processed signature")
	}
}

// GetLastProcessed returns the cached newest processed signature for an
// address, or empty when unknown or on any error.
func (c *SignatureCache) GetLastProcessed(ctx context.Context, chainID, address string) string {
	if c == nil {
		return ""
	}
	val, err := c.client.Get(ctx, signatureKey(chainID, address)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().
				Err(err).
				Str("chain", chainID).
				Str("address", address).
				Msg("failed to read last-processed signature")
		}
		return ""
	}
	return val
}

// Close releases the Redis connection.
func (c *SignatureCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

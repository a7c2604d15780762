package cron

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/reconciler/cache"
	"github.com/halcyonpay/reconciler/chains"
	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/db"
	"github.com/halcyonpay/reconciler/tokens"
)

type jobFixture struct {
	job      *TokenRegistryJob
	cache    *cache.TokenCache
	feedPath string
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()

	feedPath := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(feedPath, []byte(`{
		"chains": {"eip155:11155111": [{"symbol": "eth", "decimals": 18}]}
	}`), 0o600))

	tokenCache := cache.NewTokenCache(zerolog.Nop())
	registry := chains.NewRegistry(db.NewInMemoryManager(zerolog.Nop()), zerolog.Nop())
	appConfig := &config.Config{
		// No chains configured: the job only maintains the token cache here.
		ChainConfigs: map[string]config.ChainConfig{},
	}

	return &jobFixture{
		job: NewTokenRegistryJob(
			tokenCache,
			tokens.NewFileFeed(feedPath),
			registry,
			appConfig,
			time.Minute,
			time.Second,
			zerolog.Nop(),
		),
		cache:    tokenCache,
		feedPath: feedPath,
	}
}

func TestTokenRegistryJob_SyncOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("first sync loads the feed", func(t *testing.T) {
		f := newJobFixture(t)

		require.NoError(t, f.job.syncOnce(ctx))

		got := f.cache.GetChainTokens("eip155:11155111")
		require.Len(t, got, 1)
		assert.Equal(t, "eth", got[0].Symbol)
		assert.False(t, f.cache.LastUpdated().IsZero())
	})

	t.Run("unchanged feed is not reloaded", func(t *testing.T) {
		f := newJobFixture(t)
		require.NoError(t, f.job.syncOnce(ctx))

		// Rewrite the feed but keep its mtime in the past: the change
		// signal is the timestamp, so this must be ignored.
		stale := f.cache.LastUpdated().Add(-time.Hour)
		require.NoError(t, os.WriteFile(f.feedPath, []byte(`{
			"chains": {"eip155:11155111": [{"symbol": "wbtc", "address": "0xwbtc", "decimals": 8}]}
		}`), 0o600))
		require.NoError(t, os.Chtimes(f.feedPath, stale, stale))

		require.NoError(t, f.job.syncOnce(ctx))
		got := f.cache.GetChainTokens("eip155:11155111")
		require.Len(t, got, 1)
		assert.Equal(t, "eth", got[0].Symbol)
	})

	t.Run("touched feed is reloaded", func(t *testing.T) {
		f := newJobFixture(t)
		require.NoError(t, f.job.syncOnce(ctx))

		fresh := f.cache.LastUpdated().Add(time.Hour)
		require.NoError(t, os.WriteFile(f.feedPath, []byte(`{
			"chains": {"eip155:11155111": [
				{"symbol": "eth", "decimals": 18},
				{"symbol": "usdc", "address": "0xusdc", "decimals": 6}
			]}
		}`), 0o600))
		require.NoError(t, os.Chtimes(f.feedPath, fresh, fresh))

		require.NoError(t, f.job.syncOnce(ctx))
		assert.Len(t, f.cache.GetChainTokens("eip155:11155111"), 2)
	})

	t.Run("missing feed fails the sync", func(t *testing.T) {
		f := newJobFixture(t)
		require.NoError(t, os.Remove(f.feedPath))
		assert.Error(t, f.job.syncOnce(ctx))
	})
}

func TestTokenRegistryJob_StartStop(t *testing.T) {
	ctx := context.Background()

	t.Run("start is idempotent and stop waits", func(t *testing.T) {
		f := newJobFixture(t)

		require.NoError(t, f.job.Start(ctx))
		require.NoError(t, f.job.Start(ctx))

		f.job.Stop()
		f.job.Stop()
	})

	t.Run("nil dependencies rejected", func(t *testing.T) {
		job := NewTokenRegistryJob(nil, nil, nil, nil, time.Minute, time.Second, zerolog.Nop())
		assert.Error(t, job.Start(ctx))
	})
}

package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/reconciler/config"
)

func TestTokenCache(t *testing.T) {
	eth := config.TokenInfo{Symbol: "eth", Decimals: 18}
	usdc := config.TokenInfo{Symbol: "usdc", Address: "0xusdc", Decimals: 6}

	t.Run("empty cache", func(t *testing.T) {
		c := NewTokenCache(zerolog.Nop())
		assert.True(t, c.LastUpdated().IsZero())
		assert.Nil(t, c.GetChainTokens("eip155:1"))
	})

	t.Run("update and read back", func(t *testing.T) {
		c := NewTokenCache(zerolog.Nop())
		now := time.Now()

		c.UpdateTokens(map[string][]config.TokenInfo{
			"eip155:1": {eth, usdc},
		}, now)

		assert.Equal(t, now, c.LastUpdated())
		got := c.GetChainTokens("eip155:1")
		require.Len(t, got, 2)
		assert.Equal(t, "eth", got[0].Symbol)
	})

	t.Run("update replaces the whole cache", func(t *testing.T) {
		c := NewTokenCache(zerolog.Nop())
		c.UpdateTokens(map[string][]config.TokenInfo{"eip155:1": {eth}}, time.Now())
		c.UpdateTokens(map[string][]config.TokenInfo{"solana:dev": {usdc}}, time.Now())

		assert.Nil(t, c.GetChainTokens("eip155:1"))
		assert.Len(t, c.GetChainTokens("solana:dev"), 1)
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		c := NewTokenCache(zerolog.Nop())
		c.UpdateTokens(map[string][]config.TokenInfo{"eip155:1": {eth}}, time.Now())

		got := c.GetChainTokens("eip155:1")
		got[0].Symbol = "mutated"

		fresh := c.GetChainTokens("eip155:1")
		assert.Equal(t, "eth", fresh[0].Symbol)
	})

	t.Run("input map is copied", func(t *testing.T) {
		c := NewTokenCache(zerolog.Nop())
		input := map[string][]config.TokenInfo{"eip155:1": {eth}}
		c.UpdateTokens(input, time.Now())

		input["eip155:1"][0].Symbol = "mutated"
		assert.Equal(t, "eth", c.GetChainTokens("eip155:1")[0].Symbol)
	})
}

package svm

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/db"
	"github.com/halcyonpay/reconciler/store"
)

func TestNewClient(t *testing.T) {
	database, err := db.OpenInMemoryDB(store.ScanModels)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	t.Run("valid config", func(t *testing.T) {
		client, err := NewClient(config.ChainConfig{
			Chain:   "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
			VMType:  config.VMTypeSVM,
			RPCURLs: []string{"https://api.devnet.solana.com"},
		}, database, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", client.ChainID())
		assert.Equal(t, "EtWTRABZaYq6iMfeYKouRu166VU2xqa1", client.genesisHash)
		assert.False(t, client.IsHealthy())
		assert.NotNil(t, client.ScanStore())
	})

	t.Run("wrong vm type rejected", func(t *testing.T) {
		_, err := NewClient(config.ChainConfig{
			Chain:  "solana:devnet",
			VMType: config.VMTypeEVM,
		}, database, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("bad chain id rejected", func(t *testing.T) {
		_, err := NewClient(config.ChainConfig{
			Chain:  "eip155:1",
			VMType: config.VMTypeSVM,
		}, database, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("start needs rpc urls", func(t *testing.T) {
		client, err := NewClient(config.ChainConfig{
			Chain:  "solana:devnet",
			VMType: config.VMTypeSVM,
		}, database, zerolog.Nop())
		require.NoError(t, err)
		assert.Error(t, client.Start(context.Background()))
	})
}

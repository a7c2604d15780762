package svm

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/db"
	"github.com/halcyonpay/reconciler/store"
)

type nopSink struct{}

func (nopSink) HandleTransfer(context.Context, *common.TransferEvent) error { return nil }

func newListenerClient(t *testing.T) *Client {
	t.Helper()

	database, err := db.OpenInMemoryDB(store.ScanModels)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	client, err := NewClient(config.ChainConfig{
		Chain:   "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
		VMType:  config.VMTypeSVM,
		RPCURLs: []string{"https://rpc.example"},
		// Long enough that no poll fires during the test.
		PollIntervalSeconds: 3600,
		MonitoredAddresses: []config.MonitoredAddress{
			{Address: "4Nd1mYvM6kV3XKxgtDbcCVTZtBkHNZLyPMcCLyzK7kMG", Token: "sol"},
		},
	}, database, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestListenerLifecycle(t *testing.T) {
	t.Run("start and stop", func(t *testing.T) {
		client := newListenerClient(t)
		listener := newListener(client, nopSink{}, zerolog.Nop())

		require.NoError(t, listener.Start(context.Background()))
		assert.True(t, listener.IsRunning())

		require.NoError(t, listener.Stop())
		assert.False(t, listener.IsRunning())
	})

	t.Run("double start rejected", func(t *testing.T) {
		client := newListenerClient(t)
		listener := newListener(client, nopSink{}, zerolog.Nop())

		require.NoError(t, listener.Start(context.Background()))
		assert.Error(t, listener.Start(context.Background()))
		require.NoError(t, listener.Stop())
	})

	t.Run("stop without start is a no-op", func(t *testing.T) {
		client := newListenerClient(t)
		listener := newListener(client, nopSink{}, zerolog.Nop())
		assert.NoError(t, listener.Stop())
	})

	t.Run("start requires a sink", func(t *testing.T) {
		client := newListenerClient(t)
		listener := newListener(client, nil, zerolog.Nop())
		assert.Error(t, listener.Start(context.Background()))
	})

	t.Run("seed reads the persisted cursor", func(t *testing.T) {
		client := newListenerClient(t)
		monitored := client.GetConfig().MonitoredAddresses[0]
		require.NoError(t, client.ScanStore().UpdateCursor(monitored.Address, common.ScanCursor{
			LastBlock:      1200,
			UntilSignature: "5VERYrealSignature11111111111111111111111111",
		}))

		listener := newListener(client, nopSink{}, zerolog.Nop())
		listener.seedCursors()
		assert.Equal(t, uint64(1200), listener.cursors[monitored.Address].LastBlock)
		assert.Equal(t, "5VERYrealSignature11111111111111111111111111", listener.cursors[monitored.Address].UntilSignature)
	})
}

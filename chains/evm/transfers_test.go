package evm

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
)

func TestParseEVMChainID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		id, err := parseEVMChainID("eip155:11155111")
		require.NoError(t, err)
		assert.Equal(t, int64(11155111), id)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, in := range []string{"eip155", "solana:abc", "eip155:not-a-number", "eip155:1:2"} {
			_, err := parseEVMChainID(in)
			assert.Error(t, err, in)
		}
	})
}

func addressTopic(addr string) ethcommon.Hash {
	return ethcommon.BytesToHash(ethcommon.LeftPadBytes(ethcommon.HexToAddress(addr).Bytes(), 32))
}

func TestParseTransferLog(t *testing.T) {
	usdc := config.TokenInfo{Symbol: "usdc", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}

	t.Run("decodes a transfer", func(t *testing.T) {
		amount := big.NewInt(2500000)
		lg := types.Log{
			TxHash:      ethcommon.HexToHash("0xAA"),
			BlockNumber: 123,
			Topics: []ethcommon.Hash{
				transferEventTopic,
				addressTopic("0x1111111111111111111111111111111111111111"),
				addressTopic("0x2222222222222222222222222222222222222222"),
			},
			Data: ethcommon.LeftPadBytes(amount.Bytes(), 32),
		}

		ev, err := parseTransferLog(lg, "eip155:1", usdc)
		require.NoError(t, err)
		assert.Equal(t, "0x1111111111111111111111111111111111111111", ev.From)
		assert.Equal(t, "0x2222222222222222222222222222222222222222", ev.To)
		assert.Equal(t, "2500000", ev.Amount.String())
		assert.Equal(t, "usdc", ev.Token)
		assert.Equal(t, uint64(123), ev.Block)
		assert.True(t, ev.Confirmed)
		// Everything hex is lower-cased on the way in.
		assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", ev.TokenAddress)
	})

	t.Run("rejects wrong topic count", func(t *testing.T) {
		lg := types.Log{Topics: []ethcommon.Hash{transferEventTopic}}
		_, err := parseTransferLog(lg, "eip155:1", usdc)
		assert.Error(t, err)
	})

	t.Run("rejects foreign event signature", func(t *testing.T) {
		lg := types.Log{Topics: []ethcommon.Hash{
			ethcommon.HexToHash("0x01"),
			addressTopic("0x11"),
			addressTopic("0x22"),
		}}
		_, err := parseTransferLog(lg, "eip155:1", usdc)
		assert.Error(t, err)
	})
}

func TestSortEventsByBlock(t *testing.T) {
	events := []*common.TransferEvent{
		{TxHash: "c", Block: 30, Timestamp: 1700000300},
		{TxHash: "a", Block: 10, Timestamp: 1700000100},
		{TxHash: "b1", Block: 20, Timestamp: 1700000200},
		{TxHash: "b2", Block: 20, Timestamp: 1700000200},
	}
	sortEventsByBlock(events)

	assert.Equal(t, "a", events[0].TxHash)
	// Stable within the same block.
	assert.Equal(t, "b1", events[1].TxHash)
	assert.Equal(t, "b2", events[2].TxHash)
	assert.Equal(t, "c", events[3].TxHash)
	// Block timestamps ride along as unix seconds.
	assert.Equal(t, uint64(1700000100), events[0].Timestamp)
}

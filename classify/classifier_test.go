package classify

import (
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/reconciler/chains/common"
	"github.com/halcyonpay/reconciler/config"
)

type fakeResolver struct {
	users map[string]uint64 // address -> user ID
}

func (f *fakeResolver) ResolveUser(chainID, address string) (uint64, bool, error) {
	id, ok := f.users[address]
	return id, ok, nil
}

type fakeTokens struct {
	tokens []config.TokenInfo
}

func (f *fakeTokens) GetChainTokens(chainID string) []config.TokenInfo {
	return f.tokens
}

func newTestClassifier(users map[string]uint64, tokens []config.TokenInfo) *Classifier {
	return NewClassifier(&fakeResolver{users: users}, &fakeTokens{tokens: tokens}, zerolog.Nop())
}

func event(from, to, tokenAddr string, amount int64) *common.TransferEvent {
	return &common.TransferEvent{
		TxHash:       "0xabc",
		ChainID:      "eip155:11155111",
		Token:        "eth",
		TokenAddress: tokenAddr,
		From:         from,
		To:           to,
		Amount:       big.NewInt(amount),
		Block:        10,
	}
}

func TestClassifier_Classify(t *testing.T) {
	treasury := "0xtreasury"
	monitored := []config.MonitoredAddress{{Address: treasury}}
	usdc := config.TokenInfo{Symbol: "usdc", Address: "0xusdc", Decimals: 6}

	t.Run("incoming transfer is a deposit", func(t *testing.T) {
		c := newTestClassifier(map[string]uint64{"0xalice": 42}, nil)

		ct, err := c.Classify(event("0xalice", treasury, "", 100), monitored)
		require.NoError(t, err)
		require.NotNil(t, ct)
		assert.Equal(t, DirectionDeposit, ct.Direction)
		assert.Equal(t, uint64(42), ct.UserID)
		assert.True(t, ct.Associated)
	})

	t.Run("outgoing transfer is a withdrawal", func(t *testing.T) {
		c := newTestClassifier(map[string]uint64{"0xbob": 7}, nil)

		ct, err := c.Classify(event(treasury, "0xbob", "", 100), monitored)
		require.NoError(t, err)
		require.NotNil(t, ct)
		assert.Equal(t, DirectionWithdraw, ct.Direction)
		assert.Equal(t, uint64(7), ct.UserID)
		assert.True(t, ct.Associated)
	})

	t.Run("unknown counterparty stays unassociated", func(t *testing.T) {
		c := newTestClassifier(nil, nil)

		ct, err := c.Classify(event("0xstranger", treasury, "", 100), monitored)
		require.NoError(t, err)
		require.NotNil(t, ct)
		assert.Equal(t, DirectionDeposit, ct.Direction)
		assert.False(t, ct.Associated)
	})

	t.Run("self-transfer discarded", func(t *testing.T) {
		c := newTestClassifier(nil, nil)

		ct, err := c.Classify(event(treasury, treasury, "", 100), monitored)
		require.NoError(t, err)
		assert.Nil(t, ct)
	})

	t.Run("transfer not touching a monitored address ignored", func(t *testing.T) {
		c := newTestClassifier(map[string]uint64{"0xalice": 42}, nil)

		ct, err := c.Classify(event("0xalice", "0xbob", "", 100), monitored)
		require.NoError(t, err)
		assert.Nil(t, ct)
	})

	t.Run("unsupported token discarded", func(t *testing.T) {
		c := newTestClassifier(map[string]uint64{"0xalice": 42}, []config.TokenInfo{usdc})

		ct, err := c.Classify(event("0xalice", treasury, "0xshitcoin", 100), monitored)
		require.NoError(t, err)
		assert.Nil(t, ct)
	})

	t.Run("supported token normalizes the symbol", func(t *testing.T) {
		c := newTestClassifier(map[string]uint64{"0xalice": 42}, []config.TokenInfo{usdc})

		ev := event("0xalice", treasury, "0xUSDC", 100)
		ev.Token = ""
		ct, err := c.Classify(ev, monitored)
		require.NoError(t, err)
		require.NotNil(t, ct)
		assert.Equal(t, "usdc", ct.Event.Token)
	})

	t.Run("token-scoped monitored address ignores other tokens", func(t *testing.T) {
		scoped := []config.MonitoredAddress{{Address: treasury, Token: "usdc", TokenAddress: "0xusdc"}}
		c := newTestClassifier(map[string]uint64{"0xalice": 42}, []config.TokenInfo{usdc})

		// Native transfer to a USDC-scoped address: not ours.
		ct, err := c.Classify(event("0xalice", treasury, "", 100), scoped)
		require.NoError(t, err)
		assert.Nil(t, ct)

		// USDC transfer matches.
		ct, err = c.Classify(event("0xalice", treasury, "0xusdc", 100), scoped)
		require.NoError(t, err)
		require.NotNil(t, ct)
		assert.Equal(t, DirectionDeposit, ct.Direction)
	})
}

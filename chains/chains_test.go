package chains

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonpay/reconciler/config"
	"github.com/halcyonpay/reconciler/db"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(db.NewInMemoryManager(zerolog.Nop()), zerolog.Nop())
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("empty config rejected", func(t *testing.T) {
		r := newTestRegistry(t)
		assert.Error(t, r.AddOrUpdateChain(ctx, config.ChainConfig{}))
	})

	t.Run("unsupported vm type rejected", func(t *testing.T) {
		r := newTestRegistry(t)
		err := r.AddOrUpdateChain(ctx, config.ChainConfig{Chain: "near:mainnet", VMType: "wasm"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported VM type")
	})

	t.Run("lookups on an empty registry", func(t *testing.T) {
		r := newTestRegistry(t)
		assert.Nil(t, r.GetChain("eip155:1"))
		assert.Empty(t, r.GetAllChains())
		assert.Empty(t, r.GetHealthStatus())
		assert.Empty(t, r.ChainsByVMType(config.VMTypeEVM))
		r.RemoveChain("eip155:1") // no-op
		r.StopAll()
	})
}

func TestConfigsEqual(t *testing.T) {
	base := config.ChainConfig{
		Chain:               "eip155:1",
		VMType:              config.VMTypeEVM,
		RPCURLs:             []string{"https://a"},
		PollIntervalSeconds: 15,
		PageSize:            200,
		PageDelayMillis:     250,
		MinConfirmations:    2,
		MonitoredAddresses:  []config.MonitoredAddress{{Address: "0xabc"}},
		Tokens:              []config.TokenInfo{{Symbol: "eth", Decimals: 18}},
	}

	t.Run("identical configs are equal", func(t *testing.T) {
		assert.True(t, configsEqual(base, base))
	})

	t.Run("any relevant field change breaks equality", func(t *testing.T) {
		mutations := map[string]func(c *config.ChainConfig){
			"chain":     func(c *config.ChainConfig) { c.Chain = "eip155:2" },
			"poll":      func(c *config.ChainConfig) { c.PollIntervalSeconds = 30 },
			"page size": func(c *config.ChainConfig) { c.PageSize = 100 },
			"conf":      func(c *config.ChainConfig) { c.MinConfirmations = 5 },
			"rpc urls":  func(c *config.ChainConfig) { c.RPCURLs = []string{"https://b"} },
			"addresses": func(c *config.ChainConfig) {
				c.MonitoredAddresses = []config.MonitoredAddress{{Address: "0xdef"}}
			},
			"tokens": func(c *config.ChainConfig) {
				c.Tokens = []config.TokenInfo{{Symbol: "usdc", Address: "0xusdc", Decimals: 6}}
			},
		}
		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				changed := base
				mutate(&changed)
				assert.False(t, configsEqual(base, changed))
			})
		}
	})
}

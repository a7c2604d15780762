package db

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LedgerDB(t *testing.T) {
	t.Run("opens lazily and memoizes", func(t *testing.T) {
		m := NewManager(t.TempDir(), zerolog.Nop())
		t.Cleanup(func() { _ = m.CloseAll() })

		first, err := m.LedgerDB()
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := m.LedgerDB()
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("creates the ledger file under baseDir", func(t *testing.T) {
		dir := t.TempDir()
		m := NewManager(dir, zerolog.Nop())
		t.Cleanup(func() { _ = m.CloseAll() })

		_, err := m.LedgerDB()
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "ledger", "ledger.db"))
	})
}

func TestManager_ChainDB(t *testing.T) {
	t.Run("per-chain isolation", func(t *testing.T) {
		m := NewInMemoryManager(zerolog.Nop())
		t.Cleanup(func() { _ = m.CloseAll() })

		a, err := m.ChainDB("eip155:11155111")
		require.NoError(t, err)
		b, err := m.ChainDB("solana:devnet")
		require.NoError(t, err)
		assert.NotSame(t, a, b)

		again, err := m.ChainDB("eip155:11155111")
		require.NoError(t, err)
		assert.Same(t, a, again)
	})

	t.Run("sanitizes chain id in the path", func(t *testing.T) {
		dir := t.TempDir()
		m := NewManager(dir, zerolog.Nop())
		t.Cleanup(func() { _ = m.CloseAll() })

		_, err := m.ChainDB("eip155:11155111")
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "chains", "eip155_11155111", "scan_state.db"))
	})

	t.Run("close removes the handle", func(t *testing.T) {
		m := NewInMemoryManager(zerolog.Nop())
		t.Cleanup(func() { _ = m.CloseAll() })

		first, err := m.ChainDB("eip155:1")
		require.NoError(t, err)
		require.NoError(t, m.CloseChainDB("eip155:1"))
		// Closing twice is fine.
		require.NoError(t, m.CloseChainDB("eip155:1"))

		second, err := m.ChainDB("eip155:1")
		require.NoError(t, err)
		assert.NotSame(t, first, second)
	})
}

func TestSanitizeChainID(t *testing.T) {
	assert.Equal(t, "eip155_11155111", sanitizeChainID("eip155:11155111"))
	assert.Equal(t, "solana_EtWTRABZaYq6iMfeYKouRu166VU2xqa1", sanitizeChainID("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"))
	assert.Equal(t, "a_b_c", sanitizeChainID("a:b/c"))
}

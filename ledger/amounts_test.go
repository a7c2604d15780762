package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	t.Run("valid amounts", func(t *testing.T) {
		for _, tc := range []struct {
			in   string
			want string
		}{
			{"0", "0"},
			{"", "0"},
			{"42", "42"},
			{"2000000000000000", "2000000000000000"},
			// larger than uint64
			{"340282366920938463463374607431768211456", "340282366920938463463374607431768211456"},
		} {
			got, err := ParseAmount(tc.in)
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got.String())
		}
	})

	t.Run("rejects garbage and negatives", func(t *testing.T) {
		for _, in := range []string{"-1", "1.5", "0x10", "abc", "1e18"} {
			_, err := ParseAmount(in)
			assert.Error(t, err, in)
		}
	})
}

func TestAddAmount(t *testing.T) {
	got, err := addAmount("100", big.NewInt(23))
	require.NoError(t, err)
	assert.Equal(t, "123", got)

	got, err = addAmount("", big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, "5", got)

	_, err = addAmount("nope", big.NewInt(1))
	assert.Error(t, err)
}

func TestSubAmountClampZero(t *testing.T) {
	t.Run("normal subtraction", func(t *testing.T) {
		got, clamped, err := subAmountClampZero("100", big.NewInt(40))
		require.NoError(t, err)
		assert.False(t, clamped)
		assert.Equal(t, "60", got)
	})

	t.Run("exact drain", func(t *testing.T) {
		got, clamped, err := subAmountClampZero("40", big.NewInt(40))
		require.NoError(t, err)
		assert.False(t, clamped)
		assert.Equal(t, "0", got)
	})

	t.Run("shortfall clamps to zero", func(t *testing.T) {
		got, clamped, err := subAmountClampZero("39", big.NewInt(40))
		require.NoError(t, err)
		assert.True(t, clamped)
		assert.Equal(t, "0", got)
	})
}

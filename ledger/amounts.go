package ledger

import (
	"fmt"
	"math/big"
)

// Balances are arbitrary-precision non-negative integers in the token's base
// unit, stored as decimal strings and manipulated with big.Int only. No
// float ever touches an amount.

// ParseAmount parses a base-unit decimal string into a non-negative big.Int.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid base-unit amount %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative base-unit amount %q", s)
	}
	return n, nil
}

// addAmount returns a+b as a decimal string.
func addAmount(a string, b *big.Int) (string, error) {
	cur, err := ParseAmount(a)
	if err != nil {
		return "", err
	}
	return new(big.Int).Add(cur, b).String(), nil
}

// subAmountClampZero returns max(a-b, 0) as a decimal string, along with
// whether clamping occurred. Subtraction below zero is floored rather than
// rejected; callers log the shortfall so the masked invariant violation is
// auditable.
func subAmountClampZero(a string, b *big.Int) (result string, clamped bool, err error) {
	cur, err := ParseAmount(a)
	if err != nil {
		return "", false, err
	}
	diff := new(big.Int).Sub(cur, b)
	if diff.Sign() < 0 {
		return "0", true, nil
	}
	return diff.String(), false, nil
}

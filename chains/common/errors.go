package common

import (
	"errors"
	"strings"
)

// ErrAddressNotFound signals that an address or account has no on-chain
// footprint. Callers treat it as an empty result, never as fatal.
var ErrAddressNotFound = errors.New("address not found")

// IsTransient reports whether an RPC error is worth retrying. Not-found
// conditions are explicitly not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAddressNotFound) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"too many requests",
		"rate limit",
		"temporarily unavailable",
		"service unavailable",
		"eof",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Package tokens reads the supported-token configuration feed: a JSON file
// listing the currently supported fungible tokens per chain. The feed is
// polled periodically; a change in its last-modified timestamp triggers a
// reload and, downstream, re-registration of live subscriptions.
package tokens

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/halcyonpay/reconciler/config"
)

// feedFile is the on-disk shape of the feed.
type feedFile struct {
	Chains map[string][]config.TokenInfo `json:"chains"`
}

// FileFeed serves token configurations from a JSON file, using the file's
// mtime as the change signal.
type FileFeed struct {
	path string
}

// NewFileFeed creates a feed backed by the given JSON file.
func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

// LastModified returns the feed's last-modified timestamp.
func (f *FileFeed) LastModified() (time.Time, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat token feed: %w", err)
	}
	return info.ModTime(), nil
}

// Load reads and validates the full feed, returning the supported tokens per
// chain and the feed's last-modified timestamp.
func (f *FileFeed) Load() (map[string][]config.TokenInfo, time.Time, error) {
	modTime, err := f.LastModified()
	if err != nil {
		return nil, time.Time{}, err
	}

	data, err := os.ReadFile(filepath.Clean(f.path))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read token feed: %w", err)
	}

	var file feedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to unmarshal token feed: %w", err)
	}

	out := make(map[string][]config.TokenInfo, len(file.Chains))
	for chainID, list := range file.Chains {
		normalized := make([]config.TokenInfo, 0, len(list))
		for _, t := range list {
			if t.Symbol == "" {
				return nil, time.Time{}, fmt.Errorf("token feed: chain %s has a token without a symbol", chainID)
			}
			t.Symbol = strings.ToLower(t.Symbol)
			// EVM contract addresses are case-normalized; Solana
			// mints are base58 and stay as-is.
			if strings.HasPrefix(chainID, "eip155:") {
				t.Address = strings.ToLower(t.Address)
			}
			normalized = append(normalized, t)
		}
		out[chainID] = normalized
	}

	return out, modTime, nil
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"
)

// WalletInfo is the cached result of a balance lookup
type WalletInfo struct {
	BalanceSats int64 `json:"balance_sats"`
	Simulated   bool  `json:"simulated,omitempty"`
	CachedAt    int64 `json:"cached_at"`
}

// WalletInfoCache provides typed access to cached wallet info.
// Entries are keyed by a hash of the pairing identifier so the
// pairing secret never reaches the backend.
type WalletInfoCache struct {
	backend Backend
	config  Config
}

func NewWalletInfoCache(backend Backend, config Config) *WalletInfoCache {
	return &WalletInfoCache{backend: backend, config: config}
}

// WalletKey derives the cache key for a pairing identifier
func WalletKey(pairing string) string {
	sum := sha256.Sum256([]byte(pairing))
	return "wallet-info:" + hex.EncodeToString(sum[:])
}

// Get returns (info, found). Backend errors count as a miss.
func (c *WalletInfoCache) Get(ctx context.Context, pairing string) (*WalletInfo, bool) {
	data, found, err := c.backend.Get(ctx, WalletKey(pairing))
	if err != nil {
		slog.Debug("wallet info cache get failed", "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var cached WalletInfo
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

// Set stores a successful lookup. Failures are never cached.
func (c *WalletInfoCache) Set(ctx context.Context, pairing string, info *WalletInfo) {
	info.CachedAt = time.Now().Unix()
	data, err := json.Marshal(info)
	if err != nil {
		slog.Debug("failed to marshal wallet info for cache", "error", err)
		return
	}

	if err := c.backend.Set(ctx, WalletKey(pairing), data, c.config.WalletInfoTTL); err != nil {
		slog.Debug("wallet info cache set failed", "error", err)
	}
}

// Delete removes wallet info, e.g. after a payment or disconnect
func (c *WalletInfoCache) Delete(ctx context.Context, pairing string) {
	if err := c.backend.Delete(ctx, WalletKey(pairing)); err != nil {
		slog.Debug("wallet info cache delete failed", "error", err)
	}
}

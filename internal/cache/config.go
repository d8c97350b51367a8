package cache

import "time"

// Config holds cache TTL configuration
type Config struct {
	WalletInfoTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		WalletInfoTTL: 5 * time.Minute, // Balance refresh interval
	}
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nostr-wallet/internal/cache"
	"nostr-wallet/internal/nwc"
)

// Config is the process configuration, read once at startup
type Config struct {
	Port     string
	LogLevel slog.Level
	RedisURL string // empty means in-memory cache

	ConnectTimeout       time.Duration
	RequestTimeout       time.Duration
	ReconnectBackoff     time.Duration
	MaxReconnectAttempts int
	Encryption           string // nwc.EncryptionNIP04 or nwc.EncryptionNIP44

	Simulate      bool // serve the labeled demo wallet instead of real ones
	WalletInfoTTL time.Duration
}

// Load reads the optional env files (".env" when none are given) and then
// the environment. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
		slog.Debug("loaded env file", "path", f)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone
func FromEnv() (*Config, error) {
	defaults := nwc.DefaultOptions()
	cfg := &Config{
		Port:     os.Getenv("PORT"),
		RedisURL: os.Getenv("REDIS_URL"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	var errs []error
	var err error

	if cfg.LogLevel, err = ParseLevel(os.Getenv("LOG_LEVEL")); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConnectTimeout, err = durationEnv("NWC_CONNECT_TIMEOUT", defaults.ConnectTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.RequestTimeout, err = durationEnv("NWC_REQUEST_TIMEOUT", defaults.RequestTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReconnectBackoff, err = durationEnv("NWC_RECONNECT_BACKOFF", defaults.ReconnectBackoff); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxReconnectAttempts, err = intEnv("NWC_MAX_RECONNECT_ATTEMPTS", defaults.MaxReconnectAttempts); err != nil {
		errs = append(errs, err)
	}
	if cfg.Simulate, err = boolEnv("NWC_SIMULATE", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.WalletInfoTTL, err = durationEnv("WALLET_INFO_TTL", cache.DefaultConfig().WalletInfoTTL); err != nil {
		errs = append(errs, err)
	}

	switch enc := strings.ToLower(os.Getenv("NWC_ENCRYPTION")); enc {
	case "", nwc.EncryptionNIP04:
		cfg.Encryption = nwc.EncryptionNIP04
	case nwc.EncryptionNIP44:
		cfg.Encryption = nwc.EncryptionNIP44
	default:
		errs = append(errs, fmt.Errorf("NWC_ENCRYPTION: unknown scheme %q (want nip04 or nip44)", enc))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// NWCOptions returns the session options for this configuration
func (c *Config) NWCOptions() nwc.Options {
	return nwc.Options{
		ConnectTimeout:       c.ConnectTimeout,
		RequestTimeout:       c.RequestTimeout,
		ReconnectBackoff:     c.ReconnectBackoff,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		Encryption:           c.Encryption,
	}
}

// CacheConfig returns the cache TTLs for this configuration
func (c *Config) CacheConfig() cache.Config {
	cc := cache.DefaultConfig()
	cc.WalletInfoTTL = c.WalletInfoTTL
	return cc
}

// ParseLevel maps LOG_LEVEL (debug/info/warn/error) to a slog level.
// Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: unknown level %q", s)
	}
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", name, v)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %d", name, n)
	}
	return n, nil
}

func boolEnv(name string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

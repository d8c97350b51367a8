package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-wallet/internal/nwc"
)

var envVars = []string{
	"PORT", "LOG_LEVEL", "REDIS_URL",
	"NWC_CONNECT_TIMEOUT", "NWC_REQUEST_TIMEOUT", "NWC_RECONNECT_BACKOFF",
	"NWC_MAX_RECONNECT_ATTEMPTS", "NWC_ENCRYPTION", "NWC_SIMULATE", "WALLET_INFO_TTL",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them afterwards
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, nwc.EncryptionNIP04, cfg.Encryption)
	assert.False(t, cfg.Simulate)
	assert.Equal(t, 5*time.Minute, cfg.WalletInfoTTL)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("NWC_CONNECT_TIMEOUT", "2s")
	t.Setenv("NWC_REQUEST_TIMEOUT", "1500ms")
	t.Setenv("NWC_RECONNECT_BACKOFF", "250ms")
	t.Setenv("NWC_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("NWC_ENCRYPTION", "nip44")
	t.Setenv("NWC_SIMULATE", "true")
	t.Setenv("WALLET_INFO_TTL", "30s")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.True(t, cfg.Simulate)

	opts := cfg.NWCOptions()
	assert.Equal(t, 2*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 1500*time.Millisecond, opts.RequestTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.ReconnectBackoff)
	assert.Equal(t, 3, opts.MaxReconnectAttempts)
	assert.Equal(t, nwc.EncryptionNIP44, opts.Encryption)

	assert.Equal(t, 30*time.Second, cfg.CacheConfig().WalletInfoTTL)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name, value string
	}{
		{"LOG_LEVEL", "loud"},
		{"NWC_CONNECT_TIMEOUT", "5"},
		{"NWC_REQUEST_TIMEOUT", "-1s"},
		{"NWC_MAX_RECONNECT_ATTEMPTS", "zero"},
		{"NWC_MAX_RECONNECT_ATTEMPTS", "0"},
		{"NWC_ENCRYPTION", "rot13"},
		{"NWC_SIMULATE", "maybe"},
		{"WALLET_INFO_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.name, tt.value)

			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// Unset so godotenv, which never overrides, can populate them
	os.Unsetenv("PORT")
	os.Unsetenv("NWC_SIMULATE")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\nNWC_SIMULATE=1\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.True(t, cfg.Simulate)
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
}

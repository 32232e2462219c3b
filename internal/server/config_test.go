package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfigDefaults verifies the values a relay runs with when nothing
// is configured.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Empty(t, cfg.AdvertiseAddress)
	assert.Equal(t, int64(1<<20), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.Equal(t, RateLimitConfig{Burst: 500, RefillInterval: time.Second}, cfg.RateLimit)
	assert.Equal(t, Limits{
		MaxClients:            256,
		MaxRooms:              128,
		MaxRoomMembers:        32,
		MaxTotalChunks:        1 << 16,
		MaxTransfersPerClient: 16,
	}, cfg.Limits)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

// TestApplyEnv verifies that environment variables override defaults and
// that unusable values are ignored.
func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "port and address",
			env:  map[string]string{"SERVER_PORT": ":9090", "ADVERTISE_ADDRESS": "10.0.0.5"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9090", cfg.Port)
				assert.Equal(t, "10.0.0.5", cfg.AdvertiseAddress)
			},
		},
		{
			name: "origins are split and trimmed",
			env:  map[string]string{"ALLOWED_ORIGINS": "http://a.lan, http://b.lan:3000"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"http://a.lan", "http://b.lan:3000"}, cfg.AllowedOrigins)
			},
		},
		{
			name: "numeric limits",
			env: map[string]string{
				"MAX_MESSAGE_SIZE": "2048",
				"RATE_LIMIT_BURST": "20",
				"MAX_CLIENTS":      "8",
				"MAX_ROOMS":        "4",
				"MAX_TOTAL_CHUNKS": "100",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, int64(2048), cfg.MaxMessageSize)
				assert.Equal(t, 20, cfg.RateLimit.Burst)
				assert.Equal(t, 8, cfg.Limits.MaxClients)
				assert.Equal(t, 4, cfg.Limits.MaxRooms)
				assert.Equal(t, 100, cfg.Limits.MaxTotalChunks)
			},
		},
		{
			name: "refill interval in seconds",
			env:  map[string]string{"RATE_LIMIT_REFILL_INTERVAL": "3"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
			},
		},
		{
			name: "refill interval as duration",
			env:  map[string]string{"RATE_LIMIT_REFILL_INTERVAL": "250ms"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.RefillInterval)
			},
		},
		{
			name: "invalid values keep defaults",
			env: map[string]string{
				"MAX_MESSAGE_SIZE":           "-1",
				"RATE_LIMIT_BURST":           "lots",
				"RATE_LIMIT_REFILL_INTERVAL": "soon",
				"MAX_CLIENTS":                "0",
			},
			check: func(t *testing.T, cfg *Config) {
				defaults := NewConfig()
				assert.Equal(t, defaults.MaxMessageSize, cfg.MaxMessageSize)
				assert.Equal(t, defaults.RateLimit, cfg.RateLimit)
				assert.Equal(t, defaults.Limits.MaxClients, cfg.Limits.MaxClients)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			ApplyEnv(cfg, func(key string) string { return tt.env[key] })
			tt.check(t, cfg)
		})
	}
}

// TestNewConfigFromEnv verifies the process environment is read.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":18080")
	t.Setenv("MAX_ROOMS", "3")

	cfg := NewConfigFromEnv()
	assert.Equal(t, ":18080", cfg.Port)
	assert.Equal(t, 3, cfg.Limits.MaxRooms)
}

// TestLoadConfigFile verifies that a YAML file overrides only the keys it
// names.
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lanrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: ":7000"
advertise_address: 192.168.0.9
allowed_origins:
  - http://kiosk.lan
rate_limit:
  burst: 50
  refill_interval: 2s
limits:
  max_room_members: 4
shutdown_timeout: 1m
`), 0o600))

	cfg := NewConfig()
	require.NoError(t, LoadConfigFile(cfg, path))

	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, "192.168.0.9", cfg.AdvertiseAddress)
	assert.Equal(t, []string{"http://kiosk.lan"}, cfg.AllowedOrigins)
	assert.Equal(t, RateLimitConfig{Burst: 50, RefillInterval: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, 4, cfg.Limits.MaxRoomMembers)
	assert.Equal(t, 128, cfg.Limits.MaxRooms)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, 256, cfg.SendBufferSize)
}

// TestLoadConfigFileErrors verifies missing and malformed files fail.
func TestLoadConfigFileErrors(t *testing.T) {
	cfg := NewConfig()
	require.Error(t, LoadConfigFile(cfg, filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limits: [unclosed"), 0o600))
	require.Error(t, LoadConfigFile(cfg, path))
}

// TestSanitizeConfig verifies that zero and negative values fall back to
// defaults while valid values survive.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Port:           "127.0.0.1:0",
		MaxMessageSize: -5,
		Limits:         Limits{MaxRooms: 2},
	})

	assert.Equal(t, "127.0.0.1:0", cfg.Port)
	assert.Equal(t, int64(defaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, 2, cfg.Limits.MaxRooms)
	assert.Equal(t, defaultMaxClients, cfg.Limits.MaxClients)
	assert.Equal(t, defaultRefillInterval, cfg.RateLimit.RefillInterval)
}

// Package server provides configuration helpers that define runtime defaults,
// validation, and resource limits for the LAN relay.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Limits caps the resources a relay will hand out. Declared chunk counts
// and per-client transfer counts come straight from clients, so they are
// bounded here rather than trusted.
type Limits struct {
	MaxClients            int `yaml:"max_clients"`
	MaxRooms              int `yaml:"max_rooms"`
	MaxRoomMembers        int `yaml:"max_room_members"`
	MaxTotalChunks        int `yaml:"max_total_chunks"`
	MaxTransfersPerClient int `yaml:"max_transfers_per_client"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	// Port is the listen address, in net.Listen form (":8080", "127.0.0.1:0").
	Port string `yaml:"port"`
	// AdvertiseAddress is the LAN address reported to clients. Detected
	// from the network interfaces when empty.
	AdvertiseAddress string          `yaml:"advertise_address"`
	AllowedOrigins   []string        `yaml:"allowed_origins"`
	MaxMessageSize   int64           `yaml:"max_message_size"`
	SendBufferSize   int             `yaml:"send_buffer_size"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	Limits           Limits          `yaml:"limits"`
	ShutdownTimeout  time.Duration   `yaml:"shutdown_timeout"`
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 1 << 20
	defaultSendBufferSize  = 256
	defaultRateBurst       = 500
	defaultRefillInterval  = time.Second
	defaultMaxClients      = 256
	defaultMaxRooms        = 128
	defaultMaxRoomMembers  = 32
	defaultMaxTotalChunks  = 1 << 16
	defaultMaxTransfers    = 16
	defaultShutdownTimeout = 5 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port:           defaultPort,
		MaxMessageSize: defaultMaxMessageSize,
		SendBufferSize: defaultSendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: defaultRefillInterval,
		},
		Limits: Limits{
			MaxClients:            defaultMaxClients,
			MaxRooms:              defaultMaxRooms,
			MaxRoomMembers:        defaultMaxRoomMembers,
			MaxTotalChunks:        defaultMaxTotalChunks,
			MaxTransfersPerClient: defaultMaxTransfers,
		},
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// sanitizeConfig replaces unusable values with defaults.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.Limits.MaxClients <= 0 {
		cfg.Limits.MaxClients = defaultMaxClients
	}
	if cfg.Limits.MaxRooms <= 0 {
		cfg.Limits.MaxRooms = defaultMaxRooms
	}
	if cfg.Limits.MaxRoomMembers <= 0 {
		cfg.Limits.MaxRoomMembers = defaultMaxRoomMembers
	}
	if cfg.Limits.MaxTotalChunks <= 0 {
		cfg.Limits.MaxTotalChunks = defaultMaxTotalChunks
	}
	if cfg.Limits.MaxTransfersPerClient <= 0 {
		cfg.Limits.MaxTransfersPerClient = defaultMaxTransfers
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfigFile overlays the YAML document at path onto cfg. Keys absent
// from the file keep their current values.
func LoadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	ApplyEnv(&cfg, os.Getenv)
	return &cfg
}

// ApplyEnv overlays environment settings onto cfg. Unparseable values are
// ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if port := getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if addr := getenv("ADVERTISE_ADDRESS"); addr != "" {
		cfg.AdvertiseAddress = addr
	}
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}
	if v := getenv("MAX_CLIENTS"); v != "" {
		cfg.Limits.MaxClients = parseIntValue(v, cfg.Limits.MaxClients)
	}
	if v := getenv("MAX_ROOMS"); v != "" {
		cfg.Limits.MaxRooms = parseIntValue(v, cfg.Limits.MaxRooms)
	}
	if v := getenv("MAX_TOTAL_CHUNKS"); v != "" {
		cfg.Limits.MaxTotalChunks = parseIntValue(v, cfg.Limits.MaxTotalChunks)
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when a setting is absent or invalid.
const (
	DefaultPort            = ":3000"
	DefaultMaxMessageSize  = 4096
	DefaultSendBufferSize  = 256
	DefaultRateLimitBurst  = 5
	DefaultRefillInterval  = time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the relay configuration.
type Config struct {
	// Port is the listen address, e.g. ":3000" or "127.0.0.1:3000".
	Port string `yaml:"port"`

	// AllowedOrigins lists the browser origins accepted on upgrade. "*" accepts
	// any origin; an empty list accepts same-host origins only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageSize is the largest inbound frame in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// SendBufferSize is the per-connection outbound queue depth.
	SendBufferSize int `yaml:"send_buffer_size"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// AssetPath is the bootstrap document served at "/". Empty serves the
	// built-in client page.
	AssetPath string `yaml:"asset_path"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		MaxMessageSize: DefaultMaxMessageSize,
		SendBufferSize: DefaultSendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          DefaultRateLimitBurst,
			RefillInterval: DefaultRefillInterval,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyEnv(cfg)

	cfg.Port = normalizePort(cfg.Port)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// FromEnv creates a Config from environment variables. Unset or unparsable
// variables fall back to the defaults.
func FromEnv() *Config {
	cfg := Default()
	applyEnv(cfg)
	cfg.Port = normalizePort(cfg.Port)
	return cfg
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if asset := os.Getenv("ASSET_PATH"); asset != "" {
		cfg.AssetPath = asset
	}
}

// validate checks structural constraints on a loaded configuration.
func validate(cfg *Config) error {
	_, port, err := net.SplitHostPort(cfg.Port)
	if err != nil {
		return fmt.Errorf("port %q: %w", cfg.Port, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("port %q is out of range [0, 65535]", cfg.Port)
	}
	if cfg.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive")
	}
	if cfg.SendBufferSize <= 0 {
		return fmt.Errorf("send_buffer_size must be positive")
	}
	if cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive")
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		return fmt.Errorf("rate_limit.refill_interval must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

// normalizePort turns a bare port number into a listen address.
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return DefaultPort
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
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

// parseRefillInterval accepts a Go duration ("500ms", "2s") or a bare number
// of seconds.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

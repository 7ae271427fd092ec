// ABOUTME: Configuration loading and parsing for pulse-gateway.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pulse-gateway configuration.
type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Redis      RedisConfig                `yaml:"redis"`
	Auth       AuthConfig                 `yaml:"auth"`
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`
	Metrics    MetricsConfig              `yaml:"metrics"`
	Tailscale  TailscaleConfig            `yaml:"tailscale"`
	Logging    LoggingConfig              `yaml:"logging"`
}

// ServerConfig holds the listen address for the websocket and API surface.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// RedisConfig holds the shared counter store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Timeout   time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// RateLimitConfig is one action's fixed-window quota.
type RateLimitConfig struct {
	Points int           `yaml:"points"`
	Window time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	WindowRaw string `yaml:"window"`
}

// MetricsConfig holds metric retention and histogram bounding.
type MetricsConfig struct {
	Retention    time.Duration `yaml:"-"`
	HistogramCap int           `yaml:"histogram_cap"`

	// Raw string value for YAML unmarshaling
	RetentionRaw string `yaml:"retention"`
}

// TailscaleConfig holds optional tsnet listener settings.
type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	AuthKey  string `yaml:"auth_key"`
	StateDir string `yaml:"state_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default creates a configuration with every optional field defaulted,
// suitable for tests and single-node runs. The JWT secret must still be set
// by the caller.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset optional fields.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = "0.0.0.0:8080"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Auth.Timeout == 0 {
		c.Auth.Timeout = 10 * time.Second
	}
	if c.Metrics.Retention == 0 {
		c.Metrics.Retention = 24 * time.Hour
	}
	if c.Metrics.HistogramCap == 0 {
		c.Metrics.HistogramCap = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.RateLimits == nil {
		c.RateLimits = map[string]RateLimitConfig{
			"connection": {Points: 5, Window: time.Minute},
			"message":    {Points: 100, Window: time.Minute},
			"broadcast":  {Points: 10, Window: time.Minute},
		}
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	for action, rl := range c.RateLimits {
		if rl.Points <= 0 {
			return fmt.Errorf("rate_limits.%s.points must be positive", action)
		}
		if rl.Window <= 0 {
			return fmt.Errorf("rate_limits.%s.window must be positive", action)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TimeoutRaw != "" {
		cfg.Auth.Timeout, err = time.ParseDuration(cfg.Auth.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.timeout %q: %w", cfg.Auth.TimeoutRaw, err)
		}
	}

	if cfg.Metrics.RetentionRaw != "" {
		cfg.Metrics.Retention, err = time.ParseDuration(cfg.Metrics.RetentionRaw)
		if err != nil {
			return fmt.Errorf("parsing metrics.retention %q: %w", cfg.Metrics.RetentionRaw, err)
		}
	}

	for action, rl := range cfg.RateLimits {
		if rl.WindowRaw == "" {
			continue
		}
		rl.Window, err = time.ParseDuration(rl.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_limits.%s.window %q: %w", action, rl.WindowRaw, err)
		}
		cfg.RateLimits[action] = rl
	}

	return nil
}

// Package config loads application configuration from environment variables
// (prefix KEYGATE) with an optional YAML file overlay.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database    DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Redis       RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Security    SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Storage     StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Watermark   WatermarkConfig `yaml:"watermark" envconfig:"WATERMARK"`
	Webhooks    WebhookConfig   `yaml:"webhooks" envconfig:"WEBHOOKS"`
	Logging     LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Development bool            `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"120s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig contains the Postgres connection settings.
type DatabaseConfig struct {
	URL      string `yaml:"url" envconfig:"URL"`
	MaxConns int32  `yaml:"max_conns" envconfig:"MAX_CONNS" default:"25"`
}

// RedisConfig contains the rate-limit store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR" default:"localhost:6379"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB" default:"0"`
}

// SecurityConfig contains key material and the operator escape hatch for
// trusted sources. TrustedLicenses and TrustedTeams are independent
// allow-lists: a request bypasses rate limiting only when its license key
// appears in the former and its team id in the latter.
type SecurityConfig struct {
	LookupHMACSecret string   `yaml:"lookup_hmac_secret" envconfig:"LOOKUP_HMAC_SECRET"`
	TrustedLicenses  []string `yaml:"trusted_licenses" envconfig:"TRUSTED_LICENSES"`
	TrustedTeams     []string `yaml:"trusted_teams" envconfig:"TRUSTED_TEAMS"`
	GeoCountryHeader string   `yaml:"geo_country_header" envconfig:"GEO_COUNTRY_HEADER" default:"CF-IPCountry"`
}

// RateLimitConfig contains fixed-window rate limit parameters. The session
// window guards decrypted download session keys and is intentionally strict.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	MaxRequests   int           `yaml:"max_requests" envconfig:"MAX_REQUESTS" default:"20"`
	Window        time.Duration `yaml:"window" envconfig:"WINDOW" default:"60s"`
	SessionMax    int           `yaml:"session_max" envconfig:"SESSION_MAX" default:"1"`
	SessionWindow time.Duration `yaml:"session_window" envconfig:"SESSION_WINDOW" default:"15m"`
	LocalRPS      float64       `yaml:"local_rps" envconfig:"LOCAL_RPS" default:"200"`
	LocalBurst    int           `yaml:"local_burst" envconfig:"LOCAL_BURST" default:"100"`
}

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	Backend string        `yaml:"backend" envconfig:"BACKEND" default:"filesystem"`
	Root    string        `yaml:"root" envconfig:"ROOT" default:"data/artifacts"`
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL"`
	Bucket  string        `yaml:"bucket" envconfig:"BUCKET" default:"releases"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"30s"`
}

// WatermarkConfig configures the external watermarking codec.
type WatermarkConfig struct {
	URL     string        `yaml:"url" envconfig:"URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"5s"`
}

// WebhookConfig toggles event recording. Disabled deployments drop events
// instead of inserting rows for a dispatcher that is not there.
type WebhookConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED" default:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output string `yaml:"output" envconfig:"OUTPUT" default:"console"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("KEYGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func configFilePath() string {
	if p := os.Getenv("KEYGATE_CONFIG"); p != "" {
		return p
	}
	return "keygate.yaml"
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs overlays file values onto the env-derived config. envconfig
// has already applied defaults, so file values win wherever non-zero.
func mergeConfigs(file, env Config) Config {
	out := env
	if file.Server.Port != 0 {
		out.Server.Port = file.Server.Port
	}
	if file.Database.URL != "" {
		out.Database.URL = file.Database.URL
	}
	if file.Database.MaxConns != 0 {
		out.Database.MaxConns = file.Database.MaxConns
	}
	if file.Redis.Addr != "" {
		out.Redis.Addr = file.Redis.Addr
	}
	if file.Security.LookupHMACSecret != "" {
		out.Security.LookupHMACSecret = file.Security.LookupHMACSecret
	}
	if len(file.Security.TrustedLicenses) > 0 {
		out.Security.TrustedLicenses = file.Security.TrustedLicenses
	}
	if len(file.Security.TrustedTeams) > 0 {
		out.Security.TrustedTeams = file.Security.TrustedTeams
	}
	if file.Storage.Backend != "" {
		out.Storage.Backend = file.Storage.Backend
	}
	if file.Storage.Root != "" {
		out.Storage.Root = file.Storage.Root
	}
	if file.Storage.BaseURL != "" {
		out.Storage.BaseURL = file.Storage.BaseURL
	}
	if file.Watermark.URL != "" {
		out.Watermark.URL = file.Watermark.URL
	}
	if file.Logging.Level != "" {
		out.Logging.Level = file.Logging.Level
	}
	return out
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Security.LookupHMACSecret == "" {
		return fmt.Errorf("security lookup HMAC secret is required")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "filesystem", "http":
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate limit max requests must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.SessionWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	return nil
}

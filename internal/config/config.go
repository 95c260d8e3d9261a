package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Retrieval strategies a sandbox can use to read files.
const (
	RetrievalRelay = "relay"
	RetrievalTree  = "tree"
)

// Config holds all runtime configuration.
type Config struct {
	Logging   LogConfig
	Sandbox   SandboxConfig
	Rewrite   RewriteConfig
	Network   NetworkConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// SandboxConfig controls content sandboxes.
type SandboxConfig struct {
	Retrieval     string        `envconfig:"SANDBOX_RETRIEVAL" default:"relay"`
	ScriptTimeout time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	Console       bool          `envconfig:"SANDBOX_CONSOLE" default:"true"`
	MaxCallStack  int           `envconfig:"SANDBOX_CALL_STACK" default:"1024"`
}

// RewriteConfig controls the page rewrite pipeline.
type RewriteConfig struct {
	Workers int `envconfig:"REWRITE_WORKERS" default:"8"`
}

// NetworkConfig controls requests that leave the virtual site.
type NetworkConfig struct {
	Enabled           bool          `envconfig:"NETWORK_ENABLED" default:"true"`
	Timeout           time.Duration `envconfig:"NETWORK_TIMEOUT" default:"30s"`
	Retries           int           `envconfig:"NETWORK_RETRIES" default:"3"`
	RequestsPerSecond float64       `envconfig:"NETWORK_RPS" default:"0"`
}

// ServerConfig holds inspection API configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"8000"`
	Host        string   `envconfig:"HOST" default:"127.0.0.1"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadEnvFile reads variables from .env files into the environment.
// Missing files are not an error; existing variables are not overwritten.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
	}
	return nil
}

// Validate rejects values envconfig cannot check by itself.
func (c *Config) Validate() error {
	switch c.Sandbox.Retrieval {
	case RetrievalRelay, RetrievalTree:
	default:
		return fmt.Errorf("invalid SANDBOX_RETRIEVAL %q: want %q or %q",
			c.Sandbox.Retrieval, RetrievalRelay, RetrievalTree)
	}
	if c.Rewrite.Workers < 1 {
		return fmt.Errorf("invalid REWRITE_WORKERS %d: must be positive", c.Rewrite.Workers)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Sandbox: SandboxConfig{
			Retrieval:     RetrievalRelay,
			ScriptTimeout: 5 * time.Second,
			Console:       true,
			MaxCallStack:  1024,
		},
		Rewrite: RewriteConfig{
			Workers: 8,
		},
		Network: NetworkConfig{
			Enabled: true,
			Timeout: 30 * time.Second,
			Retries: 3,
		},
		Server: ServerConfig{
			Port:        "8000",
			Host:        "127.0.0.1",
			CORSOrigins: []string{"*"},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

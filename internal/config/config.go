// Package config provides configuration management for the AOI gateway service.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Upstream UpstreamConfig `envPrefix:"UPSTREAM_"`
	Map      MapConfig      `envPrefix:"MAP_"`
	Workflow WorkflowConfig `envPrefix:"WORKFLOW_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// UpstreamConfig contains indices API client configuration.
type UpstreamConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://api.geovista.example.com"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// MapConfig contains defaults for newly created map surfaces.
type MapConfig struct {
	CenterLon float64 `env:"CENTER_LON" envDefault:"69.2401"`
	CenterLat float64 `env:"CENTER_LAT" envDefault:"41.2995"`
	Zoom      int     `env:"ZOOM" envDefault:"12"`
}

// WorkflowConfig contains session and availability-cache tuning.
type WorkflowConfig struct {
	DefaultCloudCover int           `env:"DEFAULT_CLOUD_COVER" envDefault:"20"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	CacheSize         int           `env:"CACHE_SIZE" envDefault:"256"`
	CacheTTL          time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive, got %s", c.Server.ReadTimeout)
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive, got %s", c.Server.WriteTimeout)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required")
	}

	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %s", c.Upstream.Timeout)
	}

	if c.Map.CenterLon < -180 || c.Map.CenterLon > 180 {
		return fmt.Errorf("map center longitude must be between -180 and 180, got %g", c.Map.CenterLon)
	}

	if c.Map.CenterLat < -90 || c.Map.CenterLat > 90 {
		return fmt.Errorf("map center latitude must be between -90 and 90, got %g", c.Map.CenterLat)
	}

	if c.Map.Zoom < 0 || c.Map.Zoom > 24 {
		return fmt.Errorf("map zoom must be between 0 and 24, got %d", c.Map.Zoom)
	}

	if c.Workflow.DefaultCloudCover < 0 || c.Workflow.DefaultCloudCover > 100 {
		return fmt.Errorf("default cloud cover must be between 0 and 100, got %d", c.Workflow.DefaultCloudCover)
	}

	if c.Workflow.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", c.Workflow.SessionTTL)
	}

	if c.Workflow.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", c.Workflow.CleanupInterval)
	}

	if c.Workflow.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative, got %d", c.Workflow.CacheSize)
	}

	if c.Workflow.CacheSize > 0 && c.Workflow.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when caching is enabled, got %s", c.Workflow.CacheTTL)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

// Address returns the server listen address in the format "host:port".
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

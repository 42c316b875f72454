// Package config loads Herald's process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every environment-driven setting for the heraldd process.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Core dependencies
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	NATSURL     string `env:"HERALD_NATS_URL" envDefault:"nats://localhost:4222"`

	// Process identity (required for cross-server tunnel routing)
	ServerID string `env:"SERVER_ID,required"`

	// HTTP bind
	APIBind string `env:"HERALD_API_BIND" envDefault:"0.0.0.0:8080"`

	// Worker pool
	WorkerConcurrency int `env:"HERALD_WORKER_CONCURRENCY" envDefault:"8"`

	// Signing
	HMACSecret string `env:"HERALD_HMAC_SECRET,required"`

	// Rate limit tiers (requests/minute, also bucket capacity)
	RateLimitFree int `env:"HERALD_RATE_LIMIT_FREE" envDefault:"60"`
	RateLimitPro  int `env:"HERALD_RATE_LIMIT_PRO" envDefault:"600"`
	RateLimitEnt  int `env:"HERALD_RATE_LIMIT_ENT" envDefault:"6000"`

	// Tunnel
	TunnelHeartbeatSecs int `env:"HERALD_TUNNEL_HEARTBEAT_SECS" envDefault:"30"`
	TunnelQueueCapacity int `env:"HERALD_TUNNEL_QUEUE_CAPACITY" envDefault:"64"`
	TunnelHandshakeSecs int `env:"HERALD_TUNNEL_HANDSHAKE_SECS" envDefault:"10"`

	// Delivery
	DeliveryTimeoutSecs int `env:"HERALD_DELIVERY_TIMEOUT_SECS" envDefault:"30"`
	IngestTimeoutSecs   int `env:"HERALD_INGEST_TIMEOUT_SECS" envDefault:"10"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: real environment variables > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internally-inconsistent or out-of-range values.
func (c *Config) Validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("HERALD_WORKER_CONCURRENCY must be > 0, got %d", c.WorkerConcurrency)
	}
	if c.TunnelQueueCapacity < 1 {
		return fmt.Errorf("HERALD_TUNNEL_QUEUE_CAPACITY must be > 0, got %d", c.TunnelQueueCapacity)
	}
	if c.RateLimitFree < 1 || c.RateLimitPro < 1 || c.RateLimitEnt < 1 {
		return fmt.Errorf("rate limit tiers must be > 0")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console (got %s)", c.LogFormat)
	}

	return nil
}

// LogConfig emits the loaded configuration via structured logging, secrets redacted.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("server_id", c.ServerID).
		Str("api_bind", c.APIBind).
		Int("worker_concurrency", c.WorkerConcurrency).
		Int("rate_limit_free", c.RateLimitFree).
		Int("rate_limit_pro", c.RateLimitPro).
		Int("rate_limit_ent", c.RateLimitEnt).
		Int("tunnel_heartbeat_secs", c.TunnelHeartbeatSecs).
		Int("tunnel_queue_capacity", c.TunnelQueueCapacity).
		Int("delivery_timeout_secs", c.DeliveryTimeoutSecs).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}

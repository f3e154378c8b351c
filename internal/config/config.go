// Package config loads server configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable the server core reads at startup.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	Addr string `env:"OPCUA_ADDR" envDefault:":4840"`

	ApplicationURI string `env:"OPCUA_APPLICATION_URI" envDefault:"urn:nexroute:opcua-server"`
	ProductURI     string `env:"OPCUA_PRODUCT_URI" envDefault:"urn:nexroute:opcua-server:product"`

	// Secure channel limits (C2/C3, spec.md §4.3).
	MaxMessageSize       uint32        `env:"OPCUA_MAX_MESSAGE_SIZE" envDefault:"16777216"`
	MaxChunkCount        uint32        `env:"OPCUA_MAX_CHUNK_COUNT" envDefault:"4096"`
	SendBufferSize       uint32        `env:"OPCUA_SEND_BUFFER_SIZE" envDefault:"65536"`
	ReceiveBufferSize    uint32        `env:"OPCUA_RECEIVE_BUFFER_SIZE" envDefault:"65536"`
	MaxSecureChannels    int           `env:"OPCUA_MAX_SECURE_CHANNELS" envDefault:"1000"`
	ChannelLifetime      time.Duration `env:"OPCUA_CHANNEL_LIFETIME" envDefault:"1h"`

	// Session manager (C5, spec.md §4.5).
	MaxSessions       int           `env:"OPCUA_MAX_SESSIONS" envDefault:"500"`
	MinSessionTimeout time.Duration `env:"OPCUA_MIN_SESSION_TIMEOUT" envDefault:"10s"`
	MaxSessionTimeout time.Duration `env:"OPCUA_MAX_SESSION_TIMEOUT" envDefault:"1h"`

	// Subscription engine (C6/C7/C8, spec.md §4.6-4.8).
	MaxSubscriptionsPerSession int `env:"OPCUA_MAX_SUBSCRIPTIONS_PER_SESSION" envDefault:"100"`
	MaxMonitoredItemsPerSub   int `env:"OPCUA_MAX_MONITORED_ITEMS_PER_SUBSCRIPTION" envDefault:"10000"`
	MaxPublishRequestsQueued  int `env:"OPCUA_MAX_PUBLISH_REQUESTS_QUEUED" envDefault:"8"`
	MaxDurableHours           uint32 `env:"OPCUA_MAX_DURABLE_HOURS" envDefault:"24"`

	// Resource limits (container-aware admission control, A4).
	CPULimit    float64 `env:"OPCUA_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"OPCUA_MEMORY_LIMIT" envDefault:"536870912"` // 512MB

	CPURejectThreshold float64 `env:"OPCUA_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"OPCUA_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`
	MaxGoroutines      int     `env:"OPCUA_MAX_GOROUTINES" envDefault:"100000"`

	MaxSamplingRate          int     `env:"OPCUA_MAX_SAMPLING_RATE" envDefault:"2000"`
	MaxPublishRequestsPerSec float64 `env:"OPCUA_MAX_PUBLISH_REQUESTS_PER_SEC" envDefault:"2000"`

	// Historian (A8, optional).
	HistorianBrokers       string `env:"OPCUA_HISTORIAN_BROKERS" envDefault:""`
	HistorianConsumerGroup string `env:"OPCUA_HISTORIAN_CONSUMER_GROUP" envDefault:"opcua-historian"`

	// Diagnostics/audit bus (A6, optional).
	EventsURL string `env:"OPCUA_EVENTS_URL" envDefault:""`

	// Identity (A5). JWTSecret empty disables token-based ActivateSession
	// identity verification entirely (anonymous/username identities still work).
	JWTSecret   string `env:"OPCUA_JWT_SECRET" envDefault:""`
	JWTIssuer   string `env:"OPCUA_JWT_ISSUER" envDefault:""`
	JWTAudience string `env:"OPCUA_JWT_AUDIENCE" envDefault:""`

	MetricsInterval time.Duration `env:"OPCUA_METRICS_INTERVAL" envDefault:"15s"`
	MetricsAddr     string        `env:"OPCUA_METRICS_ADDR" envDefault:":9090"`

	LogLevel  string `env:"OPCUA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"OPCUA_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"OPCUA_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (optional) and environment
// variables, then validates it. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("OPCUA_ADDR is required")
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("OPCUA_MAX_SESSIONS must be > 0, got %d", c.MaxSessions)
	}
	if c.MinSessionTimeout > c.MaxSessionTimeout {
		return fmt.Errorf("OPCUA_MIN_SESSION_TIMEOUT (%s) must be <= OPCUA_MAX_SESSION_TIMEOUT (%s)",
			c.MinSessionTimeout, c.MaxSessionTimeout)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("OPCUA_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("OPCUA_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("OPCUA_CPU_PAUSE_THRESHOLD (%.1f) must be >= OPCUA_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("OPCUA_LOG_LEVEL must be one of: debug, info, warn, error (got %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("OPCUA_LOG_FORMAT must be one of: json, text, pretty (got %s)", c.LogFormat)
	}
	return nil
}

// LogFields logs the configuration using structured logging.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("application_uri", c.ApplicationURI).
		Int("max_sessions", c.MaxSessions).
		Int("max_subscriptions_per_session", c.MaxSubscriptionsPerSession).
		Float64("cpu_limit", c.CPULimit).
		Int64("memory_limit_mb", c.MemoryLimit/(1024*1024)).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}

// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	DialogTTL   time.Duration
	Log         LogConfig
	Helpdesk    HelpdeskConfig
	Outbox      OutboxConfig
	Network     NetworkConfig
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level       string
	Format      string
	RingBytes   int
	RingDevices int
	RingLevel   string
	AppVersion  string
}

// HelpdeskConfig holds the help-desk vendor connection and ticket layout.
type HelpdeskConfig struct {
	URL           string
	ApplicationID string
	OAuthClientID string
	DeviceLocale  string
	FieldsFile    string
	Fields        TicketFields
	Timeout       time.Duration
}

// OutboxConfig controls redelivery of tickets the help desk did not accept.
type OutboxConfig struct {
	Interval    time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	BatchSize   int
	Lease       time.Duration
}

// NetworkConfig supplies network details when clients do not report them.
type NetworkConfig struct {
	Type        string
	Carrier     string
	CountryCode string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/support.db"),
		DialogTTL:   getEnvDuration("IDENTITY_DIALOG_TTL", 15*time.Minute),
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			RingBytes:   getEnvInt("LOG_RING_BYTES", 16*1024),
			RingDevices: getEnvInt("LOG_RING_DEVICES", 256),
			RingLevel:   getEnv("LOG_RING_LEVEL", "debug"),
			AppVersion:  getEnv("APP_VERSION", "dev"),
		},
		Helpdesk: HelpdeskConfig{
			URL:           strings.TrimRight(getEnv("HELPDESK_URL", ""), "/"),
			ApplicationID: getEnv("HELPDESK_APP_ID", ""),
			OAuthClientID: getEnv("HELPDESK_OAUTH_CLIENT_ID", ""),
			DeviceLocale:  getEnv("HELPDESK_LOCALE", "en-US"),
			FieldsFile:    getEnv("HELPDESK_FIELDS_FILE", ""),
			Fields:        DefaultTicketFields(),
			Timeout:       getEnvDuration("HELPDESK_TIMEOUT", 15*time.Second),
		},
		Outbox: OutboxConfig{
			Interval:    getEnvDuration("OUTBOX_INTERVAL", time.Minute),
			MaxAttempts: getEnvInt("OUTBOX_MAX_ATTEMPTS", 8),
			BaseBackoff: getEnvDuration("OUTBOX_BASE_BACKOFF", 30*time.Second),
			BatchSize:   getEnvInt("OUTBOX_BATCH_SIZE", 25),
			Lease:       getEnvDuration("OUTBOX_LEASE", 2*time.Minute),
		},
		Network: NetworkConfig{
			Type:        getEnv("NETWORK_TYPE", ""),
			Carrier:     getEnv("NETWORK_CARRIER", ""),
			CountryCode: getEnv("NETWORK_COUNTRY_CODE", ""),
		},
	}

	if cfg.Helpdesk.FieldsFile != "" {
		fields, err := LoadTicketFields(cfg.Helpdesk.FieldsFile)
		if err != nil {
			return nil, fmt.Errorf("load ticket fields: %w", err)
		}
		cfg.Helpdesk.Fields = fields
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DialogTTL <= 0 {
		return fmt.Errorf("IDENTITY_DIALOG_TTL must be > 0")
	}
	if c.Log.RingBytes <= 0 {
		return fmt.Errorf("LOG_RING_BYTES must be > 0")
	}
	if c.Log.RingDevices <= 0 {
		return fmt.Errorf("LOG_RING_DEVICES must be > 0")
	}
	if c.Outbox.Interval <= 0 {
		return fmt.Errorf("OUTBOX_INTERVAL must be > 0")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be > 0")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be > 0")
	}
	if c.Outbox.Lease <= c.Helpdesk.Timeout {
		return fmt.Errorf("OUTBOX_LEASE must be longer than HELPDESK_TIMEOUT")
	}
	return c.Helpdesk.Fields.Validate()
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// HelpdeskConfigured reports whether all vendor credentials are present.
func (c *Config) HelpdeskConfigured() bool {
	return c.Helpdesk.URL != "" && c.Helpdesk.ApplicationID != "" && c.Helpdesk.OAuthClientID != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

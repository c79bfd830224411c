// Package config provides configuration loading for the character service.
// All settings come from the environment with the RMAPI_ prefix; unset
// values fall back to defaults suitable for local development.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment variables.
const EnvPrefix = "RMAPI"

// Config represents the root configuration structure
type Config struct {
	// Address is the listen address for the HTTP server
	Address string

	// UpstreamBaseURL is the base URL of the upstream character API
	UpstreamBaseURL string

	// MaxRetries bounds retry attempts per upstream page request
	MaxRetries int

	// RequestTimeout bounds each individual upstream request
	RequestTimeout time.Duration

	// ProbeTimeout bounds the health check upstream probe
	ProbeTimeout time.Duration

	// BackoffStart is the initial retry backoff delay
	BackoffStart time.Duration

	// BackoffCap is the maximum retry backoff delay
	BackoffCap time.Duration

	// RefreshTTL is how long a completed sync is considered fresh
	RefreshTTL time.Duration

	// RefreshInterval is the base interval between background staleness checks
	RefreshInterval time.Duration

	// PageCacheTTL is the response cache entry lifetime
	PageCacheTTL time.Duration

	// PageCacheCapacity is the response cache entry limit
	PageCacheCapacity int

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string

	// Database is nil when no database host is configured; the service
	// then runs against the in-memory store
	Database *DatabaseConfig
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string

	// Port is the database server port
	Port int

	// User is the database username
	User string

	// PasswordFile is the path to a file containing the database password.
	// This is the recommended approach for production deployments; the
	// file should contain only the password with optional trailing
	// whitespace.
	PasswordFile string

	// Database is the database name
	Database string

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string

	// MaxConns is the maximum number of pooled connections
	MaxConns int32

	// ConnMaxLifetime is the maximum lifetime of a pooled connection
	ConnMaxLifetime time.Duration
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("address", ":8080")
	v.SetDefault("upstream_base_url", "https://rickandmortyapi.com/api")
	v.SetDefault("max_retries", 5)
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("probe_timeout", 5*time.Second)
	v.SetDefault("backoff_start", 500*time.Millisecond)
	v.SetDefault("backoff_cap", 8*time.Second)
	v.SetDefault("refresh_ttl", 600*time.Second)
	v.SetDefault("refresh_interval", 60*time.Second)
	v.SetDefault("page_cache_ttl", 30*time.Second)
	v.SetDefault("page_cache_capacity", 256)
	v.SetDefault("log_level", "info")

	v.SetDefault("db_port", 5432)
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_name", "rickmorty")
	v.SetDefault("db_sslmode", "require")
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("db_conn_max_lifetime", 30*time.Minute)

	cfg := &Config{
		Address:           v.GetString("address"),
		UpstreamBaseURL:   strings.TrimRight(v.GetString("upstream_base_url"), "/"),
		MaxRetries:        v.GetInt("max_retries"),
		RequestTimeout:    v.GetDuration("request_timeout"),
		ProbeTimeout:      v.GetDuration("probe_timeout"),
		BackoffStart:      v.GetDuration("backoff_start"),
		BackoffCap:        v.GetDuration("backoff_cap"),
		RefreshTTL:        v.GetDuration("refresh_ttl"),
		RefreshInterval:   v.GetDuration("refresh_interval"),
		PageCacheTTL:      v.GetDuration("page_cache_ttl"),
		PageCacheCapacity: v.GetInt("page_cache_capacity"),
		LogLevel:          v.GetString("log_level"),
	}

	if host := v.GetString("db_host"); host != "" {
		cfg.Database = &DatabaseConfig{
			Host:            host,
			Port:            v.GetInt("db_port"),
			User:            v.GetString("db_user"),
			PasswordFile:    v.GetString("db_password_file"),
			Database:        v.GetString("db_name"),
			SSLMode:         v.GetString("db_sslmode"),
			MaxConns:        v.GetInt32("db_max_conns"),
			ConnMaxLifetime: v.GetDuration("db_conn_max_lifetime"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("upstream base URL is required")
	}
	if _, err := url.ParseRequestURI(c.UpstreamBaseURL); err != nil {
		return fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.BackoffStart <= 0 || c.BackoffCap < c.BackoffStart {
		return fmt.Errorf("invalid backoff range [%s, %s]", c.BackoffStart, c.BackoffCap)
	}
	if c.PageCacheCapacity < 1 {
		return fmt.Errorf("page cache capacity must be at least 1, got %d", c.PageCacheCapacity)
	}
	if c.Database != nil {
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	return nil
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from RMAPI_DB_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvPrefix + "_DB_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set RMAPI_DB_PASSWORD_FILE or RMAPI_DB_PASSWORD",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper
// password handling. The password is URL-escaped to handle special
// characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration types and loading for the Snowflake MCP server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// AuthMethod selects how the server authenticates to Snowflake.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthOAuth    AuthMethod = "oauth"
)

// OAuthConfig holds the OAuth client settings for the authorization-code flow.
// The client secret is never serialized.
type OAuthConfig struct {
	ClientID       string `json:"client_id,omitempty"`
	ClientSecret   string `json:"-"`
	RedirectURI    string `json:"redirect_uri,omitempty"`
	TokenCacheFile string `json:"token_cache_file,omitempty"`
	CallbackPort   int    `json:"callback_port,omitempty"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled          bool    `json:"enabled"`
	FilePath         string  `json:"file_path,omitempty"`
	BufferSize       int     `json:"buffer_size"`
	RateLimitEnabled bool    `json:"rate_limit_enabled"`
	RateLimitRPS     float64 `json:"rate_limit_rps"`
	RateLimitBurst   int     `json:"rate_limit_burst"`
}

// Config holds the complete configuration for the Snowflake MCP server.
// Non-secret fields may come from an optional JSON config file; credentials
// are only ever read from the environment.
type Config struct {
	// Snowflake principal
	Account   string `json:"account,omitempty"`
	User      string `json:"user,omitempty"`
	Password  string `json:"-"`
	Role      string `json:"role,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	Database  string `json:"database,omitempty"`
	Schema    string `json:"schema,omitempty"`

	// Authentication
	AuthMethod AuthMethod  `json:"auth_method,omitempty"`
	OAuth      OAuthConfig `json:"oauth,omitempty"`

	// Connection settings
	LoginTimeoutSec int `json:"login_timeout_sec"`
	MaxPoolSize     int `json:"max_pool_size"`

	// Safety constraints
	AllowWrite     bool `json:"allow_write"`
	DefaultMaxRows int  `json:"default_max_rows"`

	// Server settings
	Transport string `json:"transport"` // "stdio" or "sse"
	Port      int    `json:"port,omitempty"`

	// Logging
	LogFile  string `json:"log_file,omitempty"`
	LogLevel string `json:"log_level,omitempty"`

	// Audit settings
	Audit AuditConfig `json:"audit,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AuthMethod:      AuthPassword,
		LoginTimeoutSec: 60,
		MaxPoolSize:     5,
		DefaultMaxRows:  1000,
		Transport:       "stdio",
		Port:            8091,
		LogLevel:        "warn",
		OAuth: OAuthConfig{
			RedirectURI:    "http://localhost:8090/oauth/callback",
			TokenCacheFile: "oauth_tokens.json",
			CallbackPort:   8090,
		},
		Audit: AuditConfig{
			Enabled:          true,
			BufferSize:       100,
			RateLimitEnabled: true,
			RateLimitRPS:     100,
			RateLimitBurst:   200,
		},
	}
}

// Load reads configuration from an optional file path, then overlays the
// SNOWFLAKE_* environment variables. If configPath is empty, it checks the
// SNOWFLAKE_MCP_CONFIG env var.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("SNOWFLAKE_MCP_CONFIG")
	}

	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
// Env values win over file values so deployments can override a
// checked-in config.
func (c *Config) applyEnv() {
	setString(&c.Account, "SNOWFLAKE_ACCOUNT")
	setString(&c.User, "SNOWFLAKE_USER")
	setString(&c.Password, "SNOWFLAKE_PASSWORD")
	setString(&c.Role, "SNOWFLAKE_ROLE")
	setString(&c.Warehouse, "SNOWFLAKE_WAREHOUSE")
	setString(&c.Database, "SNOWFLAKE_DATABASE")
	setString(&c.Schema, "SNOWFLAKE_SCHEMA")

	setString(&c.OAuth.ClientID, "SNOWFLAKE_OAUTH_CLIENT_ID")
	setString(&c.OAuth.ClientSecret, "SNOWFLAKE_OAUTH_CLIENT_SECRET")
	setString(&c.OAuth.RedirectURI, "SNOWFLAKE_OAUTH_REDIRECT_URI")
	setString(&c.OAuth.TokenCacheFile, "SNOWFLAKE_OAUTH_TOKEN_CACHE")

	if v := os.Getenv("SNOWFLAKE_AUTH_METHOD"); v != "" {
		c.AuthMethod = AuthMethod(strings.ToLower(v))
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration for errors and fills remaining defaults.
func (c *Config) Validate() error {
	switch c.AuthMethod {
	case AuthPassword, AuthOAuth:
		// Valid methods
	case "":
		c.AuthMethod = AuthPassword
	default:
		return fmt.Errorf("invalid auth method: %s (must be password or oauth)", c.AuthMethod)
	}

	if c.AuthMethod == AuthOAuth {
		var missing []string
		if c.OAuth.ClientID == "" {
			missing = append(missing, "SNOWFLAKE_OAUTH_CLIENT_ID")
		}
		if c.OAuth.ClientSecret == "" {
			missing = append(missing, "SNOWFLAKE_OAUTH_CLIENT_SECRET")
		}
		if len(missing) > 0 {
			return fmt.Errorf("oauth auth requires %s", strings.Join(missing, ", "))
		}
	}

	validTransports := []string{"stdio", "sse"}
	transportValid := false
	for _, t := range validTransports {
		if strings.EqualFold(c.Transport, t) {
			transportValid = true
			break
		}
	}
	if !transportValid {
		return fmt.Errorf("invalid transport: %s (must be stdio or sse)", c.Transport)
	}

	if c.LoginTimeoutSec <= 0 {
		c.LoginTimeoutSec = 60
	}

	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 5
	}

	if c.DefaultMaxRows <= 0 {
		c.DefaultMaxRows = 1000
	}

	if c.OAuth.CallbackPort <= 0 || c.OAuth.CallbackPort > 65535 {
		c.OAuth.CallbackPort = 8090
	}

	return nil
}

// UsesOAuth returns true if the server authenticates via OAuth tokens.
func (c *Config) UsesOAuth() bool {
	return c.AuthMethod == AuthOAuth
}

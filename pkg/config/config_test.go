// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.AuthMethod != AuthPassword {
		t.Errorf("Expected auth method '%s', got '%s'", AuthPassword, cfg.AuthMethod)
	}

	if cfg.Transport != "stdio" {
		t.Errorf("Expected transport 'stdio', got '%s'", cfg.Transport)
	}

	if cfg.MaxPoolSize != 5 {
		t.Errorf("Expected max pool size 5, got %d", cfg.MaxPoolSize)
	}

	if cfg.DefaultMaxRows != 1000 {
		t.Errorf("Expected default max rows 1000, got %d", cfg.DefaultMaxRows)
	}

	if cfg.AllowWrite {
		t.Error("Writes must be disabled by default")
	}

	if cfg.OAuth.CallbackPort != 8090 {
		t.Errorf("Expected callback port 8090, got %d", cfg.OAuth.CallbackPort)
	}
}

func TestValidate(t *testing.T) {
	oauthCfg := DefaultConfig()
	oauthCfg.AuthMethod = AuthOAuth
	oauthCfg.OAuth.ClientID = "client-id"
	oauthCfg.OAuth.ClientSecret = "client-secret"

	oauthMissingSecret := DefaultConfig()
	oauthMissingSecret.AuthMethod = AuthOAuth
	oauthMissingSecret.OAuth.ClientID = "client-id"

	badTransport := DefaultConfig()
	badTransport.Transport = "websocket"

	badAuth := DefaultConfig()
	badAuth.AuthMethod = "kerberos"

	emptyAuth := DefaultConfig()
	emptyAuth.AuthMethod = ""

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"valid default", DefaultConfig(), false},
		{"valid oauth", oauthCfg, false},
		{"oauth missing secret", oauthMissingSecret, true},
		{"invalid transport", badTransport, true},
		{"invalid auth method", badAuth, true},
		{"empty auth method defaults to password", emptyAuth, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{Transport: "sse"}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.AuthMethod != AuthPassword {
		t.Errorf("Expected auth method defaulted to password, got '%s'", cfg.AuthMethod)
	}
	if cfg.MaxPoolSize != 5 {
		t.Errorf("Expected max pool size defaulted to 5, got %d", cfg.MaxPoolSize)
	}
	if cfg.DefaultMaxRows != 1000 {
		t.Errorf("Expected default max rows defaulted to 1000, got %d", cfg.DefaultMaxRows)
	}
	if cfg.OAuth.CallbackPort != 8090 {
		t.Errorf("Expected callback port defaulted to 8090, got %d", cfg.OAuth.CallbackPort)
	}
}

func TestUsesOAuth(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.UsesOAuth() {
		t.Error("Password auth should not report OAuth")
	}

	cfg.AuthMethod = AuthOAuth
	if !cfg.UsesOAuth() {
		t.Error("OAuth auth method should report OAuth")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{
		"account": "myacct",
		"user": "alice",
		"role": "ANALYST",
		"warehouse": "WH_MAIN",
		"transport": "sse",
		"port": 9100,
		"allow_write": true
	}`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Account != "myacct" {
		t.Errorf("Expected account 'myacct', got '%s'", cfg.Account)
	}
	if cfg.Role != "ANALYST" {
		t.Errorf("Expected role 'ANALYST', got '%s'", cfg.Role)
	}
	if cfg.Transport != "sse" || cfg.Port != 9100 {
		t.Errorf("Expected sse transport on port 9100, got %s/%d", cfg.Transport, cfg.Port)
	}
	if !cfg.AllowWrite {
		t.Error("Expected allow_write true from file")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{
		"account": "fileacct",
		"user": "fileuser"
	}`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("SNOWFLAKE_ACCOUNT", "envacct")
	t.Setenv("SNOWFLAKE_PASSWORD", "secret123")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Account != "envacct" {
		t.Errorf("Expected env to win, got account '%s'", cfg.Account)
	}
	if cfg.Password != "secret123" {
		t.Errorf("Expected password from env, got '%s'", cfg.Password)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadOAuthFromEnv(t *testing.T) {
	t.Setenv("SNOWFLAKE_AUTH_METHOD", "OAUTH")
	t.Setenv("SNOWFLAKE_OAUTH_CLIENT_ID", "cid")
	t.Setenv("SNOWFLAKE_OAUTH_CLIENT_SECRET", "csecret")
	t.Setenv("SNOWFLAKE_OAUTH_TOKEN_CACHE", "/tmp/tokens.json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.UsesOAuth() {
		t.Error("Expected OAuth auth method from env")
	}
	if cfg.OAuth.ClientID != "cid" || cfg.OAuth.ClientSecret != "csecret" {
		t.Errorf("OAuth client = %s/%s", cfg.OAuth.ClientID, cfg.OAuth.ClientSecret)
	}
	if cfg.OAuth.TokenCacheFile != "/tmp/tokens.json" {
		t.Errorf("Token cache = %s", cfg.OAuth.TokenCacheFile)
	}
}

// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the Snowflake OAuth authorization-code flow and
// the lifetime management of the resulting tokens.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/matt-atadata/snowflake-mcp-server/internal/metrics"
)

// ============================================================================
// Token Manager
// ============================================================================

const (
	// defaultExpirySec is assumed when the token endpoint does not report a
	// lifetime. Snowflake access tokens live for ten minutes by default but
	// the endpoint normally reports it; one hour is the documented ceiling.
	defaultExpirySec = 3600

	// expirySkew treats a token as expired slightly early so it is never
	// handed to a dial that will outlive it.
	expirySkew = 60 * time.Second

	// stateBytes sizes the CSRF state parameter.
	stateBytes = 32
)

// Config holds the OAuth client settings. AuthURL and TokenURL default to
// the account's Snowflake endpoints and exist as fields so tests can point
// the manager at a local server.
type Config struct {
	Account      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CacheFile    string
	AuthURL      string
	TokenURL     string
	Logger       *slog.Logger
}

// tokenSet is the persisted token state. ExpiresAt is unix seconds.
type tokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Manager owns the OAuth tokens: it runs the code exchange, refreshes
// expired access tokens, and persists the set across restarts. All
// operations are serialized by one mutex, so concurrent AccessToken calls
// trigger at most one refresh.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	oauth  oauth2.Config
	tokens *tokenSet
	log    *slog.Logger
	now    func() time.Time
}

// NewManager creates a token manager and loads any cached tokens. A corrupt
// or unreadable cache degrades to the no-tokens state with a warning.
func NewManager(cfg Config) *Manager {
	if cfg.AuthURL == "" {
		cfg.AuthURL = fmt.Sprintf("https://%s.snowflakecomputing.com/oauth/authorize", cfg.Account)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = fmt.Sprintf("https://%s.snowflakecomputing.com/oauth/token-request", cfg.Account)
	}
	if cfg.CacheFile == "" {
		cfg.CacheFile = "oauth_tokens.json"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"refresh_token", "session:role:*"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		log: cfg.Logger,
		now: time.Now,
	}
	m.loadCache()
	return m
}

// AuthorizationURL builds the user-facing authorization URL with a fresh
// random state. The caller must verify the state on callback.
func (m *Manager) AuthorizationURL() (url, state string, err error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating state: %w", err)
	}
	state = base64.RawURLEncoding.EncodeToString(buf)

	url = m.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "login"))
	return url, state, nil
}

// ExchangeCode trades an authorization code for tokens and persists them.
func (m *Manager) ExchangeCode(ctx context.Context, code string) error {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeToken(tok, "")
	return nil
}

// AccessToken returns a currently valid access token, refreshing first if
// the cached one is expired. It returns "" when no valid token can be
// produced; callers surface that as an authentication failure.
func (m *Manager) AccessToken(ctx context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokens == nil {
		return ""
	}
	if m.tokenValid() {
		return m.tokens.AccessToken
	}
	if err := m.refreshLocked(ctx); err != nil {
		m.log.Warn("token refresh failed", "error", err)
		return ""
	}
	return m.tokens.AccessToken
}

// Refresh forces a refresh of the access token using the stored refresh
// token. The stored set is left untouched on failure.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.tokens == nil || m.tokens.RefreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return errors.New("no refresh token available")
	}

	src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: m.tokens.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return fmt.Errorf("refreshing access token: %w", err)
	}

	// Snowflake may not reissue the refresh token; keep the old one then.
	m.storeToken(tok, m.tokens.RefreshToken)
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	return nil
}

// storeToken records and persists a token response. Callers hold the mutex.
func (m *Manager) storeToken(tok *oauth2.Token, fallbackRefresh string) {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(defaultExpirySec * time.Second)
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	m.tokens = &tokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt.Unix(),
	}
	m.persistLocked()
}

// tokenValid reports whether the cached access token is still usable.
// Callers hold the mutex.
func (m *Manager) tokenValid() bool {
	if m.tokens == nil || m.tokens.AccessToken == "" {
		return false
	}
	expiry := time.Unix(m.tokens.ExpiresAt, 0)
	return m.now().Add(expirySkew).Before(expiry)
}

// HasValidTokens reports whether the manager holds tokens it can use,
// either a live access token or a refresh token to mint one.
func (m *Manager) HasValidTokens() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		return false
	}
	return m.tokenValid() || m.tokens.RefreshToken != ""
}

// TokenInfo describes the current token state without exposing secrets.
type TokenInfo struct {
	HasAccessToken  bool      `json:"has_access_token"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	TokenType       string    `json:"token_type,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	Expired         bool      `json:"expired"`
}

// Info returns the current token state for diagnostics.
func (m *Manager) Info() TokenInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokens == nil {
		return TokenInfo{Expired: true}
	}
	return TokenInfo{
		HasAccessToken:  m.tokens.AccessToken != "",
		HasRefreshToken: m.tokens.RefreshToken != "",
		TokenType:       m.tokens.TokenType,
		ExpiresAt:       time.Unix(m.tokens.ExpiresAt, 0).UTC(),
		Expired:         !m.tokenValid(),
	}
}

// ClearTokens drops the token set and removes the cache file.
func (m *Manager) ClearTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens = nil
	if err := os.Remove(m.cfg.CacheFile); err != nil && !os.IsNotExist(err) {
		m.log.Warn("could not remove token cache", "path", m.cfg.CacheFile, "error", err)
	}
}

// ============================================================================
// Persistence
// ============================================================================

func (m *Manager) loadCache() {
	data, err := os.ReadFile(m.cfg.CacheFile)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn("could not read token cache", "path", m.cfg.CacheFile, "error", err)
		}
		return
	}

	var ts tokenSet
	if err := json.Unmarshal(data, &ts); err != nil {
		m.log.Warn("token cache is corrupt, starting without tokens",
			"path", m.cfg.CacheFile, "error", err)
		return
	}
	if ts.AccessToken == "" && ts.RefreshToken == "" {
		m.log.Warn("token cache holds no tokens, starting without tokens",
			"path", m.cfg.CacheFile)
		return
	}
	m.tokens = &ts
}

// persistLocked writes the token set atomically: temp file then rename, so a
// crash mid-write never corrupts the cache. Callers hold the mutex.
func (m *Manager) persistLocked() {
	data, err := json.MarshalIndent(m.tokens, "", "  ")
	if err != nil {
		m.log.Warn("could not serialize tokens", "error", err)
		return
	}

	dir := filepath.Dir(m.cfg.CacheFile)
	tmp, err := os.CreateTemp(dir, ".oauth_tokens-*.json")
	if err != nil {
		m.log.Warn("could not create token cache temp file", "error", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		m.log.Warn("could not write token cache", "error", err)
		return
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		m.log.Warn("could not restrict token cache permissions", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		m.log.Warn("could not close token cache temp file", "error", err)
		return
	}
	if err := os.Rename(tmpName, m.cfg.CacheFile); err != nil {
		os.Remove(tmpName)
		m.log.Warn("could not replace token cache", "error", err)
	}
}

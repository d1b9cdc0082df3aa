// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package snowflake

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/matt-atadata/snowflake-mcp-server/internal/metrics"
)

// ============================================================================
// Connection Pool
// ============================================================================

const (
	// defaultMaxIdle is the per-key idle capacity.
	defaultMaxIdle = 5

	// probeStatement verifies that an idle session is still alive.
	probeStatement = "SELECT 1"

	// contextStatement reports the session context a connection actually
	// holds, which may differ from the configured one after fallback.
	contextStatement = "SELECT CURRENT_ACCOUNT(), CURRENT_USER(), CURRENT_ROLE(), CURRENT_WAREHOUSE()"
)

// TokenSource supplies OAuth access tokens for fresh sessions. An empty
// string means no valid token could be produced.
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

// Conn is a pooled Snowflake connection. It is handed out by Manager.Acquire
// and must be returned with Manager.Release.
type Conn struct {
	session Session
	key     string
}

// NewConn wraps a session as a pooled connection. Exposed so packages that
// consume pools can build connections over fake sessions in tests.
func NewConn(s Session) *Conn {
	return &Conn{session: s}
}

// Exec runs one statement on the underlying session.
func (c *Conn) Exec(ctx context.Context, command string) (*Result, error) {
	return c.session.Exec(ctx, command)
}

// Key returns the pool bucket this connection was created under.
func (c *Conn) Key() string {
	return c.key
}

func (c *Conn) close() {
	if err := c.session.Close(); err != nil {
		// Close failures are not actionable here.
		_ = err
	}
}

// ManagerConfig configures a pool Manager.
type ManagerConfig struct {
	Base    Principal
	Dialer  Dialer
	Tokens  TokenSource // nil for password auth
	MaxIdle int
	Logger  *slog.Logger
}

// Manager owns all Snowflake sessions. Idle connections are bucketed by
// account, user, role, and warehouse, and reused most-recently-released
// first.
type Manager struct {
	mu     sync.Mutex
	idle   map[string][]*Conn
	closed bool

	base    Principal
	dialer  Dialer
	tokens  TokenSource
	maxIdle int
	log     *slog.Logger
}

// NewManager creates a connection pool manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = defaultMaxIdle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		idle:    make(map[string][]*Conn),
		base:    cfg.Base,
		dialer:  cfg.Dialer,
		tokens:  cfg.Tokens,
		maxIdle: cfg.MaxIdle,
		log:     cfg.Logger,
	}
}

// Acquire returns a live connection for the configured principal. It prefers
// an idle connection from the matching bucket; a reused connection is probed
// and discarded if dead. Fresh connections go through full session init.
func (m *Manager) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	defer func() {
		metrics.AcquireDuration.Observe(time.Since(start).Seconds())
	}()

	key := m.base.Key()
	if c := m.popIdle(ctx, key); c != nil {
		metrics.PoolReused.Inc()
		return c, nil
	}

	p := m.base
	if m.tokens != nil {
		tok := m.tokens.AccessToken(ctx)
		if tok == "" {
			return nil, &BackendError{
				Kind: KindAuth,
				Op:   "acquire",
				Err:  errors.New("no valid OAuth access token available"),
			}
		}
		p.Token = tok
	}
	if err := p.Validate(m.tokens != nil); err != nil {
		return nil, err
	}

	sess, err := m.dialer.Dial(ctx, p)
	if err != nil {
		if IsAuthError(err) && m.tokens != nil {
			m.log.Warn("Snowflake rejected the OAuth token, a fresh login may be needed",
				"error", err)
		}
		return nil, err
	}

	warehouse, err := initSession(ctx, sess, p, m.log)
	if err != nil {
		sess.Close()
		return nil, err
	}

	metrics.PoolCreated.Inc()
	return &Conn{
		session: sess,
		key:     poolKey(p.Account, p.User, p.Role, warehouse),
	}, nil
}

// popIdle takes the most recently released connection from a bucket and
// probes it. A dead connection is discarded and the caller dials fresh.
func (m *Manager) popIdle(ctx context.Context, key string) *Conn {
	m.mu.Lock()
	bucket := m.idle[key]
	if m.closed || len(bucket) == 0 {
		m.mu.Unlock()
		return nil
	}
	c := bucket[len(bucket)-1]
	m.idle[key] = bucket[:len(bucket)-1]
	m.mu.Unlock()

	metrics.PoolIdle.WithLabelValues(key).Dec()

	if _, err := c.session.Exec(ctx, probeStatement); err != nil {
		m.log.Warn("idle connection failed liveness probe, discarding",
			"pool_key", key, "error", err)
		metrics.PoolProbeFailures.Inc()
		c.close()
		return nil
	}
	return c
}

// Release returns a connection to the pool. The bucket is re-derived from
// the session's current context because tool calls may have switched role,
// warehouse, or database. Release never fails: any error closes the
// connection and is absorbed.
func (m *Manager) Release(ctx context.Context, c *Conn) {
	if c == nil {
		return
	}

	key, err := m.currentKey(ctx, c)
	if err != nil {
		m.log.Warn("could not determine session context on release, closing",
			"pool_key", c.key, "error", err)
		c.close()
		return
	}
	c.key = key

	m.mu.Lock()
	if m.closed || len(m.idle[key]) >= m.maxIdle {
		m.mu.Unlock()
		metrics.PoolDiscarded.Inc()
		c.close()
		return
	}
	m.idle[key] = append(m.idle[key], c)
	m.mu.Unlock()

	metrics.PoolIdle.WithLabelValues(key).Inc()
}

// currentKey queries the session for its effective account, user, role, and
// warehouse and derives the pool bucket from them.
func (m *Manager) currentKey(ctx context.Context, c *Conn) (string, error) {
	res, err := c.session.Exec(ctx, contextStatement)
	if err != nil {
		return "", err
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) < 4 {
		return "", errors.New("session context query returned no row")
	}
	row := res.Rows[0]
	return poolKey(asString(row[0]), asString(row[1]), asString(row[2]), asString(row[3])), nil
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Stats reports the idle connection count per pool bucket.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.idle))
	for key, bucket := range m.idle {
		out[key] = len(bucket)
	}
	return out
}

// Close drains and closes every idle connection. Connections currently
// checked out are closed when released.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	idle := m.idle
	m.idle = make(map[string][]*Conn)
	m.mu.Unlock()

	for key, bucket := range idle {
		for _, c := range bucket {
			c.close()
		}
		metrics.PoolIdle.WithLabelValues(key).Set(0)
	}
}

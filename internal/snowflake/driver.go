// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package snowflake

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// ============================================================================
// gosnowflake Dialer
// ============================================================================

const (
	// applicationName tags every session for identification in query history.
	applicationName = "Snowflake_MCP_Server"

	// defaultLoginTimeout bounds both login and network round trips.
	defaultLoginTimeout = 60 * time.Second
)

// driverDialer opens raw driver connections through gosnowflake. The
// database/sql pool is deliberately bypassed: each Session owns exactly one
// driver connection so session state (role, warehouse, session parameters)
// stays pinned to it.
type driverDialer struct {
	loginTimeout time.Duration
}

// NewDialer returns the production Dialer backed by gosnowflake. A
// non-positive loginTimeout falls back to 60 seconds.
func NewDialer(loginTimeout time.Duration) Dialer {
	if loginTimeout <= 0 {
		loginTimeout = defaultLoginTimeout
	}
	return driverDialer{loginTimeout: loginTimeout}
}

func (d driverDialer) Dial(ctx context.Context, p Principal) (Session, error) {
	cfg := &gosnowflake.Config{
		Account:          p.Account,
		User:             p.User,
		Role:             p.Role,
		Database:         p.Database,
		Schema:           p.Schema,
		Application:      applicationName,
		LoginTimeout:     d.loginTimeout,
		RequestTimeout:   d.loginTimeout,
		KeepSessionAlive: true,
	}
	// The warehouse is intentionally not set here: session init activates it
	// explicitly so a missing warehouse can fall back instead of failing the
	// login.
	if p.Token != "" {
		cfg.Authenticator = gosnowflake.AuthTypeOAuth
		cfg.Token = p.Token
	} else {
		cfg.Password = p.Password
	}

	connector := gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, *cfg)
	conn, err := connector.Connect(ctx)
	if err != nil {
		return nil, classifyBackend("connect", err)
	}

	qc, ok := conn.(driver.QueryerContext)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("connect: driver connection does not support queries")
	}

	return &driverSession{conn: conn, queryer: qc}, nil
}

// driverSession executes statements over one raw driver connection.
type driverSession struct {
	conn    driver.Conn
	queryer driver.QueryerContext
}

func (s *driverSession) Exec(ctx context.Context, command string) (*Result, error) {
	rows, err := s.queryer.QueryContext(ctx, command, nil)
	if err != nil {
		return nil, classifyBackend(command, err)
	}
	defer rows.Close()

	cols := rows.Columns()
	result := &Result{Columns: append([]string(nil), cols...)}

	dest := make([]driver.Value, len(cols))
	for {
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				break
			}
			return nil, classifyBackend(command, err)
		}
		row := make([]any, len(dest))
		for i, v := range dest {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
				continue
			}
			row[i] = v
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

func (s *driverSession) Close() error {
	return s.conn.Close()
}

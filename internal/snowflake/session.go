// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

// Package snowflake manages Snowflake sessions: dialing, per-session
// initialization, and a keyed pool of reusable connections.
package snowflake

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

// ============================================================================
// Session Abstraction
// ============================================================================

// Result holds the outcome of a single statement: column names in server
// order and the fetched rows.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Record pairs one row with its column names so it can be serialized as a
// JSON object that preserves column order.
type Record struct {
	Columns []string
	Values  []any
}

// MarshalJSON emits the record as an object with keys in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		var val any
		if i < len(r.Values) {
			val = r.Values[i]
		}
		enc, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Records converts a result into one Record per row.
func (r *Result) Records() []Record {
	out := make([]Record, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = Record{Columns: r.Columns, Values: row}
	}
	return out
}

// Session is a single live Snowflake session. Exec runs one statement and
// fetches all rows.
type Session interface {
	Exec(ctx context.Context, command string) (*Result, error)
	Close() error
}

// Dialer establishes new sessions for a principal.
type Dialer interface {
	Dial(ctx context.Context, p Principal) (Session, error)
}

// ============================================================================
// Principal
// ============================================================================

// Principal identifies who is connecting and with what session context.
// Exactly one of Password or Token is set depending on the auth method.
type Principal struct {
	Account   string
	User      string
	Password  string
	Token     string
	Role      string
	Warehouse string
	Database  string
	Schema    string
}

// Validate checks that all required fields are present. The role is required
// because every session pins its role before use.
func (p Principal) Validate(oauth bool) error {
	var missing []string
	if p.Account == "" {
		missing = append(missing, "account")
	}
	if p.User == "" {
		missing = append(missing, "user")
	}
	if oauth {
		if p.Token == "" {
			missing = append(missing, "token")
		}
	} else if p.Password == "" {
		missing = append(missing, "password")
	}
	if p.Role == "" {
		missing = append(missing, "role")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// poolKey derives the pool bucket for a session context. The warehouse is
// appended only when set so sessions that never resolved a warehouse share
// a bucket distinct from any warehouse-bound one.
func poolKey(account, user, role, warehouse string) string {
	parts := []string{account, user, role}
	if warehouse != "" {
		parts = append(parts, warehouse)
	}
	return strings.Join(parts, "_")
}

// Key returns the pool bucket for this principal as configured. The
// effective key may differ after session init resolves a fallback warehouse.
func (p Principal) Key() string {
	return poolKey(p.Account, p.User, p.Role, p.Warehouse)
}

// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package snowflake

import (
	"fmt"
	"strings"
)

// ============================================================================
// Error Types
// ============================================================================

// ConfigError reports required connection parameters that are missing.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required Snowflake connection parameters: %s",
		strings.Join(e.Missing, ", "))
}

// PermissionError reports a failure to assume the configured role. The role
// is mandatory, so this error is fatal for the connection attempt.
type PermissionError struct {
	Role string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("failed to assume role %s: %v", e.Role, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// BackendKind classifies a backend failure for error reporting.
type BackendKind int

const (
	// KindGeneric covers backend failures with no more specific class.
	KindGeneric BackendKind = iota
	// KindAuth covers authentication failures (bad credentials, expired token).
	KindAuth
	// KindPrivilege covers permission failures on an otherwise valid session.
	KindPrivilege
)

// BackendError wraps an error from the Snowflake driver with a classification
// derived from the error message.
type BackendError struct {
	Kind BackendKind
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("authentication failed during %s: %v", e.Op, e.Err)
	case KindPrivilege:
		return fmt.Sprintf("insufficient privileges during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// classifyBackend inspects the driver error message and wraps it with the
// matching kind. The gosnowflake driver surfaces server-side failures as
// text, so classification is substring based.
func classifyBackend(op string, err error) *BackendError {
	kind := KindGeneric
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Authentication failed"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "Invalid OAuth access token"),
		strings.Contains(msg, "OAuth access token expired"):
		kind = KindAuth
	case strings.Contains(msg, "Insufficient privileges"),
		strings.Contains(msg, "insufficient privileges"),
		strings.Contains(msg, "not authorized"):
		kind = KindPrivilege
	}
	return &BackendError{Kind: kind, Op: op, Err: err}
}

// IsAuthError reports whether err is a BackendError classified as an
// authentication failure.
func IsAuthError(err error) bool {
	be, ok := err.(*BackendError)
	return ok && be.Kind == KindAuth
}

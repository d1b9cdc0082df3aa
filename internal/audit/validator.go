// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validator provides input validation for MCP operations.
type Validator struct {
	maxIdentifierLength int
	maxStatementLength  int
	maxRowLimit         int
}

// ValidatorConfig holds validator configuration.
type ValidatorConfig struct {
	MaxIdentifierLength int `json:"max_identifier_length"`
	MaxStatementLength  int `json:"max_statement_length"`
	MaxRowLimit         int `json:"max_row_limit"`
}

// DefaultValidatorConfig returns default validation configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxIdentifierLength: 255, // Snowflake identifier limit
		MaxStatementLength:  100000,
		MaxRowLimit:         10000,
	}
}

// NewValidator creates a new validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{
		maxIdentifierLength: cfg.MaxIdentifierLength,
		maxStatementLength:  cfg.MaxStatementLength,
		maxRowLimit:         cfg.MaxRowLimit,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateIdentifier validates a single unquoted Snowflake identifier such
// as a database, schema, warehouse, or table name.
func (v *Validator) ValidateIdentifier(field, name string) error {
	if name == "" {
		return ValidationError{Field: field, Message: "cannot be empty"}
	}

	if len(name) > v.maxIdentifierLength {
		return ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d", v.maxIdentifierLength),
		}
	}

	if !isValidIdentifier(name) {
		return ValidationError{
			Field:   field,
			Message: "contains invalid characters (must start with a letter or underscore, then letters, digits, underscore, or $)",
		}
	}

	return nil
}

// ValidateQualifiedName validates an optionally qualified object name of the
// form name, db.name, or db.schema.name.
func (v *Validator) ValidateQualifiedName(field, name string) error {
	if name == "" {
		return ValidationError{Field: field, Message: "cannot be empty"}
	}

	parts := strings.Split(name, ".")
	if len(parts) > 3 {
		return ValidationError{
			Field:   field,
			Message: "has too many qualification levels (at most database.schema.name)",
		}
	}

	for _, part := range parts {
		if err := v.ValidateIdentifier(field, part); err != nil {
			return err
		}
	}

	return nil
}

// ValidateLikePattern validates a LIKE pattern used to filter SHOW output.
// Patterns allow identifier characters plus the % and _ wildcards.
func (v *Validator) ValidateLikePattern(pattern string) error {
	if pattern == "" {
		return nil // Pattern is optional
	}

	if len(pattern) > v.maxIdentifierLength {
		return ValidationError{
			Field:   "pattern",
			Message: fmt.Sprintf("exceeds maximum length of %d", v.maxIdentifierLength),
		}
	}

	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_$%.]+$`, pattern)
	if !matched {
		return ValidationError{
			Field:   "pattern",
			Message: "contains invalid characters (identifier characters plus % and _ wildcards)",
		}
	}

	return nil
}

// ValidateStatement validates a SQL statement before execution.
func (v *Validator) ValidateStatement(statement string) error {
	if strings.TrimSpace(statement) == "" {
		return ValidationError{Field: "query", Message: "cannot be empty"}
	}

	if len(statement) > v.maxStatementLength {
		return ValidationError{
			Field:   "query",
			Message: fmt.Sprintf("exceeds maximum length of %d", v.maxStatementLength),
		}
	}

	if !utf8.ValidString(statement) {
		return ValidationError{Field: "query", Message: "must be valid UTF-8"}
	}

	if strings.ContainsRune(statement, 0) {
		return ValidationError{Field: "query", Message: "contains null bytes"}
	}

	return nil
}

// ValidateRowLimit validates a requested row limit.
func (v *Validator) ValidateRowLimit(limit int) error {
	if limit <= 0 {
		return ValidationError{Field: "limit_rows", Message: "must be positive"}
	}

	if limit > v.maxRowLimit {
		return ValidationError{
			Field:   "limit_rows",
			Message: fmt.Sprintf("exceeds maximum of %d", v.maxRowLimit),
		}
	}

	return nil
}

// SanitizeString removes null bytes and control characters, keeping tabs
// and newlines so multi-line statements stay readable in audit output.
func SanitizeString(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// isValidIdentifier checks if a string is a valid unquoted identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	matched, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_$]*$`, s)
	return matched
}

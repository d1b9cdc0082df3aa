// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

// Package audit provides audit logging for all Snowflake operations.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Level represents the severity level of an audit event.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	LevelAudit   Level = "AUDIT"
)

// Category represents the category of an audit event.
type Category string

const (
	CategoryQuery  Category = "QUERY"
	CategoryWrite  Category = "WRITE"
	CategoryAdmin  Category = "ADMIN"
	CategoryAuth   Category = "AUTH"
	CategorySystem Category = "SYSTEM"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Category  Category               `json:"category"`
	Operation string                 `json:"operation"`
	Database  string                 `json:"database,omitempty"`
	Schema    string                 `json:"schema,omitempty"`
	Statement string                 `json:"statement,omitempty"`
	User      string                 `json:"user,omitempty"`
	ClientID  string                 `json:"client_id,omitempty"`
	Duration  time.Duration          `json:"duration_ns"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RowCount  int                    `json:"row_count,omitempty"`
}

// Logger provides audit logging functionality.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	enabled  bool
	minLevel Level
	buffer   []Event
	bufSize  int
}

// Config holds audit logger configuration.
type Config struct {
	Enabled    bool   `json:"enabled"`
	FilePath   string `json:"file_path,omitempty"`
	BufferSize int    `json:"buffer_size"`
	MinLevel   Level  `json:"min_level"`
}

// DefaultConfig returns default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		BufferSize: 100,
		MinLevel:   LevelInfo,
	}
}

// NewLogger creates a new audit logger.
func NewLogger(cfg Config) (*Logger, error) {
	var writer io.Writer = os.Stderr

	if cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening audit log file: %w", err)
		}
		writer = file
	}

	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 100
	}

	return &Logger{
		writer:   writer,
		enabled:  cfg.Enabled,
		minLevel: cfg.MinLevel,
		buffer:   make([]Event, 0, bufSize),
		bufSize:  bufSize,
	}, nil
}

// Log records an audit event.
func (l *Logger) Log(event Event) {
	if !l.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Statement = SanitizeString(event.Statement)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Write to output
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Audit log marshal error: %v", err)
		return
	}

	l.writer.Write(append(data, '\n'))

	// Buffer for potential batch operations
	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= l.bufSize {
		l.buffer = l.buffer[1:] // Keep buffer size limited
	}
}

// LogQuery logs a read-only statement execution.
func (l *Logger) LogQuery(ctx context.Context, operation, database, schema, statement string, rowCount int, duration time.Duration, err error) {
	event := Event{
		Level:     LevelInfo,
		Category:  CategoryQuery,
		Operation: operation,
		Database:  database,
		Schema:    schema,
		Statement: statement,
		Duration:  duration,
		Success:   err == nil,
		RowCount:  rowCount,
	}

	if err != nil {
		event.Error = err.Error()
		event.Level = LevelError
	}

	applyContext(ctx, &event)
	l.Log(event)
}

// LogWrite logs a data- or schema-modifying statement execution.
func (l *Logger) LogWrite(ctx context.Context, operation, database, schema, statement string, rowCount int, duration time.Duration, err error) {
	event := Event{
		Level:     LevelAudit,
		Category:  CategoryWrite,
		Operation: operation,
		Database:  database,
		Schema:    schema,
		Statement: statement,
		Duration:  duration,
		Success:   err == nil,
		RowCount:  rowCount,
	}

	if err != nil {
		event.Error = err.Error()
		event.Level = LevelError
	}

	applyContext(ctx, &event)
	l.Log(event)
}

// LogAdmin logs an administrative operation.
func (l *Logger) LogAdmin(ctx context.Context, operation string, details map[string]interface{}, duration time.Duration, err error) {
	event := Event{
		Level:     LevelAudit,
		Category:  CategoryAdmin,
		Operation: operation,
		Duration:  duration,
		Success:   err == nil,
		Details:   details,
	}

	if err != nil {
		event.Error = err.Error()
		event.Level = LevelError
	}

	applyContext(ctx, &event)
	l.Log(event)
}

// LogAuth logs an authentication event such as a token refresh or login.
func (l *Logger) LogAuth(ctx context.Context, operation string, success bool, details map[string]interface{}) {
	level := LevelAudit
	if !success {
		level = LevelWarning
	}

	event := Event{
		Level:     level,
		Category:  CategoryAuth,
		Operation: operation,
		Success:   success,
		Details:   details,
	}

	applyContext(ctx, &event)
	l.Log(event)
}

// applyContext copies audit identity values from the context into the event.
func applyContext(ctx context.Context, event *Event) {
	if user := ctx.Value(ContextKeyUser); user != nil {
		event.User = user.(string)
	}
	if clientID := ctx.Value(ContextKeyClientID); clientID != nil {
		event.ClientID = clientID.(string)
	}
}

// GetRecentEvents returns the most recent buffered events.
func (l *Logger) GetRecentEvents(count int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count > len(l.buffer) {
		count = len(l.buffer)
	}

	start := len(l.buffer) - count
	events := make([]Event, count)
	copy(events, l.buffer[start:])
	return events
}

// Close closes the audit logger.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.writer.(io.Closer); ok && l.writer != os.Stderr && l.writer != os.Stdout {
		return closer.Close()
	}
	return nil
}

// Context keys for audit information
type contextKey string

const (
	ContextKeyUser     contextKey = "audit_user"
	ContextKeyClientID contextKey = "audit_client_id"
)

// WithUser adds user information to context.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// WithClientID adds client ID to context.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ContextKeyClientID, clientID)
}

// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

// Package resources implements MCP resource definitions and handlers for Snowflake.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/matt-atadata/snowflake-mcp-server/internal/audit"
	"github.com/matt-atadata/snowflake-mcp-server/internal/snowflake"
	"github.com/matt-atadata/snowflake-mcp-server/pkg/config"
)

// ResourceDefinition represents an MCP resource definition.
type ResourceDefinition struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Pool hands out pooled Snowflake connections.
type Pool interface {
	Acquire(ctx context.Context) (*snowflake.Conn, error)
	Release(ctx context.Context, c *snowflake.Conn)
}

// Registry manages available MCP resources.
type Registry struct {
	pool      Pool
	config    *config.Config
	validator *audit.Validator
}

// NewRegistry creates a new resource registry.
func NewRegistry(pool Pool, cfg *config.Config) *Registry {
	return &Registry{
		pool:      pool,
		config:    cfg,
		validator: audit.NewValidator(audit.DefaultValidatorConfig()),
	}
}

// List returns all available resource definitions.
func (r *Registry) List() []ResourceDefinition {
	resources := []ResourceDefinition{
		{
			URI:         "snowflake://databases",
			Name:        "Databases",
			Description: "Databases visible to the current role",
			MimeType:    "application/json",
		},
	}

	// Add per-database resources dynamically
	databases, err := r.listDatabases(context.Background())
	if err == nil {
		for _, db := range databases {
			resources = append(resources,
				ResourceDefinition{
					URI:         fmt.Sprintf("snowflake://%s/schemas", db),
					Name:        fmt.Sprintf("Schemas in %s", db),
					Description: "Schema listing",
					MimeType:    "application/json",
				},
			)
		}
	}

	// Add a tables resource for the configured database/schema, if any
	if r.config.Database != "" && r.config.Schema != "" {
		resources = append(resources, ResourceDefinition{
			URI:         fmt.Sprintf("snowflake://%s/%s/tables", r.config.Database, r.config.Schema),
			Name:        fmt.Sprintf("Tables in %s.%s", r.config.Database, r.config.Schema),
			Description: "Table listing with metadata",
			MimeType:    "application/json",
		})
	}

	return resources
}

var (
	schemasPath = regexp.MustCompile(`^([^/]+)/schemas$`)
	tablesPath  = regexp.MustCompile(`^([^/]+)/([^/]+)/tables$`)
	columnsPath = regexp.MustCompile(`^([^/]+)/([^/]+)/([^/]+)/columns$`)
)

// Read retrieves the content of a resource by URI.
func (r *Registry) Read(ctx context.Context, uri string) (string, string, error) {
	if !strings.HasPrefix(uri, "snowflake://") {
		return "", "", fmt.Errorf("invalid URI scheme: %s", uri)
	}

	path := strings.TrimPrefix(uri, "snowflake://")

	switch {
	case path == "databases":
		return r.readDatabases(ctx)

	case schemasPath.MatchString(path):
		m := schemasPath.FindStringSubmatch(path)
		return r.readSchemas(ctx, m[1])

	case tablesPath.MatchString(path):
		m := tablesPath.FindStringSubmatch(path)
		return r.readTables(ctx, m[1], m[2])

	case columnsPath.MatchString(path):
		m := columnsPath.FindStringSubmatch(path)
		return r.readColumns(ctx, m[1], m[2], m[3])

	default:
		return "", "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// run acquires a connection, executes one statement, and releases the
// connection on all paths.
func (r *Registry) run(ctx context.Context, command string) (*snowflake.Result, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(ctx, conn)

	return conn.Exec(ctx, command)
}

// listDatabases returns the names of databases visible to the session.
func (r *Registry) listDatabases(ctx context.Context) ([]string, error) {
	res, err := r.run(ctx, "SHOW TERSE DATABASES")
	if err != nil {
		return nil, err
	}

	idx := columnIndex(res, "name")
	if idx < 0 {
		return nil, fmt.Errorf("listing missing name column")
	}

	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if name, ok := row[idx].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (r *Registry) readDatabases(ctx context.Context) (string, string, error) {
	res, err := r.run(ctx, "SHOW TERSE DATABASES")
	if err != nil {
		return "", "", err
	}
	return marshalRecords(res)
}

func (r *Registry) readSchemas(ctx context.Context, database string) (string, string, error) {
	if err := r.validator.ValidateIdentifier("database", database); err != nil {
		return "", "", err
	}

	res, err := r.run(ctx, fmt.Sprintf("SHOW TERSE SCHEMAS IN DATABASE %s", database))
	if err != nil {
		return "", "", err
	}
	return marshalRecords(res)
}

func (r *Registry) readTables(ctx context.Context, database, schema string) (string, string, error) {
	if err := r.validator.ValidateIdentifier("database", database); err != nil {
		return "", "", err
	}
	if err := r.validator.ValidateIdentifier("schema", schema); err != nil {
		return "", "", err
	}

	res, err := r.run(ctx, fmt.Sprintf("SHOW TERSE TABLES IN %s.%s", database, schema))
	if err != nil {
		return "", "", err
	}
	return marshalRecords(res)
}

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
}

// TableSchema describes a table's columns.
type TableSchema struct {
	Database string         `json:"database"`
	Schema   string         `json:"schema"`
	Table    string         `json:"table"`
	Columns  []ColumnSchema `json:"columns"`
}

func (r *Registry) readColumns(ctx context.Context, database, schema, table string) (string, string, error) {
	for field, name := range map[string]string{"database": database, "schema": schema, "table": table} {
		if err := r.validator.ValidateIdentifier(field, name); err != nil {
			return "", "", err
		}
	}

	res, err := r.run(ctx, fmt.Sprintf("DESCRIBE TABLE %s.%s.%s", database, schema, table))
	if err != nil {
		return "", "", err
	}

	out := &TableSchema{
		Database: database,
		Schema:   schema,
		Table:    table,
		Columns:  buildColumns(res),
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", "", err
	}
	return string(data), "application/json", nil
}

// buildColumns converts DESCRIBE TABLE output into column schemas. Rows that
// describe non-column properties are skipped.
func buildColumns(res *snowflake.Result) []ColumnSchema {
	nameIdx := columnIndex(res, "name")
	typeIdx := columnIndex(res, "type")
	nullIdx := columnIndex(res, "null?")
	defIdx := columnIndex(res, "default")
	kindIdx := columnIndex(res, "kind")

	columns := make([]ColumnSchema, 0, len(res.Rows))
	for _, row := range res.Rows {
		if kindIdx >= 0 && kindIdx < len(row) {
			if kind, ok := row[kindIdx].(string); ok && !strings.EqualFold(kind, "COLUMN") {
				continue
			}
		}

		col := ColumnSchema{}
		if nameIdx >= 0 && nameIdx < len(row) {
			col.Name, _ = row[nameIdx].(string)
		}
		if typeIdx >= 0 && typeIdx < len(row) {
			col.Type, _ = row[typeIdx].(string)
		}
		if nullIdx >= 0 && nullIdx < len(row) {
			if s, ok := row[nullIdx].(string); ok {
				col.Nullable = strings.EqualFold(s, "Y") || strings.EqualFold(s, "true")
			}
		}
		if defIdx >= 0 && defIdx < len(row) {
			col.Default, _ = row[defIdx].(string)
		}
		columns = append(columns, col)
	}
	return columns
}

func marshalRecords(res *snowflake.Result) (string, string, error) {
	data, err := json.MarshalIndent(res.Records(), "", "  ")
	if err != nil {
		return "", "", err
	}
	return string(data), "application/json", nil
}

func columnIndex(res *snowflake.Result, name string) int {
	for i, col := range res.Columns {
		if strings.EqualFold(col, name) {
			return i
		}
	}
	return -1
}

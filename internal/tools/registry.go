// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

// Package tools implements MCP tool definitions and handlers for Snowflake operations.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matt-atadata/snowflake-mcp-server/internal/audit"
	"github.com/matt-atadata/snowflake-mcp-server/internal/oauth"
	"github.com/matt-atadata/snowflake-mcp-server/internal/snowflake"
	"github.com/matt-atadata/snowflake-mcp-server/pkg/config"
)

// ServerName and ServerVersion identify this server in server_info and the
// MCP initialize handshake.
const (
	ServerName    = "snowflake-mcp-server"
	ServerVersion = "0.1.0"
)

// ToolDefinition represents an MCP tool definition.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema represents the JSON schema for tool inputs.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property represents a property in the input schema.
type Property struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Items       *Property   `json:"items,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Pool hands out pooled Snowflake connections. Every handler acquires one
// connection, runs its statements, and releases it on all paths.
type Pool interface {
	Acquire(ctx context.Context) (*snowflake.Conn, error)
	Release(ctx context.Context, c *snowflake.Conn)
	Stats() map[string]int
}

// Registry manages available MCP tools.
type Registry struct {
	pool      Pool
	config    *config.Config
	tokens    *oauth.Manager // nil for password auth
	validator *audit.Validator
	tools     map[string]ToolHandler
}

// ToolHandler is a function that handles a tool call.
type ToolHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// NewRegistry creates a new tool registry.
func NewRegistry(pool Pool, cfg *config.Config, tokens *oauth.Manager) *Registry {
	r := &Registry{
		pool:      pool,
		config:    cfg,
		tokens:    tokens,
		validator: audit.NewValidator(audit.DefaultValidatorConfig()),
		tools:     make(map[string]ToolHandler),
	}

	r.tools["execute_query"] = r.handleExecuteQuery
	r.tools["server_info"] = r.handleServerInfo

	// Register the catalog-driven listing and describe tools
	for _, kind := range catalog {
		r.tools[showToolName(kind)] = r.handleShow(kind)
		if kind.descScope != descNone {
			r.tools[describeToolName(kind)] = r.handleDescribe(kind)
		}
	}
	r.tools[describeToolName(accountKind)] = r.handleDescribe(accountKind)

	return r
}

func showToolName(k objectKind) string {
	return "show_" + strings.ReplaceAll(k.plural, " ", "_")
}

func describeToolName(k objectKind) string {
	return "describe_" + strings.ReplaceAll(k.singular, " ", "_")
}

// List returns all available tool definitions.
func (r *Registry) List() []ToolDefinition {
	definitions := []ToolDefinition{
		{
			Name:        "execute_query",
			Description: "Execute a SQL query against Snowflake and return the results. Write statements are rejected unless the server was started with write access enabled.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":      {Type: "string", Description: "SQL query to execute (Snowflake dialect)"},
					"limit_rows": {Type: "integer", Description: "Maximum number of rows to return (default: 1000)", Default: 1000},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "server_info",
			Description: "Retrieve server configuration, active session identity, warehouse status, and role permission summary",
			InputSchema: InputSchema{Type: "object"},
		},
	}

	for _, kind := range catalog {
		definitions = append(definitions, listDefinition(kind))
		if kind.descScope != descNone {
			definitions = append(definitions, describeDefinition(kind))
		}
	}
	definitions = append(definitions, describeDefinition(accountKind))

	return definitions
}

func listDefinition(k objectKind) ToolDefinition {
	def := ToolDefinition{
		Name:        showToolName(k),
		Description: fmt.Sprintf("List %s visible to the current session", k.plural),
		InputSchema: InputSchema{Type: "object"},
	}

	props := map[string]Property{}
	switch k.listScope {
	case listSchema:
		props["database"] = Property{Type: "string", Description: "Optional database to scope the listing"}
		props["schema"] = Property{Type: "string", Description: "Optional schema to scope the listing (requires database)"}
	case listDatabase:
		props["database"] = Property{Type: "string", Description: "Optional database to scope the listing"}
	case listPattern:
		props["pattern"] = Property{Type: "string", Description: "Optional LIKE pattern to filter names (% and _ wildcards)"}
	case listApplication:
		props["application_name"] = Property{Type: "string", Description: "Optional application to scope the listing"}
	case listTable:
		props["table_name"] = Property{Type: "string", Description: "Optional table to scope the listing (requires database and schema)"}
		props["database"] = Property{Type: "string", Description: "Optional database to scope the listing"}
		props["schema"] = Property{Type: "string", Description: "Optional schema to scope the listing (requires database)"}
	}
	if len(props) > 0 {
		def.InputSchema.Properties = props
	}

	return def
}

func describeDefinition(k objectKind) ToolDefinition {
	def := ToolDefinition{
		Name:        describeToolName(k),
		Description: fmt.Sprintf("Get details about a specific %s", k.singular),
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"name": {Type: "string", Description: fmt.Sprintf("Name of the %s to describe", k.singular)},
			},
			Required: []string{"name"},
		},
	}

	switch k.descScope {
	case descQualified:
		def.InputSchema.Properties["database"] = Property{Type: "string", Description: "Optional database containing the object"}
		def.InputSchema.Properties["schema"] = Property{Type: "string", Description: "Optional schema containing the object (requires database)"}
	case descDatabase:
		def.InputSchema.Properties["database"] = Property{Type: "string", Description: "Optional database containing the object"}
	case descApplication:
		def.InputSchema.Properties["application_name"] = Property{Type: "string", Description: "Optional application owning the role"}
	case descColumn:
		def.InputSchema.Properties["table"] = Property{Type: "string", Description: "Table containing the column"}
		def.InputSchema.Properties["database"] = Property{Type: "string", Description: "Optional database containing the table"}
		def.InputSchema.Properties["schema"] = Property{Type: "string", Description: "Optional schema containing the table (requires database)"}
		def.InputSchema.Required = append(def.InputSchema.Required, "table")
	}

	return def
}

// Call executes a tool by name with the given arguments.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	handler, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return handler(ctx, args)
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

// ============================================================================
// Catalog Tool Handlers
// ============================================================================

func (r *Registry) handleShow(k objectKind) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var a listArgs
		if len(args) > 0 {
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}

		if err := r.validateListArgs(a); err != nil {
			return nil, err
		}

		cmd, err := listCommand(k, a)
		if err != nil {
			return nil, err
		}

		res, err := r.run(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return res.Records(), nil
	}
}

func (r *Registry) handleDescribe(k objectKind) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var a describeArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}

		if err := r.validateDescribeArgs(a); err != nil {
			return nil, err
		}

		cmd, err := describeCommand(k, a)
		if err != nil {
			return nil, err
		}

		res, err := r.run(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return res.Records(), nil
	}
}

func (r *Registry) validateListArgs(a listArgs) error {
	if a.Database != "" {
		if err := r.validator.ValidateIdentifier("database", a.Database); err != nil {
			return err
		}
	}
	if a.Schema != "" {
		if err := r.validator.ValidateIdentifier("schema", a.Schema); err != nil {
			return err
		}
	}
	if a.ApplicationName != "" {
		if err := r.validator.ValidateIdentifier("application_name", a.ApplicationName); err != nil {
			return err
		}
	}
	if a.TableName != "" {
		if err := r.validator.ValidateIdentifier("table_name", a.TableName); err != nil {
			return err
		}
	}
	return r.validator.ValidateLikePattern(a.Pattern)
}

func (r *Registry) validateDescribeArgs(a describeArgs) error {
	if err := r.validator.ValidateIdentifier("name", a.Name); err != nil {
		return err
	}
	if a.Database != "" {
		if err := r.validator.ValidateIdentifier("database", a.Database); err != nil {
			return err
		}
	}
	if a.Schema != "" {
		if err := r.validator.ValidateIdentifier("schema", a.Schema); err != nil {
			return err
		}
	}
	if a.Table != "" {
		if err := r.validator.ValidateIdentifier("table", a.Table); err != nil {
			return err
		}
	}
	if a.ApplicationName != "" {
		if err := r.validator.ValidateIdentifier("application_name", a.ApplicationName); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// execute_query
// ============================================================================

// writeKeywords are statement keywords rejected without write access.
var writeKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER", "TRUNCATE", "MERGE",
}

// containsWriteOp scans the statement for write keywords. The match is
// token-wise, so column or string content like "CREATED_AT" does not trip it.
func containsWriteOp(query string) bool {
	upper := strings.ToUpper(query)
	tokens := strings.FieldsFunc(upper, func(r rune) bool {
		return !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_')
	})
	for _, tok := range tokens {
		for _, kw := range writeKeywords {
			if tok == kw {
				return true
			}
		}
	}
	return false
}

type executeQueryArgs struct {
	Query     string `json:"query"`
	LimitRows int    `json:"limit_rows"`
}

func (r *Registry) handleExecuteQuery(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a executeQueryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if err := r.validator.ValidateStatement(a.Query); err != nil {
		return nil, err
	}

	limit := a.LimitRows
	if limit == 0 {
		limit = r.config.DefaultMaxRows
	}
	if err := r.validator.ValidateRowLimit(limit); err != nil {
		return nil, err
	}

	if !r.config.AllowWrite && containsWriteOp(a.Query) {
		return nil, fmt.Errorf("write operations are not allowed; start the server with --allow-write to enable them")
	}

	res, err := r.run(ctx, a.Query)
	if err != nil {
		return nil, err
	}

	truncated := false
	rows := res.Rows
	if len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}
	limited := &snowflake.Result{Columns: res.Columns, Rows: rows}

	return map[string]interface{}{
		"columns":   res.Columns,
		"rows":      limited.Records(),
		"row_count": len(rows),
		"truncated": truncated,
	}, nil
}

// ============================================================================
// server_info
// ============================================================================

func (r *Registry) handleServerInfo(ctx context.Context, args json.RawMessage) (interface{}, error) {
	info := map[string]interface{}{
		"server_name": ServerName,
		"version":     ServerVersion,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"transport":   r.config.Transport,
		"port":        r.config.Port,
		"allow_write": r.config.AllowWrite,
		"auth_method": string(r.config.AuthMethod),
		"configuration": map[string]string{
			"account":   r.config.Account,
			"user":      r.config.User,
			"role":      r.config.Role,
			"warehouse": r.config.Warehouse,
			"database":  r.config.Database,
			"schema":    r.config.Schema,
		},
		"pool": r.pool.Stats(),
	}

	if r.tokens != nil {
		info["oauth_tokens"] = r.tokens.Info()
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		info["connection_error"] = err.Error()
		return info, nil
	}
	defer r.pool.Release(ctx, conn)

	res, err := conn.Exec(ctx, "SELECT CURRENT_ACCOUNT(), CURRENT_USER(), CURRENT_ROLE(), "+
		"CURRENT_WAREHOUSE(), CURRENT_DATABASE(), CURRENT_SCHEMA(), CURRENT_SESSION()")
	if err != nil {
		info["connection_error"] = err.Error()
		return info, nil
	}
	if len(res.Rows) == 0 {
		return info, nil
	}

	row := res.Rows[0]
	session := map[string]interface{}{
		"account":    row[0],
		"user":       row[1],
		"role":       row[2],
		"warehouse":  row[3],
		"database":   row[4],
		"schema":     row[5],
		"session_id": row[6],
	}

	if warehouse, ok := row[3].(string); ok && warehouse != "" {
		if whRes, err := conn.Exec(ctx, fmt.Sprintf("SHOW WAREHOUSES LIKE '%s'", warehouse)); err == nil && len(whRes.Rows) > 0 {
			session["warehouse_status"] = columnValue(whRes, 0, "state")
			session["warehouse_size"] = columnValue(whRes, 0, "size")
		}
	}
	info["active_session"] = session

	if role, ok := row[2].(string); ok && role != "" {
		info["role_permissions"] = r.summarizeGrants(ctx, conn, role)
	}

	return info, nil
}

// summarizeGrants condenses SHOW GRANTS output into the objects the role can
// reach. Failures are reported inline so server_info never errors out.
func (r *Registry) summarizeGrants(ctx context.Context, conn *snowflake.Conn, role string) map[string]interface{} {
	res, err := conn.Exec(ctx, "SHOW GRANTS TO ROLE "+role)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	databases := map[string]bool{}
	warehouses := map[string]bool{}
	schemas := map[string]bool{}
	hasWarehouseUsage := false

	for i := range res.Rows {
		privilege := strings.ToUpper(stringColumn(res, i, "privilege"))
		grantedOn := strings.ToUpper(stringColumn(res, i, "granted_on"))
		name := stringColumn(res, i, "name")

		switch grantedOn {
		case "DATABASE":
			databases[name] = true
		case "WAREHOUSE":
			warehouses[name] = true
			if privilege == "USAGE" {
				hasWarehouseUsage = true
			}
		case "SCHEMA":
			schemas[name] = true
		}
	}

	return map[string]interface{}{
		"databases":           sortedKeys(databases),
		"warehouses":          sortedKeys(warehouses),
		"schemas":             sortedKeys(schemas),
		"has_warehouse_usage": hasWarehouseUsage,
	}
}

func columnIndex(res *snowflake.Result, name string) int {
	for i, col := range res.Columns {
		if strings.EqualFold(col, name) {
			return i
		}
	}
	return -1
}

func columnValue(res *snowflake.Result, row int, name string) interface{} {
	idx := columnIndex(res, name)
	if idx < 0 || row >= len(res.Rows) || idx >= len(res.Rows[row]) {
		return nil
	}
	return res.Rows[row][idx]
}

func stringColumn(res *snowflake.Result, row int, name string) string {
	if s, ok := columnValue(res, row, name).(string); ok {
		return s
	}
	return ""
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

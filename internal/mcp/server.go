// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

// Package mcp implements the Model Context Protocol server for Snowflake.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/matt-atadata/snowflake-mcp-server/internal/audit"
	"github.com/matt-atadata/snowflake-mcp-server/internal/metrics"
	"github.com/matt-atadata/snowflake-mcp-server/internal/oauth"
	"github.com/matt-atadata/snowflake-mcp-server/internal/resources"
	"github.com/matt-atadata/snowflake-mcp-server/internal/snowflake"
	"github.com/matt-atadata/snowflake-mcp-server/internal/tools"
	"github.com/matt-atadata/snowflake-mcp-server/pkg/config"
)

// MCPVersion is the protocol revision this server speaks.
const MCPVersion = "2024-11-05"

// Pool hands out pooled Snowflake connections.
type Pool interface {
	Acquire(ctx context.Context) (*snowflake.Conn, error)
	Release(ctx context.Context, c *snowflake.Conn)
	Stats() map[string]int
}

// Server implements the MCP protocol server.
type Server struct {
	config      *config.Config
	tools       *tools.Registry
	resources   *resources.Registry
	tokens      *oauth.Manager
	auditLogger *audit.Logger
	rateLimiter *audit.RateLimiter
	log         *slog.Logger
}

// NewServer creates a new MCP server instance. The tokens manager is nil when
// password authentication is configured.
func NewServer(pool Pool, cfg *config.Config, tokens *oauth.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	auditCfg := audit.Config{
		Enabled:    cfg.Audit.Enabled,
		FilePath:   cfg.Audit.FilePath,
		BufferSize: cfg.Audit.BufferSize,
	}
	auditLogger, err := audit.NewLogger(auditCfg)
	if err != nil {
		logger.Warn("audit logger unavailable", "error", err)
	}

	rateLimiter := audit.NewRateLimiter(audit.RateLimitConfig{
		Enabled:        cfg.Audit.RateLimitEnabled,
		RequestsPerSec: cfg.Audit.RateLimitRPS,
		BurstSize:      cfg.Audit.RateLimitBurst,
	})

	return &Server{
		config:      cfg,
		tools:       tools.NewRegistry(pool, cfg, tokens),
		resources:   resources.NewRegistry(pool, cfg),
		tokens:      tokens,
		auditLogger: auditLogger,
		rateLimiter: rateLimiter,
		log:         logger,
	}
}

// Run starts the MCP server with the configured transport.
func (s *Server) Run(ctx context.Context) error {
	if s.auditLogger != nil {
		s.auditLogger.Log(audit.Event{
			Level:     audit.LevelInfo,
			Category:  audit.CategorySystem,
			Operation: "server_start",
			Success:   true,
			Details: map[string]interface{}{
				"transport":   s.config.Transport,
				"auth_method": string(s.config.AuthMethod),
			},
		})
		if s.tokens != nil {
			info := s.tokens.Info()
			s.auditLogger.LogAuth(ctx, "token_check", info.HasAccessToken && !info.Expired, map[string]interface{}{
				"has_refresh_token": info.HasRefreshToken,
			})
		}
	}

	var err error
	switch s.config.Transport {
	case "stdio":
		err = s.runStdio(ctx)
	case "sse":
		err = s.runSSE(ctx)
	default:
		err = fmt.Errorf("unsupported transport: %s", s.config.Transport)
	}

	if s.auditLogger != nil {
		s.auditLogger.Log(audit.Event{
			Level:     audit.LevelInfo,
			Category:  audit.CategorySystem,
			Operation: "server_shutdown",
			Success:   err == nil || err == context.Canceled,
			Error:     errorString(err),
		})
		s.auditLogger.Close()
	}

	return err
}

// runStdio runs the server using stdio transport. Responses go to stdout, so
// all logging must stay on stderr.
func (s *Server) runStdio(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)
	writer := os.Stdout

	s.log.Info("server started", "transport", "stdio")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return fmt.Errorf("reading input: %w", err)
			}

			response := s.handleMessage(ctx, line)
			if response != nil {
				responseBytes, err := json.Marshal(response)
				if err != nil {
					s.log.Error("marshaling response", "error", err)
					continue
				}
				responseBytes = append(responseBytes, '\n')
				if _, err := writer.Write(responseBytes); err != nil {
					return fmt.Errorf("writing response: %w", err)
				}
			}
		}
	}
}

// runSSE runs the server using Server-Sent Events transport.
func (s *Server) runSSE(ctx context.Context) error {
	port := s.config.Port
	if port == 0 {
		port = 8091
	}
	sseServer := NewSSEServer(s, port)
	return sseServer.Run(ctx)
}

// ============================================================================
// JSON-RPC Types
// ============================================================================

// Request represents a JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents a JSON-RPC error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ============================================================================
// Message Handling
// ============================================================================

// handleMessage processes a JSON-RPC message and returns a response.
func (s *Server) handleMessage(ctx context.Context, message []byte) *Response {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			Error: &Error{
				Code:    ParseError,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}

	if req.JSONRPC != "2.0" {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    InvalidRequest,
				Message: "Invalid Request",
				Data:    "jsonrpc must be '2.0'",
			},
		}
	}

	result, err := s.routeMethod(ctx, req.Method, req.Params)
	if err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   err,
		}
	}

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}

// routeMethod routes a method call to the appropriate handler.
func (s *Server) routeMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, *Error) {
	switch method {
	// Lifecycle methods
	case "initialize":
		return s.handleInitialize(ctx, params)
	case "initialized":
		return nil, nil // Notification, no response needed
	case "shutdown":
		return nil, nil

	// Tool methods
	case "tools/list":
		return s.handleToolsList(ctx)
	case "tools/call":
		return s.handleToolsCall(ctx, params)

	// Resource methods
	case "resources/list":
		return s.handleResourcesList(ctx)
	case "resources/read":
		return s.handleResourcesRead(ctx, params)

	// Prompts methods (optional)
	case "prompts/list":
		return s.handlePromptsList(ctx)

	default:
		return nil, &Error{
			Code:    MethodNotFound,
			Message: "Method not found",
			Data:    method,
		}
	}
}

// ============================================================================
// MCP Protocol Handlers
// ============================================================================

// InitializeParams represents the initialize request parameters.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	Capabilities    struct {
		Roots *struct {
			ListChanged bool `json:"listChanged"`
		} `json:"roots,omitempty"`
		Sampling *struct{} `json:"sampling,omitempty"`
	} `json:"capabilities"`
	ClientInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// InitializeResult represents the initialize response.
type InitializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	Capabilities    struct {
		Tools     *ToolsCapability     `json:"tools,omitempty"`
		Resources *ResourcesCapability `json:"resources,omitempty"`
		Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	} `json:"capabilities"`
	ServerInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

func (s *Server) handleInitialize(_ context.Context, params json.RawMessage) (*InitializeResult, *Error) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &Error{
				Code:    InvalidParams,
				Message: "Invalid params",
				Data:    err.Error(),
			}
		}
	}

	s.log.Info("client connected",
		"client", initParams.ClientInfo.Name,
		"version", initParams.ClientInfo.Version)

	result := &InitializeResult{
		ProtocolVersion: MCPVersion,
	}
	result.Capabilities.Tools = &ToolsCapability{}
	result.Capabilities.Resources = &ResourcesCapability{}
	result.Capabilities.Prompts = &PromptsCapability{}
	result.ServerInfo.Name = tools.ServerName
	result.ServerInfo.Version = tools.ServerVersion

	return result, nil
}

// ============================================================================
// Tools Handlers
// ============================================================================

// ToolsListResult represents the tools/list response.
type ToolsListResult struct {
	Tools []tools.ToolDefinition `json:"tools"`
}

func (s *Server) handleToolsList(_ context.Context) (*ToolsListResult, *Error) {
	return &ToolsListResult{
		Tools: s.tools.List(),
	}, nil
}

// ToolsCallParams represents the tools/call request parameters.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolsCallResult represents the tools/call response.
type ToolsCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a content block in tool results.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (*ToolsCallResult, *Error) {
	startTime := time.Now()

	var callParams ToolsCallParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid params",
			Data:    err.Error(),
		}
	}

	if !s.rateLimiter.Allow() {
		if s.auditLogger != nil {
			s.auditLogger.Log(audit.Event{
				Level:     audit.LevelWarning,
				Category:  toolCategory(callParams.Name),
				Operation: callParams.Name,
				Success:   false,
				Error:     "rate limit exceeded",
			})
		}
		metrics.ToolCalls.WithLabelValues(callParams.Name, "throttled").Inc()
		return &ToolsCallResult{
			Content: []ContentBlock{
				{Type: "text", Text: "Error: rate limit exceeded, please try again later"},
			},
			IsError: true,
		}, nil
	}

	result, err := s.tools.Call(ctx, callParams.Name, callParams.Arguments)
	duration := time.Since(startTime)

	s.auditToolCall(ctx, callParams, duration, err)

	if err != nil {
		metrics.ToolCalls.WithLabelValues(callParams.Name, "error").Inc()
		return &ToolsCallResult{
			Content: []ContentBlock{
				{Type: "text", Text: fmt.Sprintf("Error: %v", err)},
			},
			IsError: true,
		}, nil
	}
	metrics.ToolCalls.WithLabelValues(callParams.Name, "ok").Inc()

	resultJSON, _ := json.MarshalIndent(result, "", "  ")

	return &ToolsCallResult{
		Content: []ContentBlock{
			{Type: "text", Text: string(resultJSON)},
		},
	}, nil
}

// toolCategory maps a tool name to its audit category. execute_query is the
// only tool that can modify data, so it audits as a write.
func toolCategory(name string) audit.Category {
	switch {
	case name == "execute_query":
		return audit.CategoryWrite
	case name == "server_info":
		return audit.CategoryAdmin
	case strings.HasPrefix(name, "show_") || strings.HasPrefix(name, "describe_"):
		return audit.CategoryQuery
	default:
		return audit.CategoryQuery
	}
}

// auditToolCall records a completed tool call. execute_query audits the raw
// statement, server_info as an admin operation, everything else as a query.
func (s *Server) auditToolCall(ctx context.Context, call ToolsCallParams, duration time.Duration, err error) {
	if s.auditLogger == nil {
		return
	}

	switch toolCategory(call.Name) {
	case audit.CategoryWrite:
		var args struct {
			Query string `json:"query"`
		}
		if len(call.Arguments) > 0 {
			json.Unmarshal(call.Arguments, &args)
		}
		s.auditLogger.LogWrite(ctx, call.Name, s.config.Database, s.config.Schema, args.Query, 0, duration, err)
	case audit.CategoryAdmin:
		s.auditLogger.LogAdmin(ctx, call.Name, nil, duration, err)
	default:
		s.auditLogger.LogQuery(ctx, call.Name, s.config.Database, s.config.Schema, "", 0, duration, err)
	}
}

// errorString returns error string or empty if nil.
func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ============================================================================
// Resources Handlers
// ============================================================================

// ResourcesListResult represents the resources/list response.
type ResourcesListResult struct {
	Resources []resources.ResourceDefinition `json:"resources"`
}

func (s *Server) handleResourcesList(_ context.Context) (*ResourcesListResult, *Error) {
	return &ResourcesListResult{
		Resources: s.resources.List(),
	}, nil
}

// ResourcesReadParams represents the resources/read request parameters.
type ResourcesReadParams struct {
	URI string `json:"uri"`
}

// ResourcesReadResult represents the resources/read response.
type ResourcesReadResult struct {
	Contents []ResourceContent `json:"contents"`
}

// ResourceContent represents a resource content block.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

func (s *Server) handleResourcesRead(ctx context.Context, params json.RawMessage) (*ResourcesReadResult, *Error) {
	var readParams ResourcesReadParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid params",
			Data:    err.Error(),
		}
	}

	content, mimeType, err := s.resources.Read(ctx, readParams.URI)
	if err != nil {
		return nil, &Error{
			Code:    InternalError,
			Message: "Resource read failed",
			Data:    err.Error(),
		}
	}

	return &ResourcesReadResult{
		Contents: []ResourceContent{
			{
				URI:      readParams.URI,
				MimeType: mimeType,
				Text:     content,
			},
		},
	}, nil
}

// ============================================================================
// Prompts Handlers
// ============================================================================

// PromptsListResult represents the prompts/list response.
type PromptsListResult struct {
	Prompts []interface{} `json:"prompts"`
}

func (s *Server) handlePromptsList(_ context.Context) (*PromptsListResult, *Error) {
	// No prompts defined for now
	return &PromptsListResult{
		Prompts: []interface{}{},
	}, nil
}

// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/matt-atadata/snowflake-mcp-server/internal/snowflake"
	"github.com/matt-atadata/snowflake-mcp-server/internal/tools"
	"github.com/matt-atadata/snowflake-mcp-server/pkg/config"
)

type scriptSession struct {
	commands []string
	results  map[string]*snowflake.Result
}

func (s *scriptSession) Exec(_ context.Context, command string) (*snowflake.Result, error) {
	s.commands = append(s.commands, command)
	if res, ok := s.results[command]; ok {
		return res, nil
	}
	return &snowflake.Result{}, nil
}

func (s *scriptSession) Close() error { return nil }

type fakePool struct {
	session *scriptSession
}

func (p *fakePool) Acquire(context.Context) (*snowflake.Conn, error) {
	return snowflake.NewConn(p.session), nil
}

func (p *fakePool) Release(context.Context, *snowflake.Conn) {}

func (p *fakePool) Stats() map[string]int { return map[string]int{} }

func newTestServer() (*Server, *fakePool) {
	pool := &fakePool{session: &scriptSession{results: make(map[string]*snowflake.Result)}}
	cfg := config.DefaultConfig()
	cfg.Account = "myacct"
	cfg.User = "alice"
	cfg.Audit.Enabled = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(pool, cfg, nil, logger), pool
}

func handle(t *testing.T, s *Server, message string) *Response {
	t.Helper()
	return s.handleMessage(context.Background(), []byte(message))
}

func TestHandleInitialize(t *testing.T) {
	s, _ := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test-client","version":"1.0"}}}`)
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}

	result, ok := resp.Result.(*InitializeResult)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if result.ProtocolVersion != MCPVersion {
		t.Errorf("protocol version = %s", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != tools.ServerName {
		t.Errorf("server name = %s", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil || result.Capabilities.Resources == nil {
		t.Error("expected tools and resources capabilities advertised")
	}
}

func TestHandleParseError(t *testing.T) {
	s, _ := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":`)
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("expected parse error, got %+v", resp.Error)
	}
}

func TestHandleInvalidVersion(t *testing.T) {
	s, _ := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"1.0","id":1,"method":"initialize"}`)
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("expected invalid request error, got %+v", resp.Error)
	}
}

func TestHandleMethodNotFound(t *testing.T) {
	s, _ := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"no/such/method"}`)
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("expected method not found error, got %+v", resp.Error)
	}
}

func TestHandleToolsList(t *testing.T) {
	s, _ := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if resp.Error != nil {
		t.Fatalf("tools/list failed: %+v", resp.Error)
	}

	result := resp.Result.(*ToolsListResult)
	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"execute_query", "server_info", "show_tables", "describe_table"} {
		if !names[want] {
			t.Errorf("tools/list missing %s", want)
		}
	}
}

func TestHandleToolsCall(t *testing.T) {
	s, pool := newTestServer()
	pool.session.results["SHOW TABLES IN MYDB.PUBLIC"] = &snowflake.Result{
		Columns: []string{"name"},
		Rows:    [][]any{{"ORDERS"}},
	}

	resp := handle(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"show_tables","arguments":{"database":"MYDB","schema":"PUBLIC"}}}`)
	if resp.Error != nil {
		t.Fatalf("tools/call failed: %+v", resp.Error)
	}

	result := resp.Result.(*ToolsCallResult)
	if result.IsError {
		t.Fatalf("tool reported error: %s", result.Content[0].Text)
	}
	if !strings.Contains(result.Content[0].Text, "ORDERS") {
		t.Errorf("content = %s", result.Content[0].Text)
	}
}

func TestHandleToolsCallError(t *testing.T) {
	s, _ := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"execute_query","arguments":{"query":"DROP TABLE t"}}}`)
	if resp.Error != nil {
		t.Fatalf("expected in-band tool error, got protocol error %+v", resp.Error)
	}

	result := resp.Result.(*ToolsCallResult)
	if !result.IsError {
		t.Error("expected IsError set for rejected write")
	}
	if !strings.Contains(result.Content[0].Text, "write operations are not allowed") {
		t.Errorf("content = %s", result.Content[0].Text)
	}
}

func TestHandleToolsCallRateLimited(t *testing.T) {
	pool := &fakePool{session: &scriptSession{results: make(map[string]*snowflake.Result)}}
	cfg := config.DefaultConfig()
	cfg.Account = "myacct"
	cfg.User = "alice"
	cfg.Audit.Enabled = false
	cfg.Audit.RateLimitRPS = 0.001
	cfg.Audit.RateLimitBurst = 1
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(pool, cfg, nil, logger)

	first := handle(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"show_roles","arguments":{}}}`)
	if first.Result.(*ToolsCallResult).IsError {
		t.Fatal("first call should pass the limiter")
	}

	second := handle(t, s, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"show_roles","arguments":{}}}`)
	result := second.Result.(*ToolsCallResult)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "rate limit") {
		t.Errorf("expected rate limit rejection, got %s", result.Content[0].Text)
	}
}

func TestHandleResourcesRead(t *testing.T) {
	s, pool := newTestServer()
	pool.session.results["SHOW TERSE DATABASES"] = &snowflake.Result{
		Columns: []string{"created_on", "name"},
		Rows:    [][]any{{"2024-01-01", "SALES"}},
	}

	resp := handle(t, s, `{"jsonrpc":"2.0","id":7,"method":"resources/read","params":{"uri":"snowflake://databases"}}`)
	if resp.Error != nil {
		t.Fatalf("resources/read failed: %+v", resp.Error)
	}

	result := resp.Result.(*ResourcesReadResult)
	if len(result.Contents) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(result.Contents))
	}
	content := result.Contents[0]
	if content.MimeType != "application/json" || !strings.Contains(content.Text, "SALES") {
		t.Errorf("content = %+v", content)
	}
}

func TestHandleResourcesReadUnknown(t *testing.T) {
	s, _ := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","id":8,"method":"resources/read","params":{"uri":"snowflake://nope"}}`)
	if resp.Error == nil || resp.Error.Code != InternalError {
		t.Errorf("expected internal error, got %+v", resp.Error)
	}
}

func TestHandlePromptsList(t *testing.T) {
	s, _ := newTestServer()

	resp := handle(t, s, `{"jsonrpc":"2.0","id":9,"method":"prompts/list"}`)
	if resp.Error != nil {
		t.Fatalf("prompts/list failed: %+v", resp.Error)
	}
	if result := resp.Result.(*PromptsListResult); len(result.Prompts) != 0 {
		t.Errorf("expected empty prompt list, got %d", len(result.Prompts))
	}
}

func TestToolCategory(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"execute_query", "WRITE"},
		{"server_info", "ADMIN"},
		{"show_tables", "QUERY"},
		{"describe_warehouse", "QUERY"},
		{"unknown_tool", "QUERY"},
	}
	for _, tt := range tests {
		if got := string(toolCategory(tt.name)); got != tt.want {
			t.Errorf("toolCategory(%s) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	if errorString(nil) != "" {
		t.Error("expected empty string for nil error")
	}
	if errorString(context.Canceled) != "context canceled" {
		t.Errorf("errorString = %s", errorString(context.Canceled))
	}
}

func TestNotificationsHaveNoResult(t *testing.T) {
	s, _ := newTestServer()

	for _, method := range []string{"initialized", "shutdown"} {
		resp := handle(t, s, `{"jsonrpc":"2.0","method":"`+method+`"}`)
		if resp.Error != nil {
			t.Errorf("%s returned error %+v", method, resp.Error)
		}
		if resp.Result != nil {
			t.Errorf("%s returned result %v", method, resp.Result)
		}
	}
}

func TestResponseSerialization(t *testing.T) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Error: &Error{
			Code:    InvalidParams,
			Message: "Invalid params",
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	errorObj := parsed["error"].(map[string]interface{})
	if errorObj["code"].(float64) != float64(InvalidParams) {
		t.Errorf("code = %v", errorObj["code"])
	}
	if _, hasResult := parsed["result"]; hasResult {
		t.Error("error response must not carry a result")
	}
}

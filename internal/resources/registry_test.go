// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package resources

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/matt-atadata/snowflake-mcp-server/internal/snowflake"
	"github.com/matt-atadata/snowflake-mcp-server/pkg/config"
)

type scriptSession struct {
	commands []string
	fail     map[string]error
	results  map[string]*snowflake.Result
}

func newScriptSession() *scriptSession {
	return &scriptSession{
		fail:    make(map[string]error),
		results: make(map[string]*snowflake.Result),
	}
}

func (s *scriptSession) Exec(_ context.Context, command string) (*snowflake.Result, error) {
	s.commands = append(s.commands, command)
	if err, ok := s.fail[command]; ok {
		return nil, err
	}
	if res, ok := s.results[command]; ok {
		return res, nil
	}
	return &snowflake.Result{}, nil
}

func (s *scriptSession) Close() error { return nil }

type fakePool struct {
	session  *scriptSession
	acquired int
	released int
}

func (p *fakePool) Acquire(context.Context) (*snowflake.Conn, error) {
	p.acquired++
	return snowflake.NewConn(p.session), nil
}

func (p *fakePool) Release(context.Context, *snowflake.Conn) {
	p.released++
}

func newTestRegistry() (*Registry, *fakePool) {
	pool := &fakePool{session: newScriptSession()}
	cfg := config.DefaultConfig()
	cfg.Database = "SALES"
	cfg.Schema = "PUBLIC"
	return NewRegistry(pool, cfg), pool
}

func databaseListing(names ...string) *snowflake.Result {
	rows := make([][]any, 0, len(names))
	for _, n := range names {
		rows = append(rows, []any{"2024-01-01", n, "STANDARD"})
	}
	return &snowflake.Result{
		Columns: []string{"created_on", "name", "kind"},
		Rows:    rows,
	}
}

func TestListIncludesDatabaseResources(t *testing.T) {
	r, pool := newTestRegistry()
	pool.session.results["SHOW TERSE DATABASES"] = databaseListing("SALES", "MARKETING")

	resources := r.List()
	uris := make(map[string]bool, len(resources))
	for _, res := range resources {
		uris[res.URI] = true
		if res.MimeType != "application/json" {
			t.Errorf("resource %s has mime type %q", res.URI, res.MimeType)
		}
	}

	for _, want := range []string{
		"snowflake://databases",
		"snowflake://SALES/schemas",
		"snowflake://MARKETING/schemas",
		"snowflake://SALES/PUBLIC/tables",
	} {
		if !uris[want] {
			t.Errorf("missing resource URI %s", want)
		}
	}
}

func TestListDegradesWithoutConnection(t *testing.T) {
	r, pool := newTestRegistry()
	pool.session.fail["SHOW TERSE DATABASES"] = errors.New("network error")

	resources := r.List()
	if len(resources) == 0 {
		t.Fatal("expected static resources even when listing fails")
	}
	if resources[0].URI != "snowflake://databases" {
		t.Errorf("first resource = %s", resources[0].URI)
	}
}

func TestReadDatabases(t *testing.T) {
	r, pool := newTestRegistry()
	pool.session.results["SHOW TERSE DATABASES"] = databaseListing("SALES")

	content, mime, err := r.Read(context.Background(), "snowflake://databases")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if mime != "application/json" {
		t.Errorf("mime = %q", mime)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal([]byte(content), &records); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(records) != 1 || records[0]["name"] != "SALES" {
		t.Errorf("records = %v", records)
	}
	if pool.released != pool.acquired {
		t.Errorf("connection leaked: acquired %d, released %d", pool.acquired, pool.released)
	}
}

func TestReadSchemasScopesCommand(t *testing.T) {
	r, pool := newTestRegistry()

	if _, _, err := r.Read(context.Background(), "snowflake://SALES/schemas"); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := "SHOW TERSE SCHEMAS IN DATABASE SALES"
	if got := pool.session.commands[len(pool.session.commands)-1]; got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestReadTablesScopesCommand(t *testing.T) {
	r, pool := newTestRegistry()

	if _, _, err := r.Read(context.Background(), "snowflake://SALES/PUBLIC/tables"); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := "SHOW TERSE TABLES IN SALES.PUBLIC"
	if got := pool.session.commands[len(pool.session.commands)-1]; got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestReadColumnsBuildsTableSchema(t *testing.T) {
	r, pool := newTestRegistry()
	pool.session.results["DESCRIBE TABLE SALES.PUBLIC.ORDERS"] = &snowflake.Result{
		Columns: []string{"name", "type", "kind", "null?", "default"},
		Rows: [][]any{
			{"ID", "NUMBER(38,0)", "COLUMN", "N", nil},
			{"NOTE", "VARCHAR(100)", "COLUMN", "Y", "''"},
			{"PK_ORDERS", "", "PRIMARY KEY", "N", nil},
		},
	}

	content, _, err := r.Read(context.Background(), "snowflake://SALES/PUBLIC/ORDERS/columns")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	var schema TableSchema
	if err := json.Unmarshal([]byte(content), &schema); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if schema.Database != "SALES" || schema.Schema != "PUBLIC" || schema.Table != "ORDERS" {
		t.Errorf("schema identity = %+v", schema)
	}
	if len(schema.Columns) != 2 {
		t.Fatalf("expected 2 columns (constraint row skipped), got %d", len(schema.Columns))
	}
	if schema.Columns[0].Name != "ID" || schema.Columns[0].Nullable {
		t.Errorf("first column = %+v", schema.Columns[0])
	}
	if !schema.Columns[1].Nullable || schema.Columns[1].Default != "''" {
		t.Errorf("second column = %+v", schema.Columns[1])
	}
}

func TestReadRejectsInvalidScheme(t *testing.T) {
	r, _ := newTestRegistry()

	for _, uri := range []string{"http://databases", "databases", ""} {
		if _, _, err := r.Read(context.Background(), uri); err == nil {
			t.Errorf("expected scheme rejection for %q", uri)
		}
	}
}

func TestReadRejectsUnknownResource(t *testing.T) {
	r, _ := newTestRegistry()

	_, _, err := r.Read(context.Background(), "snowflake://SALES/PUBLIC/ORDERS/stats")
	if err == nil || !strings.Contains(err.Error(), "unknown resource") {
		t.Errorf("expected unknown resource error, got %v", err)
	}
}

func TestReadRejectsInvalidIdentifier(t *testing.T) {
	r, pool := newTestRegistry()

	_, _, err := r.Read(context.Background(), "snowflake://SALES; DROP TABLE x/schemas")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if pool.acquired != 0 {
		t.Error("expected no connection acquired for invalid identifier")
	}
}

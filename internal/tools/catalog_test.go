// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"testing"
)

func kindByName(t *testing.T, singular string) objectKind {
	t.Helper()
	for _, k := range catalog {
		if k.singular == singular {
			return k
		}
	}
	t.Fatalf("no catalog entry for %s", singular)
	return objectKind{}
}

func TestListCommandGrammar(t *testing.T) {
	tests := []struct {
		name string
		kind string
		args listArgs
		want string
	}{
		{"tables unscoped", "table", listArgs{}, "SHOW TABLES"},
		{"tables in schema", "table", listArgs{Database: "MYDB", Schema: "PUBLIC"}, "SHOW TABLES IN MYDB.PUBLIC"},
		{"tables in database", "table", listArgs{Database: "MYDB"}, "SHOW TABLES IN DATABASE MYDB"},
		{"tables schema without database ignored", "table", listArgs{Schema: "PUBLIC"}, "SHOW TABLES"},
		{"schemas in database", "schema", listArgs{Database: "MYDB"}, "SHOW SCHEMAS IN DATABASE MYDB"},
		{"schemas ignore schema arg", "schema", listArgs{Database: "MYDB", Schema: "PUBLIC"}, "SHOW SCHEMAS IN DATABASE MYDB"},
		{"shares in database", "share", listArgs{Database: "MYDB"}, "SHOW SHARES IN DATABASE MYDB"},
		{"databases with pattern", "database", listArgs{Pattern: "PROD%"}, "SHOW DATABASES LIKE 'PROD%'"},
		{"databases without pattern", "database", listArgs{}, "SHOW DATABASES"},
		{"application roles", "application role", listArgs{ApplicationName: "MYAPP"}, "SHOW APPLICATION_ROLES IN APPLICATION MYAPP"},
		{"columns in table", "column", listArgs{TableName: "ORDERS", Database: "MYDB", Schema: "PUBLIC"}, "SHOW COLUMNS IN TABLE MYDB.PUBLIC.ORDERS"},
		{"columns in schema", "column", listArgs{Database: "MYDB", Schema: "PUBLIC"}, "SHOW COLUMNS IN MYDB.PUBLIC"},
		{"columns in database", "column", listArgs{Database: "MYDB"}, "SHOW COLUMNS IN DATABASE MYDB"},
		{"warehouses unscoped", "warehouse", listArgs{}, "SHOW WAREHOUSES"},
		{"grants unscoped", "grant", listArgs{}, "SHOW GRANTS"},
		{"materialized views keyword", "materialized view", listArgs{}, "SHOW MATERIALIZED_VIEWS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := listCommand(kindByName(t, tt.kind), tt.args)
			if err != nil {
				t.Fatalf("listCommand failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListCommandColumnsRequireFullScope(t *testing.T) {
	_, err := listCommand(kindByName(t, "column"), listArgs{TableName: "ORDERS"})
	if err == nil {
		t.Error("expected error when table_name lacks database and schema")
	}
}

func TestDescribeCommandGrammar(t *testing.T) {
	tests := []struct {
		name string
		kind string
		args describeArgs
		want string
	}{
		{"table fully qualified", "table", describeArgs{Name: "ORDERS", Database: "MYDB", Schema: "PUBLIC"}, "DESCRIBE TABLE MYDB.PUBLIC.ORDERS"},
		{"table database qualified", "table", describeArgs{Name: "ORDERS", Database: "MYDB"}, "DESCRIBE TABLE MYDB.ORDERS"},
		{"table bare", "table", describeArgs{Name: "ORDERS"}, "DESCRIBE TABLE ORDERS"},
		{"warehouse global", "warehouse", describeArgs{Name: "WH_MAIN"}, "DESCRIBE WAREHOUSE WH_MAIN"},
		{"schema in database", "schema", describeArgs{Name: "PUBLIC", Database: "MYDB"}, "DESCRIBE SCHEMA MYDB.PUBLIC"},
		{"schema bare", "schema", describeArgs{Name: "PUBLIC"}, "DESCRIBE SCHEMA PUBLIC"},
		{"application role", "application role", describeArgs{Name: "VIEWER", ApplicationName: "MYAPP"}, "DESCRIBE APPLICATION_ROLE MYAPP.VIEWER"},
		{"column", "column", describeArgs{Name: "ID", Table: "ORDERS", Database: "MYDB", Schema: "PUBLIC"}, "DESCRIBE COLUMN MYDB.PUBLIC.ORDERS.ID"},
		{"column bare table", "column", describeArgs{Name: "ID", Table: "ORDERS"}, "DESCRIBE COLUMN ORDERS.ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := describeCommand(kindByName(t, tt.kind), tt.args)
			if err != nil {
				t.Fatalf("describeCommand failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescribeCommandAccount(t *testing.T) {
	got, err := describeCommand(accountKind, describeArgs{Name: "MYORG"})
	if err != nil {
		t.Fatalf("describeCommand failed: %v", err)
	}
	if got != "DESCRIBE ACCOUNT MYORG" {
		t.Errorf("got %q", got)
	}
}

func TestDescribeCommandErrors(t *testing.T) {
	if _, err := describeCommand(kindByName(t, "table"), describeArgs{}); err == nil {
		t.Error("expected error without a name")
	}
	if _, err := describeCommand(kindByName(t, "column"), describeArgs{Name: "ID"}); err == nil {
		t.Error("expected error describing a column without a table")
	}
	if _, err := describeCommand(kindByName(t, "grant"), describeArgs{Name: "X"}); err == nil {
		t.Error("expected error for a kind without a describe command")
	}
}

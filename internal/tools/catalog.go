// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"fmt"
)

// ============================================================================
// Object Catalog
// ============================================================================

// listScope selects the scoping grammar a SHOW command accepts.
type listScope int

const (
	// listNone takes no scoping arguments: SHOW <KIND>.
	listNone listScope = iota
	// listSchema accepts IN db.schema or IN DATABASE db.
	listSchema
	// listDatabase accepts IN DATABASE db only.
	listDatabase
	// listPattern accepts LIKE 'pattern'.
	listPattern
	// listApplication accepts IN APPLICATION app.
	listApplication
	// listTable accepts IN TABLE db.schema.table as well as the schema scopes.
	listTable
)

// descScope selects how a DESCRIBE target name is qualified.
type descScope int

const (
	// descNone means the kind has no describe command.
	descNone descScope = iota
	// descQualified accepts name, db.name, or db.schema.name.
	descQualified
	// descGlobal accepts a bare name only.
	descGlobal
	// descDatabase accepts name or db.name.
	descDatabase
	// descApplication qualifies the name with an application.
	descApplication
	// descColumn qualifies a column by its table.
	descColumn
)

// objectKind describes one Snowflake object type the catalog exposes.
type objectKind struct {
	// singular and plural are the human names: "table", "tables".
	singular string
	plural   string
	// showKeyword is the SQL keyword after SHOW: "EXTERNAL_TABLES".
	showKeyword string
	// descKeyword is the SQL keyword after DESCRIBE, "" when descScope is descNone.
	descKeyword string
	listScope   listScope
	descScope   descScope
}

// catalog is the static table of object kinds. It drives both tool
// registration and command construction; the SQL grammar per kind follows
// the SHOW/DESCRIBE scoping Snowflake documents for each object type.
var catalog = []objectKind{
	{"alert", "alerts", "ALERTS", "ALERT", listSchema, descQualified},
	{"application", "applications", "APPLICATIONS", "APPLICATION", listSchema, descQualified},
	{"application role", "application roles", "APPLICATION_ROLES", "APPLICATION_ROLE", listApplication, descApplication},
	{"column", "columns", "COLUMNS", "COLUMN", listTable, descColumn},
	{"connection", "connections", "CONNECTIONS", "CONNECTION", listSchema, descQualified},
	{"database", "databases", "DATABASES", "DATABASE", listPattern, descGlobal},
	{"external function", "external functions", "EXTERNAL_FUNCTIONS", "EXTERNAL_FUNCTION", listSchema, descQualified},
	{"external table", "external tables", "EXTERNAL_TABLES", "EXTERNAL_TABLE", listSchema, descQualified},
	{"function", "functions", "FUNCTIONS", "FUNCTION", listSchema, descQualified},
	{"grant", "grants", "GRANTS", "", listNone, descNone},
	{"integration", "integrations", "INTEGRATIONS", "INTEGRATION", listNone, descGlobal},
	{"lock", "locks", "LOCKS", "", listNone, descNone},
	{"managed account", "managed accounts", "MANAGED_ACCOUNTS", "", listNone, descNone},
	{"materialized view", "materialized views", "MATERIALIZED_VIEWS", "MATERIALIZED_VIEW", listSchema, descQualified},
	{"network policy", "network policies", "NETWORK_POLICIES", "NETWORK_POLICY", listNone, descGlobal},
	{"object", "objects", "OBJECTS", "", listSchema, descNone},
	{"parameter", "parameters", "PARAMETERS", "", listSchema, descNone},
	{"pipe", "pipes", "PIPES", "PIPE", listSchema, descQualified},
	{"procedure", "procedures", "PROCEDURES", "PROCEDURE", listSchema, descQualified},
	{"region", "regions", "REGIONS", "", listNone, descNone},
	{"replication database", "replication databases", "REPLICATION_DATABASES", "REPLICATION_DATABASE", listNone, descGlobal},
	{"replication group", "replication groups", "REPLICATION_GROUPS", "REPLICATION_GROUP", listNone, descGlobal},
	{"role", "roles", "ROLES", "ROLE", listNone, descGlobal},
	{"schema", "schemas", "SCHEMAS", "SCHEMA", listDatabase, descDatabase},
	{"sequence", "sequences", "SEQUENCES", "SEQUENCE", listSchema, descQualified},
	{"service", "services", "SERVICES", "SERVICE", listSchema, descQualified},
	{"share", "shares", "SHARES", "SHARE", listDatabase, descGlobal},
	{"stage", "stages", "STAGES", "STAGE", listSchema, descQualified},
	{"stream", "streams", "STREAMS", "STREAM", listSchema, descQualified},
	{"table", "tables", "TABLES", "TABLE", listSchema, descQualified},
	{"task", "tasks", "TASKS", "TASK", listSchema, descQualified},
	{"transaction", "transactions", "TRANSACTIONS", "", listNone, descNone},
	{"user", "users", "USERS", "USER", listNone, descGlobal},
	{"view", "views", "VIEWS", "VIEW", listSchema, descQualified},
	{"warehouse", "warehouses", "WAREHOUSES", "WAREHOUSE", listNone, descGlobal},
}

// accountKind is describe-only: SHOW has no matching listing in the catalog
// but DESCRIBE ACCOUNT exists.
var accountKind = objectKind{
	singular: "account", descKeyword: "ACCOUNT", descScope: descGlobal,
}

// listArgs are the scoping arguments for a show tool. Which fields are
// honoured depends on the kind's listScope.
type listArgs struct {
	Database        string `json:"database,omitempty"`
	Schema          string `json:"schema,omitempty"`
	Pattern         string `json:"pattern,omitempty"`
	ApplicationName string `json:"application_name,omitempty"`
	TableName       string `json:"table_name,omitempty"`
}

// describeArgs identify a describe target. Which fields are honoured
// depends on the kind's descScope.
type describeArgs struct {
	Name            string `json:"name"`
	Database        string `json:"database,omitempty"`
	Schema          string `json:"schema,omitempty"`
	Table           string `json:"table,omitempty"`
	ApplicationName string `json:"application_name,omitempty"`
}

// listCommand builds the SHOW statement for a kind. Arguments are assumed
// validated.
func listCommand(k objectKind, a listArgs) (string, error) {
	cmd := "SHOW " + k.showKeyword

	switch k.listScope {
	case listNone:
		// No scoping.
	case listSchema:
		if a.Database != "" && a.Schema != "" {
			cmd += fmt.Sprintf(" IN %s.%s", a.Database, a.Schema)
		} else if a.Database != "" {
			cmd += fmt.Sprintf(" IN DATABASE %s", a.Database)
		}
	case listDatabase:
		if a.Database != "" {
			cmd += fmt.Sprintf(" IN DATABASE %s", a.Database)
		}
	case listPattern:
		if a.Pattern != "" {
			cmd += fmt.Sprintf(" LIKE '%s'", a.Pattern)
		}
	case listApplication:
		if a.ApplicationName != "" {
			cmd += fmt.Sprintf(" IN APPLICATION %s", a.ApplicationName)
		}
	case listTable:
		if a.TableName != "" {
			if a.Database == "" || a.Schema == "" {
				return "", fmt.Errorf("table_name requires both database and schema")
			}
			cmd += fmt.Sprintf(" IN TABLE %s.%s.%s", a.Database, a.Schema, a.TableName)
		} else if a.Database != "" && a.Schema != "" {
			cmd += fmt.Sprintf(" IN %s.%s", a.Database, a.Schema)
		} else if a.Database != "" {
			cmd += fmt.Sprintf(" IN DATABASE %s", a.Database)
		}
	}

	return cmd, nil
}

// describeCommand builds the DESCRIBE statement for a kind. Arguments are
// assumed validated.
func describeCommand(k objectKind, a describeArgs) (string, error) {
	if a.Name == "" {
		return "", fmt.Errorf("name is required")
	}

	cmd := "DESCRIBE " + k.descKeyword + " "

	switch k.descScope {
	case descGlobal:
		cmd += a.Name
	case descDatabase:
		if a.Database != "" {
			cmd += fmt.Sprintf("%s.%s", a.Database, a.Name)
		} else {
			cmd += a.Name
		}
	case descQualified:
		if a.Database != "" && a.Schema != "" {
			cmd += fmt.Sprintf("%s.%s.%s", a.Database, a.Schema, a.Name)
		} else if a.Database != "" {
			cmd += fmt.Sprintf("%s.%s", a.Database, a.Name)
		} else {
			cmd += a.Name
		}
	case descApplication:
		if a.ApplicationName != "" {
			cmd += fmt.Sprintf("%s.%s", a.ApplicationName, a.Name)
		} else {
			cmd += a.Name
		}
	case descColumn:
		if a.Table == "" {
			return "", fmt.Errorf("table is required to describe a column")
		}
		qualified := a.Table
		if a.Database != "" && a.Schema != "" {
			qualified = fmt.Sprintf("%s.%s.%s", a.Database, a.Schema, a.Table)
		}
		cmd += fmt.Sprintf("%s.%s", qualified, a.Name)
	default:
		return "", fmt.Errorf("%s cannot be described", k.singular)
	}

	return cmd, nil
}

// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package snowflake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ============================================================================
// Session Initialization
// ============================================================================

// sessionParams are applied to every fresh session. Statement timeout keeps
// runaway queries bounded; the query tag identifies this server in query
// history.
const sessionParams = "ALTER SESSION SET " +
	"STATEMENT_TIMEOUT_IN_SECONDS = 300 " +
	"TIMEZONE = 'UTC' " +
	"USE_CACHED_RESULT = TRUE " +
	"QUERY_TAG = 'Snowflake_MCP_Server'"

// initSession prepares a freshly dialed session for use. Only the role step
// is fatal: a session that cannot assume its role must not be handed out.
// Warehouse, database, schema, and session parameters degrade with a
// warning. Returns the warehouse the session actually activated, which may
// differ from the configured one after fallback.
func initSession(ctx context.Context, sess Session, p Principal, log *slog.Logger) (string, error) {
	if _, err := sess.Exec(ctx, "USE ROLE "+p.Role); err != nil {
		return "", &PermissionError{Role: p.Role, Err: err}
	}

	warehouse := activateWarehouse(ctx, sess, p.Warehouse, log)

	if p.Database != "" {
		if _, err := sess.Exec(ctx, "USE DATABASE "+p.Database); err != nil {
			log.Warn("could not activate database", "database", p.Database, "error", err)
		}
	}

	if p.Schema != "" {
		if _, err := sess.Exec(ctx, "USE SCHEMA "+p.Schema); err != nil {
			log.Warn("could not activate schema", "schema", p.Schema, "error", err)
		}
	}

	if _, err := sess.Exec(ctx, sessionParams); err != nil {
		log.Warn("could not apply session parameters", "error", err)
	}

	return warehouse, nil
}

// activateWarehouse tries the configured warehouse first, then falls back to
// the first other warehouse the role can use. A session without a warehouse
// is still usable for metadata commands, so failure here never aborts init.
func activateWarehouse(ctx context.Context, sess Session, configured string, log *slog.Logger) string {
	if configured == "" {
		return ""
	}

	_, err := sess.Exec(ctx, "USE WAREHOUSE "+configured)
	if err == nil {
		return configured
	}

	if strings.Contains(err.Error(), "Insufficient privileges") {
		log.Warn("role lacks usage privilege on configured warehouse, searching for another",
			"warehouse", configured, "error", err)
	} else {
		log.Warn("could not activate configured warehouse, searching for another",
			"warehouse", configured, "error", err)
	}

	res, err := sess.Exec(ctx, "SHOW WAREHOUSES")
	if err != nil {
		log.Warn("could not list warehouses for fallback", "error", err)
		return ""
	}

	nameCol := -1
	for i, col := range res.Columns {
		if strings.EqualFold(col, "name") {
			nameCol = i
			break
		}
	}
	if nameCol < 0 {
		log.Warn("warehouse listing missing name column, no fallback available")
		return ""
	}

	for _, row := range res.Rows {
		if nameCol >= len(row) {
			continue
		}
		name := asString(row[nameCol])
		if name == "" || strings.EqualFold(name, configured) {
			continue
		}
		if _, err := sess.Exec(ctx, "USE WAREHOUSE "+name); err != nil {
			continue
		}
		log.Warn(fmt.Sprintf("using fallback warehouse %s instead of %s", name, configured))
		return name
	}

	log.Warn("no usable warehouse found, session will run without one",
		"configured", configured)
	return ""
}

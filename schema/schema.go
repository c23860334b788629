// Package schema bootstraps the store on open: one table per registered
// entity plus the audit sink, created if absent. Identifiers come from the
// registry, which only admits plain identifiers.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"

	"github.com/quantrail/tenantdb/audit"
	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/internal/log"
)

// Create issues CREATE TABLE IF NOT EXISTS statements for every registered
// entity and for the audit table, plus a tenant-column index on each scoped
// table.
func Create(ctx context.Context, db *sql.DB, d string, registry *entity.Registry) error {
	stmts, err := Statements(d, registry)
	if err != nil {
		return err
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}

	log.Debug(ctx, "schema bootstrap complete", log.Int("statements", len(stmts)))

	return nil
}

// Statements returns the DDL without executing it.
func Statements(d string, registry *entity.Registry) ([]string, error) {
	var stmts []string

	for _, desc := range registry.Descriptors() {
		table, err := tableDDL(d, desc)
		if err != nil {
			return nil, err
		}

		stmts = append(stmts, table)

		if desc.Scoped() {
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
				desc.Table, desc.TenantColumn, desc.Table, desc.TenantColumn,
			))
		}
	}

	return append(stmts, auditDDL(d)), nil
}

func tableDDL(d string, desc *entity.Descriptor) (string, error) {
	cols := []string{
		fmt.Sprintf("%s %s PRIMARY KEY", desc.IDColumn, idType(d)),
	}

	if desc.Scoped() {
		cols = append(cols, fmt.Sprintf("%s %s NOT NULL", desc.TenantColumn, idType(d)))
	}

	for _, c := range desc.Columns {
		t, err := columnType(d, c.Type)
		if err != nil {
			return "", fmt.Errorf("schema: entity %q column %q: %w", desc.Name, c.Name, err)
		}

		def := fmt.Sprintf("%s %s", c.Name, t)
		if !c.Nullable {
			def += " NOT NULL"
		}

		cols = append(cols, def)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", desc.Table, strings.Join(cols, ", ")), nil
}

// idType is the storage type of tenant and primary-key identifiers:
// canonical uuid strings across all dialects.
func idType(d string) string {
	if d == dialect.MySQL {
		return "varchar(36)"
	}

	return "text"
}

func columnType(d string, t entity.ColumnType) (string, error) {
	switch t {
	case entity.ColumnString:
		if d == dialect.MySQL {
			return "varchar(255)", nil
		}

		return "text", nil
	case entity.ColumnInt:
		return "bigint", nil
	case entity.ColumnFloat:
		return "double precision", nil
	case entity.ColumnBool:
		return "boolean", nil
	case entity.ColumnTime:
		// Stored as RFC 3339 text for cross-dialect comparability.
		if d == dialect.MySQL {
			return "varchar(64)", nil
		}

		return "text", nil
	case entity.ColumnBytes:
		if d == dialect.Postgres {
			return "bytea", nil
		}

		return "blob", nil
	default:
		return "", fmt.Errorf("unsupported column type %d", t)
	}
}

func auditDDL(d string) string {
	id := idType(d)
	text := "text"

	if d == dialect.MySQL {
		text = "varchar(255)"
	}

	cols := []string{
		fmt.Sprintf("id %s PRIMARY KEY", id),
		fmt.Sprintf("tenant_id %s NOT NULL", text),
		fmt.Sprintf("actor_id %s NOT NULL", text),
		fmt.Sprintf("operation %s NOT NULL", text),
		fmt.Sprintf("entity_type %s NOT NULL", text),
		fmt.Sprintf("record_id %s NOT NULL", text),
		fmt.Sprintf("outcome %s NOT NULL", text),
		fmt.Sprintf("actor_capability %s NOT NULL", text),
		fmt.Sprintf("created_at %s NOT NULL", text),
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", audit.Table, strings.Join(cols, ", "))
}

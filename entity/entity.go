// Package entity holds the closed classification of record types. Every
// entity type the store can touch is registered up front as either scoped
// (tenant-isolated) or global (shared reference data); anything else is
// unknown, and unknown types fail closed everywhere.
package entity

import (
	"fmt"
	"maps"
	"regexp"
)

// Name identifies an entity type in the registry.
type Name string

// Kind classifies an entity type. The zero value is KindUnknown so an
// unregistered lookup can never masquerade as a classification.
type Kind int

const (
	KindUnknown Kind = iota

	// KindScoped marks record types that carry a tenant column and
	// participate in isolation.
	KindScoped

	// KindGlobal marks record types shared across all tenants, such as
	// regulatory reference tables.
	KindGlobal
)

func (k Kind) String() string {
	switch k {
	case KindScoped:
		return "scoped"
	case KindGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ColumnType is the logical type of a declared column, mapped to dialect SQL
// by the schema package.
type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnInt
	ColumnFloat
	ColumnBool
	ColumnTime
	ColumnBytes
)

// Column declares one application column of an entity. The id column and,
// for scoped entities, the tenant column are implicit and must not be
// redeclared.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// identRe constrains table and column names to plain SQL identifiers, so
// registry contents can never smuggle quoting tricks into generated DDL.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent reports whether s is a plain SQL identifier. The query compiler
// applies the same rule to caller-supplied column references.
func ValidIdent(s string) bool {
	return identRe.MatchString(s)
}

// Descriptor declares one entity type.
type Descriptor struct {
	Name  Name
	Table string
	Kind  Kind

	// IDColumn is the primary key column, defaulting to "id".
	IDColumn string

	// TenantColumn is the tenant discriminator for scoped entities,
	// defaulting to "tenant_id". Must be empty for global entities.
	TenantColumn string

	Columns []Column
}

func (d *Descriptor) normalize() error {
	if d.Name == "" {
		return fmt.Errorf("entity: descriptor without a name")
	}

	if d.Table == "" {
		d.Table = string(d.Name)
	}

	if d.IDColumn == "" {
		d.IDColumn = "id"
	}

	switch d.Kind {
	case KindScoped:
		if d.TenantColumn == "" {
			d.TenantColumn = "tenant_id"
		}
	case KindGlobal:
		if d.TenantColumn != "" {
			return fmt.Errorf("entity: global entity %q must not declare a tenant column", d.Name)
		}
	default:
		return fmt.Errorf("entity: entity %q has no classification", d.Name)
	}

	for _, ident := range d.identifiers() {
		if !identRe.MatchString(ident) {
			return fmt.Errorf("entity: %q is not a valid identifier (entity %q)", ident, d.Name)
		}
	}

	seen := map[string]bool{d.IDColumn: true}
	if d.TenantColumn != "" {
		seen[d.TenantColumn] = true
	}

	for _, c := range d.Columns {
		if seen[c.Name] {
			return fmt.Errorf("entity: duplicate or reserved column %q on entity %q", c.Name, d.Name)
		}

		seen[c.Name] = true
	}

	return nil
}

func (d *Descriptor) identifiers() []string {
	idents := []string{d.Table, d.IDColumn}
	if d.TenantColumn != "" {
		idents = append(idents, d.TenantColumn)
	}

	for _, c := range d.Columns {
		idents = append(idents, c.Name)
	}

	return idents
}

// ColumnNames returns every physical column of the entity, id and tenant
// columns first.
func (d *Descriptor) ColumnNames() []string {
	names := []string{d.IDColumn}
	if d.TenantColumn != "" {
		names = append(names, d.TenantColumn)
	}

	for _, c := range d.Columns {
		names = append(names, c.Name)
	}

	return names
}

// Scoped reports whether the entity participates in tenant isolation.
func (d *Descriptor) Scoped() bool {
	return d.Kind == KindScoped
}

// Record is one persisted or to-be-persisted row, keyed by column name.
type Record map[string]any

// Clone returns a shallow copy; mutation paths operate on clones so caller
// maps are never modified in place.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}

	return maps.Clone(r)
}

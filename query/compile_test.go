package query

import (
	"testing"

	"entgo.io/ent/dialect"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/tenancy"
)

func testRegistry(t *testing.T) *entity.Registry {
	t.Helper()

	reg, err := entity.NewRegistry(
		entity.Descriptor{
			Name: "invoices", Kind: entity.KindScoped,
			Columns: []entity.Column{
				{Name: "amount", Type: entity.ColumnInt},
				{Name: "status", Type: entity.ColumnString},
			},
		},
		entity.Descriptor{
			Name: "payments", Kind: entity.KindScoped,
			Columns: []entity.Column{
				{Name: "invoice_id", Type: entity.ColumnString},
			},
		},
		entity.Descriptor{
			Name: "currencies", Kind: entity.KindGlobal,
			Columns: []entity.Column{
				{Name: "code", Type: entity.ColumnString},
			},
		},
	)
	require.NoError(t, err)

	return reg
}

func TestCompileSelect(t *testing.T) {
	c := NewCompiler(dialect.SQLite, testRegistry(t))

	t.Run("full projection", func(t *testing.T) {
		stmt, args, err := c.CompileSelect(From("invoices"))
		require.NoError(t, err)
		require.Empty(t, args)
		require.Contains(t, stmt, "SELECT")
		require.Contains(t, stmt, "FROM `invoices`")
		require.Contains(t, stmt, "`invoices`.`tenant_id`")
	})

	t.Run("where with placeholders", func(t *testing.T) {
		stmt, args, err := c.CompileSelect(
			From("invoices").Where(And(EQ(C("tenant_id"), "t1"), GT(C("amount"), 100))),
		)
		require.NoError(t, err)
		require.Contains(t, stmt, "WHERE")
		require.Contains(t, stmt, "`invoices`.`tenant_id` = ?")
		require.Contains(t, stmt, "`invoices`.`amount` > ?")
		require.Equal(t, []any{"t1", 100}, args)
	})

	t.Run("aliased join", func(t *testing.T) {
		stmt, _, err := c.CompileSelect(
			From("invoices").As("inv").
				Join("payments", "p", EQ(QC("p", "invoice_id"), "x")).
				Select(QC("inv", "id"), QC("p", "id")),
		)
		require.NoError(t, err)
		require.Contains(t, stmt, "JOIN `payments` AS `p`")
		require.Contains(t, stmt, "`p`.`invoice_id` = ?")
	})

	t.Run("subquery", func(t *testing.T) {
		stmt, args, err := c.CompileSelect(
			From("invoices").Where(InQuery(
				C("id"),
				From("payments").Select(C("invoice_id")).Where(EQ(C("invoice_id"), "abc")),
			)),
		)
		require.NoError(t, err)
		require.Contains(t, stmt, "IN (SELECT")
		require.Contains(t, stmt, "FROM `payments`")
		require.Equal(t, []any{"abc"}, args)
	})

	t.Run("order limit offset", func(t *testing.T) {
		stmt, _, err := c.CompileSelect(From("invoices").Desc(C("amount")).Take(10).Skip(5))
		require.NoError(t, err)
		require.Contains(t, stmt, "ORDER BY")
		require.Contains(t, stmt, "DESC")
		require.Contains(t, stmt, "LIMIT 10")
		require.Contains(t, stmt, "OFFSET 5")
	})

	t.Run("unknown root entity fails closed", func(t *testing.T) {
		_, _, err := c.CompileSelect(From("ledgers"))

		var uq *tenancy.UnsupportedQueryError
		require.ErrorAs(t, err, &uq)
		require.Equal(t, "ledgers", uq.Entity)
	})

	t.Run("unknown join entity fails closed", func(t *testing.T) {
		_, _, err := c.CompileSelect(
			From("invoices").Join("ledgers", "l", EQ(QC("l", "id"), 1)),
		)

		var uq *tenancy.UnsupportedQueryError
		require.ErrorAs(t, err, &uq)
	})

	t.Run("join without on rejected", func(t *testing.T) {
		_, _, err := c.CompileSelect(From("invoices").Join("payments", "p", nil))
		require.ErrorContains(t, err, "no ON predicate")
	})

	t.Run("duplicate alias rejected", func(t *testing.T) {
		_, _, err := c.CompileSelect(
			From("invoices").As("x").Join("payments", "x", EQ(QC("x", "id"), 1)),
		)
		require.ErrorContains(t, err, "duplicate reference alias")
	})

	t.Run("subquery alias may shadow an outer alias", func(t *testing.T) {
		stmt, _, err := c.CompileSelect(
			From("invoices").As("x").Where(Exists(
				From("payments").Join("invoices", "x", EQ(QC("x", "status"), "open")),
			)),
		)
		require.NoError(t, err)
		require.Contains(t, stmt, "JOIN `invoices` AS `x`")
	})

	t.Run("unknown alias rejected", func(t *testing.T) {
		_, _, err := c.CompileSelect(From("invoices").Where(EQ(QC("nope", "id"), 1)))
		require.ErrorContains(t, err, "unknown reference alias")
	})

	t.Run("hostile column name rejected", func(t *testing.T) {
		_, _, err := c.CompileSelect(From("invoices").Where(EQ(C("id = 1 OR 1"), 1)))
		require.ErrorContains(t, err, "not a valid column identifier")
	})

	t.Run("like requires a string", func(t *testing.T) {
		_, _, err := c.CompileSelect(From("invoices").Where(Like(C("status"), 42)))
		require.ErrorContains(t, err, "LIKE pattern must be a string")
	})

	t.Run("empty in rejected", func(t *testing.T) {
		_, _, err := c.CompileSelect(From("invoices").Where(In(C("status"))))
		require.ErrorContains(t, err, "no values")
	})
}

func TestCompileMutations(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(dialect.SQLite, reg)

	desc, ok := reg.Lookup("invoices")
	require.True(t, ok)

	t.Run("insert deterministic column order", func(t *testing.T) {
		stmt, args, err := c.CompileInsert(desc, entity.Record{
			"status": "open", "amount": 100, "id": "i1", "tenant_id": "t1",
		})
		require.NoError(t, err)
		require.Contains(t, stmt, "INSERT INTO `invoices`")
		require.Contains(t, stmt, "`amount`, `id`, `status`, `tenant_id`")
		require.Equal(t, []any{100, "i1", "open", "t1"}, args)
	})

	t.Run("insert rejects unregistered column", func(t *testing.T) {
		_, _, err := c.CompileInsert(desc, entity.Record{"nope": 1})
		require.ErrorContains(t, err, "not a column")
	})

	t.Run("update", func(t *testing.T) {
		stmt, args, err := c.CompileUpdate(desc, entity.Record{"status": "paid"},
			And(EQ(C("tenant_id"), "t1"), EQ(C("id"), "i1")))
		require.NoError(t, err)
		require.Contains(t, stmt, "UPDATE `invoices` SET `status` = ?")
		require.Contains(t, stmt, "`tenant_id` = ?")
		require.Equal(t, []any{"paid", "t1", "i1"}, args)
	})

	t.Run("update with no changes rejected", func(t *testing.T) {
		_, _, err := c.CompileUpdate(desc, entity.Record{}, EQ(C("id"), "i1"))
		require.ErrorContains(t, err, "no changes")
	})

	t.Run("delete", func(t *testing.T) {
		stmt, args, err := c.CompileDelete(desc, EQ(C("id"), "i1"))
		require.NoError(t, err)
		require.Contains(t, stmt, "DELETE FROM `invoices`")
		require.Contains(t, stmt, "`id` = ?")
		require.Equal(t, []any{"i1"}, args)
	})

	t.Run("mutation predicates cannot use aliases", func(t *testing.T) {
		_, _, err := c.CompileDelete(desc, EQ(QC("inv", "id"), "i1"))
		require.ErrorContains(t, err, "cannot use reference aliases")
	})
}

package scope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/query"
	"github.com/quantrail/tenantdb/tenancy"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()

	reg, err := entity.NewRegistry(
		entity.Descriptor{
			Name: "invoices", Kind: entity.KindScoped,
			Columns: []entity.Column{{Name: "amount", Type: entity.ColumnInt}, {Name: "status"}},
		},
		entity.Descriptor{
			Name: "payments", Kind: entity.KindScoped,
			Columns: []entity.Column{{Name: "invoice_id"}},
		},
		entity.Descriptor{
			Name: "currencies", Kind: entity.KindGlobal,
			Columns: []entity.Column{{Name: "code"}},
		},
	)
	require.NoError(t, err)

	return NewEngine(reg)
}

// tenantCmp asserts p is the tenant restriction for qualifier under tid.
func tenantCmp(t *testing.T, p query.Predicate, qualifier string, tid tenancy.TenantID) {
	t.Helper()

	cmp, ok := p.(*query.Cmp)
	require.True(t, ok, "expected tenant comparison, got %T", p)
	require.Equal(t, qualifier, cmp.Col.Alias)
	require.Equal(t, "tenant_id", cmp.Col.Name)
	require.Equal(t, query.OpEQ, cmp.Op)
	require.Equal(t, tid.String(), cmp.Value)
}

func TestRewriteRoot(t *testing.T) {
	e := testEngine(t)
	tid := tenancy.NewTenantID()

	t.Run("unfiltered query gains tenant predicate", func(t *testing.T) {
		rq, err := e.Rewrite(query.From("invoices"), tid)
		require.NoError(t, err)
		tenantCmp(t, rq.Pred, "invoices", tid)
	})

	t.Run("existing filter is wrapped, not merged", func(t *testing.T) {
		orig := query.Or(query.EQ(query.C("status"), "open"), query.EQ(query.C("status"), "overdue"))

		rq, err := e.Rewrite(query.From("invoices").Where(orig), tid)
		require.NoError(t, err)

		and, ok := rq.Pred.(*query.AndPred)
		require.True(t, ok)
		require.Len(t, and.Preds, 2)
		tenantCmp(t, and.Preds[0], "invoices", tid)
		require.IsType(t, &query.OrPred{}, and.Preds[1])
	})

	t.Run("aliased root scoped under its alias", func(t *testing.T) {
		rq, err := e.Rewrite(query.From("invoices").As("inv"), tid)
		require.NoError(t, err)
		tenantCmp(t, rq.Pred, "inv", tid)
	})

	t.Run("global entity passes unscoped", func(t *testing.T) {
		rq, err := e.Rewrite(query.From("currencies"), tid)
		require.NoError(t, err)
		require.Nil(t, rq.Pred)
	})

	t.Run("unknown entity fails closed", func(t *testing.T) {
		_, err := e.Rewrite(query.From("ledgers"), tid)

		var uq *tenancy.UnsupportedQueryError
		require.ErrorAs(t, err, &uq)
		require.Equal(t, "ledgers", uq.Entity)
	})

	t.Run("caller query never mutated", func(t *testing.T) {
		q := query.From("invoices").Where(query.EQ(query.C("status"), "open"))

		_, err := e.Rewrite(q, tid)
		require.NoError(t, err)

		cmp, ok := q.Pred.(*query.Cmp)
		require.True(t, ok, "original predicate was rewritten in place")
		require.Equal(t, "open", cmp.Value)
	})
}

func TestRewriteJoins(t *testing.T) {
	e := testEngine(t)
	tid := tenancy.NewTenantID()

	t.Run("join restriction lands in the on clause", func(t *testing.T) {
		rq, err := e.Rewrite(
			query.From("invoices").LeftJoin("payments", "p",
				query.EQ(query.QC("p", "invoice_id"), "x")),
			tid,
		)
		require.NoError(t, err)

		on, ok := rq.Joins[0].On.(*query.AndPred)
		require.True(t, ok)
		tenantCmp(t, on.Preds[0], "p", tid)
	})

	t.Run("self-join scoped per occurrence", func(t *testing.T) {
		rq, err := e.Rewrite(
			query.From("invoices").As("a").Join("invoices", "b",
				query.EQ(query.QC("b", "status"), "open")),
			tid,
		)
		require.NoError(t, err)

		tenantCmp(t, rq.Pred, "a", tid)

		on, ok := rq.Joins[0].On.(*query.AndPred)
		require.True(t, ok)
		tenantCmp(t, on.Preds[0], "b", tid)
	})

	t.Run("global join left alone", func(t *testing.T) {
		on := query.EQ(query.QC("c", "code"), "EUR")

		rq, err := e.Rewrite(query.From("invoices").Join("currencies", "c", on), tid)
		require.NoError(t, err)
		require.IsType(t, &query.Cmp{}, rq.Joins[0].On)
	})

	t.Run("unknown join entity fails closed", func(t *testing.T) {
		_, err := e.Rewrite(
			query.From("invoices").Join("ledgers", "l", query.EQ(query.QC("l", "id"), 1)),
			tid,
		)

		var uq *tenancy.UnsupportedQueryError
		require.ErrorAs(t, err, &uq)
	})
}

func TestRewriteSubqueries(t *testing.T) {
	e := testEngine(t)
	tid := tenancy.NewTenantID()

	t.Run("in-subquery scoped recursively", func(t *testing.T) {
		rq, err := e.Rewrite(
			query.From("invoices").Where(query.InQuery(
				query.C("id"),
				query.From("payments").Select(query.C("invoice_id")),
			)),
			tid,
		)
		require.NoError(t, err)

		and, ok := rq.Pred.(*query.AndPred)
		require.True(t, ok)

		in, ok := and.Preds[1].(*query.InQueryPred)
		require.True(t, ok)
		tenantCmp(t, in.Sub.Pred, "payments", tid)
	})

	t.Run("exists under not scoped too", func(t *testing.T) {
		rq, err := e.Rewrite(
			query.From("invoices").Where(query.Not(query.Exists(
				query.From("payments"),
			))),
			tid,
		)
		require.NoError(t, err)

		and := rq.Pred.(*query.AndPred)
		not := and.Preds[1].(*query.NotPred)
		exists := not.Pred.(*query.ExistsPred)
		tenantCmp(t, exists.Sub.Pred, "payments", tid)
	})

	t.Run("unknown subquery entity fails closed", func(t *testing.T) {
		_, err := e.Rewrite(
			query.From("invoices").Where(query.Exists(query.From("ledgers"))),
			tid,
		)

		var uq *tenancy.UnsupportedQueryError
		require.ErrorAs(t, err, &uq)
	})
}

func TestRewritePredicate(t *testing.T) {
	e := testEngine(t)
	tid := tenancy.NewTenantID()

	t.Run("nil predicate stays nil", func(t *testing.T) {
		rp, err := e.RewritePredicate(nil, tid)
		require.NoError(t, err)
		require.Nil(t, rp)
	})

	t.Run("subquery inside mutation predicate scoped", func(t *testing.T) {
		p := query.InQuery(query.C("id"), query.From("payments").Select(query.C("invoice_id")))

		rp, err := e.RewritePredicate(p, tid)
		require.NoError(t, err)

		in := rp.(*query.InQueryPred)
		tenantCmp(t, in.Sub.Pred, "payments", tid)

		// Caller's tree untouched.
		require.Nil(t, p.(*query.InQueryPred).Sub.Pred)
	})
}

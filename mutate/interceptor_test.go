package mutate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/query"
	"github.com/quantrail/tenantdb/scope"
	"github.com/quantrail/tenantdb/tenancy"
)

func testInterceptor(t *testing.T) *Interceptor {
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

	return NewInterceptor(reg, scope.NewEngine(reg))
}

func TestPrepareCreate(t *testing.T) {
	i := testInterceptor(t)
	tid := tenancy.NewTenantID()

	t.Run("stamps tenant and generates id", func(t *testing.T) {
		rec := entity.Record{"amount": 100}

		out, desc, err := i.PrepareCreate("invoices", rec, tid)
		require.NoError(t, err)
		require.Equal(t, tid.String(), out["tenant_id"])
		require.NotEmpty(t, out["id"])
		require.Equal(t, "invoices", string(desc.Name))

		// Caller's record stays untouched.
		require.NotContains(t, rec, "tenant_id")
		require.NotContains(t, rec, "id")
	})

	t.Run("matching tenant id accepted", func(t *testing.T) {
		out, _, err := i.PrepareCreate("invoices", entity.Record{"tenant_id": tid}, tid)
		require.NoError(t, err)
		require.Equal(t, tid.String(), out["tenant_id"])
	})

	t.Run("foreign tenant id rejected, never restamped", func(t *testing.T) {
		other := tenancy.NewTenantID()

		_, _, err := i.PrepareCreate("invoices", entity.Record{"tenant_id": other.String()}, tid)

		var mismatch *tenancy.TenantMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, tid, mismatch.Want)
		require.Equal(t, other, mismatch.Got)
	})

	t.Run("empty-string tenant treated as unset", func(t *testing.T) {
		out, _, err := i.PrepareCreate("invoices", entity.Record{"tenant_id": ""}, tid)
		require.NoError(t, err)
		require.Equal(t, tid.String(), out["tenant_id"])
	})

	t.Run("malformed tenant id rejected", func(t *testing.T) {
		_, _, err := i.PrepareCreate("invoices", entity.Record{"tenant_id": "not-a-uuid"}, tid)
		require.Error(t, err)
	})

	t.Run("global entity read-only for tenant sessions", func(t *testing.T) {
		_, _, err := i.PrepareCreate("currencies", entity.Record{"code": "EUR"}, tid)
		require.ErrorIs(t, err, tenancy.ErrGlobalEntityReadOnly)
	})

	t.Run("unknown entity fails closed", func(t *testing.T) {
		_, _, err := i.PrepareCreate("ledgers", entity.Record{}, tid)

		var uq *tenancy.UnsupportedQueryError
		require.ErrorAs(t, err, &uq)
	})
}

func TestScopeMutation(t *testing.T) {
	i := testInterceptor(t)
	tid := tenancy.NewTenantID()

	t.Run("predicate augmented with tenant restriction", func(t *testing.T) {
		sp, _, err := i.ScopeMutation("invoices", query.EQ(query.C("id"), "i1"), tid)
		require.NoError(t, err)

		and, ok := sp.(*query.AndPred)
		require.True(t, ok)

		cmp := and.Preds[0].(*query.Cmp)
		require.Equal(t, "tenant_id", cmp.Col.Name)
		require.Equal(t, tid.String(), cmp.Value)
	})

	t.Run("nil predicate becomes tenant-only", func(t *testing.T) {
		sp, _, err := i.ScopeMutation("invoices", nil, tid)
		require.NoError(t, err)

		cmp, ok := sp.(*query.Cmp)
		require.True(t, ok)
		require.Equal(t, "tenant_id", cmp.Col.Name)
	})

	t.Run("subquery inside predicate scoped", func(t *testing.T) {
		p := query.InQuery(query.C("id"), query.From("payments").Select(query.C("invoice_id")))

		sp, _, err := i.ScopeMutation("invoices", p, tid)
		require.NoError(t, err)

		and := sp.(*query.AndPred)
		in := and.Preds[1].(*query.InQueryPred)
		require.NotNil(t, in.Sub.Pred, "subquery was not scoped")
	})

	t.Run("global entity rejected", func(t *testing.T) {
		_, _, err := i.ScopeMutation("currencies", nil, tid)
		require.ErrorIs(t, err, tenancy.ErrGlobalEntityReadOnly)
	})

	t.Run("unknown entity fails closed", func(t *testing.T) {
		_, _, err := i.ScopeMutation("ledgers", nil, tid)

		var uq *tenancy.UnsupportedQueryError
		require.ErrorAs(t, err, &uq)
	})
}

func TestCheckChanges(t *testing.T) {
	i := testInterceptor(t)

	desc, ok := i.registry.Lookup("invoices")
	require.True(t, ok)

	require.NoError(t, i.CheckChanges(desc, entity.Record{"status": "paid"}))
	require.ErrorIs(t,
		i.CheckChanges(desc, entity.Record{"tenant_id": tenancy.NewTenantID().String()}),
		tenancy.ErrTenantColumnImmutable,
	)
}

func TestPrepareOverrideCreate(t *testing.T) {
	i := testInterceptor(t)

	t.Run("scoped entity requires explicit tenant", func(t *testing.T) {
		_, _, err := i.PrepareOverrideCreate("invoices", entity.Record{"amount": 1})
		require.ErrorIs(t, err, tenancy.ErrExplicitTenantRequired)
	})

	t.Run("scoped entity with explicit tenant accepted", func(t *testing.T) {
		tid := tenancy.NewTenantID()

		out, _, err := i.PrepareOverrideCreate("invoices", entity.Record{"tenant_id": tid.String()})
		require.NoError(t, err)
		require.Equal(t, tid.String(), out["tenant_id"])
		require.NotEmpty(t, out["id"])
	})

	t.Run("global entity writable", func(t *testing.T) {
		out, desc, err := i.PrepareOverrideCreate("currencies", entity.Record{"code": "EUR"})
		require.NoError(t, err)
		require.False(t, desc.Scoped())
		require.NotEmpty(t, out["id"])
	})

	t.Run("unknown entity fails closed", func(t *testing.T) {
		_, _, err := i.PrepareOverrideCreate("ledgers", entity.Record{})

		var uq *tenancy.UnsupportedQueryError
		require.ErrorAs(t, err, &uq)
	})
}

// Package mutate implements the mutation interceptor: tenant stamping on
// create, mismatch rejection, and predicate augmentation for update and
// delete. Like the scoping engine it is pure logic over the typed model.
package mutate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/query"
	"github.com/quantrail/tenantdb/scope"
	"github.com/quantrail/tenantdb/tenancy"
)

// Interceptor enforces the isolation guarantee for writes issued through a
// tenant session.
type Interceptor struct {
	registry *entity.Registry
	engine   *scope.Engine
}

func NewInterceptor(registry *entity.Registry, engine *scope.Engine) *Interceptor {
	return &Interceptor{registry: registry, engine: engine}
}

// PrepareCreate returns a stamped copy of rec ready for insertion under the
// acting tenant. An unset tenant column is stamped with the acting tenant;
// a foreign tenant id is rejected with TenantMismatchError rather than
// silently overwritten. A missing primary key is generated.
func (i *Interceptor) PrepareCreate(name entity.Name, rec entity.Record, tid tenancy.TenantID) (entity.Record, *entity.Descriptor, error) {
	desc, err := i.mutableDescriptor(name)
	if err != nil {
		return nil, desc, err
	}

	out := rec.Clone()

	if _, ok := out[desc.IDColumn]; !ok {
		out[desc.IDColumn] = uuid.NewString()
	}

	got, set, err := tenantValue(out[desc.TenantColumn])
	if err != nil {
		return nil, desc, fmt.Errorf("mutate: %s create: %w", name, err)
	}

	switch {
	case !set:
		out[desc.TenantColumn] = tid.String()
	case got != tid:
		return nil, desc, &tenancy.TenantMismatchError{Entity: string(name), Want: tid, Got: got}
	default:
		out[desc.TenantColumn] = tid.String()
	}

	return out, desc, nil
}

// ScopeMutation augments the caller's update/delete predicate with the
// tenant restriction, regardless of what the caller supplied. A primary-key
// predicate targeting a foreign tenant's record therefore matches zero rows
// instead of erroring, so probing cannot distinguish "absent" from "foreign".
func (i *Interceptor) ScopeMutation(name entity.Name, p query.Predicate, tid tenancy.TenantID) (query.Predicate, *entity.Descriptor, error) {
	desc, err := i.mutableDescriptor(name)
	if err != nil {
		return nil, desc, err
	}

	// Subqueries inside the caller's predicate are scoped too.
	rp, err := i.engine.RewritePredicate(p, tid)
	if err != nil {
		return nil, desc, err
	}

	tp := query.EQ(query.C(desc.TenantColumn), tid.String())
	if rp == nil {
		return tp, desc, nil
	}

	return query.And(tp, rp), desc, nil
}

// CheckChanges rejects change sets that touch the tenant column: a record's
// tenant is assigned exactly once, at creation.
func (i *Interceptor) CheckChanges(desc *entity.Descriptor, changes entity.Record) error {
	if desc.TenantColumn == "" {
		return nil
	}

	if _, ok := changes[desc.TenantColumn]; ok {
		return tenancy.ErrTenantColumnImmutable
	}

	return nil
}

// PrepareOverrideCreate stamps a record for insertion through an override
// session. Scoped entities must carry an explicit tenant id; there is no
// ambient tenant to inherit.
func (i *Interceptor) PrepareOverrideCreate(name entity.Name, rec entity.Record) (entity.Record, *entity.Descriptor, error) {
	desc, ok := i.registry.Lookup(name)
	if !ok {
		return nil, nil, &tenancy.UnsupportedQueryError{Entity: string(name)}
	}

	out := rec.Clone()

	if _, ok := out[desc.IDColumn]; !ok {
		out[desc.IDColumn] = uuid.NewString()
	}

	if desc.Scoped() {
		got, set, err := tenantValue(out[desc.TenantColumn])
		if err != nil {
			return nil, desc, fmt.Errorf("mutate: %s override create: %w", name, err)
		}

		if !set {
			return nil, desc, tenancy.ErrExplicitTenantRequired
		}

		out[desc.TenantColumn] = got.String()
	}

	return out, desc, nil
}

// mutableDescriptor resolves a descriptor for a tenant-session mutation:
// unknown types fail closed, global entities are read-only for tenant
// sessions.
func (i *Interceptor) mutableDescriptor(name entity.Name) (*entity.Descriptor, error) {
	desc, ok := i.registry.Lookup(name)
	if !ok {
		return nil, &tenancy.UnsupportedQueryError{Entity: string(name)}
	}

	if !desc.Scoped() {
		return desc, tenancy.ErrGlobalEntityReadOnly
	}

	return desc, nil
}

// tenantValue normalizes the tenant column value of an incoming record.
func tenantValue(v any) (tenancy.TenantID, bool, error) {
	switch t := v.(type) {
	case nil:
		return tenancy.TenantID{}, false, nil
	case tenancy.TenantID:
		if t.IsZero() {
			return tenancy.TenantID{}, false, nil
		}

		return t, true, nil
	case uuid.UUID:
		if t == uuid.Nil {
			return tenancy.TenantID{}, false, nil
		}

		return tenancy.TenantID(t), true, nil
	case string:
		if t == "" {
			return tenancy.TenantID{}, false, nil
		}

		id, err := tenancy.ParseTenantID(t)
		if err != nil {
			return tenancy.TenantID{}, false, err
		}

		return id, true, nil
	default:
		return tenancy.TenantID{}, false, fmt.Errorf("unsupported tenant id value of type %T", v)
	}
}

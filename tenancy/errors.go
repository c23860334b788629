package tenancy

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication reports a request that carries no valid identity.
	ErrAuthentication = errors.New("tenancy: request carries no authenticated identity")

	// ErrTenantResolution reports an identity with no associated tenant.
	ErrTenantResolution = errors.New("tenancy: identity has no associated tenant")

	// ErrGlobalEntityReadOnly reports a tenant-session write against a
	// global entity. Global entities are writable only through an override
	// session.
	ErrGlobalEntityReadOnly = errors.New("tenancy: global entities are writable only through an override session")

	// ErrOverrideDenied reports an actor without the override capability
	// attempting to open an override session.
	ErrOverrideDenied = errors.New("tenancy: actor does not hold the override capability")

	// ErrTenantColumnImmutable reports an update that attempts to change a
	// record's tenant column. The tenant of a record is set exactly once,
	// at creation.
	ErrTenantColumnImmutable = errors.New("tenancy: the tenant column of a record cannot be updated")

	// ErrExplicitTenantRequired reports an override-session create on a
	// scoped entity without an explicit tenant id. Override sessions have
	// no ambient tenant to stamp.
	ErrExplicitTenantRequired = errors.New("tenancy: override create on a scoped entity requires an explicit tenant id")
)

// TenantMismatchError reports a create whose record carries a tenant id
// different from the acting tenant. The operation is rejected rather than
// silently restamped, so the caller bug surfaces instead of hiding.
type TenantMismatchError struct {
	Entity string
	Want   TenantID
	Got    TenantID
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("tenancy: %s create carries foreign tenant %s (acting tenant %s)", e.Entity, e.Got, e.Want)
}

// UnsupportedQueryError reports a query or mutation referencing an entity
// type the registry does not classify. Unclassified types are never
// queryable: the layer fails closed instead of passing the reference through
// unscoped.
type UnsupportedQueryError struct {
	Entity string
}

func (e *UnsupportedQueryError) Error() string {
	return fmt.Sprintf("tenancy: entity type %q is not classified; refusing unscoped access", e.Entity)
}

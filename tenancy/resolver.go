package tenancy

import "context"

// IdentityResolver is the external identity collaborator. Given an
// authenticated request context it yields the acting TenantContext, failing
// with ErrAuthentication when the request carries no valid identity and with
// ErrTenantResolution when the identity has no associated tenant.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context) (*TenantContext, error)
}

// CapabilityIssuer is the external authorization collaborator gating
// override sessions.
type CapabilityIssuer interface {
	HasOverrideCapability(ctx context.Context, actor ActorID) (bool, error)
}

package tenancy

import (
	"context"
	"fmt"
)

// tenantKey is an unexported key type to prevent external forgery.
type tenantKey struct{}

// WithTenant binds a TenantContext to the request context. Each context can
// carry at most one TenantContext; rebinding is rejected so no code path can
// swap the acting tenant mid-request.
func WithTenant(ctx context.Context, tc *TenantContext) (context.Context, error) {
	if tc == nil {
		return nil, fmt.Errorf("tenancy: WithTenant requires a non-nil tenant context")
	}

	if _, ok := GetTenant(ctx); ok {
		return nil, fmt.Errorf("tenancy: context already carries a tenant")
	}

	return context.WithValue(ctx, tenantKey{}, tc), nil
}

// GetTenant retrieves the bound TenantContext, if any. Safe on a nil context.
func GetTenant(ctx context.Context) (*TenantContext, bool) {
	if ctx == nil {
		return nil, false
	}

	tc, ok := ctx.Value(tenantKey{}).(*TenantContext)

	return tc, ok
}

// RequireTenant retrieves the bound TenantContext or fails with
// ErrAuthentication.
func RequireTenant(ctx context.Context) (*TenantContext, error) {
	tc, ok := GetTenant(ctx)
	if !ok {
		return nil, fmt.Errorf("tenancy: no tenant in context: %w", ErrAuthentication)
	}

	return tc, nil
}

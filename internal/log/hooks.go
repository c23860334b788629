package log

import (
	"context"

	"github.com/quantrail/tenantdb/tenancy"
)

// Hook derives extra fields from the context of a log call.
type Hook interface {
	Apply(ctx context.Context, msg string) []Field
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, msg string) []Field

func (f HookFunc) Apply(ctx context.Context, msg string) []Field {
	if f == nil {
		return nil
	}

	return f(ctx, msg)
}

// TenantFields attaches the acting tenant and actor to every log line so
// scoped operations can be correlated without manual field plumbing. It is
// installed on the global logger by default.
func TenantFields(ctx context.Context, _ string) []Field {
	if ctx == nil {
		return nil
	}

	tc, ok := tenancy.GetTenant(ctx)
	if !ok {
		return nil
	}

	return []Field{
		String("tenant_id", tc.TenantID().String()),
		String("actor_id", tc.ActorID().String()),
	}
}

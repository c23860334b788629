package session

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/quantrail/tenantdb/audit"
	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/internal/log"
	"github.com/quantrail/tenantdb/mutate"
	"github.com/quantrail/tenantdb/pool"
	"github.com/quantrail/tenantdb/query"
	"github.com/quantrail/tenantdb/scope"
	"github.com/quantrail/tenantdb/tenancy"
)

// FactoryParams collects the factory's dependencies.
type FactoryParams struct {
	fx.In

	Pool     *pool.Pool
	Registry *entity.Registry
	Audit    *audit.Logger

	Resolver tenancy.IdentityResolver `optional:"true"`
	Issuer   tenancy.CapabilityIssuer `optional:"true"`
}

// Factory builds sessions. The scoping engine, interceptor and compiler are
// shared; each session owns only its tenant context and connection.
type Factory struct {
	pool        *pool.Pool
	registry    *entity.Registry
	engine      *scope.Engine
	interceptor *mutate.Interceptor
	compiler    *query.Compiler
	audit       *audit.Logger
	resolver    tenancy.IdentityResolver
	issuer      tenancy.CapabilityIssuer
}

func NewFactory(params FactoryParams) *Factory {
	engine := scope.NewEngine(params.Registry)

	return &Factory{
		pool:        params.Pool,
		registry:    params.Registry,
		engine:      engine,
		interceptor: mutate.NewInterceptor(params.Registry, engine),
		compiler:    query.NewCompiler(params.Pool.Dialect(), params.Registry),
		audit:       params.Audit,
		resolver:    params.Resolver,
		issuer:      params.Issuer,
	}
}

// Pool exposes the backing pool, mainly so owners can close it.
func (f *Factory) Pool() *pool.Pool {
	return f.pool
}

// Open builds a session for the tenant bound to ctx. The connection is
// checked out lazily on the first operation.
func (f *Factory) Open(ctx context.Context) (*Session, error) {
	tc, err := tenancy.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	return f.session(tc), nil
}

// OpenResolved resolves the acting identity through the configured identity
// collaborator and builds a session for it.
func (f *Factory) OpenResolved(ctx context.Context) (*Session, error) {
	if f.resolver == nil {
		return nil, fmt.Errorf("session: no identity resolver configured: %w", tenancy.ErrAuthentication)
	}

	tc, err := f.resolver.ResolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	return f.session(tc), nil
}

func (f *Factory) session(tc *tenancy.TenantContext) *Session {
	return &Session{
		tc:          tc,
		pool:        f.pool,
		engine:      f.engine,
		interceptor: f.interceptor,
		compiler:    f.compiler,
		audit:       f.audit,
	}
}

// OpenOverride builds an override session for an actor holding the
// override capability. The reason must be a stable audit identifier
// (e.g. "reference-data-sync").
func (f *Factory) OpenOverride(ctx context.Context, actor tenancy.ActorID, reason string) (*OverrideSession, error) {
	if f.issuer == nil {
		return nil, fmt.Errorf("session: no capability issuer configured: %w", tenancy.ErrOverrideDenied)
	}

	if reason == "" {
		return nil, fmt.Errorf("session: override requires a reason")
	}

	if actor.IsZero() {
		return nil, tenancy.ErrAuthentication
	}

	ok, err := f.issuer.HasOverrideCapability(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("session: capability check failed: %w", err)
	}

	if !ok {
		return nil, fmt.Errorf("session: %s: %w", actor, tenancy.ErrOverrideDenied)
	}

	log.Info(ctx, "override session opened",
		log.String("actor_id", actor.String()),
		log.String("reason", reason),
	)

	return &OverrideSession{
		actor:       actor,
		reason:      reason,
		pool:        f.pool,
		registry:    f.registry,
		interceptor: f.interceptor,
		compiler:    f.compiler,
		audit:       f.audit,
	}, nil
}

// RunWithOverride executes fn within an override session and closes it
// afterwards, limiting how far the elevated capability can spread along the
// call chain.
func RunWithOverride[T any](ctx context.Context, f *Factory, actor tenancy.ActorID, reason string, fn func(ctx context.Context, s *OverrideSession) (T, error)) (T, error) {
	s, err := f.OpenOverride(ctx, actor, reason)
	if err != nil {
		var zero T
		return zero, err
	}

	defer func() {
		if err := s.Close(); err != nil {
			log.Warn(ctx, "failed to close override session", log.Cause(err))
		}
	}()

	return fn(ctx, s)
}

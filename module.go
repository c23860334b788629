// Package tenantdb wires the tenant-isolation data-access layer: entity
// registry in, session factory out. All tenant-scoped access goes through
// sessions; there is no raw-SQL surface.
package tenantdb

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/quantrail/tenantdb/audit"
	"github.com/quantrail/tenantdb/conf"
	"github.com/quantrail/tenantdb/internal/log"
	"github.com/quantrail/tenantdb/pool"
	"github.com/quantrail/tenantdb/schema"
	"github.com/quantrail/tenantdb/session"
)

// Module provides the data-access layer to an fx application. The host app
// supplies the *entity.Registry and, optionally, an IdentityResolver and a
// CapabilityIssuer.
var Module = fx.Module("tenantdb",
	fx.Provide(conf.Load),
	fx.Provide(newPool),
	fx.Provide(newAuditLogger),
	fx.Provide(session.NewFactory),
	fx.Invoke(registerLifecycle),
)

func newPool(cfg conf.Config) (*pool.Pool, error) {
	log.SetGlobalLogger(log.New(cfg.Log, log.HookFunc(log.TenantFields)))

	return pool.Open(cfg.DB)
}

func newAuditLogger(p *pool.Pool) *audit.Logger {
	return audit.NewLogger(p.Dialect())
}

func registerLifecycle(lc fx.Lifecycle, p *pool.Pool) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})
}

// Store bundles the pool and factory for callers not running under fx.
type Store struct {
	pool    *pool.Pool
	Factory *session.Factory
	Audit   *audit.Logger
}

// Open is the non-fx entry point: it opens the pool, bootstraps the schema
// for every registered entity, and returns a ready factory.
func Open(ctx context.Context, cfg conf.Config, params session.FactoryParams) (*Store, error) {
	log.SetGlobalLogger(log.New(cfg.Log, log.HookFunc(log.TenantFields)))

	p, err := pool.Open(cfg.DB)
	if err != nil {
		return nil, err
	}

	if err := schema.Create(ctx, p.DB(), p.Dialect(), params.Registry); err != nil {
		return nil, multierr.Append(fmt.Errorf("tenantdb: schema bootstrap failed: %w", err), p.Close())
	}

	params.Pool = p
	if params.Audit == nil {
		params.Audit = audit.NewLogger(p.Dialect())
	}

	return &Store{
		pool:    p,
		Factory: session.NewFactory(params),
		Audit:   params.Audit,
	}, nil
}

// Close releases the backing pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

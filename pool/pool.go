// Package pool adapts database/sql pooling to the session layer's
// checkout/return contract: a checked-out Conn is exclusively owned by one
// session, and all per-checkout state is cleared on return so a connection
// never carries tenant affinity between checkouts.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	"go.uber.org/multierr"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	_ "github.com/quantrail/tenantdb/internal/sqlite"
)

// Config selects the backing store.
type Config struct {
	// Dialect is one of postgres, mysql or sqlite (common aliases
	// accepted).
	Dialect string `conf:"dialect" yaml:"dialect" json:"dialect"`

	DSN string `conf:"dsn" yaml:"dsn" json:"dsn"`

	MaxOpenConns    int           `conf:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `conf:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `conf:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// Pool owns the shared *sql.DB and hands out exclusive connections.
type Pool struct {
	db      *sql.DB
	dialect string
}

// Open creates a pool for the configured dialect.
func Open(cfg Config) (*Pool, error) {
	var driverName, d string

	switch cfg.Dialect {
	case "postgres", "pgx", "pg", "postgresql":
		driverName, d = "pgx", dialect.Postgres
	case "sqlite", "sqlite3":
		driverName, d = "sqlite3", dialect.SQLite
	case "mysql", "tidb":
		driverName, d = "mysql", dialect.MySQL
	default:
		return nil, fmt.Errorf("pool: invalid dialect: %q", cfg.Dialect)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pool: failed to open %s store: %w", d, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Pool{db: db, dialect: d}, nil
}

// Dialect returns the ent dialect name of the backing store.
func (p *Pool) Dialect() string {
	return p.dialect
}

// DB exposes the underlying handle for schema bootstrap and tests.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Checkout blocks until a connection is available and hands it out for
// exclusive use.
func (p *Pool) Checkout(ctx context.Context) (*Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: checkout failed: %w", err)
	}

	return &Conn{conn: c, stmts: map[string]*sql.Stmt{}}, nil
}

// Return clears the connection's per-checkout state and releases it back to
// the pool. Callable even after the connection's transaction faulted.
func (p *Pool) Return(c *Conn) error {
	if c == nil {
		return nil
	}

	return multierr.Append(c.reset(), c.conn.Close())
}

// Close closes the underlying store.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Conn is a checked-out connection. The prepared-statement cache is scoped
// to the checkout: statements compiled for one session (which may embed
// tenant-scoped SQL) are closed before the connection is reused.
type Conn struct {
	conn *sql.Conn

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

func (c *Conn) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.stmts[query]; ok {
		return s, nil
	}

	s, err := c.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	c.stmts[query] = s

	return s, nil
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s, err := c.stmt(ctx, query)
	if err != nil {
		return nil, err
	}

	return s.ExecContext(ctx, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s, err := c.stmt(ctx, query)
	if err != nil {
		return nil, err
	}

	return s.QueryContext(ctx, args...)
}

// BeginTx starts a transaction on this connection.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

// StmtCacheSize reports the number of cached statements. Exposed for pool
// hygiene tests.
func (c *Conn) StmtCacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.stmts)
}

func (c *Conn) reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, s := range c.stmts {
		err = multierr.Append(err, s.Close())
	}

	c.stmts = map[string]*sql.Stmt{}

	return err
}

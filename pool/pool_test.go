package pool

import (
	"context"
	"testing"

	"entgo.io/ent/dialect"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *Pool {
	t.Helper()

	p, err := Open(Config{
		Dialect:      "sqlite",
		DSN:          "file:" + t.Name() + "?mode=memory&cache=shared",
		MaxOpenConns: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return p
}

func TestOpen(t *testing.T) {
	t.Run("dialect aliases", func(t *testing.T) {
		p, err := Open(Config{Dialect: "sqlite3", DSN: "file:open_alias?mode=memory&cache=shared"})
		require.NoError(t, err)
		require.Equal(t, dialect.SQLite, p.Dialect())
		require.NoError(t, p.Close())
	})

	t.Run("invalid dialect", func(t *testing.T) {
		_, err := Open(Config{Dialect: "oracle", DSN: "x"})
		require.ErrorContains(t, err, "invalid dialect")
	})
}

func TestCheckoutReturn(t *testing.T) {
	ctx := context.Background()
	p := testPool(t)

	c, err := p.Checkout(ctx)
	require.NoError(t, err)

	_, err = c.ExecContext(ctx, "CREATE TABLE t (id text)")
	require.NoError(t, err)

	_, err = c.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", "a")
	require.NoError(t, err)

	// Repeating a statement reuses the cached handle.
	_, err = c.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", "b")
	require.NoError(t, err)
	require.Equal(t, 2, c.StmtCacheSize())

	require.NoError(t, p.Return(c))
	require.Equal(t, 0, c.StmtCacheSize())

	require.NoError(t, p.Return(nil))
}

func TestCheckoutIsExclusive(t *testing.T) {
	ctx := context.Background()

	p, err := Open(Config{
		Dialect:      "sqlite",
		DSN:          "file:exclusive?mode=memory&cache=shared",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	c, err := p.Checkout(ctx)
	require.NoError(t, err)

	// With a single physical connection held, another checkout cannot
	// proceed until the first returns.
	waitCtx, cancel := context.WithCancel(ctx)
	blocked := make(chan error, 1)

	go func() {
		c2, err := p.Checkout(waitCtx)
		if err == nil {
			_ = p.Return(c2)
		}
		blocked <- err
	}()

	cancel()
	require.Error(t, <-blocked)

	require.NoError(t, p.Return(c))

	c3, err := p.Checkout(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Return(c3))
}

func TestBeginTx(t *testing.T) {
	ctx := context.Background()
	p := testPool(t)

	c, err := p.Checkout(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Return(c) })

	_, err = c.ExecContext(ctx, "CREATE TABLE t (id text)")
	require.NoError(t, err)

	tx, err := c.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", "a")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, c.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	require.Zero(t, n)
}

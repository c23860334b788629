package session

import (
	"context"
	"database/sql"

	"github.com/quantrail/tenantdb/pool"
)

// txKey is an unexported key type; transactions travel in the context so
// nested units of work join the outer transaction.
type txKey struct{}

func txFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)

	return tx
}

// execer is the execution surface shared by *sql.Tx and *pool.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// runInTransaction runs fn inside a transaction on conn. A transaction
// already present in ctx is joined. Without an explicit commit the
// transaction is rolled back, including on panic and on context
// cancellation mid-flight.
func runInTransaction(ctx context.Context, conn *pool.Conn, fn func(ctx context.Context) error) (err error) {
	if tx := txFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	committed := false

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()

			panic(r)
		}

		if !committed {
			_ = tx.Rollback()
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	committed = true

	return nil
}

// inTx executes fn against the ambient transaction when one is present, or
// inside a dedicated transaction otherwise, so a mutation and its audit
// entry always commit or roll back together.
func inTx(ctx context.Context, conn *pool.Conn, fn func(ctx context.Context, ex execer) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(ctx, tx)
	}

	return runInTransaction(ctx, conn, func(txCtx context.Context) error {
		return fn(txCtx, txFromContext(txCtx))
	})
}

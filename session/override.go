package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quantrail/tenantdb/audit"
	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/mutate"
	"github.com/quantrail/tenantdb/pool"
	"github.com/quantrail/tenantdb/query"
	"github.com/quantrail/tenantdb/tenancy"
)

// OverrideSession is the explicitly privileged facade for cross-tenant and
// global-entity maintenance. It is a distinct type, not a flag on Session:
// code paths that hold one are visible at compile time. Scoping is
// bypassed, but classification is not: unknown entity types still fail
// closed, and every operation, reads included, produces an audit entry
// tagged with the override capability.
type OverrideSession struct {
	actor       tenancy.ActorID
	reason      string
	pool        *pool.Pool
	registry    *entity.Registry
	interceptor *mutate.Interceptor
	compiler    *query.Compiler
	audit       *audit.Logger

	mu    sync.Mutex
	state state
	conn  *pool.Conn
}

// Reason returns the stable audit identifier this session was opened with.
func (s *OverrideSession) Reason() string {
	return s.reason
}

func (s *OverrideSession) ensureConn(ctx context.Context) (*pool.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateClosed:
		return nil, ErrSessionClosed
	case stateCreated:
		conn, err := s.pool.Checkout(ctx)
		if err != nil {
			return nil, err
		}

		s.conn = conn
		s.state = stateActive
	}

	return s.conn, nil
}

// Close returns the connection to the pool. Idempotent.
func (s *OverrideSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}

	s.state = stateClosed

	if s.conn == nil {
		return nil
	}

	err := s.pool.Return(s.conn)
	s.conn = nil

	return err
}

// Query executes an unscoped read across all tenants.
func (s *OverrideSession) Query(ctx context.Context, q *query.Query) ([]entity.Record, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	stmt, args, err := s.compiler.CompileSelect(q)
	if err != nil {
		var uq *tenancy.UnsupportedQueryError
		if errors.As(err, &uq) {
			s.record(ctx, s.entry(audit.OperationQuery, uq.Entity, "", audit.OutcomeReadDenied))
		}

		return nil, err
	}

	var ex execer = conn
	if tx := txFromContext(ctx); tx != nil {
		ex = tx
	}

	rows, err := ex.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("session: override query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	// Override reads are audited too; there is no quiet cross-tenant read.
	s.record(ctx, s.entry(audit.OperationQuery, string(q.From.Entity), "", audit.OutcomeOK))

	return records, nil
}

// Create inserts a record without scoping. Scoped entities require an
// explicit tenant id; global entities are writable only here.
func (s *OverrideSession) Create(ctx context.Context, name entity.Name, rec entity.Record) (entity.Record, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	out, desc, err := s.interceptor.PrepareOverrideCreate(name, rec)
	if err != nil {
		s.record(ctx, s.entry(audit.OperationCreate, entityType(name, desc), "", audit.OutcomeRejected))

		return nil, err
	}

	stmt, args, err := s.compiler.CompileInsert(desc, out)
	if err != nil {
		return nil, err
	}

	e := s.entry(audit.OperationCreate, string(name), recordIDOf(desc, out), audit.OutcomeOK)
	if desc.Scoped() {
		e.TenantID = fmt.Sprint(out[desc.TenantColumn])
	}

	err = inTx(ctx, conn, func(txCtx context.Context, ex execer) error {
		if _, err := ex.ExecContext(txCtx, stmt, args...); err != nil {
			return fmt.Errorf("session: override create failed: %w", err)
		}

		return s.audit.Append(txCtx, ex, e)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Update applies changes with the caller's predicate unmodified.
func (s *OverrideSession) Update(ctx context.Context, name entity.Name, p query.Predicate, changes entity.Record) (int64, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return 0, err
	}

	desc, ok := s.registry.Lookup(name)
	if !ok {
		s.record(ctx, s.entry(audit.OperationUpdate, string(name), "", audit.OutcomeRejected))

		return 0, &tenancy.UnsupportedQueryError{Entity: string(name)}
	}

	if err := s.interceptor.CheckChanges(desc, changes); err != nil {
		s.record(ctx, s.entry(audit.OperationUpdate, string(name), recordIDFromPredicate(desc, p), audit.OutcomeRejected))

		return 0, err
	}

	stmt, args, err := s.compiler.CompileUpdate(desc, changes, p)
	if err != nil {
		return 0, err
	}

	return s.mutateRows(ctx, conn, audit.OperationUpdate, string(name), recordIDFromPredicate(desc, p), stmt, args)
}

// Delete removes rows with the caller's predicate unmodified.
func (s *OverrideSession) Delete(ctx context.Context, name entity.Name, p query.Predicate) (int64, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return 0, err
	}

	desc, ok := s.registry.Lookup(name)
	if !ok {
		s.record(ctx, s.entry(audit.OperationDelete, string(name), "", audit.OutcomeRejected))

		return 0, &tenancy.UnsupportedQueryError{Entity: string(name)}
	}

	stmt, args, err := s.compiler.CompileDelete(desc, p)
	if err != nil {
		return 0, err
	}

	return s.mutateRows(ctx, conn, audit.OperationDelete, string(name), recordIDFromPredicate(desc, p), stmt, args)
}

// RunInTransaction behaves as on Session.
func (s *OverrideSession) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return err
	}

	return runInTransaction(ctx, conn, fn)
}

func (s *OverrideSession) mutateRows(ctx context.Context, conn *pool.Conn, op audit.Operation, entityName, recordID, stmt string, args []any) (int64, error) {
	var affected int64

	err := inTx(ctx, conn, func(txCtx context.Context, ex execer) error {
		res, err := ex.ExecContext(txCtx, stmt, args...)
		if err != nil {
			return fmt.Errorf("session: override %s failed: %w", op, err)
		}

		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("session: override %s failed to report affected rows: %w", op, err)
		}

		return s.audit.Append(txCtx, ex, s.entry(op, entityName, recordID, audit.OutcomeOK))
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// entry builds an override-tagged audit entry. The tenant field stays empty
// unless the operation pinned a specific tenant.
func (s *OverrideSession) entry(op audit.Operation, entityName, recordID string, outcome audit.Outcome) *audit.Entry {
	return &audit.Entry{
		ActorID:         s.actor.String(),
		Operation:       op,
		EntityType:      entityName,
		RecordID:        recordID,
		Outcome:         outcome,
		ActorCapability: audit.CapabilityOverride,
	}
}

// record writes an entry outside any data transaction. Denials must survive
// the aborted operation, and query entries have no transaction of their own.
func (s *OverrideSession) record(ctx context.Context, e *audit.Entry) {
	appendDenied(ctx, s.pool, s.conn, s.audit, e)
}

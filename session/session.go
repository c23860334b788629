package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantrail/tenantdb/audit"
	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/internal/log"
	"github.com/quantrail/tenantdb/mutate"
	"github.com/quantrail/tenantdb/pool"
	"github.com/quantrail/tenantdb/query"
	"github.com/quantrail/tenantdb/scope"
	"github.com/quantrail/tenantdb/tenancy"
)

// ErrSessionClosed reports an operation on a closed session. A closed
// session never transitions back to active.
var ErrSessionClosed = errors.New("session: session is closed")

// denialAuditTimeout bounds the out-of-band write of a denial entry when the
// session's own connection is occupied by an ambient transaction.
const denialAuditTimeout = 5 * time.Second

type state int

const (
	stateCreated state = iota
	stateActive
	stateClosed
)

// Session is the tenant-scoped facade over one checked-out connection.
// Every read is rewritten by the scoping engine and every write passes the
// mutation interceptor; there is no method accepting raw SQL. One Session
// serves one unit of work and is not safe for concurrent use.
type Session struct {
	tc          *tenancy.TenantContext
	pool        *pool.Pool
	engine      *scope.Engine
	interceptor *mutate.Interceptor
	compiler    *query.Compiler
	audit       *audit.Logger

	mu    sync.Mutex
	state state
	conn  *pool.Conn
}

// TenantContext returns the acting tenant context.
func (s *Session) TenantContext() *tenancy.TenantContext {
	return s.tc
}

// ensureConn checks out the connection on first use. The session owns it
// exclusively until Close.
func (s *Session) ensureConn(ctx context.Context) (*pool.Conn, error) {
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

// Close returns the connection to the pool with its checkout state cleared.
// Idempotent, and safe after cancellation or a faulted transaction.
func (s *Session) Close() error {
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

// Query executes a read restricted to the acting tenant. Queries inside
// RunInTransaction observe the transaction's own writes.
func (s *Session) Query(ctx context.Context, q *query.Query) ([]entity.Record, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	rq, err := s.engine.Rewrite(q, s.tc.TenantID())
	if err != nil {
		var uq *tenancy.UnsupportedQueryError
		if errors.As(err, &uq) {
			s.auditDenied(ctx, s.entry(audit.OperationQuery, uq.Entity, "", audit.OutcomeReadDenied))
		}

		return nil, err
	}

	stmt, args, err := s.compiler.CompileSelect(rq)
	if err != nil {
		return nil, err
	}

	var ex execer = conn
	if tx := txFromContext(ctx); tx != nil {
		ex = tx
	}

	rows, err := ex.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("session: query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// Create inserts a record stamped with the acting tenant. A record carrying
// a foreign tenant id is rejected with TenantMismatchError and nothing is
// persisted.
func (s *Session) Create(ctx context.Context, name entity.Name, rec entity.Record) (entity.Record, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	out, desc, err := s.interceptor.PrepareCreate(name, rec, s.tc.TenantID())
	if err != nil {
		s.auditDenied(ctx, s.entry(audit.OperationCreate, entityType(name, desc), "", audit.OutcomeRejected))

		return nil, err
	}

	stmt, args, err := s.compiler.CompileInsert(desc, out)
	if err != nil {
		return nil, err
	}

	recordID := recordIDOf(desc, out)

	err = inTx(ctx, conn, func(txCtx context.Context, ex execer) error {
		if _, err := ex.ExecContext(txCtx, stmt, args...); err != nil {
			return fmt.Errorf("session: create failed: %w", err)
		}

		return s.audit.Append(txCtx, ex, s.entry(audit.OperationCreate, string(name), recordID, audit.OutcomeOK))
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Update applies changes to the rows matching the caller's predicate within
// the acting tenant. A predicate targeting a foreign tenant's record
// affects zero rows and is observable only in the audit trail, never
// through a distinct return value.
func (s *Session) Update(ctx context.Context, name entity.Name, p query.Predicate, changes entity.Record) (int64, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return 0, err
	}

	sp, desc, err := s.interceptor.ScopeMutation(name, p, s.tc.TenantID())
	if err != nil {
		s.auditDenied(ctx, s.entry(audit.OperationUpdate, entityType(name, desc), "", audit.OutcomeRejected))

		return 0, err
	}

	if err := s.interceptor.CheckChanges(desc, changes); err != nil {
		s.auditDenied(ctx, s.entry(audit.OperationUpdate, string(name), recordIDFromPredicate(desc, p), audit.OutcomeRejected))

		return 0, err
	}

	stmt, args, err := s.compiler.CompileUpdate(desc, changes, sp)
	if err != nil {
		return 0, err
	}

	return s.mutateRows(ctx, conn, audit.OperationUpdate, string(name), recordIDFromPredicate(desc, p), stmt, args)
}

// Delete removes the rows matching the caller's predicate within the acting
// tenant, with the same zero-row containment as Update.
func (s *Session) Delete(ctx context.Context, name entity.Name, p query.Predicate) (int64, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return 0, err
	}

	sp, desc, err := s.interceptor.ScopeMutation(name, p, s.tc.TenantID())
	if err != nil {
		s.auditDenied(ctx, s.entry(audit.OperationDelete, entityType(name, desc), "", audit.OutcomeRejected))

		return 0, err
	}

	stmt, args, err := s.compiler.CompileDelete(desc, sp)
	if err != nil {
		return 0, err
	}

	return s.mutateRows(ctx, conn, audit.OperationDelete, string(name), recordIDFromPredicate(desc, p), stmt, args)
}

// RunInTransaction executes fn inside one transaction; nested calls join
// the outer transaction. Without a commit the default is rollback.
func (s *Session) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return err
	}

	return runInTransaction(ctx, conn, fn)
}

// mutateRows executes a scoped update/delete and appends the audit entry in
// the same transaction. Zero affected rows audits as a write denial.
func (s *Session) mutateRows(ctx context.Context, conn *pool.Conn, op audit.Operation, entityName, recordID, stmt string, args []any) (int64, error) {
	var affected int64

	err := inTx(ctx, conn, func(txCtx context.Context, ex execer) error {
		res, err := ex.ExecContext(txCtx, stmt, args...)
		if err != nil {
			return fmt.Errorf("session: %s failed: %w", op, err)
		}

		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("session: %s failed to report affected rows: %w", op, err)
		}

		outcome := audit.OutcomeOK
		if affected == 0 {
			outcome = audit.OutcomeWriteDenied
		}

		return s.audit.Append(txCtx, ex, s.entry(op, entityName, recordID, outcome))
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

func (s *Session) entry(op audit.Operation, entityName, recordID string, outcome audit.Outcome) *audit.Entry {
	return &audit.Entry{
		TenantID:   s.tc.TenantID().String(),
		ActorID:    s.tc.ActorID().String(),
		Operation:  op,
		EntityType: entityName,
		RecordID:   recordID,
		Outcome:    outcome,
	}
}

// auditDenied records a denial immediately, outside any data transaction:
// an entry tied to a transaction that aborts would vanish with it. On the
// session's own connection when it is free, through the shared pool when an
// ambient transaction occupies it. Append failure is logged, never allowed
// to mask the denial itself.
func (s *Session) auditDenied(ctx context.Context, e *audit.Entry) {
	appendDenied(ctx, s.pool, s.conn, s.audit, e)
}

func appendDenied(ctx context.Context, p *pool.Pool, conn *pool.Conn, logger *audit.Logger, e *audit.Entry) {
	var ex audit.Execer = conn

	appendCtx := ctx
	if txFromContext(ctx) != nil || conn == nil {
		var cancel context.CancelFunc

		appendCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), denialAuditTimeout)
		defer cancel()

		ex = p.DB()
	}

	if err := logger.Append(appendCtx, ex, e); err != nil {
		log.Warn(ctx, "failed to record denial audit entry",
			log.String("entity_type", e.EntityType),
			log.String("outcome", string(e.Outcome)),
			log.Cause(err),
		)
	}
}

// entityType names the entity in denial entries even when no descriptor
// resolved.
func entityType(name entity.Name, desc *entity.Descriptor) string {
	if desc != nil {
		return string(desc.Name)
	}

	return string(name)
}

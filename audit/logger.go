package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/quantrail/tenantdb/internal/log"
)

// Execer is the minimal execution surface the logger writes through: a
// transaction for entries paired with a mutation, a raw connection for
// denials.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Observer receives a copy of every appended entry. Used for mirroring the
// trail into external sinks; append success never depends on it.
type Observer func(ctx context.Context, e *Entry)

// Logger appends audit entries to the sink table.
type Logger struct {
	dialect string

	mu       sync.RWMutex
	observer Observer
}

func NewLogger(dialect string) *Logger {
	return &Logger{dialect: dialect}
}

// SetObserver installs the mirroring observer.
func (l *Logger) SetObserver(fn Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = fn
}

// columns is the fixed insert order of the sink table.
var columns = []string{
	"id",
	"tenant_id",
	"actor_id",
	"operation",
	"entity_type",
	"record_id",
	"outcome",
	"actor_capability",
	"created_at",
}

// Append writes one entry through ex. Missing id/timestamp fields are
// filled; the entry itself is never mutated afterwards.
func (l *Logger) Append(ctx context.Context, ex Execer, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	stmt, args := entsql.Dialect(l.dialect).
		Insert(Table).
		Columns(columns...).
		Values(
			e.ID.String(),
			e.TenantID,
			e.ActorID,
			string(e.Operation),
			e.EntityType,
			e.RecordID,
			string(e.Outcome),
			e.ActorCapability,
			e.CreatedAt.Format(time.RFC3339Nano),
		).
		Query()

	if _, err := ex.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("audit: failed to append entry: %w", err)
	}

	l.mu.RLock()
	observer := l.observer
	l.mu.RUnlock()

	if observer != nil {
		observer(ctx, e)
	}

	if log.DebugEnabled(ctx) {
		log.Debug(ctx, "audit entry appended",
			log.String("operation", string(e.Operation)),
			log.String("entity_type", e.EntityType),
			log.String("record_id", e.RecordID),
			log.String("outcome", string(e.Outcome)),
		)
	}

	return nil
}

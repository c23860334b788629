// Package audit records every scoped mutation attempt in an append-only
// trail. Entries describing applied mutations are written on the same
// transaction as the mutation, so a rollback removes both; denials that
// abort before any mutation executes are written on the raw connection,
// outside any data transaction, so the attempt survives the abort.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Operation is the attempted operation kind.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationQuery  Operation = "query"
)

// Outcome describes how the attempt resolved.
type Outcome string

const (
	// OutcomeOK marks an applied mutation (or an override read).
	OutcomeOK Outcome = "ok"

	// OutcomeWriteDenied marks an update/delete whose scoped predicate
	// matched zero rows. This is deliberately the only signal of a
	// cross-tenant write probe; the caller sees RowsAffected(0).
	OutcomeWriteDenied Outcome = "write-denied (0 rows)"

	// OutcomeReadDenied marks a query against an unclassified entity type.
	OutcomeReadDenied Outcome = "read-denied"

	// OutcomeRejected marks a mutation refused before execution
	// (tenant mismatch, unclassified type, global-entity write).
	OutcomeRejected Outcome = "rejected"
)

// CapabilityOverride tags entries produced through an override session.
const CapabilityOverride = "override"

// Table is the audit sink table. No component other than this package
// writes to it, and application code never updates or deletes its rows.
const Table = "audit_entries"

// Entry is one immutable audit record.
type Entry struct {
	ID         uuid.UUID
	TenantID   string
	ActorID    string
	Operation  Operation
	EntityType string
	RecordID   string
	Outcome    Outcome

	// ActorCapability is empty for tenant sessions and
	// CapabilityOverride for override sessions.
	ActorCapability string

	CreatedAt time.Time
}

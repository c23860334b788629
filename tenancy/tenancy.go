// Package tenancy defines the acting-tenant model shared by every layer of
// the store: opaque tenant/actor identifiers, the immutable per-request
// TenantContext, set-once context plumbing, the collaborator interfaces the
// layer consumes, and the isolation error taxonomy.
package tenancy

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// TenantID is the opaque identifier of an isolated tenant. Immutable once
// assigned.
type TenantID uuid.UUID

// NewTenantID returns a fresh random TenantID.
func NewTenantID() TenantID {
	return TenantID(uuid.New())
}

// ParseTenantID parses the canonical string form of a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, fmt.Errorf("tenancy: invalid tenant id %q: %w", s, err)
	}

	return TenantID(id), nil
}

func (id TenantID) String() string {
	return uuid.UUID(id).String()
}

func (id TenantID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// ActorID identifies the acting user or service principal within a tenant.
type ActorID uuid.UUID

// NewActorID returns a fresh random ActorID.
func NewActorID() ActorID {
	return ActorID(uuid.New())
}

// ParseActorID parses the canonical string form of an ActorID.
func ParseActorID(s string) (ActorID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ActorID{}, fmt.Errorf("tenancy: invalid actor id %q: %w", s, err)
	}

	return ActorID(id), nil
}

func (id ActorID) String() string {
	return uuid.UUID(id).String()
}

func (id ActorID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// Role is an opaque role name granted to an actor by the identity
// collaborator. The layer never interprets roles beyond membership checks.
type Role string

// TenantContext identifies the acting tenant and actor for one unit of work.
// It is created once per request from the trusted identity collaborator and
// never mutated; all fields are private and there are no setters.
type TenantContext struct {
	tenantID TenantID
	actorID  ActorID
	roles    []Role
}

// NewTenantContext is the only constructor. It rejects identities without an
// actor (ErrAuthentication) or without a tenant (ErrTenantResolution).
func NewTenantContext(tenantID TenantID, actorID ActorID, roles ...Role) (*TenantContext, error) {
	if actorID.IsZero() {
		return nil, ErrAuthentication
	}

	if tenantID.IsZero() {
		return nil, ErrTenantResolution
	}

	return &TenantContext{
		tenantID: tenantID,
		actorID:  actorID,
		roles:    slices.Clone(roles),
	}, nil
}

func (c *TenantContext) TenantID() TenantID {
	return c.tenantID
}

func (c *TenantContext) ActorID() ActorID {
	return c.actorID
}

// Roles returns a copy of the granted roles.
func (c *TenantContext) Roles() []Role {
	return slices.Clone(c.roles)
}

func (c *TenantContext) HasRole(r Role) bool {
	return slices.Contains(c.roles, r)
}

// String returns a stable representation for audit and log records.
func (c *TenantContext) String() string {
	return fmt.Sprintf("tenant:%s actor:%s", c.tenantID, c.actorID)
}

// Package scope implements the query-scoping engine: a pure rewrite over the
// typed query tree that restricts every scoped entity reference to the
// acting tenant. The engine touches no database and holds no state beyond
// the entity registry, so it is testable in isolation.
package scope

import (
	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/query"
	"github.com/quantrail/tenantdb/tenancy"
)

// Engine rewrites read queries so every scoped reference carries the tenant
// predicate inside its own filter scope: the root reference in the WHERE
// conjunction, each join in its ON clause, each subquery recursively. A
// self-join receives the predicate on each occurrence independently. The
// rewrite cannot be disabled from a tenant session; there is no escape
// hatch.
type Engine struct {
	registry *entity.Registry
}

func NewEngine(registry *entity.Registry) *Engine {
	return &Engine{registry: registry}
}

// Rewrite returns a scoped deep copy of q for the given tenant. The caller's
// query is never modified. Unknown entity references abort with
// UnsupportedQueryError before any scoping is applied.
func (e *Engine) Rewrite(q *query.Query, tid tenancy.TenantID) (*query.Query, error) {
	rq := q.Clone()
	if err := e.rewriteQuery(rq, tid); err != nil {
		return nil, err
	}

	return rq, nil
}

// RewritePredicate returns a copy of p with every subquery scoped to the
// tenant. Used for mutation predicates, which may carry IN/EXISTS
// subqueries over other scoped entities.
func (e *Engine) RewritePredicate(p query.Predicate, tid tenancy.TenantID) (query.Predicate, error) {
	if p == nil {
		return nil, nil
	}

	rp := query.ClonePredicate(p)
	if err := e.rewritePred(rp, tid); err != nil {
		return nil, err
	}

	return rp, nil
}

func (e *Engine) rewriteQuery(q *query.Query, tid tenancy.TenantID) error {
	rootPred, err := e.refPredicate(q.From, tid)
	if err != nil {
		return err
	}

	if rootPred != nil {
		// Wrapping the whole existing filter keeps the restriction
		// correct under OR-combined top-level predicates.
		if q.Pred == nil {
			q.Pred = rootPred
		} else {
			q.Pred = query.And(rootPred, q.Pred)
		}
	}

	for i := range q.Joins {
		j := &q.Joins[i]

		joinPred, err := e.refPredicate(j.Ref, tid)
		if err != nil {
			return err
		}

		if joinPred != nil {
			// Into the ON clause, not the outer WHERE: an outer
			// join must not leak foreign-tenant rows through its
			// null-extended side.
			if j.On == nil {
				j.On = joinPred
			} else {
				j.On = query.And(joinPred, j.On)
			}
		}

		if j.On != nil {
			if err := e.rewritePred(j.On, tid); err != nil {
				return err
			}
		}
	}

	if q.Pred != nil {
		if err := e.rewritePred(q.Pred, tid); err != nil {
			return err
		}
	}

	return nil
}

// refPredicate classifies one entity reference and returns its tenant
// predicate, nil for global entities, or the fail-closed error for unknown
// types.
func (e *Engine) refPredicate(ref query.Ref, tid tenancy.TenantID) (query.Predicate, error) {
	desc, ok := e.registry.Lookup(ref.Entity)
	if !ok {
		return nil, &tenancy.UnsupportedQueryError{Entity: string(ref.Entity)}
	}

	if !desc.Scoped() {
		return nil, nil
	}

	qualifier := ref.Alias
	if qualifier == "" {
		qualifier = desc.Table
	}

	return query.EQ(query.QC(qualifier, desc.TenantColumn), tid.String()), nil
}

func (e *Engine) rewritePred(p query.Predicate, tid tenancy.TenantID) error {
	switch t := p.(type) {
	case *query.AndPred:
		for _, child := range t.Preds {
			if err := e.rewritePred(child, tid); err != nil {
				return err
			}
		}
	case *query.OrPred:
		for _, child := range t.Preds {
			if err := e.rewritePred(child, tid); err != nil {
				return err
			}
		}
	case *query.NotPred:
		return e.rewritePred(t.Pred, tid)
	case *query.InQueryPred:
		return e.rewriteQuery(t.Sub, tid)
	case *query.ExistsPred:
		return e.rewriteQuery(t.Sub, tid)
	}

	return nil
}

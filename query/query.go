package query

import (
	"github.com/quantrail/tenantdb/entity"
)

// JoinKind selects the join type of a secondary reference.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
)

// Ref is one entity reference of a query. Alias defaults to the entity's
// table name; self-joins must use distinct aliases.
type Ref struct {
	Entity entity.Name
	Alias  string
}

// Join attaches a secondary reference with an ON predicate.
type Join struct {
	Kind JoinKind
	Ref  Ref
	On   Predicate
}

// Order is one ORDER BY term.
type Order struct {
	Col  Column
	Desc bool
}

// Query is the logical read query handed to the session: a root reference,
// optional joins and filter tree, and result shaping. Ordering and
// pagination operate on the already-scoped result set and are never touched
// by the scoping engine.
type Query struct {
	From       Ref
	Projection []Column
	Pred       Predicate
	Joins      []Join
	Orders     []Order
	Limit      int
	Offset     int
}

// From starts a query over the given entity type.
func From(e entity.Name) *Query {
	return &Query{From: Ref{Entity: e}}
}

// As aliases the root reference.
func (q *Query) As(alias string) *Query {
	q.From.Alias = alias

	return q
}

// Select restricts the projection. Without it, all registered columns of the
// root entity are projected.
func (q *Query) Select(cols ...Column) *Query {
	q.Projection = append(q.Projection, cols...)

	return q
}

// Where conjoins p with any existing filter.
func (q *Query) Where(p Predicate) *Query {
	if q.Pred == nil {
		q.Pred = p
	} else if p != nil {
		q.Pred = And(q.Pred, p)
	}

	return q
}

// Join inner-joins a reference under the given alias.
func (q *Query) Join(e entity.Name, alias string, on Predicate) *Query {
	q.Joins = append(q.Joins, Join{Kind: JoinInner, Ref: Ref{Entity: e, Alias: alias}, On: on})

	return q
}

// LeftJoin left-joins a reference under the given alias.
func (q *Query) LeftJoin(e entity.Name, alias string, on Predicate) *Query {
	q.Joins = append(q.Joins, Join{Kind: JoinLeft, Ref: Ref{Entity: e, Alias: alias}, On: on})

	return q
}

// Asc appends an ascending order term.
func (q *Query) Asc(col Column) *Query {
	q.Orders = append(q.Orders, Order{Col: col})

	return q
}

// Desc appends a descending order term.
func (q *Query) Desc(col Column) *Query {
	q.Orders = append(q.Orders, Order{Col: col, Desc: true})

	return q
}

// Take limits the result set.
func (q *Query) Take(n int) *Query {
	q.Limit = n

	return q
}

// Skip offsets the result set.
func (q *Query) Skip(n int) *Query {
	q.Offset = n

	return q
}

// Clone deep-copies the query, including joins and subqueries.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}

	out := &Query{
		From:       q.From,
		Projection: append([]Column(nil), q.Projection...),
		Pred:       ClonePredicate(q.Pred),
		Orders:     append([]Order(nil), q.Orders...),
		Limit:      q.Limit,
		Offset:     q.Offset,
	}

	out.Joins = make([]Join, len(q.Joins))
	for i, j := range q.Joins {
		out.Joins[i] = Join{Kind: j.Kind, Ref: j.Ref, On: ClonePredicate(j.On)}
	}

	return out
}

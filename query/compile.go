package query

import (
	"fmt"
	"sort"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/samber/lo"

	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/tenancy"
)

// Compiler lowers the typed query model to dialect SQL through ent's sql
// builder, so quoting and placeholder styles always come from the dialect.
type Compiler struct {
	dialect  string
	registry *entity.Registry
}

func NewCompiler(dialect string, registry *entity.Registry) *Compiler {
	return &Compiler{dialect: dialect, registry: registry}
}

func (c *Compiler) Dialect() string {
	return c.dialect
}

// colResolver maps a logical column reference to its SQL form.
type colResolver func(col Column) (string, error)

// tableScope maps reference aliases to their builder tables. The empty alias
// resolves against the query's root reference.
type tableScope map[string]*entsql.SelectTable

func (s tableScope) resolve(col Column) (string, error) {
	if !entity.ValidIdent(col.Name) {
		return "", fmt.Errorf("query: %q is not a valid column identifier", col.Name)
	}

	t, ok := s[col.Alias]
	if !ok {
		return "", fmt.Errorf("query: unknown reference alias %q", col.Alias)
	}

	return t.C(col.Name), nil
}

// CompileSelect lowers a read query. Unknown entity references fail closed
// with UnsupportedQueryError even here, as a second line of defense behind
// the scoping engine.
func (c *Compiler) CompileSelect(q *Query) (string, []any, error) {
	sel, err := c.selector(q, nil)
	if err != nil {
		return "", nil, err
	}

	stmt, args := sel.Query()

	return stmt, args, nil
}

func (c *Compiler) selector(q *Query, parent tableScope) (*entsql.Selector, error) {
	desc, ok := c.registry.Lookup(q.From.Entity)
	if !ok {
		return nil, &tenancy.UnsupportedQueryError{Entity: string(q.From.Entity)}
	}

	b := entsql.Dialect(c.dialect)

	// Correlated subqueries may reference the parent's aliases; inner
	// references shadow outer ones.
	scope := tableScope{}
	for k, v := range parent {
		scope[k] = v
	}

	root := b.Table(desc.Table)

	rootKey := desc.Table
	if q.From.Alias != "" && q.From.Alias != desc.Table {
		root = root.As(q.From.Alias)
		rootKey = q.From.Alias
	}

	scope[rootKey] = root
	scope[""] = root

	// Duplicates are judged per nesting level; an inner alias shadows an
	// outer one the same way the root reference does.
	local := map[string]bool{rootKey: true}

	type joined struct {
		kind  JoinKind
		table *entsql.SelectTable
		on    Predicate
	}

	joins := make([]joined, 0, len(q.Joins))

	for _, j := range q.Joins {
		jd, ok := c.registry.Lookup(j.Ref.Entity)
		if !ok {
			return nil, &tenancy.UnsupportedQueryError{Entity: string(j.Ref.Entity)}
		}

		if j.On == nil {
			return nil, fmt.Errorf("query: join on %q has no ON predicate", j.Ref.Entity)
		}

		jt := b.Table(jd.Table)

		key := jd.Table
		if j.Ref.Alias != "" && j.Ref.Alias != jd.Table {
			jt = jt.As(j.Ref.Alias)
			key = j.Ref.Alias
		}

		if local[key] {
			return nil, fmt.Errorf("query: duplicate reference alias %q", key)
		}

		local[key] = true
		scope[key] = jt
		joins = append(joins, joined{kind: j.Kind, table: jt, on: j.On})
	}

	var cols []string

	if len(q.Projection) == 0 {
		for _, name := range desc.ColumnNames() {
			cols = append(cols, root.C(name))
		}
	} else {
		for _, col := range q.Projection {
			s, err := scope.resolve(col)
			if err != nil {
				return nil, err
			}

			cols = append(cols, s)
		}
	}

	sel := b.Select(cols...).From(root)

	for _, j := range joins {
		switch j.kind {
		case JoinLeft:
			sel.LeftJoin(j.table)
		case JoinRight:
			sel.RightJoin(j.table)
		default:
			sel.Join(j.table)
		}

		on, err := c.pred(scope.resolve, scope, j.on)
		if err != nil {
			return nil, err
		}

		sel.OnP(on)
	}

	if q.Pred != nil {
		p, err := c.pred(scope.resolve, scope, q.Pred)
		if err != nil {
			return nil, err
		}

		sel.Where(p)
	}

	if len(q.Orders) > 0 {
		terms := make([]string, 0, len(q.Orders))

		for _, o := range q.Orders {
			s, err := scope.resolve(o.Col)
			if err != nil {
				return nil, err
			}

			if o.Desc {
				terms = append(terms, entsql.Desc(s))
			} else {
				terms = append(terms, entsql.Asc(s))
			}
		}

		sel.OrderBy(terms...)
	}

	if q.Limit > 0 {
		sel.Limit(q.Limit)
	}

	if q.Offset > 0 {
		sel.Offset(q.Offset)
	}

	return sel, nil
}

func (c *Compiler) pred(resolve colResolver, scope tableScope, p Predicate) (*entsql.Predicate, error) {
	switch t := p.(type) {
	case *Cmp:
		col, err := resolve(t.Col)
		if err != nil {
			return nil, err
		}

		switch t.Op {
		case OpEQ:
			return entsql.EQ(col, t.Value), nil
		case OpNEQ:
			return entsql.NEQ(col, t.Value), nil
		case OpGT:
			return entsql.GT(col, t.Value), nil
		case OpGTE:
			return entsql.GTE(col, t.Value), nil
		case OpLT:
			return entsql.LT(col, t.Value), nil
		case OpLTE:
			return entsql.LTE(col, t.Value), nil
		case OpLike:
			s, ok := t.Value.(string)
			if !ok {
				return nil, fmt.Errorf("query: LIKE pattern must be a string, got %T", t.Value)
			}

			return entsql.Like(col, s), nil
		default:
			return nil, fmt.Errorf("query: unsupported operator %q", t.Op)
		}
	case *AndPred:
		children, err := c.preds(resolve, scope, t.Preds)
		if err != nil {
			return nil, err
		}

		return entsql.And(children...), nil
	case *OrPred:
		children, err := c.preds(resolve, scope, t.Preds)
		if err != nil {
			return nil, err
		}

		return entsql.Or(children...), nil
	case *NotPred:
		child, err := c.pred(resolve, scope, t.Pred)
		if err != nil {
			return nil, err
		}

		return entsql.Not(child), nil
	case *InPred:
		col, err := resolve(t.Col)
		if err != nil {
			return nil, err
		}

		if len(t.Values) == 0 {
			return nil, fmt.Errorf("query: IN on %q has no values", t.Col.Name)
		}

		return entsql.In(col, t.Values...), nil
	case *InQueryPred:
		col, err := resolve(t.Col)
		if err != nil {
			return nil, err
		}

		sub, err := c.selector(t.Sub, scope)
		if err != nil {
			return nil, err
		}

		return entsql.In(col, sub), nil
	case *ExistsPred:
		sub, err := c.selector(t.Sub, scope)
		if err != nil {
			return nil, err
		}

		return entsql.Exists(sub), nil
	case *NullPred:
		col, err := resolve(t.Col)
		if err != nil {
			return nil, err
		}

		if t.Negated {
			return entsql.NotNull(col), nil
		}

		return entsql.IsNull(col), nil
	default:
		return nil, fmt.Errorf("query: unsupported predicate %T", p)
	}
}

func (c *Compiler) preds(resolve colResolver, scope tableScope, preds []Predicate) ([]*entsql.Predicate, error) {
	if len(preds) == 0 {
		return nil, fmt.Errorf("query: empty predicate list")
	}

	out := make([]*entsql.Predicate, 0, len(preds))

	for _, p := range preds {
		cp, err := c.pred(resolve, scope, p)
		if err != nil {
			return nil, err
		}

		out = append(out, cp)
	}

	return out, nil
}

// bareResolver resolves unqualified columns of a single-table mutation
// against the descriptor's registered columns.
func bareResolver(desc *entity.Descriptor) colResolver {
	known := lo.SliceToMap(desc.ColumnNames(), func(n string) (string, bool) { return n, true })

	return func(col Column) (string, error) {
		if col.Alias != "" {
			return "", fmt.Errorf("query: mutation predicates cannot use reference aliases (got %q)", col.Alias)
		}

		if !known[col.Name] {
			return "", fmt.Errorf("query: %q is not a column of %q", col.Name, desc.Name)
		}

		return col.Name, nil
	}
}

// CompileInsert lowers a stamped record to an INSERT. Record keys must all
// be registered columns of the entity.
func (c *Compiler) CompileInsert(desc *entity.Descriptor, rec entity.Record) (string, []any, error) {
	if len(rec) == 0 {
		return "", nil, fmt.Errorf("query: insert into %q with no values", desc.Name)
	}

	resolve := bareResolver(desc)

	cols := lo.Keys(rec)
	sort.Strings(cols)

	vals := make([]any, len(cols))

	for i, col := range cols {
		if _, err := resolve(C(col)); err != nil {
			return "", nil, err
		}

		vals[i] = rec[col]
	}

	stmt, args := entsql.Dialect(c.dialect).
		Insert(desc.Table).
		Columns(cols...).
		Values(vals...).
		Query()

	return stmt, args, nil
}

// CompileUpdate lowers a change set plus an already-scoped predicate to an
// UPDATE.
func (c *Compiler) CompileUpdate(desc *entity.Descriptor, changes entity.Record, p Predicate) (string, []any, error) {
	if len(changes) == 0 {
		return "", nil, fmt.Errorf("query: update of %q with no changes", desc.Name)
	}

	resolve := bareResolver(desc)
	upd := entsql.Dialect(c.dialect).Update(desc.Table)

	cols := lo.Keys(changes)
	sort.Strings(cols)

	for _, col := range cols {
		if _, err := resolve(C(col)); err != nil {
			return "", nil, err
		}

		upd.Set(col, changes[col])
	}

	if p != nil {
		cp, err := c.pred(resolve, nil, p)
		if err != nil {
			return "", nil, err
		}

		upd.Where(cp)
	}

	stmt, args := upd.Query()

	return stmt, args, nil
}

// CompileDelete lowers an already-scoped predicate to a DELETE.
func (c *Compiler) CompileDelete(desc *entity.Descriptor, p Predicate) (string, []any, error) {
	del := entsql.Dialect(c.dialect).Delete(desc.Table)

	if p != nil {
		cp, err := c.pred(bareResolver(desc), nil, p)
		if err != nil {
			return "", nil, err
		}

		del.Where(cp)
	}

	stmt, args := del.Query()

	return stmt, args, nil
}

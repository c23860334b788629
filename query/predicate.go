// Package query provides the typed query model of the store: a sealed
// predicate tree plus entity references the scoping engine can classify
// statically, and a compiler lowering both to dialect SQL through ent's
// sql builder. There is no raw-string query surface.
package query

// Column references a column, optionally qualified by a reference alias.
// An empty alias resolves against the query's root reference.
type Column struct {
	Alias string
	Name  string
}

// C references an unqualified column.
func C(name string) Column {
	return Column{Name: name}
}

// QC references a column of the reference registered under alias.
func QC(alias, name string) Column {
	return Column{Alias: alias, Name: name}
}

// Op is a comparison operator.
type Op string

const (
	OpEQ   Op = "="
	OpNEQ  Op = "<>"
	OpGT   Op = ">"
	OpGTE  Op = ">="
	OpLT   Op = "<"
	OpLTE  Op = "<="
	OpLike Op = "LIKE"
)

// Predicate is a node of the sealed filter tree. Only the types in this
// package implement it, so the scoping engine's classification is
// exhaustive.
type Predicate interface {
	pred()
}

// Cmp compares a column against a bound value.
type Cmp struct {
	Col   Column
	Op    Op
	Value any
}

// AndPred is the conjunction of its children.
type AndPred struct {
	Preds []Predicate
}

// OrPred is the disjunction of its children.
type OrPred struct {
	Preds []Predicate
}

// NotPred negates its child.
type NotPred struct {
	Pred Predicate
}

// InPred tests membership in a bound value list.
type InPred struct {
	Col    Column
	Values []any
}

// InQueryPred tests membership in a subquery's result set.
type InQueryPred struct {
	Col Column
	Sub *Query
}

// ExistsPred tests that a subquery yields at least one row.
type ExistsPred struct {
	Sub *Query
}

// NullPred tests a column for NULL (or NOT NULL when negated).
type NullPred struct {
	Col     Column
	Negated bool
}

func (*Cmp) pred()         {}
func (*AndPred) pred()     {}
func (*OrPred) pred()      {}
func (*NotPred) pred()     {}
func (*InPred) pred()      {}
func (*InQueryPred) pred() {}
func (*ExistsPred) pred()  {}
func (*NullPred) pred()    {}

func EQ(col Column, v any) Predicate   { return &Cmp{Col: col, Op: OpEQ, Value: v} }
func NEQ(col Column, v any) Predicate  { return &Cmp{Col: col, Op: OpNEQ, Value: v} }
func GT(col Column, v any) Predicate   { return &Cmp{Col: col, Op: OpGT, Value: v} }
func GTE(col Column, v any) Predicate  { return &Cmp{Col: col, Op: OpGTE, Value: v} }
func LT(col Column, v any) Predicate   { return &Cmp{Col: col, Op: OpLT, Value: v} }
func LTE(col Column, v any) Predicate  { return &Cmp{Col: col, Op: OpLTE, Value: v} }
func Like(col Column, v any) Predicate { return &Cmp{Col: col, Op: OpLike, Value: v} }

// And returns the conjunction of the given predicates, flattening the
// degenerate cases.
func And(preds ...Predicate) Predicate {
	preds = compact(preds)
	if len(preds) == 1 {
		return preds[0]
	}

	return &AndPred{Preds: preds}
}

// Or returns the disjunction of the given predicates.
func Or(preds ...Predicate) Predicate {
	preds = compact(preds)
	if len(preds) == 1 {
		return preds[0]
	}

	return &OrPred{Preds: preds}
}

func Not(p Predicate) Predicate {
	return &NotPred{Pred: p}
}

func In(col Column, values ...any) Predicate {
	return &InPred{Col: col, Values: values}
}

// InQuery tests col against the projected column of sub.
func InQuery(col Column, sub *Query) Predicate {
	return &InQueryPred{Col: col, Sub: sub}
}

func Exists(sub *Query) Predicate {
	return &ExistsPred{Sub: sub}
}

func IsNull(col Column) Predicate {
	return &NullPred{Col: col}
}

func NotNull(col Column) Predicate {
	return &NullPred{Col: col, Negated: true}
}

func compact(preds []Predicate) []Predicate {
	out := preds[:0]

	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}

	return out
}

// ClonePredicate deep-copies a predicate tree, including subqueries, so a
// rewrite never aliases the caller's tree.
func ClonePredicate(p Predicate) Predicate {
	switch t := p.(type) {
	case nil:
		return nil
	case *Cmp:
		c := *t
		return &c
	case *AndPred:
		return &AndPred{Preds: clonePreds(t.Preds)}
	case *OrPred:
		return &OrPred{Preds: clonePreds(t.Preds)}
	case *NotPred:
		return &NotPred{Pred: ClonePredicate(t.Pred)}
	case *InPred:
		return &InPred{Col: t.Col, Values: append([]any(nil), t.Values...)}
	case *InQueryPred:
		return &InQueryPred{Col: t.Col, Sub: t.Sub.Clone()}
	case *ExistsPred:
		return &ExistsPred{Sub: t.Sub.Clone()}
	case *NullPred:
		c := *t
		return &c
	default:
		return p
	}
}

func clonePreds(preds []Predicate) []Predicate {
	out := make([]Predicate, len(preds))
	for i, p := range preds {
		out[i] = ClonePredicate(p)
	}

	return out
}

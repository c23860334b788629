package session

import (
	"database/sql"
	"fmt"

	"github.com/quantrail/tenantdb/entity"
	"github.com/quantrail/tenantdb/query"
)

// scanRecords maps a result set to records keyed by column label. When a
// projection selects same-named columns from several references, the last
// one wins; project distinct columns to avoid that.
func scanRecords(rows *sql.Rows) ([]entity.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("session: failed to read result columns: %w", err)
	}

	var out []entity.Record

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range vals {
			ptrs[i] = &vals[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("session: failed to scan row: %w", err)
		}

		rec := make(entity.Record, len(cols))

		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = vals[i]
			}
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: result iteration failed: %w", err)
	}

	return out, nil
}

// recordIDOf extracts the primary key of a stamped record for the audit
// trail.
func recordIDOf(desc *entity.Descriptor, rec entity.Record) string {
	if v, ok := rec[desc.IDColumn]; ok {
		return fmt.Sprint(v)
	}

	return ""
}

// recordIDFromPredicate extracts a primary-key equality from the caller's
// top-level conjunction, if one exists, so blind update/delete attempts are
// attributable in the audit trail.
func recordIDFromPredicate(desc *entity.Descriptor, p query.Predicate) string {
	switch t := p.(type) {
	case *query.Cmp:
		if t.Op == query.OpEQ && t.Col.Alias == "" && t.Col.Name == desc.IDColumn {
			return fmt.Sprint(t.Value)
		}
	case *query.AndPred:
		for _, child := range t.Preds {
			if id := recordIDFromPredicate(desc, child); id != "" {
				return id
			}
		}
	}

	return ""
}

package executor

import (
	"strings"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/eval"
	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/storage"
	"github.com/minisql/minisql/internal/value"
)

// conjuncts splits a WHERE tree into its top-level AND-joined clauses
// (spec.md §4.1 "a conjunction containing equality on the full key").
func conjuncts(expr ast.Expr) []ast.Expr {
	if expr == nil {
		return nil
	}
	if b, ok := expr.(*ast.BinaryExpr); ok && strings.EqualFold(b.Op, "AND") {
		return append(conjuncts(b.Left), conjuncts(b.Right)...)
	}
	return []ast.Expr{expr}
}

// equalityLiterals scans the conjuncts of where for "column = <constant
// expr>" clauses (either side) and returns a column-name -> constant
// Value map. Constant here means an expression with no column
// references, evaluated once up front with eval's emptyTuple analogue.
func equalityLiterals(where ast.Expr) map[string]value.Value {
	out := make(map[string]value.Value)
	for _, c := range conjuncts(where) {
		b, ok := c.(*ast.BinaryExpr)
		if !ok || b.Op != "=" {
			continue
		}
		if col, val, ok := splitEquality(b.Left, b.Right); ok {
			out[strings.ToLower(col)] = val
			continue
		}
		if col, val, ok := splitEquality(b.Right, b.Left); ok {
			out[strings.ToLower(col)] = val
		}
	}
	return out
}

func splitEquality(side, other ast.Expr) (column string, val value.Value, ok bool) {
	ref, isCol := side.(*ast.ColumnRef)
	if !isCol {
		return "", value.Value{}, false
	}
	v, err := eval.Eval(other, noColumnsTuple{})
	if err != nil {
		return "", value.Value{}, false
	}
	return ref.Name, v, true
}

// noColumnsTuple lets eval.Eval resolve any expression with no column
// references (used to test whether a WHERE clause's operand is a
// runtime constant suitable for an index point lookup).
type noColumnsTuple struct{}

func (noColumnsTuple) Column(string, string) (value.Value, bool) { return value.Value{}, false }

// pointLookupRows attempts spec.md §4.1's "point lookup on a
// unique/primary index when the WHERE is a conjunction containing
// equality on the full key". Returns ok=false when no such index is
// fully covered by literal equalities, so the caller falls back to a
// full scan.
func pointLookupRows(eng storage.Engine, table string, sch *schema.Schema, where ast.Expr) ([]storage.Row, bool, error) {
	if where == nil {
		return nil, false, nil
	}
	literals := equalityLiterals(where)
	if len(literals) == 0 {
		return nil, false, nil
	}
	for _, idx := range sch.Indexes {
		if !idx.Unique {
			continue
		}
		key := make([]value.Value, len(idx.Columns))
		covered := true
		for i, colPos := range idx.Columns {
			v, ok := literals[strings.ToLower(sch.Columns[colPos].Name)]
			if !ok {
				covered = false
				break
			}
			key[i] = v
		}
		if !covered {
			continue
		}
		ids, err := eng.IndexLookup(table, idx.Name, key)
		if err != nil {
			return nil, false, err
		}
		rows := make([]storage.Row, 0, len(ids))
		for _, id := range ids {
			row, err := eng.Get(table, id)
			if err != nil {
				if err == storage.ErrNotFound {
					continue
				}
				return nil, false, err
			}
			// The index only guarantees the key columns match; verify
			// the rest of the WHERE conjunction (e.g. extra predicates
			// beyond the key) against the full row.
			v, err := eval.Eval(where, &namedRow{alias: table, sch: sch, row: row.Values})
			if err != nil {
				return nil, false, err
			}
			if known, b := truthyValue(v); known && b {
				rows = append(rows, row)
			}
		}
		return rows, true, nil
	}
	return nil, false, nil
}

// scanFilterRows performs spec.md §4.1's "full table scan with a
// predicate filter" plan, materializing the whole matching set before
// returning (UPDATE/DELETE require this to avoid re-visiting rows they
// just mutated, spec.md §4.1).
func scanFilterRows(eng storage.Engine, table string, sch *schema.Schema, where ast.Expr) ([]storage.Row, error) {
	cur, err := eng.Scan(table)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var out []storage.Row
	for cur.Next() {
		row := cur.Row()
		if where != nil {
			v, err := eval.Eval(where, &namedRow{alias: table, sch: sch, row: row.Values})
			if err != nil {
				return nil, err
			}
			known, b := truthyValue(v)
			if !known || !b {
				continue
			}
		}
		out = append(out, row.Clone())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// truthyValue mirrors eval's internal three-valued truth test for an
// already-evaluated boolean Value (WHERE clauses evaluate to Integer
// 0/1 or NULL).
func truthyValue(v value.Value) (known, result bool) {
	if v.IsNull() {
		return false, false
	}
	switch v.Kind {
	case value.KindInteger:
		return true, v.I != 0
	case value.KindFloat:
		return true, v.F != 0
	default:
		return true, true
	}
}

// matchingRows is the single entry point SELECT/UPDATE/DELETE share for
// row selection (spec.md §4.1: "select the row-id set by the same plan
// selection as SELECT").
func matchingRows(eng storage.Engine, table string, sch *schema.Schema, where ast.Expr) ([]storage.Row, error) {
	rows, ok, err := pointLookupRows(eng, table, sch, where)
	if err != nil {
		return nil, err
	}
	if ok {
		return rows, nil
	}
	return scanFilterRows(eng, table, sch, where)
}

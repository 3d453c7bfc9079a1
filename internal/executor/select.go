package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/eval"
	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/storage"
	"github.com/minisql/minisql/internal/value"
)

// tableBinding records which alias a FROM/JOIN table is visible under,
// used to expand "*"/"alias.*" and to resolve join ON clauses.
type tableBinding struct {
	alias string
	sch   *schema.Schema
}

func aliasOr(ref ast.TableRef) string {
	if ref.Alias != "" {
		return ref.Alias
	}
	return ref.Name
}

// projItem is one flattened output column: a Star in the select list
// expands into one projItem per underlying column (spec.md §4.1 SELECT
// projection).
type projItem struct {
	label string
	expr  ast.Expr
}

func exprLabel(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.ColumnRef:
		return v.Name
	case *ast.FuncCall:
		return strings.ToLower(v.Name)
	default:
		return "expr"
	}
}

func expandSelectItems(items []ast.SelectItem, bindings []tableBinding) []projItem {
	var out []projItem
	for _, it := range items {
		if star, ok := it.Expr.(*ast.Star); ok {
			for _, b := range bindings {
				if star.Table != "" && !strings.EqualFold(star.Table, b.alias) {
					continue
				}
				for _, c := range b.sch.Columns {
					out = append(out, projItem{label: c.Name, expr: &ast.ColumnRef{Table: b.alias, Name: c.Name}})
				}
			}
			continue
		}
		label := it.Alias
		if label == "" {
			label = exprLabel(it.Expr)
		}
		out = append(out, projItem{label: label, expr: it.Expr})
	}
	return out
}

// execSelect implements spec.md §4.1 SELECT: FROM/JOIN resolution
// (point lookup or hash/index join when an equality predicate is
// covered by an index, nested-loop scan otherwise), WHERE filtering,
// GROUP BY hash aggregation, ORDER BY, LIMIT, and projection.
func (e *Executor) execSelect(s *ast.SelectStmt, tc *txnContext) (QueryResult, error) {
	names := []string{s.From.Name}
	for _, j := range s.Joins {
		names = append(names, j.Table.Name)
	}
	tc.t.LockTables(names, false)

	fromSch, err := e.lookupTable(s.From.Name)
	if err != nil {
		return QueryResult{}, err
	}
	fromEng, err := e.engineFor(fromSch)
	if err != nil {
		return QueryResult{}, err
	}
	fromAlias := aliasOr(s.From)
	bindings := []tableBinding{{alias: fromAlias, sch: fromSch}}

	var rows []*joinedRow
	if len(s.Joins) == 0 {
		matched, err := matchingRows(fromEng, s.From.Name, fromSch, s.Where)
		if err != nil {
			return QueryResult{}, err
		}
		rows = make([]*joinedRow, len(matched))
		for i, r := range matched {
			rows[i] = &joinedRow{parts: []*namedRow{{alias: fromAlias, sch: fromSch, row: r.Values}}}
		}
	} else {
		cur, err := fromEng.Scan(s.From.Name)
		if err != nil {
			return QueryResult{}, err
		}
		for cur.Next() {
			row := cur.Row()
			rows = append(rows, &joinedRow{parts: []*namedRow{{alias: fromAlias, sch: fromSch, row: row.Values}}})
		}
		cerr := cur.Err()
		_ = cur.Close()
		if cerr != nil {
			return QueryResult{}, cerr
		}

		for _, j := range s.Joins {
			jSch, err := e.lookupTable(j.Table.Name)
			if err != nil {
				return QueryResult{}, err
			}
			jEng, err := e.engineFor(jSch)
			if err != nil {
				return QueryResult{}, err
			}
			jAlias := aliasOr(j.Table)
			bindings = append(bindings, tableBinding{alias: jAlias, sch: jSch})
			rows, err = joinStep(rows, j, jEng, j.Table.Name, jSch, jAlias)
			if err != nil {
				return QueryResult{}, err
			}
		}
		if s.Where != nil {
			filtered := rows[:0:0]
			for _, row := range rows {
				v, err := eval.Eval(s.Where, row)
				if err != nil {
					return QueryResult{}, err
				}
				if known, b := truthyValue(v); known && b {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
		}
	}

	items := expandSelectItems(s.Columns, bindings)
	hasAgg := false
	for _, it := range items {
		if fc, ok := it.expr.(*ast.FuncCall); ok && eval.IsAggregate(fc.Name) {
			hasAgg = true
		}
	}

	var groupedSets [][]*joinedRow
	switch {
	case len(s.GroupBy) > 0:
		groups, order, err := groupRows(s.GroupBy, rows)
		if err != nil {
			return QueryResult{}, err
		}
		for _, k := range order {
			groupedSets = append(groupedSets, groups[k])
		}
	case hasAgg:
		groupedSets = [][]*joinedRow{rows}
	default:
		groupedSets = make([][]*joinedRow, len(rows))
		for i, row := range rows {
			groupedSets[i] = []*joinedRow{row}
		}
	}

	type projected struct {
		tuple   *joinedRow
		values  []value.Value
		sortKey []value.Value
	}
	results := make([]projected, 0, len(groupedSets))
	for _, group := range groupedSets {
		var rep *joinedRow
		if len(group) > 0 {
			rep = group[0]
		}
		vals := make([]value.Value, len(items))
		for i, it := range items {
			if fc, ok := it.expr.(*ast.FuncCall); ok && eval.IsAggregate(fc.Name) {
				v, err := evalAggregate(fc, group)
				if err != nil {
					return QueryResult{}, err
				}
				vals[i] = v
				continue
			}
			if rep == nil {
				vals[i] = value.Null()
				continue
			}
			v, err := eval.Eval(it.expr, rep)
			if err != nil {
				return QueryResult{}, err
			}
			vals[i] = v
		}
		results = append(results, projected{tuple: rep, values: vals})
	}

	if len(s.OrderBy) > 0 {
		for i := range results {
			key := make([]value.Value, len(s.OrderBy))
			for j, ord := range s.OrderBy {
				if results[i].tuple == nil {
					key[j] = value.Null()
					continue
				}
				v, err := eval.Eval(ord.Expr, results[i].tuple)
				if err != nil {
					return QueryResult{}, err
				}
				key[j] = v
			}
			results[i].sortKey = key
		}
		sort.SliceStable(results, func(a, b int) bool {
			for j, ord := range s.OrderBy {
				c := value.Compare(results[a].sortKey[j], results[b].sortKey[j])
				if ord.Desc {
					c = -c
				}
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	if s.Limit != nil && int64(len(results)) > *s.Limit {
		results = results[:*s.Limit]
	}

	columns := make([]string, len(items))
	for i, it := range items {
		columns[i] = it.label
	}
	outRows := make([][]value.Value, len(results))
	for i, r := range results {
		outRows[i] = r.values
	}
	return selectResult(columns, outRows), nil
}

// equalityJoinIndex recognizes an ON clause of the form "<probe expr> =
// <joined-table column>" (either operand order) and reports the joined
// table's column position, so joinStep can try an index lookup instead
// of a nested-loop scan (spec.md §9 "hash-join when indexed, nested-loop
// otherwise").
func equalityJoinIndex(on ast.Expr, jAlias string, jSch *schema.Schema) (probe ast.Expr, colPos int, ok bool) {
	b, isBin := on.(*ast.BinaryExpr)
	if !isBin || b.Op != "=" {
		return nil, 0, false
	}
	if pos, other, matched := matchJoinSide(b.Left, b.Right, jAlias, jSch); matched {
		return other, pos, true
	}
	if pos, other, matched := matchJoinSide(b.Right, b.Left, jAlias, jSch); matched {
		return other, pos, true
	}
	return nil, 0, false
}

func matchJoinSide(side, other ast.Expr, jAlias string, jSch *schema.Schema) (colPos int, probe ast.Expr, ok bool) {
	ref, isCol := side.(*ast.ColumnRef)
	if !isCol {
		return 0, nil, false
	}
	if ref.Table != "" && !strings.EqualFold(ref.Table, jAlias) && !strings.EqualFold(ref.Table, jSch.Table) {
		return 0, nil, false
	}
	pos := jSch.ColumnIndex(ref.Name)
	if pos < 0 {
		return 0, nil, false
	}
	return pos, other, true
}

func findIndexForColumn(sch *schema.Schema, pos int) string {
	for _, idx := range sch.Indexes {
		if len(idx.Columns) == 1 && idx.Columns[0] == pos {
			return idx.Name
		}
	}
	return ""
}

// joinStep extends every row in base with a matching row from the
// joined table, trying an index lookup first and falling back to a
// nested-loop scan when the ON clause isn't a single indexed equality.
func joinStep(base []*joinedRow, j ast.JoinClause, jEng storage.Engine, jTable string, jSch *schema.Schema, jAlias string) ([]*joinedRow, error) {
	var out []*joinedRow
	if probe, colPos, ok := equalityJoinIndex(j.On, jAlias, jSch); ok {
		if idxName := findIndexForColumn(jSch, colPos); idxName != "" {
			for _, row := range base {
				v, err := eval.Eval(probe, row)
				if err != nil {
					return nil, err
				}
				if v.IsNull() {
					continue
				}
				ids, err := jEng.IndexLookup(jTable, idxName, []value.Value{v})
				if err != nil {
					return nil, err
				}
				for _, id := range ids {
					r, err := jEng.Get(jTable, id)
					if err != nil {
						if err == storage.ErrNotFound {
							continue
						}
						return nil, err
					}
					candidate := row.extend(jAlias, jSch, r.Values)
					keep, err := evalJoinOn(j.On, candidate)
					if err != nil {
						return nil, err
					}
					if keep {
						out = append(out, candidate)
					}
				}
			}
			return out, nil
		}
	}

	cur, err := jEng.Scan(jTable)
	if err != nil {
		return nil, err
	}
	var rightRows []storage.Row
	for cur.Next() {
		rightRows = append(rightRows, cur.Row().Clone())
	}
	cerr := cur.Err()
	_ = cur.Close()
	if cerr != nil {
		return nil, cerr
	}
	for _, row := range base {
		for _, rr := range rightRows {
			candidate := row.extend(jAlias, jSch, rr.Values)
			keep, err := evalJoinOn(j.On, candidate)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, candidate)
			}
		}
	}
	return out, nil
}

func evalJoinOn(on ast.Expr, row eval.Tuple) (bool, error) {
	if on == nil {
		return true, nil
	}
	v, err := eval.Eval(on, row)
	if err != nil {
		return false, err
	}
	known, b := truthyValue(v)
	return known && b, nil
}

// groupRows buckets rows by their evaluated GROUP BY key, preserving
// first-seen group order so result sets are deterministic (spec.md
// §4.1 "hash aggregation").
func groupRows(groupBy []ast.Expr, rows []*joinedRow) (map[string][]*joinedRow, []string, error) {
	groups := make(map[string][]*joinedRow)
	var order []string
	for _, row := range rows {
		var sb strings.Builder
		for _, g := range groupBy {
			v, err := eval.Eval(g, row)
			if err != nil {
				return nil, nil, err
			}
			fmt.Fprintf(&sb, "%d:%s\x00", v.Kind, v.String())
		}
		key := sb.String()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return groups, order, nil
}

// aggState accumulates one COUNT/SUM/AVG/MIN/MAX over a group's
// non-NULL values of a single expression.
type aggState struct {
	count      int64
	sum        float64
	sumIsFloat bool
	hasValue   bool
	min        *value.Value
	max        *value.Value
}

func (a *aggState) add(v value.Value) {
	if v.IsNull() {
		return
	}
	a.hasValue = true
	a.count++
	switch v.Kind {
	case value.KindInteger:
		a.sum += float64(v.I)
	case value.KindFloat:
		a.sum += v.F
		a.sumIsFloat = true
	}
	if a.min == nil || value.Compare(v, *a.min) < 0 {
		mv := v
		a.min = &mv
	}
	if a.max == nil || value.Compare(v, *a.max) > 0 {
		mv := v
		a.max = &mv
	}
}

func (a *aggState) result(name string) value.Value {
	switch name {
	case "COUNT":
		return value.Integer(a.count)
	case "SUM":
		if !a.hasValue {
			return value.Null()
		}
		if a.sumIsFloat {
			return value.Float(a.sum)
		}
		return value.Integer(int64(a.sum))
	case "AVG":
		if !a.hasValue {
			return value.Null()
		}
		return value.Float(a.sum / float64(a.count))
	case "MIN":
		if a.min == nil {
			return value.Null()
		}
		return *a.min
	case "MAX":
		if a.max == nil {
			return value.Null()
		}
		return *a.max
	default:
		return value.Null()
	}
}

func evalAggregate(fc *ast.FuncCall, group []*joinedRow) (value.Value, error) {
	name := strings.ToUpper(fc.Name)
	if name == "COUNT" && fc.Star {
		return value.Integer(int64(len(group))), nil
	}
	if len(fc.Args) != 1 {
		return value.Value{}, fmt.Errorf("executor: %s takes exactly one argument", name)
	}
	agg := &aggState{}
	for _, row := range group {
		v, err := eval.Eval(fc.Args[0], row)
		if err != nil {
			return value.Value{}, err
		}
		agg.add(v)
	}
	return agg.result(name), nil
}

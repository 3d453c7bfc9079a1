package executor

import (
	"strings"

	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/value"
)

// namedRow binds one table's row to its schema and alias, satisfying
// eval.Tuple for single-table WHERE/SELECT evaluation.
type namedRow struct {
	alias string
	sch   *schema.Schema
	row   []value.Value
}

func (n *namedRow) Column(table, name string) (value.Value, bool) {
	if table != "" && !strings.EqualFold(table, n.alias) && !strings.EqualFold(table, n.sch.Table) {
		return value.Value{}, false
	}
	idx := n.sch.ColumnIndex(name)
	if idx < 0 {
		return value.Value{}, false
	}
	return n.row[idx], true
}

// joinedRow binds several tables' rows together (spec.md §4.1 JOIN),
// resolving a qualified or unqualified column reference against
// whichever part defines it first.
type joinedRow struct {
	parts []*namedRow
}

func (j *joinedRow) Column(table, name string) (value.Value, bool) {
	for _, p := range j.parts {
		if v, ok := p.Column(table, name); ok {
			return v, true
		}
	}
	return value.Value{}, false
}

func (j *joinedRow) extend(alias string, sch *schema.Schema, row []value.Value) *joinedRow {
	parts := make([]*namedRow, len(j.parts), len(j.parts)+1)
	copy(parts, j.parts)
	parts = append(parts, &namedRow{alias: alias, sch: sch, row: row})
	return &joinedRow{parts: parts}
}

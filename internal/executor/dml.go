package executor

import (
	"fmt"

	"github.com/minisql/minisql/internal/ast"
	"github.com/minisql/minisql/internal/errs"
	"github.com/minisql/minisql/internal/eval"
	"github.com/minisql/minisql/internal/schema"
	"github.com/minisql/minisql/internal/session"
	"github.com/minisql/minisql/internal/storage"
	"github.com/minisql/minisql/internal/value"
	"github.com/minisql/minisql/internal/wal"
)

// resolveColumns maps an INSERT's (possibly empty) column list onto
// schema ordinal positions; an empty list means "all columns in schema
// order" (spec.md §4.1).
func resolveColumns(sch *schema.Schema, names []string) ([]int, error) {
	if len(names) == 0 {
		positions := make([]int, len(sch.Columns))
		for i := range sch.Columns {
			positions[i] = i
		}
		return positions, nil
	}
	positions := make([]int, len(names))
	for i, n := range names {
		pos := sch.ColumnIndex(n)
		if pos < 0 {
			return nil, errs.New(errs.KindColumnNotFound, fmt.Sprintf("column not found: %s", n))
		}
		positions[i] = pos
	}
	return positions, nil
}

// checkUnique verifies every PRIMARY/UNIQUE index's key is not already
// present, excluding excludeRowID (used by UPDATE, where a row may keep
// its own key) (spec.md §4.1 INSERT step 4 / UPDATE).
func checkUnique(eng storage.Engine, table string, sch *schema.Schema, values []value.Value, excludeRowID int64, hasExclude bool) error {
	for _, idx := range sch.Indexes {
		if !idx.Unique {
			continue
		}
		key := make([]value.Value, len(idx.Columns))
		allNonNull := true
		for i, pos := range idx.Columns {
			key[i] = values[pos]
			if key[i].IsNull() {
				allNonNull = false
			}
		}
		if !allNonNull {
			// SQL UNIQUE/PK semantics here: NULL never collides (MySQL
			// treats NULL as distinct in UNIQUE indexes); the PRIMARY
			// index never allows NULL since PK columns are NOT NULL.
			continue
		}
		ids, err := eng.IndexLookup(table, idx.Name, key)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if hasExclude && id == excludeRowID {
				continue
			}
			return errs.New(errs.KindDuplicateEntry, fmt.Sprintf("Duplicate entry for key %q", idx.Name))
		}
	}
	return nil
}

func (e *Executor) execInsert(s *ast.InsertStmt, tc *txnContext, sess *session.Session) (QueryResult, error) {
	sch, err := e.lookupTable(s.Table)
	if err != nil {
		return QueryResult{}, err
	}
	tc.t.LockTables([]string{s.Table}, true)

	eng, err := e.engineFor(sch)
	if err != nil {
		return QueryResult{}, err
	}
	positions, err := resolveColumns(sch, s.Columns)
	if err != nil {
		return QueryResult{}, err
	}
	if len(positions) != 0 {
		for _, row := range s.Rows {
			if len(row) != len(positions) {
				return QueryResult{}, errs.New(errs.KindSQLSyntax, "column count doesn't match value count")
			}
		}
	}

	autoIncCol := sch.AutoIncrementColumn()
	var rowsAffected int64
	var lastInsertID int64

	for _, exprRow := range s.Rows {
		values := make([]value.Value, len(sch.Columns))
		for i, col := range sch.Columns {
			if col.Default != nil {
				values[i] = *col.Default
			} else {
				values[i] = value.Null()
			}
		}
		for i, expr := range exprRow {
			v, err := eval.Eval(expr, emptyTuple{})
			if err != nil {
				return QueryResult{}, errs.Wrap(errs.KindTypeMismatch, "invalid value expression", err)
			}
			values[positions[i]] = eval.CoerceForColumn(v)
		}

		if autoIncCol >= 0 {
			cur := values[autoIncCol]
			needsGenerate := cur.IsNull() || (cur.Kind == value.KindInteger && cur.I == 0)
			sch2, _ := e.Catalog.Get(s.Table)
			counter := sch2.AutoIncrement
			if needsGenerate {
				next, err := e.Catalog.BumpAutoIncrement(s.Table, counter+1)
				if err != nil {
					return QueryResult{}, err
				}
				values[autoIncCol] = value.Integer(next)
			} else if cur.Kind == value.KindInteger && cur.I >= counter {
				if _, err := e.Catalog.BumpAutoIncrement(s.Table, cur.I); err != nil {
					return QueryResult{}, err
				}
			}
			lastInsertID = values[autoIncCol].I
		}

		for i, col := range sch.Columns {
			if col.NotNull && values[i].IsNull() {
				return QueryResult{}, errs.New(errs.KindNotNullViolation, fmt.Sprintf("column %q cannot be NULL", col.Name))
			}
		}

		if err := checkUnique(eng, s.Table, sch, values, 0, false); err != nil {
			return QueryResult{}, err
		}

		rowID, err := eng.Insert(s.Table, values)
		if err != nil {
			return QueryResult{}, errs.Wrap(errs.KindIOError, "insert row", err)
		}
		tc.t.AddUndo(fmt.Sprintf("insert %s#%d", s.Table, rowID), func() error {
			return eng.Delete(s.Table, rowID)
		})
		lsn, err := tc.t.WAL().Append(wal.Record{TxnID: tc.t.ID, Op: wal.OpInsert, Table: s.Table, RowID: rowID, New: encodeRow(values)})
		if err != nil {
			return QueryResult{}, err
		}
		if err := eng.SetLastAppliedLSN(s.Table, lsn); err != nil {
			return QueryResult{}, errs.Wrap(errs.KindIOError, "update lsn marker", err)
		}
		rowsAffected++
	}

	sess.LastInsertID = lastInsertID
	return modified(rowsAffected, lastInsertID), nil
}

func (e *Executor) execUpdate(s *ast.UpdateStmt, tc *txnContext) (QueryResult, error) {
	sch, err := e.lookupTable(s.Table)
	if err != nil {
		return QueryResult{}, err
	}
	tc.t.LockTables([]string{s.Table}, true)

	eng, err := e.engineFor(sch)
	if err != nil {
		return QueryResult{}, err
	}

	assignPos := make([]int, len(s.Assignments))
	for i, a := range s.Assignments {
		pos := sch.ColumnIndex(a.Column)
		if pos < 0 {
			return QueryResult{}, errs.New(errs.KindColumnNotFound, fmt.Sprintf("column not found: %s", a.Column))
		}
		assignPos[i] = pos
	}

	// Materialize the row-id set before mutating (spec.md §4.1: "the set
	// must be captured before mutation to avoid re-visits").
	rows, err := matchingRows(eng, s.Table, sch, s.Where)
	if err != nil {
		return QueryResult{}, err
	}

	var rowsAffected int64
	for _, row := range rows {
		newValues := append([]value.Value(nil), row.Values...)
		tuple := &namedRow{alias: s.Table, sch: sch, row: row.Values}
		for i, a := range s.Assignments {
			v, err := eval.Eval(a.Value, tuple)
			if err != nil {
				return QueryResult{}, errs.Wrap(errs.KindTypeMismatch, "invalid assignment expression", err)
			}
			newValues[assignPos[i]] = eval.CoerceForColumn(v)
		}
		for _, col := range sch.Columns {
			pos := sch.ColumnIndex(col.Name)
			if col.NotNull && newValues[pos].IsNull() {
				return QueryResult{}, errs.New(errs.KindNotNullViolation, fmt.Sprintf("column %q cannot be NULL", col.Name))
			}
		}
		if err := checkUnique(eng, s.Table, sch, newValues, row.RowID, true); err != nil {
			return QueryResult{}, err
		}

		oldValues := row.Values
		oldRowID := row.RowID
		newRowID, err := updateInPlace(eng, s.Table, oldRowID, newValues)
		if err != nil {
			return QueryResult{}, errs.Wrap(errs.KindIOError, "update row", err)
		}
		tc.t.AddUndo(fmt.Sprintf("update %s#%d", s.Table, oldRowID), func() error {
			_, err := updateInPlace(eng, s.Table, newRowID, oldValues)
			return err
		})
		lsn, err := tc.t.WAL().Append(wal.Record{TxnID: tc.t.ID, Op: wal.OpUpdate, Table: s.Table, RowID: oldRowID, Old: encodeRow(oldValues), New: encodeRow(newValues)})
		if err != nil {
			return QueryResult{}, err
		}
		if err := eng.SetLastAppliedLSN(s.Table, lsn); err != nil {
			return QueryResult{}, errs.Wrap(errs.KindIOError, "update lsn marker", err)
		}
		rowsAffected++
	}
	return modified(rowsAffected, 0), nil
}

// updateInPlace calls the engine's row-id-returning update variant when
// available (Granite), falling back to the plain Update for engines
// whose logical row-id never changes (Sandstone).
func updateInPlace(eng storage.Engine, table string, rowID int64, newValues []value.Value) (int64, error) {
	if ip, ok := eng.(interface {
		UpdateInPlace(string, int64, []value.Value) (int64, error)
	}); ok {
		return ip.UpdateInPlace(table, rowID, newValues)
	}
	if err := eng.Update(table, rowID, newValues); err != nil {
		return 0, err
	}
	return rowID, nil
}

func (e *Executor) execDelete(s *ast.DeleteStmt, tc *txnContext) (QueryResult, error) {
	sch, err := e.lookupTable(s.Table)
	if err != nil {
		return QueryResult{}, err
	}
	tc.t.LockTables([]string{s.Table}, true)

	eng, err := e.engineFor(sch)
	if err != nil {
		return QueryResult{}, err
	}

	rows, err := matchingRows(eng, s.Table, sch, s.Where)
	if err != nil {
		return QueryResult{}, err
	}

	var rowsAffected int64
	for _, row := range rows {
		oldValues := row.Values
		rowID := row.RowID
		if err := eng.Delete(s.Table, rowID); err != nil {
			return QueryResult{}, errs.Wrap(errs.KindIOError, "delete row", err)
		}
		tc.t.AddUndo(fmt.Sprintf("delete %s#%d", s.Table, rowID), func() error {
			_, err := eng.Insert(s.Table, oldValues)
			return err
		})
		lsn, err := tc.t.WAL().Append(wal.Record{TxnID: tc.t.ID, Op: wal.OpDelete, Table: s.Table, RowID: rowID, Old: encodeRow(oldValues)})
		if err != nil {
			return QueryResult{}, err
		}
		if err := eng.SetLastAppliedLSN(s.Table, lsn); err != nil {
			return QueryResult{}, errs.Wrap(errs.KindIOError, "update lsn marker", err)
		}
		rowsAffected++
	}
	return modified(rowsAffected, 0), nil
}
